package subscription

import (
	"fmt"

	"github.com/djlord-it/findingsd/internal/conditions"
	"github.com/djlord-it/findingsd/internal/cron"
	"github.com/djlord-it/findingsd/internal/domain"
)

// ValidationError is one problem of a subscription definition.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

var parser = cron.NewParser()

// Validate checks a parsed subscription. It returns nil or
// ValidationErrors.
func Validate(sub domain.Subscription) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if sub.Name == "" {
		add("name", "required")
	}
	if sub.JobName == "" {
		add("job.name", "required")
	}
	if sub.Cooldown != nil && *sub.Cooldown < 0 {
		add("cooldown", "must not be negative, got %d", *sub.Cooldown)
	}
	if err := conditions.Validate(sub.Conditions); err != nil {
		add("conditions", "%v", err)
	}

	switch sub.Type {
	case domain.TriggerCron:
		if sub.CronExpression == "" {
			add("cronExpression", "required for cron subscriptions")
		} else if err := parser.Validate(sub.CronExpression); err != nil {
			add("cronExpression", "%v", err)
		}
		if !sub.Input.Valid() {
			add("input", "unknown input %q", sub.Input)
		}
		if sub.Batch.Enabled && sub.Input == domain.InputNone {
			add("batch", "batching requires an input")
		}
		if sub.Batch.Size < 0 {
			add("batch.size", "must not be negative, got %d", sub.Batch.Size)
		}
		if len(sub.Findings) > 0 {
			add("finding", "not allowed on cron subscriptions")
		}
		if sub.Discriminator != "" {
			add("discriminator", "not allowed on cron subscriptions")
		}
	case domain.TriggerEvent:
		if len(sub.Findings) == 0 {
			add("finding", "required for event subscriptions")
		}
		if sub.CronExpression != "" {
			add("cronExpression", "not allowed on event subscriptions")
		}
		if sub.Input != domain.InputNone || sub.Batch.Enabled {
			add("input", "not allowed on event subscriptions")
		}
	default:
		add("triggerType", "must be 'cron' or 'event', got %q", sub.Type)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
