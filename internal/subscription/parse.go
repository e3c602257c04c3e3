// Package subscription loads subscription definitions from YAML files and
// keeps the set the automation engine runs.
package subscription

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/djlord-it/findingsd/internal/domain"
)

// namespace derives stable subscription ids from names, so cooldown
// triggers survive restarts and file reloads.
var namespace = uuid.MustParse("3f0c7a52-9a61-4be1-8d0e-7f7c4b1e2a90")

// IDFor is the id of the subscription called name.
func IDFor(name string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(strings.TrimSpace(name)))
}

type document struct {
	Name           string             `yaml:"name"`
	TriggerType    string             `yaml:"triggerType"`
	Enabled        *bool              `yaml:"enabled"`
	ProjectID      string             `yaml:"projectId"`
	CronExpression string             `yaml:"cronExpression"`
	Input          string             `yaml:"input"`
	Batch          domain.BatchConfig `yaml:"batch"`
	Finding        string             `yaml:"finding"`
	Findings       []string           `yaml:"findings"`
	Job            jobDocument        `yaml:"job"`
	Conditions     []domain.Condition `yaml:"conditions"`
	Cooldown       *int               `yaml:"cooldown"`
	Discriminator  string             `yaml:"discriminator"`
}

type jobDocument struct {
	Name       string                `yaml:"name"`
	Parameters []domain.JobParameter `yaml:"parameters"`
}

// Parse decodes one subscription document. The trigger type defaults to
// cron when a cron expression is present and to event otherwise. Parse
// does not validate; see Validate.
func Parse(data []byte) (domain.Subscription, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return domain.Subscription{}, errors.Wrap(err, "decode subscription")
	}

	trigger := domain.TriggerType(strings.ToLower(strings.TrimSpace(doc.TriggerType)))
	switch trigger {
	case domain.TriggerCron, domain.TriggerEvent:
	case "":
		trigger = domain.TriggerEvent
		if doc.CronExpression != "" {
			trigger = domain.TriggerCron
		}
	default:
		return domain.Subscription{}, errors.Errorf("unknown subscription trigger type %q", doc.TriggerType)
	}

	var findings []string
	if doc.Finding != "" {
		findings = append(findings, doc.Finding)
	}
	for _, f := range doc.Findings {
		if f != "" && !contains(findings, f) {
			findings = append(findings, f)
		}
	}

	return domain.Subscription{
		ID:             IDFor(doc.Name),
		Name:           strings.TrimSpace(doc.Name),
		Type:           trigger,
		ProjectID:      doc.ProjectID,
		IsEnabled:      doc.Enabled,
		JobName:        strings.TrimSpace(doc.Job.Name),
		JobParameters:  normalizeParameters(doc.Job.Parameters),
		Conditions:     doc.Conditions,
		Cooldown:       doc.Cooldown,
		Discriminator:  doc.Discriminator,
		Findings:       findings,
		CronExpression: strings.TrimSpace(doc.CronExpression),
		Input:          domain.InputSource(strings.TrimSpace(doc.Input)),
		Batch:          doc.Batch,
	}, nil
}

// normalizeParameters turns nested parameter lists, decoded as lists of
// maps, into []domain.JobParameter so they can be substituted.
func normalizeParameters(params []domain.JobParameter) []domain.JobParameter {
	if params == nil {
		return nil
	}
	out := make([]domain.JobParameter, len(params))
	for i, p := range params {
		out[i] = domain.JobParameter{Name: p.Name, Value: normalizeValue(p.Value)}
	}
	return out
}

func normalizeValue(v any) any {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return v
	}
	nested := make([]domain.JobParameter, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return v
		}
		name, ok := m["name"].(string)
		if !ok {
			return v
		}
		nested = append(nested, domain.JobParameter{Name: name, Value: normalizeValue(m["value"])})
	}
	return nested
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
