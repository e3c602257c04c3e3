package domain

import (
	"github.com/google/uuid"
)

// TriggerType distinguishes cron subscriptions from event subscriptions.
type TriggerType string

const (
	TriggerCron  TriggerType = "cron"
	TriggerEvent TriggerType = "event"
)

// InputSource names the resource population a cron subscription iterates.
type InputSource string

const (
	InputNone     InputSource = ""
	InputDomains  InputSource = "ALL_DOMAINS"
	InputHosts    InputSource = "ALL_HOSTS"
	InputTCPPorts InputSource = "ALL_TCP_PORTS"
	InputIPRanges InputSource = "ALL_IP_RANGES"
	InputWebsites InputSource = "ALL_WEBSITES"
)

// Valid reports whether s is a known population.
func (s InputSource) Valid() bool {
	switch s {
	case InputNone, InputDomains, InputHosts, InputTCPPorts, InputIPRanges, InputWebsites:
		return true
	}
	return false
}

// BatchConfig groups cron input items into pages handled as one job.
type BatchConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Size    int  `yaml:"size,omitempty" json:"size,omitempty"`
}

// JobParameter is a named job argument. Value is a scalar, a ${...}
// placeholder string, or a nested []JobParameter.
type JobParameter struct {
	Name  string `yaml:"name" json:"name"`
	Value any    `yaml:"value" json:"value"`
}

// Subscription binds a trigger (cron schedule or finding keys) to a job.
type Subscription struct {
	ID   uuid.UUID
	Name string
	Type TriggerType

	// ProjectID empty means every project.
	ProjectID string
	// IsEnabled nil means enabled.
	IsEnabled *bool

	JobName       string
	JobParameters []JobParameter
	Conditions    []Condition
	// Cooldown in seconds; nil means no cooldown.
	Cooldown      *int
	Discriminator string

	// Event subscriptions.
	Findings []string

	// Cron subscriptions.
	CronExpression string
	Input          InputSource
	Batch          BatchConfig
}

// Enabled reports whether the subscription is not explicitly disabled.
func (s Subscription) Enabled() bool {
	return s.IsEnabled == nil || *s.IsEnabled
}

// CooldownSeconds returns the cooldown, zero when unset.
func (s Subscription) CooldownSeconds() int {
	if s.Cooldown == nil {
		return 0
	}
	return *s.Cooldown
}

// MatchesFinding reports whether an event subscription listens to key.
func (s Subscription) MatchesFinding(key string) bool {
	for _, f := range s.Findings {
		if f == key {
			return true
		}
	}
	return false
}

// AppliesToProject reports whether the subscription is scoped to projectID.
func (s Subscription) AppliesToProject(projectID string) bool {
	return s.ProjectID == "" || s.ProjectID == projectID
}

// SubscriptionTrigger records the last time a subscription fired for a
// correlation key and discriminator.
type SubscriptionTrigger struct {
	SubscriptionID uuid.UUID
	CorrelationKey string
	Discriminator  string
	// LastTrigger is epoch milliseconds.
	LastTrigger int64
}
