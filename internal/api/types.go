package api

import (
	"time"

	"github.com/djlord-it/findingsd/internal/domain"
)

// FindingsRequest is the body of POST /findings.
type FindingsRequest struct {
	Findings []domain.Finding `json:"findings"`
}

// JobFindingsRequest is the body of POST /jobs/{jobId}/findings.
type JobFindingsRequest struct {
	// Timestamp is epoch milliseconds. Zero means now.
	Timestamp int64            `json:"timestamp"`
	Findings  []domain.Finding `json:"findings"`
}

type AcceptedResponse struct {
	Accepted int `json:"accepted"`
}

type RejectedFinding struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type JobFindingsResponse struct {
	Routed   int               `json:"routed"`
	Rejected []RejectedFinding `json:"rejected,omitempty"`
}

type SubscriptionResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	TriggerType    string   `json:"triggerType"`
	Enabled        bool     `json:"enabled"`
	ProjectID      string   `json:"projectId,omitempty"`
	Findings       []string `json:"findings,omitempty"`
	CronExpression string   `json:"cronExpression,omitempty"`
	Input          string   `json:"input,omitempty"`
	JobName        string   `json:"jobName"`
	Cooldown       int      `json:"cooldown"`
}

type ListSubscriptionsResponse struct {
	Subscriptions []SubscriptionResponse `json:"subscriptions"`
}

type TriggerResponse struct {
	CorrelationKey string `json:"correlationKey"`
	Discriminator  string `json:"discriminator,omitempty"`
	LastTrigger    string `json:"lastTrigger"`
}

type ListTriggersResponse struct {
	Triggers []TriggerResponse `json:"triggers"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	// Index points at the offending finding of a batch.
	Index *int `json:"index,omitempty"`
}

func subscriptionResponse(s domain.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:             s.ID.String(),
		Name:           s.Name,
		TriggerType:    string(s.Type),
		Enabled:        s.Enabled(),
		ProjectID:      s.ProjectID,
		Findings:       s.Findings,
		CronExpression: s.CronExpression,
		Input:          string(s.Input),
		JobName:        s.JobName,
		Cooldown:       s.CooldownSeconds(),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
