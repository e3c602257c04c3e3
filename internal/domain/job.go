package domain

import (
	"time"

	"github.com/google/uuid"
)

// Job is a unit of work produced by a subscription and handed to the queue.
type Job struct {
	ID        uuid.UUID `json:"id"`
	Task      string    `json:"task"`
	ProjectID string    `json:"projectId"`

	Parameters []JobParameter `json:"parameters"`
	Priority   int            `json:"priority"`

	CreatedAt time.Time `json:"createdAt"`
}

// JobRecord is the inventory's view of a running or finished job, used to
// attribute incoming findings.
type JobRecord struct {
	ID        string
	Task      string
	ProjectID string

	Status          string
	StatusUpdatedAt time.Time
	Output          []string
}

// CustomJob is a user-provided job definition executed by a generic runner.
type CustomJob struct {
	ID             string
	Name           string
	Code           string
	Type           string
	Language       string
	JobPodConfigID string
}

// JobPodConfig holds resource limits for custom jobs.
type JobPodConfig struct {
	ID                string
	Name              string
	MilliCPULimit     int
	MemoryKbytesLimit int
}

// CustomJobTask is the task name custom jobs are queued under.
const CustomJobTask = "CustomJob"
