package domain

import (
	"time"

	"gorm.io/datatypes"
)

// RunStatus represents the state of a sync run.
// Values include RunStatusIdle, RunStatusRunning, RunStatusSucceeded,
// RunStatusFailed, and RunStatusPartiallySucceeded.
type RunStatus string

const (
	RunStatusIdle               RunStatus = "idle"
	RunStatusRunning            RunStatus = "running"
	RunStatusSucceeded          RunStatus = "succeeded"
	RunStatusFailed             RunStatus = "failed"
	RunStatusPartiallySucceeded RunStatus = "partially_succeeded"
)

// Terminal reports whether the status is a finished state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusPartiallySucceeded:
		return true
	}
	return false
}

// RunMode selects what a sync run fetches.
type RunMode string

const (
	RunModeFull        RunMode = "full"
	RunModeIncremental RunMode = "incremental"
	RunModeBulk        RunMode = "bulk"
)

// RunTrigger records who started a run.
type RunTrigger string

const (
	TriggerAPI      RunTrigger = "api"
	TriggerCLI      RunTrigger = "cli"
	TriggerSchedule RunTrigger = "schedule"
)

// EntityCounts holds per-kind outcome counters for one run.
type EntityCounts struct {
	Fetched   int  `json:"fetched"`
	Created   int  `json:"created"`
	Updated   int  `json:"updated"`
	Unchanged int  `json:"unchanged"`
	Failed    int  `json:"failed"`
	Fatal     bool `json:"fatal"`
	// FatalError is the source error that stopped the kind.
	FatalError string `json:"fatal_error,omitempty"`
}

// RunCounts maps entity kind to its counters.
type RunCounts map[EntityKind]EntityCounts

// RunError is one record-level or kind-level failure within a run.
type RunError struct {
	EntityKind EntityKind `json:"entity_kind"`
	Ref        string     `json:"ref"`
	Reason     string     `json:"reason"`
}

// SyncRun is the persisted record of one synchronization run.
// A run is written once, after it finishes.
type SyncRun struct {
	ID            string                         `gorm:"column:run_id;type:text;primaryKey" json:"run_id"`
	Mode          RunMode                        `gorm:"type:text;not null" json:"mode"`
	Trigger       RunTrigger                     `gorm:"type:text" json:"trigger"`
	Status        RunStatus                      `gorm:"type:text;not null;index:idx_sync_runs_status" json:"status"`
	StartedAt     time.Time                      `gorm:"index:idx_sync_runs_started" json:"started_at"`
	FinishedAt    *time.Time                     `json:"finished_at,omitempty"`
	Counts        datatypes.JSONType[RunCounts]  `gorm:"column:per_entity_counts" json:"per_entity_counts"`
	Errors        datatypes.JSONType[[]RunError] `gorm:"column:errors" json:"errors"`
	ErrorsDropped int                            `gorm:"default:0" json:"errors_dropped,omitempty"`
	ErrorMessage  string                         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt     time.Time                      `json:"created_at"`
}

// TableName returns the database table name for SyncRun.
func (SyncRun) TableName() string {
	return "sync_runs"
}

// CountsFor returns the counters recorded for kind.
func (r *SyncRun) CountsFor(kind EntityKind) EntityCounts {
	return r.Counts.Data()[kind]
}

// ErrorList returns the recorded run errors.
func (r *SyncRun) ErrorList() []RunError {
	return r.Errors.Data()
}
