package domain

import "time"

// SyncCheckpoint tracks provider progress for one entity kind across runs.
type SyncCheckpoint struct {
	EntityKind EntityKind `gorm:"column:entity_kind;type:text;primaryKey" json:"entity_kind"`
	// Cursor is the next page still to reconcile. Empty once the kind completed.
	Cursor string  `gorm:"type:text" json:"cursor,omitempty"`
	RunID  string  `gorm:"type:text" json:"run_id,omitempty"`
	Mode   RunMode `gorm:"type:text" json:"mode,omitempty"`
	// CursorStartedAt is the start time of the run that fetched the first
	// page of the chain Cursor continues. A resumed chain completes with
	// this as its watermark.
	CursorStartedAt *time.Time `json:"cursor_started_at,omitempty"`
	// Watermark is the start time of the last run that completed the kind.
	Watermark     *time.Time `json:"watermark,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastError     string     `gorm:"type:text" json:"last_error,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for SyncCheckpoint.
func (SyncCheckpoint) TableName() string {
	return "sync_checkpoints"
}
