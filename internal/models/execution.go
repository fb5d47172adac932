package models

import (
	"encoding/json"
	"time"
)

// ExecutionStatus is the lifecycle state of a submitted run.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusSucceeded ExecutionStatus = "succeeded"
	StatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Execution represents one notebook run. The orchestrator is the only writer
// while the run is live; everything else reads.
type Execution struct {
	ID                   uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	TemplateKey          string          `json:"template_key,omitempty" gorm:"index"`
	Requester            string          `json:"requester" gorm:"size:100;not null;index"`
	InputPath            string          `json:"input_path" gorm:"size:512;not null"`
	OutputPath           string          `json:"output_path,omitempty" gorm:"size:512"`
	ParametersUsed       json.RawMessage `json:"parameters_used,omitempty" gorm:"type:jsonb"`
	Status               ExecutionStatus `json:"status" gorm:"size:50;not null;index"`
	ErrorMessage         string          `json:"error_message,omitempty" gorm:"type:text"`
	ExecutionTimeSeconds float64         `json:"execution_time_seconds,omitempty"`
	StartedAt            time.Time       `json:"started_at" gorm:"not null"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

func (Execution) TableName() string { return "notebook_executions" }

// ExecutionPatch is the set of columns Update is allowed to touch. Nil fields
// are left alone.
type ExecutionPatch struct {
	Status               *ExecutionStatus
	OutputPath           *string
	ErrorMessage         *string
	CompletedAt          *time.Time
	ExecutionTimeSeconds *float64
}

// Columns renders the patch as a column update map.
func (p ExecutionPatch) Columns() map[string]any {
	cols := make(map[string]any)
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.OutputPath != nil {
		cols["output_path"] = *p.OutputPath
	}
	if p.ErrorMessage != nil {
		cols["error_message"] = *p.ErrorMessage
	}
	if p.CompletedAt != nil {
		cols["completed_at"] = *p.CompletedAt
	}
	if p.ExecutionTimeSeconds != nil {
		cols["execution_time_seconds"] = *p.ExecutionTimeSeconds
	}
	return cols
}
