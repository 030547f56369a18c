package models

import (
	"time"

	"gorm.io/datatypes"
)

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusEnded      CallStatus = "ended"
	CallStatusBusy       CallStatus = "busy"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusFailed     CallStatus = "failed"
	CallStatusCanceled   CallStatus = "canceled"
)

// IsTerminal reports whether no further provider-side progress can occur.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusEnded, CallStatusBusy, CallStatusNoAnswer, CallStatusFailed, CallStatusCanceled:
		return true
	}
	return false
}

type CallProvider string

const (
	ProviderTwilio CallProvider = "twilio"
	ProviderRetell CallProvider = "retell"
)

type CallRecord struct {
	CallID       string         `gorm:"column:call_id;type:text;primaryKey" json:"call_id"`
	UserID       string         `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	JobID        string         `gorm:"column:job_id;type:text;index" json:"job_id"`
	Status       CallStatus     `gorm:"column:status;type:text" json:"status"`
	Provider     CallProvider   `gorm:"column:provider;type:text" json:"provider"`
	PhoneNumber  string         `gorm:"column:phone_number;type:text" json:"phone_number"`
	StartedAt    time.Time      `gorm:"column:started_at;type:timestamptz" json:"started_at"`
	ListenURL    *string        `gorm:"column:listen_url;type:text" json:"listen_url,omitempty"`
	RecordingURL *string        `gorm:"column:recording_url;type:text" json:"recording_url,omitempty"`
	ProviderData datatypes.JSON `gorm:"column:provider_data;type:jsonb" json:"provider_data,omitempty"`
	AnalysisData datatypes.JSON `gorm:"column:analysis_data;type:jsonb" json:"analysis_data,omitempty"`
	Transcript   string         `gorm:"column:transcript;type:text" json:"transcript,omitempty"`
	EndedAt      *time.Time     `gorm:"column:ended_at;type:timestamptz" json:"ended_at,omitempty"`
}

func (CallRecord) TableName() string { return "call_records" }
