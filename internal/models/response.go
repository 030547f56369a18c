package models

import (
	"encoding/json"
	"time"
)

// CallResponse is the provider's view of a call. The monitor mutates Analysis
// exactly once, after the call reaches a terminal status.
type CallResponse struct {
	CallID       string          `json:"call_id"`
	Status       CallStatus      `json:"status"`
	Provider     CallProvider    `json:"provider"`
	CreatedAt    time.Time       `json:"created_at"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
	ListenURL    string          `json:"listen_url,omitempty"`
	ProviderData json.RawMessage `json:"provider_data,omitempty"`
	Transcript   string          `json:"transcript,omitempty"`
	Analysis     *AnalysisData   `json:"analysis,omitempty"`
}
