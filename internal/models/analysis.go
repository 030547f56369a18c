package models

// AnalysisData is the schema-constrained extraction produced from a call
// recording by the generative-AI provider.
type AnalysisData struct {
	StructuredData *StructuredData `json:"structured_data,omitempty"`
	Summary        string          `json:"summary,omitempty"`
}

type StructuredData struct {
	CallOutcome     string           `json:"call_outcome,omitempty"` // success|no_answer|voicemail|refused
	ClaimStatus     string           `json:"claim_status,omitempty"`
	PaymentDetails  *PaymentDetails  `json:"payment_details,omitempty"`
	RequiredActions *RequiredActions `json:"required_actions,omitempty"`
}

type PaymentDetails struct {
	PaymentStatus string `json:"payment_status,omitempty"` // issued|pending|denied
	Amount        string `json:"amount,omitempty"`
	ExpectedDate  string `json:"expected_date,omitempty"`
	CheckNumber   string `json:"check_number,omitempty"`
}

type RequiredActions struct {
	NextSteps         string   `json:"next_steps,omitempty"`
	RequiredDocuments []string `json:"required_documents,omitempty"`
}
