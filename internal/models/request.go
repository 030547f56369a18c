package models

// CallRequest carries everything the voice platform and downstream CRM write
// need about a single outbound call. Immutable once submitted.
type CallRequest struct {
	PhoneNumber      string            `json:"phone_number"`
	JobID            string            `json:"job_id"`
	CustomerName     string            `json:"customer_name,omitempty"`
	ClaimNumber      string            `json:"claim_number,omitempty"`
	InsuranceCompany string            `json:"insurance_company,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}
