package services

import (
	"strings"
	"testing"

	"github.com/claimwise/voicepipe/internal/models"
)

func TestFormatCRMNoteFullAnalysis(t *testing.T) {
	note := FormatCRMNote(&models.AnalysisData{
		Summary: "Adjuster confirmed approval; check goes out Friday.",
		StructuredData: &models.StructuredData{
			CallOutcome: "success",
			ClaimStatus: "approved",
			PaymentDetails: &models.PaymentDetails{
				PaymentStatus: "issued",
				Amount:        "$4,250.00",
				ExpectedDate:  "2026-09-05",
			},
			RequiredActions: &models.RequiredActions{
				NextSteps:         "Send the signed work authorization.",
				RequiredDocuments: []string{"Signed work authorization", "Photos of roof damage"},
			},
		},
	})

	for _, want := range []string{
		"Call Outcome: Success",
		"Claim Status: approved",
		"Summary: Adjuster confirmed approval",
		"Next Steps:",
		"Payment Details:",
		"Amount: $4,250.00",
		"Check Number: N/A",
		"- Signed work authorization",
		"- Photos of roof damage",
	} {
		if !strings.Contains(note, want) {
			t.Errorf("note missing %q:\n%s", want, note)
		}
	}
}

func TestFormatCRMNoteOmitsPaymentBlockUnlessIssued(t *testing.T) {
	for _, status := range []string{"", "pending", "denied"} {
		note := FormatCRMNote(&models.AnalysisData{
			StructuredData: &models.StructuredData{
				CallOutcome:    "success",
				PaymentDetails: &models.PaymentDetails{PaymentStatus: status, Amount: "$100"},
			},
		})
		if strings.Contains(note, "Payment Details:") {
			t.Errorf("payment block must be omitted for status %q:\n%s", status, note)
		}
	}
}

func TestFormatCRMNoteCapitalizesMultiWordOutcome(t *testing.T) {
	note := FormatCRMNote(&models.AnalysisData{
		StructuredData: &models.StructuredData{CallOutcome: "no_answer"},
	})
	if !strings.Contains(note, "Call Outcome: No Answer") {
		t.Fatalf("outcome not capitalized:\n%s", note)
	}
}

func TestFormatCRMNoteNeverEmpty(t *testing.T) {
	cases := map[string]*models.AnalysisData{
		"empty analysis":         {},
		"nil structured data":    {Summary: "only a summary"},
		"empty structured data":  {StructuredData: &models.StructuredData{}},
		"empty optional structs": {StructuredData: &models.StructuredData{PaymentDetails: &models.PaymentDetails{}, RequiredActions: &models.RequiredActions{}}},
	}
	for name, analysis := range cases {
		t.Run(name, func(t *testing.T) {
			note := FormatCRMNote(analysis)
			if strings.TrimSpace(note) == "" {
				t.Fatal("note must never be empty")
			}
		})
	}
}

func TestFormatCRMNoteFallbackEmitsRawData(t *testing.T) {
	// nil structured data takes the fallback path
	note := FormatCRMNote(&models.AnalysisData{Summary: "fallback case"})
	if !strings.Contains(note, "fallback case") {
		t.Fatalf("fallback should include the raw analysis:\n%s", note)
	}
}
