package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/claimwise/voicepipe/internal/models"
)

// FormatCRMNote renders the analysis as the note text pushed to the CRM.
// It never panics and never returns an empty string: if anything goes wrong
// it falls back to dumping the raw structured data.
func FormatCRMNote(analysis *models.AnalysisData) (note string) {
	defer func() {
		if r := recover(); r != nil {
			note = rawAnalysisFallback(analysis)
		}
	}()

	var b strings.Builder
	b.WriteString("AI Call Summary\n")
	b.WriteString("----------------\n")

	sd := analysis.StructuredData
	if sd == nil {
		panic("no structured data")
	}

	b.WriteString("Call Outcome: " + titleWords(sd.CallOutcome) + "\n")

	if sd.ClaimStatus != "" {
		b.WriteString("Claim Status: " + sd.ClaimStatus + "\n")
	}
	if analysis.Summary != "" {
		b.WriteString("\nSummary: " + analysis.Summary + "\n")
	}

	if ra := sd.RequiredActions; ra != nil && ra.NextSteps != "" {
		b.WriteString("\nNext Steps:\n" + ra.NextSteps + "\n")
	}

	// payment block only for issued payments; partial data gets N/A fields
	if pd := sd.PaymentDetails; pd != nil && strings.EqualFold(pd.PaymentStatus, "issued") {
		b.WriteString("\nPayment Details:\n")
		b.WriteString("  Amount: " + orNA(pd.Amount) + "\n")
		b.WriteString("  Expected Date: " + orNA(pd.ExpectedDate) + "\n")
		b.WriteString("  Check Number: " + orNA(pd.CheckNumber) + "\n")
	}

	if ra := sd.RequiredActions; ra != nil && len(ra.RequiredDocuments) > 0 {
		b.WriteString("\nRequired Documents:\n")
		for _, doc := range ra.RequiredDocuments {
			b.WriteString("  - " + doc + "\n")
		}
	}

	return b.String()
}

func rawAnalysisFallback(analysis *models.AnalysisData) string {
	raw, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return fmt.Sprintf("AI Call Summary\n%+v\n", analysis)
	}
	return "AI Call Summary\n```json\n" + string(raw) + "\n```\n"
}

// titleWords turns "no_answer" into "No Answer".
func titleWords(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
