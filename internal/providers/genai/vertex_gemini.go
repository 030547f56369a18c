package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"github.com/google/uuid"

	"github.com/claimwise/voicepipe/internal/models"
	"github.com/claimwise/voicepipe/internal/storage"
)

type VertexGemini struct {
	client *vertexgenai.Client
	model  *vertexgenai.GenerativeModel
	store  storage.RecordingStore
}

func NewVertexGemini(ctx context.Context, projectID, location, modelName string, store storage.RecordingStore) (*VertexGemini, error) {
	c, err := vertexgenai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, err
	}

	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	m := c.GenerativeModel(modelName)
	m.GenerationConfig.ResponseMIMEType = "application/json"
	m.GenerationConfig.ResponseSchema = analysisSchema()

	return &VertexGemini{client: c, model: m, store: store}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

// UploadFile stages a local recording where the model can read it. The
// returned ID is the storage object name, the URI a gs:// reference.
func (v *VertexGemini) UploadFile(ctx context.Context, path string, mimeType string) (*RemoteFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	objectName := uuid.NewString() + filepath.Ext(path)
	uri, err := v.store.Upload(ctx, objectName, mimeType, f)
	if err != nil {
		return nil, err
	}
	return &RemoteFile{ID: objectName, URI: uri, MIMEType: mimeType}, nil
}

func (v *VertexGemini) DeleteFile(ctx context.Context, id string) (bool, error) {
	if err := v.store.Delete(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

func (v *VertexGemini) GenerateStructuredContent(ctx context.Context, prompt string, files []RemoteFile) (*models.AnalysisData, error) {
	parts := make([]vertexgenai.Part, 0, len(files)+1)
	for _, f := range files {
		parts = append(parts, vertexgenai.FileData{MIMEType: f.MIMEType, FileURI: f.URI})
	}
	parts = append(parts, vertexgenai.Text(prompt))

	resp, err := v.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, err
	}

	raw := extractText(resp)
	if raw == "" {
		return nil, fmt.Errorf("vertex: empty generation response")
	}

	var out models.AnalysisData
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("vertex: response is not valid analysis json: %w", err)
	}
	return &out, nil
}

func extractText(resp *vertexgenai.GenerateContentResponse) string {
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(vertexgenai.Text); ok && string(t) != "" {
				return string(t)
			}
		}
	}
	return ""
}

// analysisSchema constrains generation to the claim-extraction shape the CRM
// note formatter consumes.
func analysisSchema() *vertexgenai.Schema {
	return &vertexgenai.Schema{
		Type: vertexgenai.TypeObject,
		Properties: map[string]*vertexgenai.Schema{
			"structured_data": {
				Type: vertexgenai.TypeObject,
				Properties: map[string]*vertexgenai.Schema{
					"call_outcome": {
						Type: vertexgenai.TypeString,
						Enum: []string{"success", "no_answer", "voicemail", "refused"},
					},
					"claim_status": {Type: vertexgenai.TypeString},
					"payment_details": {
						Type: vertexgenai.TypeObject,
						Properties: map[string]*vertexgenai.Schema{
							"payment_status": {Type: vertexgenai.TypeString},
							"amount":         {Type: vertexgenai.TypeString},
							"expected_date":  {Type: vertexgenai.TypeString},
							"check_number":   {Type: vertexgenai.TypeString},
						},
					},
					"required_actions": {
						Type: vertexgenai.TypeObject,
						Properties: map[string]*vertexgenai.Schema{
							"next_steps": {Type: vertexgenai.TypeString},
							"required_documents": {
								Type:  vertexgenai.TypeArray,
								Items: &vertexgenai.Schema{Type: vertexgenai.TypeString},
							},
						},
					},
				},
				Required: []string{"call_outcome"},
			},
			"summary": {Type: vertexgenai.TypeString},
		},
		Required: []string{"structured_data", "summary"},
	}
}
