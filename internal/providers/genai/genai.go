package genai

import (
	"context"

	"github.com/claimwise/voicepipe/internal/models"
)

// RemoteFile is an uploaded artifact the generation step can reference.
type RemoteFile struct {
	ID       string // opaque id used for deletion
	URI      string // location generation reads from
	MIMEType string
}

// Provider produces schema-constrained structured output from uploaded audio.
type Provider interface {
	UploadFile(ctx context.Context, path string, mimeType string) (*RemoteFile, error)
	GenerateStructuredContent(ctx context.Context, prompt string, files []RemoteFile) (*models.AnalysisData, error)
	DeleteFile(ctx context.Context, id string) (bool, error)
	Close() error
}
