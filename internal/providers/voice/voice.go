package voice

import (
	"context"

	"github.com/claimwise/voicepipe/internal/models"
)

// Provider is the voice platform that places and manages phone calls.
type Provider interface {
	CreateOutboundCall(ctx context.Context, req models.CallRequest) (*models.CallResponse, error)
	GetCallStatus(ctx context.Context, callID string) (*models.CallResponse, error)
	// DownloadRecording fetches the audio behind a recording URL and reports
	// its content type.
	DownloadRecording(ctx context.Context, recordingURL string) ([]byte, string, error)
}
