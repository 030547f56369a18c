package storage

import (
	"context"
	"io"
	"time"
)

// RecordingStore holds call recordings between download-from-provider and
// generative analysis. Objects are transient; Sweep reclaims leftovers from
// pipelines that died before their cleanup ran.
type RecordingStore interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (uri string, err error)
	Delete(ctx context.Context, objectName string) error
	Sweep(ctx context.Context, olderThan time.Duration) (deleted int, err error)
}
