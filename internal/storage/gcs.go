package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

type GCSRecordingStore struct {
	client *gcs.Client
	bucket string
	prefix string
}

func NewGCSRecordingStore(ctx context.Context, bucket string) (*GCSRecordingStore, error) {
	c, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSRecordingStore{client: c, bucket: bucket, prefix: "recordings/"}, nil
}

func (s *GCSRecordingStore) Close() error { return s.client.Close() }

func (s *GCSRecordingStore) Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (string, error) {
	obj := s.client.Bucket(s.bucket).Object(s.prefix + objectName)

	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	// gs:// URI so Vertex can read the audio directly; recordings stay private
	return fmt.Sprintf("gs://%s/%s%s", s.bucket, s.prefix, objectName), nil
}

func (s *GCSRecordingStore) Delete(ctx context.Context, objectName string) error {
	err := s.client.Bucket(s.bucket).Object(s.prefix + objectName).Delete(ctx)
	if err == gcs.ErrObjectNotExist {
		return nil
	}
	return err
}

// Sweep deletes recordings older than the cutoff. Normal pipelines delete
// their own uploads; anything still here belonged to a monitor that never
// finished.
func (s *GCSRecordingStore) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	bkt := s.client.Bucket(s.bucket)

	deleted := 0
	it := bkt.Objects(ctx, &gcs.Query{Prefix: s.prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return deleted, err
		}
		if attrs.Created.After(cutoff) {
			continue
		}
		if err := bkt.Object(attrs.Name).Delete(ctx); err != nil && err != gcs.ErrObjectNotExist {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
