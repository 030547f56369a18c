package stt

import "context"

// Transcriber turns a downloaded call recording into text. Used only when the
// voice platform did not hand us a transcript of its own.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (text string, confidence float64, err error)
	Close() error
}
