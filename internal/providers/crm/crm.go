package crm

import (
	"context"
	"time"
)

// Note is the CRM's record of an appended note.
type Note struct {
	ID          string    `json:"id"`
	EntityID    string    `json:"entity_id"`
	EntityType  string    `json:"entity_type"`
	Text        string    `json:"text"`
	PinnedToTop bool      `json:"pinned_to_top"`
	CreatedAt   time.Time `json:"created_at"`
}

// Service appends notes to CRM entities. The synthesized call note is the
// only artifact this system writes back.
type Service interface {
	AddNote(ctx context.Context, entityID, entityType, text string, pinToTop bool) (*Note, error)
}
