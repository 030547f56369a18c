package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CallEvent is one raw provider webhook payload, kept verbatim as an audit
// trail alongside the relational call record.
type CallEvent struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CallID     string             `bson:"call_id" json:"call_id"`
	EventType  string             `bson:"event_type" json:"event_type"` // status|recording
	Payload    map[string]string  `bson:"payload" json:"payload"`
	ReceivedAt time.Time          `bson:"received_at" json:"received_at"`
}
