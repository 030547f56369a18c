package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/claimwise/voicepipe/internal/models"
)

type CallEventRepository interface {
	Append(ctx context.Context, ev *models.CallEvent) error
	ListByCallID(ctx context.Context, callID string, limit int) ([]models.CallEvent, error)
}

type callEventRepo struct {
	col *mongo.Collection
}

func NewCallEventRepo(db *mongo.Database) CallEventRepository {
	return &callEventRepo{col: db.Collection("call_events")}
}

func (r *callEventRepo) Append(ctx context.Context, ev *models.CallEvent) error {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, ev)
	return err
}

func (r *callEventRepo) ListByCallID(ctx context.Context, callID string, limit int) ([]models.CallEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	cur, err := r.col.Find(ctx,
		bson.M{"call_id": callID},
		options.Find().
			SetSort(bson.D{{Key: "received_at", Value: -1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.CallEvent
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
