package config

import (
	"context"
	"errors"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func EnsureMongoIndexes() error {
	if MongoClient == nil {
		return errors.New("MongoClient is nil; call InitMongo() first")
	}

	dbName := os.Getenv("MONGO_DB")
	if dbName == "" {
		dbName = "voicepipe"
	}
	db := MongoClient.Database(dbName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events := db.Collection("call_events")
	_, err := events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		// event trail per call, newest first
		{
			Keys:    bson.D{{Key: "call_id", Value: 1}, {Key: "received_at", Value: -1}},
			Options: options.Index().SetName("by_call_received"),
		},
		// webhook payloads are an audit trail, not a system of record
		{
			Keys: bson.D{{Key: "received_at", Value: 1}},
			Options: options.Index().
				SetName("ttl_received_at").
				SetExpireAfterSeconds(int32((90 * 24 * time.Hour).Seconds())),
		},
	})
	return err
}
