// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
	"github.com/occurrent-go/occurrent/pkg/occurrent/durable"
)

type positionDoc struct {
	ID           string    `bson:"_id"`
	Position     string    `bson:"position"`
	FencingToken int64     `bson:"fencing_token"`
	SavedAt      time.Time `bson:"saved_at"`
}

// MongoPositionStore is a MongoDB-backed durable.PositionStore. A write
// tagged with a FencingToken lower than the one already stored for a
// subscriptionID is rejected, mirroring MongoLeaseStore's conditional
// FindOneAndUpdate pattern: a superseded competing-consumer holder that is
// still delivering events must not clobber the position saved by whoever
// took the lease over from it.
type MongoPositionStore struct {
	collection *mongo.Collection
}

var _ durable.PositionStore = (*MongoPositionStore)(nil)

// NewMongoPositionStore builds a MongoPositionStore over collection.
func NewMongoPositionStore(collection *mongo.Collection) *MongoPositionStore {
	return &MongoPositionStore{collection: collection}
}

// EnsureIndexes creates the indexes MongoPositionStore relies on. Mongo's
// default unique _id index already enforces at most one document per
// subscriptionID; nothing further is required, but the method exists so
// callers can treat every store type uniformly at startup.
func (s *MongoPositionStore) EnsureIndexes(context.Context) error { return nil }

// SavePosition implements durable.PositionStore. A zero token (an
// uncoordinated subscription) always writes unconditionally; a nonzero
// token only overwrites a document whose stored token is <= token.
func (s *MongoPositionStore) SavePosition(ctx context.Context, subscriptionID string, position occurrent.SubscriptionPosition, token occurrent.FencingToken) error {
	filter := bson.M{
		"_id": subscriptionID,
	}
	if token != 0 {
		filter["$or"] = bson.A{
			bson.M{"_id": bson.M{"$exists": false}},
			bson.M{"fencing_token": bson.M{"$lte": int64(token)}},
		}
	}
	update := bson.M{
		"$set": bson.M{
			"position":      position.String(),
			"fencing_token": int64(token),
			"saved_at":      time.Now().UTC(),
		},
	}
	opts := options.Update().SetUpsert(true)

	res, err := s.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return occurrent.ErrStaleFencingToken
		}
		return occurrent.NewTransientIOError("saving subscription position: %v", err)
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return occurrent.ErrStaleFencingToken
	}
	return nil
}

// LoadPosition implements durable.PositionStore.
func (s *MongoPositionStore) LoadPosition(ctx context.Context, subscriptionID string) (occurrent.SubscriptionPosition, bool, error) {
	var doc positionDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": subscriptionID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return occurrent.SubscriptionPosition{}, false, nil
	}
	if err != nil {
		return occurrent.SubscriptionPosition{}, false, occurrent.NewTransientIOError("loading subscription position: %v", err)
	}
	pos, err := occurrent.PositionFromString(doc.Position)
	if err != nil {
		return occurrent.SubscriptionPosition{}, false, err
	}
	return pos, true, nil
}

// DeletePosition implements durable.PositionStore.
func (s *MongoPositionStore) DeletePosition(ctx context.Context, subscriptionID string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": subscriptionID})
	if err != nil {
		return occurrent.NewTransientIOError("deleting subscription position: %v", err)
	}
	return nil
}
