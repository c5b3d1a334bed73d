// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

// Package coordinator provides lease-based competing-consumer
// coordination over an occurrent.Subscribable (spec §4.H): at most one
// subscriber runs a given subscriptionID at a time, fenced by a
// monotonically increasing token. Grounded on the teacher's
// entity_execution_lock.sql.go upsert-with-threshold lock pattern
// (internal/db), translated from a conditional SQL UPDATE...WHERE into a
// MongoDB FindOneAndUpdate with an equivalent filter.
package coordinator

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
)

type leaseDoc struct {
	ID           string    `bson:"_id"`
	SubscriberID string    `bson:"subscriber_id"`
	FencingToken int64     `bson:"fencing_token"`
	ExpiresAt    time.Time `bson:"expires_at"`
}

// MongoLeaseStore is a MongoDB-backed occurrent.LeaseStore. Acquisition
// races are resolved by the collection's unique _id index plus a
// threshold filter mirroring LockIfThresholdNotExceeded: an upsert only
// proceeds when no document exists for the id, the existing one has
// already expired, or it is already held by the same subscriber.
type MongoLeaseStore struct {
	collection *mongo.Collection
}

var _ occurrent.LeaseStore = (*MongoLeaseStore)(nil)

// NewMongoLeaseStore builds a MongoLeaseStore over collection.
func NewMongoLeaseStore(collection *mongo.Collection) *MongoLeaseStore {
	return &MongoLeaseStore{collection: collection}
}

// EnsureIndexes creates the indexes MongoLeaseStore relies on. Mongo's
// default unique _id index already enforces at most one document per
// subscriptionID; nothing further is required, but the method exists so
// callers can treat every store type uniformly at startup.
func (s *MongoLeaseStore) EnsureIndexes(context.Context) error { return nil }

// Acquire implements occurrent.LeaseStore.
func (s *MongoLeaseStore) Acquire(ctx context.Context, subscriptionID, subscriberID string, duration time.Duration) (occurrent.Lease, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(duration)

	filter := bson.M{
		"$or": bson.A{
			bson.M{"_id": bson.M{"$exists": false}},
			bson.M{"expires_at": bson.M{"$lte": now}},
			bson.M{"subscriber_id": subscriberID},
		},
		"_id": subscriptionID,
	}
	// A pipeline update so the fencing token only advances when ownership
	// actually changes subscriber; a self-renewal by the same subscriber
	// already holding (or re-winning) the lease keeps its existing token
	// (spec §4.H: version = existingVersion + 1 if subscriberId changed
	// else existingVersion).
	update := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "subscriber_id", Value: subscriberID},
			{Key: "expires_at", Value: expiresAt},
			{Key: "fencing_token", Value: bson.M{
				"$cond": bson.A{
					bson.M{"$eq": bson.A{"$subscriber_id", subscriberID}},
					bson.M{"$ifNull": bson.A{"$fencing_token", int64(0)}},
					bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$fencing_token", int64(0)}}, int64(1)}},
				},
			}},
		}}},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc leaseDoc
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) || err == mongo.ErrNoDocuments {
			return occurrent.Lease{}, occurrent.ErrLostLease
		}
		return occurrent.Lease{}, occurrent.NewTransientIOError("acquiring lease: %v", err)
	}
	return toLease(subscriptionID, doc), nil
}

// Refresh implements occurrent.LeaseStore.
func (s *MongoLeaseStore) Refresh(ctx context.Context, subscriptionID, subscriberID string, duration time.Duration) (occurrent.Lease, error) {
	now := time.Now().UTC()
	filter := bson.M{"_id": subscriptionID, "subscriber_id": subscriberID, "expires_at": bson.M{"$gt": now}}
	update := bson.M{"$set": bson.M{"expires_at": now.Add(duration)}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc leaseDoc
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return occurrent.Lease{}, occurrent.ErrLostLease
		}
		return occurrent.Lease{}, occurrent.NewTransientIOError("refreshing lease: %v", err)
	}
	return toLease(subscriptionID, doc), nil
}

// Release implements occurrent.LeaseStore.
func (s *MongoLeaseStore) Release(ctx context.Context, subscriptionID, subscriberID string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": subscriptionID, "subscriber_id": subscriberID})
	if err != nil {
		return occurrent.NewTransientIOError("releasing lease: %v", err)
	}
	return nil
}

// Current implements occurrent.LeaseStore.
func (s *MongoLeaseStore) Current(ctx context.Context, subscriptionID string) (occurrent.Lease, bool, error) {
	var doc leaseDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": subscriptionID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return occurrent.Lease{}, false, nil
	}
	if err != nil {
		return occurrent.Lease{}, false, occurrent.NewTransientIOError("reading lease: %v", err)
	}
	return toLease(subscriptionID, doc), true, nil
}

func toLease(subscriptionID string, doc leaseDoc) occurrent.Lease {
	return occurrent.Lease{
		SubscriptionID: subscriptionID,
		SubscriberID:   doc.SubscriberID,
		FencingToken:   occurrent.FencingToken(doc.FencingToken),
		ExpiresAt:      doc.ExpiresAt,
	}
}
