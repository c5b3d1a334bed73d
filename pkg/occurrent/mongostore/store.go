// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package mongostore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
	"github.com/occurrent-go/occurrent/pkg/occurrent/mapper"
)

// Store is a MongoDB-backed occurrent.Store.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	events   *mongo.Collection
	versions *mongo.Collection
	cfg      occurrent.StoreConfig
	mapper   mapper.Mapper
}

var _ occurrent.Store = (*Store)(nil)

// New constructs a Store against db, using cfg's collection names and
// encoding knobs. EnsureIndexes should be called once per deployment,
// typically at startup.
func New(client *mongo.Client, db *mongo.Database, cfg occurrent.StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		client:   client,
		db:       db,
		events:   db.Collection(cfg.EventCollectionName),
		cfg:      cfg,
		mapper:   mapper.New(cfg.TimeRepresentation, cfg.Format),
	}
	if cfg.StreamConsistencyGuarantee == occurrent.Transactional {
		s.versions = db.Collection(cfg.StreamVersionCollectionName)
	}
	return s, nil
}

// EnsureIndexes creates the indexes required for the configured
// consistency guarantee and for efficient filter queries: a unique index
// over (source, id) enforcing the global event-identity invariant, and a
// unique index over (streamid, streamversion) enforcing the dense
// per-stream sequence under IndexOnly consistency.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	identityIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: mapper.FieldSource, Value: 1}, {Key: mapper.FieldID, Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_source_id"),
	}
	streamIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: mapper.FieldStreamID, Value: 1}, {Key: mapper.FieldStreamVersion, Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_streamid_streamversion"),
	}
	if _, err := s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{identityIdx, streamIdx}); err != nil {
		return occurrent.NewTransientIOError("creating event indexes: %v", err)
	}
	if s.versions != nil {
		verIdx := mongo.IndexModel{
			Keys:    bson.D{{Key: "_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}
		if _, err := s.versions.Indexes().CreateOne(ctx, verIdx); err != nil {
			return occurrent.NewTransientIOError("creating stream version index: %v", err)
		}
	}
	return nil
}

// Write implements occurrent.Store.
func (s *Store) Write(ctx context.Context, streamID string, condition occurrent.WriteCondition, events ...occurrent.CloudEvent) (occurrent.WriteResult, error) {
	if streamID == "" {
		return occurrent.WriteResult{}, occurrent.NewInvalidArgumentError("stream id must not be empty")
	}
	if len(events) == 0 {
		return occurrent.WriteResult{}, occurrent.NewInvalidArgumentError("write requires at least one event")
	}

	switch s.cfg.StreamConsistencyGuarantee {
	case occurrent.Transactional:
		return s.writeTransactional(ctx, streamID, condition, events)
	default:
		return s.writeDerived(ctx, streamID, condition, events)
	}
}

// writeDerived implements IndexOnly and NoConsistencyGuarantee: the
// current version is read via a max() query, then events are inserted
// relying (under IndexOnly) on the unique (streamid, streamversion)
// index to reject a racing writer's overlapping versions.
func (s *Store) writeDerived(ctx context.Context, streamID string, condition occurrent.WriteCondition, events []occurrent.CloudEvent) (occurrent.WriteResult, error) {
	currentVersion, err := s.maxStreamVersion(ctx, streamID)
	if err != nil {
		return occurrent.WriteResult{}, err
	}
	if !condition.Evaluate(currentVersion) {
		return occurrent.WriteResult{}, occurrent.NewWriteConditionNotFulfilledError(condition.Condition().Describe(), currentVersion)
	}

	docs := make([]any, 0, len(events))
	for _, e := range events {
		currentVersion++
		stamped := occurrent.WithStream(e, streamID, currentVersion)
		doc, err := s.mapper.ToDocument(stamped)
		if err != nil {
			return occurrent.WriteResult{}, err
		}
		docs = append(docs, doc)
	}

	if _, err := s.events.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return occurrent.WriteResult{}, translateWriteError(err)
	}
	return occurrent.WriteResult{StreamVersion: currentVersion}, nil
}

// writeTransactional implements Transactional consistency: the
// stream-version collection holds one document per stream keyed by
// streamID, incremented inside the same session as the event insert.
func (s *Store) writeTransactional(ctx context.Context, streamID string, condition occurrent.WriteCondition, events []occurrent.CloudEvent) (occurrent.WriteResult, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return occurrent.WriteResult{}, occurrent.NewTransientIOError("starting session: %v", err)
	}
	defer session.EndSession(ctx)

	var result occurrent.WriteResult
	_, err = session.WithTransaction(ctx, func(sessCtx context.Context) (any, error) {
		currentVersion, err := s.readTrackedVersion(sessCtx, streamID)
		if err != nil {
			return nil, err
		}
		if !condition.Evaluate(currentVersion) {
			return nil, occurrent.NewWriteConditionNotFulfilledError(condition.Condition().Describe(), currentVersion)
		}

		docs := make([]any, 0, len(events))
		for _, e := range events {
			currentVersion++
			stamped := occurrent.WithStream(e, streamID, currentVersion)
			doc, err := s.mapper.ToDocument(stamped)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}

		if _, err := s.events.InsertMany(sessCtx, docs, options.InsertMany().SetOrdered(true)); err != nil {
			return nil, translateWriteError(err)
		}

		upsert := true
		_, err = s.versions.UpdateByID(sessCtx, streamID,
			bson.M{"$set": bson.M{"version": currentVersion}},
			&options.UpdateOptions{Upsert: &upsert})
		if err != nil {
			return nil, occurrent.NewTransientIOError("updating tracked stream version: %v", err)
		}

		result = occurrent.WriteResult{StreamVersion: currentVersion}
		return nil, nil
	})
	if err != nil {
		return occurrent.WriteResult{}, err
	}
	return result, nil
}

func (s *Store) readTrackedVersion(ctx context.Context, streamID string) (int64, error) {
	var doc struct {
		Version int64 `bson:"version"`
	}
	err := s.versions.FindOne(ctx, bson.M{"_id": streamID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, occurrent.NewTransientIOError("reading tracked stream version: %v", err)
	}
	return doc.Version, nil
}

func (s *Store) maxStreamVersion(ctx context.Context, streamID string) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: mapper.FieldStreamVersion, Value: -1}})
	var doc map[string]any
	err := s.events.FindOne(ctx, bson.M{mapper.FieldStreamID: streamID}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, occurrent.NewTransientIOError("reading max stream version: %v", err)
	}
	e, err := s.mapper.FromDocument(stripID(doc))
	if err != nil {
		return 0, err
	}
	return occurrent.StreamVersionOf(e)
}

func translateWriteError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", occurrent.ErrDuplicateEvent, err)
	}
	return occurrent.NewTransientIOError("writing events: %v", err)
}

// Read implements occurrent.Store.
func (s *Store) Read(ctx context.Context, streamID string, opts occurrent.QueryOptions) ([]occurrent.CloudEvent, error) {
	return s.find(ctx, bson.M{mapper.FieldStreamID: streamID}, opts)
}

// Exists implements occurrent.Store.
func (s *Store) Exists(ctx context.Context, streamID string) (bool, error) {
	n, err := s.events.CountDocuments(ctx, bson.M{mapper.FieldStreamID: streamID}, options.Count().SetLimit(1))
	if err != nil {
		return false, occurrent.NewTransientIOError("checking stream existence: %v", err)
	}
	return n > 0, nil
}

// Query implements occurrent.Store.
func (s *Store) Query(ctx context.Context, filter occurrent.Filter, opts occurrent.QueryOptions) ([]occurrent.CloudEvent, error) {
	q, err := filterToBSON(filter, s.mapper)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, q, opts)
}

func (s *Store) find(ctx context.Context, query bson.M, opts occurrent.QueryOptions) ([]occurrent.CloudEvent, error) {
	sortDir := 1
	if opts.SortByStreamVersionDescending {
		sortDir = -1
	}
	findOpts := options.Find().SetSort(bson.D{{Key: mapper.FieldStreamVersion, Value: sortDir}})
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}

	cur, err := s.events.Find(ctx, query, findOpts)
	if err != nil {
		return nil, occurrent.NewTransientIOError("querying events: %v", err)
	}
	defer cur.Close(ctx)

	var out []occurrent.CloudEvent
	for cur.Next(ctx) {
		var doc map[string]any
		if err := cur.Decode(&doc); err != nil {
			return nil, occurrent.NewTransientIOError("decoding event document: %v", err)
		}
		e, err := s.mapper.FromDocument(stripID(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := cur.Err(); err != nil {
		return nil, occurrent.NewTransientIOError("iterating events: %v", err)
	}
	return out, nil
}

// Count implements occurrent.Store.
func (s *Store) Count(ctx context.Context, filter occurrent.Filter, _ occurrent.QueryOptions) (int64, error) {
	q, err := filterToBSON(filter, s.mapper)
	if err != nil {
		return 0, err
	}
	n, err := s.events.CountDocuments(ctx, q)
	if err != nil {
		return 0, occurrent.NewTransientIOError("counting events: %v", err)
	}
	return n, nil
}

// DeleteEventStream implements occurrent.Store. Under Transactional
// consistency the tracked version document is removed too, so a later
// write to the same streamID starts again from version 1 (spec §9's
// open question, resolved this way: erasure means the stream no longer
// exists, not that it is frozen at its last version).
func (s *Store) DeleteEventStream(ctx context.Context, streamID string) error {
	if _, err := s.events.DeleteMany(ctx, bson.M{mapper.FieldStreamID: streamID}); err != nil {
		return occurrent.NewTransientIOError("deleting stream: %v", err)
	}
	if s.versions != nil {
		if _, err := s.versions.DeleteOne(ctx, bson.M{"_id": streamID}); err != nil {
			return occurrent.NewTransientIOError("deleting tracked stream version: %v", err)
		}
	}
	return nil
}

// DeleteEvent implements occurrent.Store.
func (s *Store) DeleteEvent(ctx context.Context, key occurrent.EventKey) error {
	q := bson.M{mapper.FieldSource: key.Source, mapper.FieldID: key.ID}
	if _, err := s.events.DeleteOne(ctx, q); err != nil {
		return occurrent.NewTransientIOError("deleting event: %v", err)
	}
	return nil
}

// Delete implements occurrent.Store.
func (s *Store) Delete(ctx context.Context, filter occurrent.Filter) error {
	q, err := filterToBSON(filter, s.mapper)
	if err != nil {
		return err
	}
	if _, err := s.events.DeleteMany(ctx, q); err != nil {
		return occurrent.NewTransientIOError("deleting events: %v", err)
	}
	return nil
}

// UpdateEvents implements occurrent.Store. Each matched document is
// decoded, passed to fn, and replaced in place; fn is rejected if it
// would alter the event's stream identity.
func (s *Store) UpdateEvents(ctx context.Context, filter occurrent.Filter, fn occurrent.UpdateFunc) error {
	q, err := filterToBSON(filter, s.mapper)
	if err != nil {
		return err
	}
	cur, err := s.events.Find(ctx, q)
	if err != nil {
		return occurrent.NewTransientIOError("querying events to update: %v", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var raw map[string]any
		if err := cur.Decode(&raw); err != nil {
			return occurrent.NewTransientIOError("decoding event to update: %v", err)
		}
		id := raw["_id"]
		e, err := s.mapper.FromDocument(stripID(raw))
		if err != nil {
			return err
		}
		updated, err := fn(e)
		if err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Str("event_id", e.ID()).Msg("update rejected event, leaving untouched")
			continue
		}
		if occurrent.KeyOf(updated) != occurrent.KeyOf(e) {
			return occurrent.NewInvalidArgumentError("update must not change an event's (source, id) identity")
		}
		origSid, _ := occurrent.StreamIDOf(e)
		origVer, _ := occurrent.StreamVersionOf(e)
		newSid, serr := occurrent.StreamIDOf(updated)
		newVer, verr := occurrent.StreamVersionOf(updated)
		if serr != nil || verr != nil || newSid != origSid || newVer != origVer {
			return occurrent.NewInvalidArgumentError("update must not change an event's stream identity")
		}
		doc, err := s.mapper.ToDocument(updated)
		if err != nil {
			return err
		}
		if _, err := s.events.ReplaceOne(ctx, bson.M{"_id": id}, doc); err != nil {
			return occurrent.NewTransientIOError("replacing updated event: %v", err)
		}
	}
	return cur.Err()
}

func stripID(doc map[string]any) map[string]any {
	delete(doc, "_id")
	return doc
}
