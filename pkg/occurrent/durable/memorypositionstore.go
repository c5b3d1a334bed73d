// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package durable

import (
	"context"
	"sync"
	"time"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
)

// MemoryPositionStore is an in-process PositionStore backed by a
// mutex-guarded map, the in-memory counterpart to mongostore's
// MongoPositionStore for use with memstore.Store or in tests. A write
// tagged with a FencingToken lower than the one already stored for a
// subscriptionID is rejected with occurrent.ErrStaleFencingToken.
type MemoryPositionStore struct {
	mu        sync.Mutex
	positions map[string]PositionEnvelopeV1
}

var _ PositionStore = (*MemoryPositionStore)(nil)

// NewMemoryPositionStore builds an empty MemoryPositionStore.
func NewMemoryPositionStore() *MemoryPositionStore {
	return &MemoryPositionStore{positions: make(map[string]PositionEnvelopeV1)}
}

// SavePosition implements PositionStore. A zero token (an uncoordinated
// subscription) always writes unconditionally.
func (s *MemoryPositionStore) SavePosition(_ context.Context, subscriptionID string, position occurrent.SubscriptionPosition, token occurrent.FencingToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.positions[subscriptionID]; ok && token != 0 && token < existing.FencingToken {
		return occurrent.ErrStaleFencingToken
	}
	s.positions[subscriptionID] = PositionEnvelopeV1{
		Version:        "v1",
		SubscriptionID: subscriptionID,
		Position:       position.String(),
		FencingToken:   token,
		SavedAt:        time.Now().UTC(),
	}
	return nil
}

// LoadPosition implements PositionStore.
func (s *MemoryPositionStore) LoadPosition(_ context.Context, subscriptionID string) (occurrent.SubscriptionPosition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.positions[subscriptionID]
	if !ok {
		return occurrent.SubscriptionPosition{}, false, nil
	}
	pos, err := occurrent.PositionFromString(env.Position)
	if err != nil {
		return occurrent.SubscriptionPosition{}, false, err
	}
	return pos, true, nil
}

// DeletePosition implements PositionStore.
func (s *MemoryPositionStore) DeletePosition(_ context.Context, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, subscriptionID)
	return nil
}
