// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
)

// MemoryLeaseStore is an in-process occurrent.LeaseStore backed by a
// mutex-guarded map, the in-memory counterpart to MongoLeaseStore for use
// with memstore.Store or in tests.
type MemoryLeaseStore struct {
	mu     sync.Mutex
	leases map[string]occurrent.Lease
}

var _ occurrent.LeaseStore = (*MemoryLeaseStore)(nil)

// NewMemoryLeaseStore builds an empty MemoryLeaseStore.
func NewMemoryLeaseStore() *MemoryLeaseStore {
	return &MemoryLeaseStore{leases: make(map[string]occurrent.Lease)}
}

// Acquire implements occurrent.LeaseStore.
func (s *MemoryLeaseStore) Acquire(_ context.Context, subscriptionID, subscriberID string, duration time.Duration) (occurrent.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	existing, ok := s.leases[subscriptionID]
	if ok && !existing.IsExpired(now) && existing.SubscriberID != subscriberID {
		return occurrent.Lease{}, occurrent.ErrLostLease
	}

	// The fencing token only advances when ownership actually changes
	// subscriber; a self-renewal by the same subscriber keeps its existing
	// token (spec §4.H).
	token := occurrent.FencingToken(1)
	if ok {
		token = existing.FencingToken
		if existing.SubscriberID != subscriberID {
			token++
		}
	}
	lease := occurrent.Lease{
		SubscriptionID: subscriptionID,
		SubscriberID:   subscriberID,
		FencingToken:   token,
		ExpiresAt:      now.Add(duration),
	}
	s.leases[subscriptionID] = lease
	return lease, nil
}

// Refresh implements occurrent.LeaseStore.
func (s *MemoryLeaseStore) Refresh(_ context.Context, subscriptionID, subscriberID string, duration time.Duration) (occurrent.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.leases[subscriptionID]
	now := time.Now()
	if !ok || existing.IsExpired(now) || existing.SubscriberID != subscriberID {
		return occurrent.Lease{}, occurrent.ErrLostLease
	}
	existing.ExpiresAt = now.Add(duration)
	s.leases[subscriptionID] = existing
	return existing, nil
}

// Release implements occurrent.LeaseStore.
func (s *MemoryLeaseStore) Release(_ context.Context, subscriptionID, subscriberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.leases[subscriptionID]; ok && existing.SubscriberID == subscriberID {
		delete(s.leases, subscriptionID)
	}
	return nil
}

// Current implements occurrent.LeaseStore.
func (s *MemoryLeaseStore) Current(_ context.Context, subscriptionID string) (occurrent.Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lease, ok := s.leases[subscriptionID]
	return lease, ok, nil
}
