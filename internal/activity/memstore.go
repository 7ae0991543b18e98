/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/luisson10/conbiz-ticket-support/internal/domain"
)

// MemorySeenStore is a process-local SeenStateStore. Used in tests and as
// a fallback when the portal runs without a database.
type MemorySeenStore struct {
	mu     sync.Mutex
	states map[string]*domain.SeenState
}

func NewMemorySeenStore() *MemorySeenStore {
	return &MemorySeenStore{states: make(map[string]*domain.SeenState)}
}

func (s *MemorySeenStore) state(userID, boardID string) *domain.SeenState {
	key := userID + "|" + boardID
	st, ok := s.states[key]
	if !ok {
		st = &domain.SeenState{SeenIDs: make(map[string]struct{})}
		s.states[key] = st
	}
	return st
}

func (s *MemorySeenStore) Get(_ context.Context, userID, boardID string) (domain.SeenState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(userID, boardID)
	out := domain.SeenState{SeenIDs: make(map[string]struct{}, len(st.SeenIDs))}
	for id := range st.SeenIDs { out.SeenIDs[id] = struct{}{} }
	if st.LastSeenAt != nil {
		t := *st.LastSeenAt
		out.LastSeenAt = &t
	}
	return out, nil
}

func (s *MemorySeenStore) MarkSeen(_ context.Context, userID, boardID string, itemIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(userID, boardID)
	for _, id := range itemIDs { st.SeenIDs[id] = struct{}{} }
	return nil
}

// AdvanceWatermark moves the watermark forward only; older timestamps are
// ignored.
func (s *MemorySeenStore) AdvanceWatermark(_ context.Context, userID, boardID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(userID, boardID)
	if st.LastSeenAt == nil || ts.After(*st.LastSeenAt) { st.LastSeenAt = &ts }
	return nil
}
