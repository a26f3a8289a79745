package store

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store with in-process maps. It backs tests and
// local development; semantics mirror the PostgreSQL implementation,
// including version bumps and soft deletes.
type MemoryStore struct {
	mu         sync.RWMutex
	individual map[string]*IndividualRow // key: conversation + "\x00" + scope
	shared     map[string]*SharedRow     // key: conversation
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		individual: make(map[string]*IndividualRow),
		shared:     make(map[string]*SharedRow),
	}
}

func individualKey(conversationID, scopeID string) string {
	return conversationID + "\x00" + scopeID
}

func copyIndividual(row *IndividualRow) *IndividualRow {
	out := *row
	out.Payload = append([]byte(nil), row.Payload...)
	return &out
}

func copyShared(row *SharedRow) *SharedRow {
	out := *row
	out.Payload = append([]byte(nil), row.Payload...)
	return &out
}

// UpsertIndividual inserts or replaces the row for (conversation, scope).
func (s *MemoryStore) UpsertIndividual(ctx context.Context, row *IndividualRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := individualKey(row.ConversationID, row.ScopeID)
	now := time.Now()

	stored := copyIndividual(row)
	stored.UpdatedAt = now
	if existing, ok := s.individual[key]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		stored.CreatedAt = now
	}
	s.individual[key] = stored
	return nil
}

// GetIndividual returns the row for the key, or nil, nil when absent.
func (s *MemoryStore) GetIndividual(ctx context.Context, conversationID, scopeID string) (*IndividualRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.individual[individualKey(conversationID, scopeID)]
	if !ok {
		return nil, nil
	}
	return copyIndividual(row), nil
}

// DeleteIndividual removes the row for the key.
func (s *MemoryStore) DeleteIndividual(ctx context.Context, conversationID, scopeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.individual, individualKey(conversationID, scopeID))
	return nil
}

// DeleteIndividualByID removes one row by identity.
func (s *MemoryStore) DeleteIndividualByID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, row := range s.individual {
		if row.ID == id {
			delete(s.individual, key)
			return nil
		}
	}
	return nil
}

// SearchIndividual returns rows in a conversation whose scope matches the
// glob pattern, most recently updated first.
func (s *MemoryStore) SearchIndividual(ctx context.Context, conversationID, pattern string) ([]*IndividualRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*IndividualRow
	for _, row := range s.individual {
		if row.ConversationID != conversationID {
			continue
		}
		ok, err := path.Match(pattern, row.ScopeID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, copyIndividual(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// ListExpiredIndividual returns up to limit rows past their expiry.
func (s *MemoryStore) ListExpiredIndividual(ctx context.Context, now time.Time, limit int) ([]*IndividualRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*IndividualRow
	for _, row := range s.individual {
		if !row.ExpiresAt.IsZero() && row.ExpiresAt.Before(now) {
			out = append(out, copyIndividual(row))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// UpsertShared inserts or replaces the conversation row, bumping version
// and reactivating. Returns the new version.
func (s *MemoryStore) UpsertShared(ctx context.Context, conversationID string, payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.shared[conversationID]; ok {
		existing.Payload = append([]byte(nil), payload...)
		existing.Version++
		existing.IsActive = true
		existing.UpdatedAt = now
		return existing.Version, nil
	}

	s.shared[conversationID] = &SharedRow{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Payload:        append([]byte(nil), payload...),
		Version:        1,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return 1, nil
}

// GetShared returns the row for the conversation, or nil, nil when absent
// (or soft-deleted, when activeOnly is set).
func (s *MemoryStore) GetShared(ctx context.Context, conversationID string, activeOnly bool) (*SharedRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.shared[conversationID]
	if !ok {
		return nil, nil
	}
	if activeOnly && !row.IsActive {
		return nil, nil
	}
	return copyShared(row), nil
}

// GetSharedVersion returns the current version, or zero when absent.
func (s *MemoryStore) GetSharedVersion(ctx context.Context, conversationID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.shared[conversationID]
	if !ok {
		return 0, nil
	}
	return row.Version, nil
}

// DeactivateShared soft-deletes the row.
func (s *MemoryStore) DeactivateShared(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row, ok := s.shared[conversationID]; ok {
		row.IsActive = false
		row.UpdatedAt = time.Now()
	}
	return nil
}

// SearchShared returns active rows whose conversation matches the glob
// pattern.
func (s *MemoryStore) SearchShared(ctx context.Context, pattern string) ([]*SharedRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*SharedRow
	for _, row := range s.shared {
		if !row.IsActive {
			continue
		}
		ok, err := path.Match(pattern, row.ConversationID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, copyShared(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// CountIndividual reports the row count and average payload size.
func (s *MemoryStore) CountIndividual(ctx context.Context) (int, float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.individual)
	if total == 0 {
		return 0, 0, nil
	}
	var size int
	for _, row := range s.individual {
		size += len(row.Payload)
	}
	return total, float64(size) / float64(total), nil
}

// CountShared reports total/active counts and average active payload size.
func (s *MemoryStore) CountShared(ctx context.Context) (int, int, float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.shared)
	var active, size int
	for _, row := range s.shared {
		if row.IsActive {
			active++
			size += len(row.Payload)
		}
	}
	var avg float64
	if active > 0 {
		avg = float64(size) / float64(active)
	}
	return total, active, avg, nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-process store.
func (s *MemoryStore) Close() error {
	return nil
}
