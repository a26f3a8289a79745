// Package store implements the durable tier of the memory subsystem: a
// relational backstop queried by scope-derived filters. It only requires
// upsert-by-key, select-most-recent-by-key, delete-by-key and a soft-delete
// flag update; no multi-row transactions.
package store

import (
	"context"
	"time"
)

// IndividualRow is a per-agent working memory row. At most one live row
// exists per (ConversationID, ScopeID); upserts replace it.
type IndividualRow struct {
	ID             string
	ConversationID string
	ScopeID        string
	Payload        []byte
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SharedRow is a conversation-wide memory row. Version increases by one on
// every upsert; IsActive is flipped to false on soft delete and back to
// true when a later write resurrects the record.
type SharedRow struct {
	ID             string
	ConversationID string
	Payload        []byte
	Version        int64
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store is the durable-tier contract. Missing rows are reported as nil, nil
// rather than errors.
type Store interface {
	// UpsertIndividual inserts or replaces the row keyed by
	// (ConversationID, ScopeID).
	UpsertIndividual(ctx context.Context, row *IndividualRow) error

	// GetIndividual returns the most recently updated row for the key.
	GetIndividual(ctx context.Context, conversationID, scopeID string) (*IndividualRow, error)

	// DeleteIndividual removes the row. Idempotent.
	DeleteIndividual(ctx context.Context, conversationID, scopeID string) error

	// DeleteIndividualByID removes a single row by identity; used by
	// cleanup after the matching cache key is dropped.
	DeleteIndividualByID(ctx context.Context, id string) error

	// SearchIndividual returns rows in a conversation whose scope matches
	// the glob pattern.
	SearchIndividual(ctx context.Context, conversationID, pattern string) ([]*IndividualRow, error)

	// ListExpiredIndividual returns up to limit rows whose expiry passed
	// before now.
	ListExpiredIndividual(ctx context.Context, now time.Time, limit int) ([]*IndividualRow, error)

	// UpsertShared inserts or replaces the row keyed by ConversationID,
	// bumping the version by one and reactivating the record. Returns the
	// new version.
	UpsertShared(ctx context.Context, conversationID string, payload []byte) (int64, error)

	// GetShared returns the most recently updated row for the
	// conversation. With activeOnly set, soft-deleted rows are excluded.
	GetShared(ctx context.Context, conversationID string, activeOnly bool) (*SharedRow, error)

	// GetSharedVersion returns the current version, or zero when no row
	// exists.
	GetSharedVersion(ctx context.Context, conversationID string) (int64, error)

	// DeactivateShared soft-deletes the row, leaving version untouched.
	// Idempotent.
	DeactivateShared(ctx context.Context, conversationID string) error

	// SearchShared returns active rows whose conversation id matches the
	// glob pattern.
	SearchShared(ctx context.Context, pattern string) ([]*SharedRow, error)

	// CountIndividual reports the total row count and average payload size
	// in bytes.
	CountIndividual(ctx context.Context) (total int, avgSize float64, err error)

	// CountShared reports total and active row counts and the average
	// active payload size in bytes.
	CountShared(ctx context.Context) (total, active int, avgSize float64, err error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// globToLike converts a glob pattern ("agent-*") to a SQL LIKE pattern
// ("agent-%"). Literal % and _ in identifiers are escaped.
func globToLike(pattern string) string {
	out := make([]byte, 0, len(pattern))
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*':
			out = append(out, '%')
		case '?':
			out = append(out, '_')
		case '%', '_', '\\':
			out = append(out, '\\', pattern[i])
		default:
			out = append(out, pattern[i])
		}
	}
	return string(out)
}
