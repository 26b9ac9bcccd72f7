package audit

import (
	"context"
	"time"
)

// Store is the append-only persistence surface for audit entries.
//
// Reads return entries newest first (occurred_at DESC, id DESC). A query that
// matches nothing returns an empty slice and a nil error; only faults of the
// underlying storage are reported as errors.
type Store interface {
	// Append persists entry, assigning its ID and, when unset, its timestamp
	Append(ctx context.Context, entry *Entry) (*Entry, error)

	// Get retrieves a single entry, or nil when it does not exist
	Get(ctx context.Context, id int64) (*Entry, error)

	// Search returns entries matching filter
	Search(ctx context.Context, filter Filter) ([]*Entry, error)

	// Count returns the number of entries matching filter, ignoring Limit and Offset
	Count(ctx context.Context, filter Filter) (int64, error)

	// CountsByOperation groups the entries matching filter by operation kind
	CountsByOperation(ctx context.Context, filter Filter) (map[OperationKind]int64, error)

	// TopActors returns actors ordered by number of changes
	TopActors(ctx context.Context, limit int) ([]ActorCount, error)

	// DeleteBefore removes entries that occurred strictly before cutoff
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Clock returns the current time; tests replace it
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
