package audit

import (
	"sort"
	"time"
)

// SubjectKind names what an AggregateStats was computed for
type SubjectKind string

const (
	SubjectTask SubjectKind = "task"
	SubjectUser SubjectKind = "user"
)

// Window lengths used by the rolling counters
const (
	Window24h = 24 * time.Hour
	Window7d  = 7 * 24 * time.Hour
	Window30d = 30 * 24 * time.Hour
)

// AggregateStats is a rollup of one subject's change history. It is derived
// from the store on demand and never persisted.
type AggregateStats struct {
	SubjectID   int64       `json:"subject_id"`
	SubjectKind SubjectKind `json:"subject_kind"`

	TotalChanges  int64      `json:"total_changes"`
	FirstChangeAt *time.Time `json:"first_change_at,omitempty"`
	LastChangeAt  *time.Time `json:"last_change_at,omitempty"`

	CountsByOperation map[OperationKind]int64 `json:"counts_by_operation"`
	CountsByField     map[string]int64        `json:"counts_by_field"`

	ChangesInLast24h int64 `json:"changes_in_last_24h"`
	ChangesInLast7d  int64 `json:"changes_in_last_7d"`
	ChangesInLast30d int64 `json:"changes_in_last_30d"`

	AverageChangesPerDay float64 `json:"average_changes_per_day"`

	ComputedAt time.Time `json:"computed_at"`

	// StaleAt is the first moment an entry drops out of one of the windows.
	// The window counters are exact until then; nil when no window holds one.
	StaleAt *time.Time `json:"stale_at,omitempty"`
}

// ComputeStats folds entries, which must be ordered newest first, into an
// AggregateStats relative to now.
func ComputeStats(kind SubjectKind, subjectID int64, entries []*Entry, now time.Time) *AggregateStats {
	stats := &AggregateStats{
		SubjectID:         subjectID,
		SubjectKind:       kind,
		CountsByOperation: make(map[OperationKind]int64),
		CountsByField:     make(map[string]int64),
		ComputedAt:        now,
	}

	if len(entries) == 0 {
		return stats
	}

	last := entries[0].OccurredAt
	first := entries[len(entries)-1].OccurredAt
	stats.LastChangeAt = &last
	stats.FirstChangeAt = &first
	stats.TotalChanges = int64(len(entries))

	since24h := now.Add(-Window24h)
	since7d := now.Add(-Window7d)
	since30d := now.Add(-Window30d)

	for _, e := range entries {
		stats.CountsByOperation[e.Operation]++
		if e.FieldName != "" {
			stats.CountsByField[e.FieldName]++
		}

		if e.OccurredAt.After(since24h) {
			stats.ChangesInLast24h++
			stats.expireAt(e.OccurredAt.Add(Window24h))
		}
		if e.OccurredAt.After(since7d) {
			stats.ChangesInLast7d++
			stats.expireAt(e.OccurredAt.Add(Window7d))
		}
		if e.OccurredAt.After(since30d) {
			stats.ChangesInLast30d++
			stats.expireAt(e.OccurredAt.Add(Window30d))
		}
	}

	// Whole days, truncated: a burst within one day has no rate
	if days := int64(last.Sub(first) / (24 * time.Hour)); days > 0 {
		stats.AverageChangesPerDay = float64(stats.TotalChanges) / float64(days)
	}

	return stats
}

func (s *AggregateStats) expireAt(t time.Time) {
	if s.StaleAt == nil || t.Before(*s.StaleAt) {
		s.StaleAt = &t
	}
}

// FreshAt reports whether the window counters still hold at now
func (s *AggregateStats) FreshAt(now time.Time) bool {
	return s.StaleAt == nil || now.Before(*s.StaleAt)
}

// MostFrequentOperation returns the operation with the highest count.
// Ties go to the kind declared first in OperationKinds.
func (s *AggregateStats) MostFrequentOperation() (OperationKind, bool) {
	var best OperationKind
	var bestCount int64
	for _, kind := range s.orderedOperations() {
		if count := s.CountsByOperation[kind]; count > bestCount {
			best, bestCount = kind, count
		}
	}
	return best, bestCount > 0
}

// orderedOperations lists declared kinds first, then unknown ones sorted
func (s *AggregateStats) orderedOperations() []OperationKind {
	ordered := append([]OperationKind(nil), OperationKinds...)
	var extra []OperationKind
	for kind := range s.CountsByOperation {
		if !kind.IsValid() {
			extra = append(extra, kind)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(ordered, extra...)
}

// MostChangedField returns the field with the highest count.
// Ties go to the lexicographically smallest field name.
func (s *AggregateStats) MostChangedField() (string, bool) {
	var best string
	var bestCount int64
	for field, count := range s.CountsByField {
		if count > bestCount || (count == bestCount && field < best) {
			best, bestCount = field, count
		}
	}
	return best, bestCount > 0
}

// HasRecentActivity reports changes in the last 24 hours
func (s *AggregateStats) HasRecentActivity() bool {
	return s.ChangesInLast24h > 0
}

// IsActive reports changes in the last 7 days
func (s *AggregateStats) IsActive() bool {
	return s.ChangesInLast7d > 0
}
