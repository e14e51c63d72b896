package store

import (
	"context"
	"errors"
)

// Named ranges used by the folder distributor.
const (
	RangeReviewers    = "Reviewers"
	RangeDistribution = "Distribution"
	RangeDecisions    = "Decisions"
)

var (
	// ErrUnavailable marks a store call that kept failing after all retries.
	ErrUnavailable = errors.New("document store unavailable")
	// ErrInvalidRange is returned for an empty range name.
	ErrInvalidRange = errors.New("invalid range name")
)

// RangeUpdate overwrites the whole of Range with Values.
type RangeUpdate struct {
	Range  string
	Values [][]string
}

// Store is the document store: named ranges of string cells.
// Appends never reorder or delete existing rows.
type Store interface {
	GetRange(ctx context.Context, name string) ([][]string, error)
	AppendRows(ctx context.Context, name string, rows [][]string) error
	BatchUpdate(ctx context.Context, updates []RangeUpdate) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// copyRows deep-copies a table so callers never alias store internals.
func copyRows(rows [][]string) [][]string {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
