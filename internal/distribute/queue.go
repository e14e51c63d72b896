package distribute

import (
	"context"
	"fmt"
	"time"

	"github.com/joescharf/opsdesk/internal/models"
	"github.com/joescharf/opsdesk/internal/store"
)

// Queue is one reviewer's position in their assigned items.
type Queue struct {
	Reviewer models.Reviewer `json:"reviewer"`
	Assigned []string        `json:"assigned"`
	Reviewed []string        `json:"reviewed"`
	Pending  []string        `json:"pending"`
	Current  string          `json:"current"` // empty when nothing is left
	Progress float64         `json:"progress"`
}

// Done reports whether every assigned item has been decided.
func (q Queue) Done() bool { return q.Current == "" }

// Status is a short human-readable progress line.
func (q Queue) Status() string {
	if len(q.Assigned) == 0 {
		return "No folders assigned"
	}
	if q.Done() {
		return fmt.Sprintf("All %d folders reviewed", len(q.Assigned))
	}
	return fmt.Sprintf("Reviewing %s (%d of %d done)", q.Current, len(q.Reviewed), len(q.Assigned))
}

// ComputeQueue splits assigned into the items already in reviewed and those
// still pending, both in assignment order.
func ComputeQueue(assigned []string, reviewed map[string]bool) (done, pending []string) {
	for _, it := range assigned {
		if reviewed[it] {
			done = append(done, it)
		} else {
			pending = append(pending, it)
		}
	}
	return done, pending
}

// Progress is reviewed/total as a percentage, 0 when nothing is assigned.
func Progress(reviewed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(reviewed) / float64(total) * 100
}

func buildQueue(r models.Reviewer, assigned []string, reviewed map[string]bool) Queue {
	done, pending := ComputeQueue(assigned, reviewed)
	q := Queue{
		Reviewer: r,
		Assigned: assigned,
		Reviewed: done,
		Pending:  pending,
		// Decisions on unassigned items are ignored; progress stays within 0..100.
		Progress: Progress(len(done), len(assigned)),
	}
	if len(pending) > 0 {
		q.Current = pending[0]
	}
	return q
}

// Queue loads the review queue of the reviewer holding token.
func (d *Distributor) Queue(ctx context.Context, token string) (Queue, error) {
	r, ok, err := d.ResolveReviewer(ctx, token)
	if err != nil {
		return Queue{}, err
	}
	if !ok {
		return Queue{}, ErrUnknownReviewer
	}
	return d.queueFor(ctx, r)
}

func (d *Distributor) queueFor(ctx context.Context, r models.Reviewer) (Queue, error) {
	assigned, err := d.Assignments(ctx, r.Token)
	if err != nil {
		return Queue{}, err
	}
	decisions, err := d.Decisions(ctx)
	if err != nil {
		return Queue{}, err
	}
	reviewed := make(map[string]bool)
	for _, dec := range decisions {
		if dec.Reviewer == r.Name {
			reviewed[dec.Item] = true
		}
	}
	return buildQueue(r, assigned, reviewed), nil
}

// Record logs decision for the reviewer's current item and returns the
// updated queue. When the queue is already empty nothing is logged and
// recorded is false.
func (d *Distributor) Record(ctx context.Context, token string, decision models.Decision) (q Queue, recorded bool, err error) {
	if !decision.Valid() {
		return Queue{}, false, ErrInvalidDecision
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	q, err = d.Queue(ctx, token)
	if err != nil {
		return Queue{}, false, err
	}
	if q.Done() {
		return q, false, nil
	}

	item := q.Current
	row := []string{item, d.Now().Format(time.RFC3339), q.Reviewer.Name, string(decision)}
	if err := d.store.AppendRows(ctx, store.RangeDecisions, [][]string{row}); err != nil {
		return Queue{}, false, fmt.Errorf("record decision: %w", err)
	}

	reviewed := make(map[string]bool, len(q.Reviewed)+1)
	for _, it := range q.Reviewed {
		reviewed[it] = true
	}
	reviewed[item] = true
	return buildQueue(q.Reviewer, q.Assigned, reviewed), true, nil
}
