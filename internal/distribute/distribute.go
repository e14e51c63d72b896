// Package distribute splits work items across reviewers and tracks each
// reviewer's progress through the items assigned to them.
//
// All state lives in a store.Store as three append-only ranges:
// Reviewers, Distribution (token, item) and Decisions (item, time, reviewer, decision).
package distribute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joescharf/opsdesk/internal/models"
	"github.com/joescharf/opsdesk/internal/store"
)

var (
	ErrNothingToDistribute = errors.New("nothing to distribute: need at least one item and one reviewer")
	ErrUnknownReviewer     = errors.New("unknown reviewer")
	ErrInvalidReviewer     = errors.New("reviewer name is required")
	ErrDuplicateReviewer   = errors.New("reviewer name already registered")
	ErrInvalidDecision     = errors.New("decision must be accept or reject")
)

var (
	reviewerHeader     = []string{"Token", "Name", "Email", "Created At"}
	distributionHeader = []string{"Token", "Folder", "Assigned At"}
	decisionHeader     = []string{"Folder", "Timestamp", "Reviewer", "Decision"}
)

// Options tune a distribution run.
type Options struct {
	// SkipAssigned leaves out items already present in the distribution record.
	SkipAssigned bool
}

// ReviewerCount is how many items one reviewer received in a run.
type ReviewerCount struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Run is the outcome of one distribution run.
type Run struct {
	Assignments []models.Assignment `json:"assignments"`
	Counts      []ReviewerCount     `json:"counts"`
	Skipped     []string            `json:"skipped,omitempty"`
}

// Distributor assigns items to reviewers and records review decisions.
type Distributor struct {
	store store.Store
	mu    sync.Mutex

	// Now and NewToken are replaceable in tests.
	Now      func() time.Time
	NewToken func() string
}

// New returns a Distributor backed by s.
func New(s store.Store) *Distributor {
	return &Distributor{
		store:    s,
		Now:      func() time.Time { return time.Now().UTC() },
		NewToken: uuid.NewString,
	}
}

// EnsureSheets writes the header row of every range that is still empty.
// Ranges that already hold data are left untouched.
func (d *Distributor) EnsureSheets(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var updates []store.RangeUpdate
	for _, r := range []struct {
		name   string
		header []string
	}{
		{store.RangeReviewers, reviewerHeader},
		{store.RangeDistribution, distributionHeader},
		{store.RangeDecisions, decisionHeader},
	} {
		rows, err := d.store.GetRange(ctx, r.name)
		if err != nil {
			return fmt.Errorf("check %s: %w", r.name, err)
		}
		if len(rows) == 0 {
			updates = append(updates, store.RangeUpdate{Range: r.name, Values: [][]string{r.header}})
		}
	}
	if len(updates) == 0 {
		return nil
	}
	if err := d.store.BatchUpdate(ctx, updates); err != nil {
		return fmt.Errorf("write headers: %w", err)
	}
	return nil
}

// Partition splits items into n contiguous groups in order. Every group gets
// len(items)/n items and the first len(items)%n groups get one more.
func Partition(items []string, n int) [][]string {
	if n <= 0 {
		return nil
	}
	parts := make([][]string, n)
	base, rem := len(items)/n, len(items)%n
	start := 0
	for i := range parts {
		size := base
		if i < rem {
			size++
		}
		parts[i] = append([]string(nil), items[start:start+size]...)
		start += size
	}
	return parts
}

// RegisterReviewer creates a reviewer with a fresh random token.
// Names are unique ignoring case.
func (d *Distributor) RegisterReviewer(ctx context.Context, name, email string) (models.Reviewer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Reviewer{}, ErrInvalidReviewer
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, err := d.reviewers(ctx)
	if err != nil {
		return models.Reviewer{}, err
	}
	for _, r := range existing {
		if strings.EqualFold(r.Name, name) {
			return models.Reviewer{}, fmt.Errorf("%w: %s", ErrDuplicateReviewer, name)
		}
	}

	r := models.Reviewer{
		Token:     d.NewToken(),
		Name:      name,
		Email:     strings.TrimSpace(email),
		CreatedAt: d.Now(),
	}
	row := []string{r.Token, r.Name, r.Email, r.CreatedAt.Format(time.RFC3339)}
	if err := d.store.AppendRows(ctx, store.RangeReviewers, [][]string{row}); err != nil {
		return models.Reviewer{}, fmt.Errorf("register reviewer: %w", err)
	}
	return r, nil
}

// Reviewers lists every registered reviewer in registration order.
func (d *Distributor) Reviewers(ctx context.Context) ([]models.Reviewer, error) {
	return d.reviewers(ctx)
}

// ResolveReviewer finds the reviewer holding token. ok is false when none does.
func (d *Distributor) ResolveReviewer(ctx context.Context, token string) (models.Reviewer, bool, error) {
	if token == "" {
		return models.Reviewer{}, false, nil
	}
	all, err := d.reviewers(ctx)
	if err != nil {
		return models.Reviewer{}, false, err
	}
	for _, r := range all {
		if r.Token == token {
			return r, true, nil
		}
	}
	return models.Reviewer{}, false, nil
}

// Plan computes the run Distribute would perform without writing anything.
// It fails the same way Distribute does.
func (d *Distributor) Plan(ctx context.Context, items, tokens []string, opts Options) (Run, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.plan(ctx, items, tokens, opts)
}

// Distribute assigns items to the reviewers holding tokens, in order, and
// appends every pair to the distribution record in a single append.
// Nothing is written when the run fails.
func (d *Distributor) Distribute(ctx context.Context, items, tokens []string, opts Options) (Run, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	run, err := d.plan(ctx, items, tokens, opts)
	if err != nil {
		return run, err
	}

	rows := make([][]string, 0, len(run.Assignments))
	for _, a := range run.Assignments {
		rows = append(rows, []string{a.Token, a.Item, a.AssignedAt.Format(time.RFC3339)})
	}
	if err := d.store.AppendRows(ctx, store.RangeDistribution, rows); err != nil {
		return Run{}, fmt.Errorf("record distribution: %w", err)
	}
	return run, nil
}

func (d *Distributor) plan(ctx context.Context, items, tokens []string, opts Options) (Run, error) {
	items = uniqueNonBlank(items)
	if len(items) == 0 || len(tokens) == 0 {
		return Run{}, ErrNothingToDistribute
	}

	all, err := d.reviewers(ctx)
	if err != nil {
		return Run{}, err
	}
	byToken := make(map[string]models.Reviewer, len(all))
	for _, r := range all {
		byToken[r.Token] = r
	}
	selected := make([]models.Reviewer, len(tokens))
	for i, tok := range tokens {
		r, ok := byToken[tok]
		if !ok {
			return Run{}, fmt.Errorf("%w: %s", ErrUnknownReviewer, tok)
		}
		selected[i] = r
	}

	var run Run
	if opts.SkipAssigned {
		assigned, err := d.assignments(ctx)
		if err != nil {
			return Run{}, err
		}
		seen := make(map[string]bool, len(assigned))
		for _, a := range assigned {
			seen[a.Item] = true
		}
		fresh := items[:0:0]
		for _, it := range items {
			if seen[it] {
				run.Skipped = append(run.Skipped, it)
				continue
			}
			fresh = append(fresh, it)
		}
		items = fresh
		if len(items) == 0 {
			return run, ErrNothingToDistribute
		}
	}

	now := d.Now()
	for i, part := range Partition(items, len(selected)) {
		r := selected[i]
		run.Counts = append(run.Counts, ReviewerCount{Token: r.Token, Name: r.Name, Count: len(part)})
		for _, it := range part {
			run.Assignments = append(run.Assignments, models.Assignment{Token: r.Token, Item: it, AssignedAt: now})
		}
	}
	return run, nil
}

// Assignments returns the distinct items ever assigned to token, in the
// order they were first appended.
func (d *Distributor) Assignments(ctx context.Context, token string) ([]string, error) {
	all, err := d.assignments(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	seen := make(map[string]bool)
	for _, a := range all {
		if a.Token != token || seen[a.Item] {
			continue
		}
		seen[a.Item] = true
		out = append(out, a.Item)
	}
	return out, nil
}

// Decisions returns the whole decision log in append order.
func (d *Distributor) Decisions(ctx context.Context) ([]models.ReviewDecision, error) {
	rows, err := d.store.GetRange(ctx, store.RangeDecisions)
	if err != nil {
		return nil, fmt.Errorf("read decisions: %w", err)
	}
	var out []models.ReviewDecision
	for _, row := range dataRows(rows, decisionHeader) {
		out = append(out, models.ReviewDecision{
			Item:      cell(row, 0),
			Timestamp: parseTime(cell(row, 1)),
			Reviewer:  cell(row, 2),
			Decision:  models.Decision(cell(row, 3)),
		})
	}
	return out, nil
}

func (d *Distributor) reviewers(ctx context.Context) ([]models.Reviewer, error) {
	rows, err := d.store.GetRange(ctx, store.RangeReviewers)
	if err != nil {
		return nil, fmt.Errorf("read reviewers: %w", err)
	}
	var out []models.Reviewer
	for _, row := range dataRows(rows, reviewerHeader) {
		if cell(row, 0) == "" {
			continue
		}
		out = append(out, models.Reviewer{
			Token:     cell(row, 0),
			Name:      cell(row, 1),
			Email:     cell(row, 2),
			CreatedAt: parseTime(cell(row, 3)),
		})
	}
	return out, nil
}

func (d *Distributor) assignments(ctx context.Context) ([]models.Assignment, error) {
	rows, err := d.store.GetRange(ctx, store.RangeDistribution)
	if err != nil {
		return nil, fmt.Errorf("read distribution: %w", err)
	}
	var out []models.Assignment
	for _, row := range dataRows(rows, distributionHeader) {
		if cell(row, 0) == "" || cell(row, 1) == "" {
			continue
		}
		out = append(out, models.Assignment{
			Token:      cell(row, 0),
			Item:       cell(row, 1),
			AssignedAt: parseTime(cell(row, 2)),
		})
	}
	return out, nil
}

// dataRows drops a leading header row.
func dataRows(rows [][]string, header []string) [][]string {
	if len(rows) > 0 && cell(rows[0], 0) == header[0] && cell(rows[0], 1) == header[1] {
		return rows[1:]
	}
	return rows
}

func cell(row []string, i int) string {
	if i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func uniqueNonBlank(items []string) []string {
	var out []string
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}
