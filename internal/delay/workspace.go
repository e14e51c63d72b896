package delay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joescharf/opsdesk/internal/models"
	"github.com/joescharf/opsdesk/internal/sheet"
)

// Upload column names.
const (
	ColTask         = "Task"
	ColDelay        = "Real Delay (hours)"
	ColName         = "Housemaid Name"
	ColNationality  = "Housemaid Nationality"
	ColType         = "Housemaid Type"
	ColStatus       = "Housemaid Status"
	ColAssignee     = "Assignee"
	ColNotes        = "Notes"
	ColMoveInDate   = "Task Move in Date"
	ColPermitExpiry = "Work Permit Expiry Date"
	ColPendingTasks = "Number of Pending Tasks"

	ColThreshold   = "Threshold Hours"
	ColIsDelayed   = "Is Delayed"
	ColPriority    = "Priority"
	ColLastUpdated = "Last Updated"
)

// RequiredColumns must be present in every upload.
var RequiredColumns = []string{ColTask, ColDelay}

// derivedColumns are appended to exports after the uploaded columns.
var derivedColumns = []string{ColThreshold, ColIsDelayed, ColPriority, ColLastUpdated}

var (
	// ErrMalformedUpload is wrapped by every structural upload failure.
	ErrMalformedUpload = errors.New("malformed upload")
	// ErrRowNotFound is returned when editing a row index that is not loaded.
	ErrRowNotFound = errors.New("row not found")
)

// MissingColumnError reports required columns absent from an upload.
type MissingColumnError struct {
	Columns []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing required column(s): %s", strings.Join(e.Columns, ", "))
}

func (e *MissingColumnError) Unwrap() error { return ErrMalformedUpload }

const (
	dateLayout      = "01/02/2006 03:04:05 PM"
	timestampLayout = "2006-01-02 15:04:05"
)

var dateFallbacks = []string{dateLayout, time.RFC3339, timestampLayout, "2006-01-02", "01/02/2006"}

// RowEdit carries the fields a user may change on one row. Nil fields are untouched.
type RowEdit struct {
	Assignee       *string  `json:"assignee,omitempty"`
	Notes          *string  `json:"notes,omitempty"`
	DelayHours     *string  `json:"delay_hours,omitempty"`
	ThresholdHours *float64 `json:"threshold_hours,omitempty"`
}

// Workspace is the working tracking table of one editing session together
// with its threshold configuration. Operations run one at a time.
type Workspace struct {
	mu         sync.Mutex
	thresholds *Thresholds
	rows       []models.TrackingRow
	columns    []string
	loadedAt   time.Time

	// Now is the clock used for LastUpdated stamps.
	Now func() time.Time
}

// NewWorkspace returns an empty workspace using thresholds, or the defaults when nil.
func NewWorkspace(thresholds *Thresholds) *Workspace {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	return &Workspace{thresholds: thresholds, Now: time.Now}
}

// Load replaces the working table with t. A structurally invalid table
// leaves the current one in place. Unparseable cells become absent values.
func (w *Workspace) Load(t sheet.Table) error {
	var missing []string
	for _, c := range RequiredColumns {
		if t.Column(c) < 0 {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &MissingColumnError{Columns: missing}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.Now()
	idx := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		h = strings.TrimSpace(h)
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	cell := func(rec []string, col string) (string, bool) {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return "", ok
		}
		return rec[i], true
	}

	rawTasks := make([]string, len(t.Rows))
	for i, rec := range t.Rows {
		rawTasks[i], _ = cell(rec, ColTask)
	}
	tasks := NormalizeTasks(rawTasks)

	rows := make([]models.TrackingRow, len(t.Rows))
	for i, rec := range t.Rows {
		r := models.TrackingRow{
			Index:       i,
			Task:        tasks[i],
			Assignee:    models.Unassigned,
			LastUpdated: now,
			Extra:       make(map[string]string),
		}
		raw, _ := cell(rec, ColDelay)
		r.DelayHours = ParseHours(raw)
		r.Name, _ = cell(rec, ColName)
		r.Nationality, _ = cell(rec, ColNationality)
		r.Type, _ = cell(rec, ColType)
		r.Status, _ = cell(rec, ColStatus)
		r.PendingTasks, _ = cell(rec, ColPendingTasks)
		if v, ok := cell(rec, ColAssignee); ok && strings.TrimSpace(v) != "" {
			r.Assignee = strings.TrimSpace(v)
		}
		r.Notes, _ = cell(rec, ColNotes)
		if v, _ := cell(rec, ColMoveInDate); v != "" {
			r.MoveInDate = parseDate(v)
		}
		if v, _ := cell(rec, ColPermitExpiry); v != "" {
			r.PermitExpiry = parseDate(v)
		}
		for h, i := range idx {
			if isTypedColumn(h) || i >= len(rec) {
				continue
			}
			r.Extra[h] = rec[i]
		}

		r.ThresholdHours = w.thresholds.Lookup(r.Task)
		applyClassification(&r)
		rows[i] = r
	}

	columns := make([]string, 0, len(t.Header)+2)
	seen := make(map[string]bool)
	for _, h := range t.Header {
		h = strings.TrimSpace(h)
		if seen[h] || isDerivedColumn(h) {
			continue
		}
		seen[h] = true
		columns = append(columns, h)
	}
	for _, c := range []string{ColAssignee, ColNotes} {
		if !seen[c] {
			columns = append(columns, c)
		}
	}

	w.rows = rows
	w.columns = columns
	w.loadedAt = now
	return nil
}

// UpdateThresholds applies positive changes to the threshold configuration
// and re-derives every loaded row. It returns the tasks that were applied.
func (w *Workspace) UpdateThresholds(changes map[string]float64) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	applied := w.thresholds.Update(changes)
	for i := range w.rows {
		w.rows[i].ThresholdHours = w.thresholds.Lookup(w.rows[i].Task)
		applyClassification(&w.rows[i])
	}
	return applied
}

// EditRow applies e to the row at index, stamps LastUpdated and re-derives it.
func (w *Workspace) EditRow(index int, e RowEdit) (models.TrackingRow, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if index < 0 || index >= len(w.rows) {
		return models.TrackingRow{}, fmt.Errorf("%w: %d", ErrRowNotFound, index)
	}
	r := &w.rows[index]

	if e.Assignee != nil {
		r.Assignee = strings.TrimSpace(*e.Assignee)
		if r.Assignee == "" {
			r.Assignee = models.Unassigned
		}
	}
	if e.Notes != nil {
		r.Notes = *e.Notes
	}
	if e.DelayHours != nil {
		r.DelayHours = ParseHours(*e.DelayHours)
	}
	if e.ThresholdHours != nil && validHours(*e.ThresholdHours) {
		r.ThresholdHours = *e.ThresholdHours
	}

	r.LastUpdated = w.Now()
	applyClassification(r)
	return copyRow(*r), nil
}

// Rows returns a copy of every loaded row in upload order.
func (w *Workspace) Rows() []models.TrackingRow {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]models.TrackingRow, len(w.rows))
	for i, r := range w.rows {
		out[i] = copyRow(r)
	}
	return out
}

// Row returns a copy of the row at index.
func (w *Workspace) Row(index int) (models.TrackingRow, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if index < 0 || index >= len(w.rows) {
		return models.TrackingRow{}, fmt.Errorf("%w: %d", ErrRowNotFound, index)
	}
	return copyRow(w.rows[index]), nil
}

// Thresholds returns a snapshot of the threshold configuration.
func (w *Workspace) Thresholds() []TaskThreshold {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.thresholds.Snapshot()
}

// Columns returns the uploaded column order used for exports.
func (w *Workspace) Columns() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.columns...)
}

// LoadedAt reports when the current table was loaded; zero if nothing is loaded.
func (w *Workspace) LoadedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loadedAt
}

// Empty reports whether no table is loaded.
func (w *Workspace) Empty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows) == 0
}

func applyClassification(r *models.TrackingRow) {
	c := Classify(r.DelayHours, r.ThresholdHours)
	r.IsDelayed = c.IsDelayed
	r.Priority = c.Priority
}

func copyRow(r models.TrackingRow) models.TrackingRow {
	if r.DelayHours != nil {
		d := *r.DelayHours
		r.DelayHours = &d
	}
	extra := make(map[string]string, len(r.Extra))
	for k, v := range r.Extra {
		extra[k] = v
	}
	r.Extra = extra
	return r
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateFallbacks {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func isTypedColumn(h string) bool {
	switch h {
	case ColTask, ColDelay, ColName, ColNationality, ColType, ColStatus,
		ColAssignee, ColNotes, ColMoveInDate, ColPermitExpiry, ColPendingTasks:
		return true
	}
	return isDerivedColumn(h)
}

func isDerivedColumn(h string) bool {
	for _, d := range derivedColumns {
		if h == d {
			return true
		}
	}
	return false
}

// Cell renders one column of r the way exports and tables show it.
func Cell(r models.TrackingRow, col string) string {
	switch col {
	case ColTask:
		return r.Task
	case ColDelay:
		if r.DelayHours == nil {
			return ""
		}
		return strconv.FormatFloat(*r.DelayHours, 'f', -1, 64)
	case ColName:
		return r.Name
	case ColNationality:
		return r.Nationality
	case ColType:
		return r.Type
	case ColStatus:
		return r.Status
	case ColAssignee:
		return r.Assignee
	case ColNotes:
		return r.Notes
	case ColPendingTasks:
		return r.PendingTasks
	case ColMoveInDate:
		return formatTime(r.MoveInDate)
	case ColPermitExpiry:
		return formatTime(r.PermitExpiry)
	case ColThreshold:
		return strconv.FormatFloat(r.ThresholdHours, 'f', -1, 64)
	case ColIsDelayed:
		return strconv.FormatBool(r.IsDelayed)
	case ColPriority:
		return string(r.Priority)
	case ColLastUpdated:
		return r.LastUpdated.Format(timestampLayout)
	default:
		return r.Extra[col]
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timestampLayout)
}
