package delay

import (
	"math"
	"sort"

	"github.com/joescharf/opsdesk/internal/models"
	"github.com/joescharf/opsdesk/internal/sheet"
)

// Filter restricts a view. A nil or empty set places no constraint on its column.
type Filter struct {
	Tasks         []string `json:"tasks,omitempty"`
	Nationalities []string `json:"nationalities,omitempty"`
	Statuses      []string `json:"statuses,omitempty"`
	Types         []string `json:"types,omitempty"`
}

// Summary holds the headline counts of a view.
type Summary struct {
	Total      int `json:"total"`
	Critical   int `json:"critical"`
	Unassigned int `json:"unassigned"`
}

// ValueCount is one distinct column value and how often it occurs.
// Share is its percentage of the view, rounded to one decimal.
type ValueCount struct {
	Value string  `json:"value"`
	Count int     `json:"count"`
	Share float64 `json:"share"`
}

// Facets are the per-column value distributions of a view.
type Facets struct {
	Task        []ValueCount `json:"task"`
	Nationality []ValueCount `json:"nationality"`
	Status      []ValueCount `json:"status"`
	Type        []ValueCount `json:"type"`
}

// View is the delayed subset of a table that matches a filter.
type View struct {
	Rows    []models.TrackingRow `json:"rows"`
	Summary Summary              `json:"summary"`
	Facets  Facets               `json:"facets"`
}

// BuildView selects delayed rows matching f and aggregates them.
func BuildView(rows []models.TrackingRow, f Filter) View {
	tasks := toSet(f.Tasks)
	nats := toSet(f.Nationalities)
	statuses := toSet(f.Statuses)
	types := toSet(f.Types)

	var v View
	for _, r := range rows {
		if !r.IsDelayed {
			continue
		}
		if !member(tasks, r.Task) || !member(nats, r.Nationality) ||
			!member(statuses, r.Status) || !member(types, r.Type) {
			continue
		}
		v.Rows = append(v.Rows, r)
		if r.Critical() {
			v.Summary.Critical++
		}
		if r.Assignee == models.Unassigned {
			v.Summary.Unassigned++
		}
	}
	v.Summary.Total = len(v.Rows)

	v.Facets = Facets{
		Task:        countValues(v.Rows, func(r models.TrackingRow) string { return r.Task }),
		Nationality: countValues(v.Rows, func(r models.TrackingRow) string { return r.Nationality }),
		Status:      countValues(v.Rows, func(r models.TrackingRow) string { return r.Status }),
		Type:        countValues(v.Rows, func(r models.TrackingRow) string { return r.Type }),
	}
	return v
}

// View filters and aggregates the current working table.
func (w *Workspace) View(f Filter) View {
	return BuildView(w.Rows(), f)
}

func toSet(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	s := make(map[string]bool, len(vals))
	for _, v := range vals {
		s[v] = true
	}
	return s
}

func member(set map[string]bool, v string) bool {
	return set == nil || set[v]
}

func countValues(rows []models.TrackingRow, key func(models.TrackingRow) string) []ValueCount {
	if len(rows) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, r := range rows {
		counts[key(r)]++
	}
	out := make([]ValueCount, 0, len(counts))
	for val, n := range counts {
		share := math.Round(float64(n)/float64(len(rows))*1000) / 10
		out = append(out, ValueCount{Value: val, Count: n, Share: share})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

// Columns dropped from the filtered "download table" export.
var filteredExportExclusions = map[string]bool{
	ColPendingTasks: true,
	ColPermitExpiry: true,
	ColNotes:        true,
	ColPriority:     true,
	ColIsDelayed:    true,
	ColLastUpdated:  true,
}

// ExportTable renders rows under columns plus the derived columns.
// When filtered is true the working-only columns are left out.
func ExportTable(rows []models.TrackingRow, columns []string, filtered bool) sheet.Table {
	var header []string
	for _, c := range append(append([]string(nil), columns...), derivedColumns...) {
		if filtered && filteredExportExclusions[c] {
			continue
		}
		header = append(header, c)
	}

	t := sheet.Table{Header: header}
	for _, r := range rows {
		rec := make([]string, len(header))
		for i, c := range header {
			rec[i] = Cell(r, c)
		}
		t.Rows = append(t.Rows, rec)
	}
	return t
}
