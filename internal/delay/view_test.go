package delay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/opsdesk/internal/models"
)

func viewRows() []models.TrackingRow {
	mk := func(task, nat, status, typ, assignee string, delay, threshold float64) models.TrackingRow {
		r := models.TrackingRow{
			Task: task, Nationality: nat, Status: status, Type: typ,
			Assignee: assignee, DelayHours: hours(delay), ThresholdHours: threshold,
		}
		applyClassification(&r)
		return r
	}
	return []models.TrackingRow{
		mk("A", "Filipina", "Active", "CC", models.Unassigned, 30, 24),
		mk("A", "Ethiopian", "Active", "MV", "Razan", 60, 24),
		mk("B", "Filipina", "On hold", "CC", models.Unassigned, 100, 48),
		mk("B", "Filipina", "Active", "CC", models.Unassigned, 10, 48), // not delayed
	}
}

func TestBuildView_NoFilter(t *testing.T) {
	v := BuildView(viewRows(), Filter{})

	require.Len(t, v.Rows, 3)
	assert.Equal(t, Summary{Total: 3, Critical: 2, Unassigned: 2}, v.Summary)

	assert.Equal(t, []ValueCount{
		{Value: "A", Count: 2, Share: 66.7},
		{Value: "B", Count: 1, Share: 33.3},
	}, v.Facets.Task)
	assert.Equal(t, []ValueCount{
		{Value: "Ethiopian", Count: 1, Share: 33.3},
		{Value: "Filipina", Count: 2, Share: 66.7},
	}, v.Facets.Nationality)
}

func TestBuildView_Filters(t *testing.T) {
	v := BuildView(viewRows(), Filter{Nationalities: []string{"Filipina"}, Types: []string{"CC"}})
	require.Len(t, v.Rows, 2)
	assert.Equal(t, Summary{Total: 2, Critical: 1, Unassigned: 2}, v.Summary)

	v = BuildView(viewRows(), Filter{Tasks: []string{"B"}, Statuses: []string{"On hold"}})
	require.Len(t, v.Rows, 1)
	assert.Equal(t, "B", v.Rows[0].Task)
	assert.Equal(t, []ValueCount{{Value: "On hold", Count: 1, Share: 100}}, v.Facets.Status)

	v = BuildView(viewRows(), Filter{Tasks: []string{"nope"}})
	assert.Empty(t, v.Rows)
	assert.Equal(t, Summary{}, v.Summary)
	assert.Nil(t, v.Facets.Task)
}

func TestBuildView_FacetCountsSortedByValue(t *testing.T) {
	rows := []models.TrackingRow{}
	for _, task := range []string{"B", "A", "A"} {
		r := models.TrackingRow{Task: task, DelayHours: hours(100), ThresholdHours: 24, Assignee: models.Unassigned}
		applyClassification(&r)
		rows = append(rows, r)
	}
	v := BuildView(rows, Filter{})
	require.Len(t, v.Facets.Task, 2)
	assert.Equal(t, "A", v.Facets.Task[0].Value)
	assert.Equal(t, 2, v.Facets.Task[0].Count)
	assert.Equal(t, "B", v.Facets.Task[1].Value)
	assert.Equal(t, 1, v.Facets.Task[1].Count)
}

func TestExportTable(t *testing.T) {
	w := newTestWorkspace(t)
	require.NoError(t, w.Load(sampleTable()))
	rows := w.Rows()

	all := ExportTable(rows, w.Columns(), false)
	assert.Contains(t, all.Header, ColNotes)
	assert.Contains(t, all.Header, ColPriority)
	assert.Equal(t, ColLastUpdated, all.Header[len(all.Header)-1])
	require.Len(t, all.Rows, 5)

	filtered := ExportTable(w.View(Filter{}).Rows, w.Columns(), true)
	for _, c := range []string{ColNotes, ColPriority, ColIsDelayed, ColLastUpdated, ColPermitExpiry, ColPendingTasks} {
		assert.NotContains(t, filtered.Header, c)
	}
	assert.Contains(t, filtered.Header, ColThreshold)
	require.Len(t, filtered.Rows, 3)

	taskCol := 0
	assert.Equal(t, ColTask, filtered.Header[taskCol])
	assert.Equal(t, "Repeat Medical", filtered.Rows[1][taskCol])
}

func TestCell(t *testing.T) {
	r := models.TrackingRow{Task: "A", DelayHours: hours(12.5), ThresholdHours: 24, Priority: models.PriorityLow,
		Extra: map[string]string{"Duration in The Task": "2 days"}}
	assert.Equal(t, "12.5", Cell(r, ColDelay))
	assert.Equal(t, "24", Cell(r, ColThreshold))
	assert.Equal(t, "false", Cell(r, ColIsDelayed))
	assert.Equal(t, "Low", Cell(r, ColPriority))
	assert.Equal(t, "2 days", Cell(r, "Duration in The Task"))
	assert.Equal(t, "", Cell(r, ColMoveInDate))

	r.DelayHours = nil
	assert.Equal(t, "", Cell(r, ColDelay))
}
