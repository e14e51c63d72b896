package models

import "time"

// Priority is the severity tier of a delayed tracking row.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// Unassigned is the assignee sentinel for rows nobody has picked up.
const Unassigned = "Unassigned"

// TrackingRow is one processing step instance from an uploaded tracking sheet.
type TrackingRow struct {
	Index          int
	Task           string
	DelayHours     *float64 // nil when absent or unparseable
	ThresholdHours float64
	IsDelayed      bool
	Priority       Priority
	Assignee       string
	Notes          string
	LastUpdated    time.Time

	Name         string
	Nationality  string
	Type         string
	Status       string
	PendingTasks string
	MoveInDate   *time.Time
	PermitExpiry *time.Time

	// Extra holds every uploaded column that has no typed field, keyed by header.
	Extra map[string]string
}

// Critical reports whether the row is more than twice over its threshold.
func (r *TrackingRow) Critical() bool {
	return r.DelayHours != nil && *r.DelayHours > r.ThresholdHours*2
}
