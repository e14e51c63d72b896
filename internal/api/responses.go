package api

import (
	"time"

	"github.com/joescharf/opsdesk/internal/delay"
	"github.com/joescharf/opsdesk/internal/distribute"
	"github.com/joescharf/opsdesk/internal/models"
)

type rowOut struct {
	Index          int               `json:"index"`
	Task           string            `json:"task"`
	DelayHours     *float64          `json:"delay_hours"`
	ThresholdHours float64           `json:"threshold_hours"`
	IsDelayed      bool              `json:"is_delayed"`
	Priority       models.Priority   `json:"priority"`
	Assignee       string            `json:"assignee"`
	Notes          string            `json:"notes"`
	LastUpdated    *time.Time        `json:"last_updated,omitempty"`
	Name           string            `json:"name"`
	Nationality    string            `json:"nationality"`
	Type           string            `json:"type"`
	Status         string            `json:"status"`
	PendingTasks   string            `json:"pending_tasks"`
	MoveInDate     *time.Time        `json:"move_in_date,omitempty"`
	PermitExpiry   *time.Time        `json:"permit_expiry,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

func newRowOut(r models.TrackingRow) rowOut {
	out := rowOut{
		Index:          r.Index,
		Task:           r.Task,
		DelayHours:     r.DelayHours,
		ThresholdHours: r.ThresholdHours,
		IsDelayed:      r.IsDelayed,
		Priority:       r.Priority,
		Assignee:       r.Assignee,
		Notes:          r.Notes,
		Name:           r.Name,
		Nationality:    r.Nationality,
		Type:           r.Type,
		Status:         r.Status,
		PendingTasks:   r.PendingTasks,
		MoveInDate:     r.MoveInDate,
		PermitExpiry:   r.PermitExpiry,
		Extra:          r.Extra,
	}
	if !r.LastUpdated.IsZero() {
		t := r.LastUpdated
		out.LastUpdated = &t
	}
	return out
}

type viewOut struct {
	Rows    []rowOut      `json:"rows"`
	Summary delay.Summary `json:"summary"`
	Facets  delay.Facets  `json:"facets"`
}

func newViewOut(v delay.View) viewOut {
	rows := make([]rowOut, 0, len(v.Rows))
	for _, r := range v.Rows {
		rows = append(rows, newRowOut(r))
	}
	return viewOut{Rows: rows, Summary: v.Summary, Facets: v.Facets}
}

type reviewerOut struct {
	Token     string    `json:"token"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func newReviewerOut(r models.Reviewer) reviewerOut {
	return reviewerOut{Token: r.Token, Name: r.Name, Email: r.Email, CreatedAt: r.CreatedAt}
}

type assignmentOut struct {
	Token      string    `json:"token"`
	Item       string    `json:"item"`
	AssignedAt time.Time `json:"assigned_at"`
}

type runOut struct {
	Assignments []assignmentOut            `json:"assignments"`
	Counts      []distribute.ReviewerCount `json:"counts"`
	Skipped     []string                   `json:"skipped,omitempty"`
}

func newRunOut(run distribute.Run) runOut {
	out := runOut{
		Assignments: make([]assignmentOut, 0, len(run.Assignments)),
		Counts:      run.Counts,
		Skipped:     run.Skipped,
	}
	for _, a := range run.Assignments {
		out.Assignments = append(out.Assignments, assignmentOut{Token: a.Token, Item: a.Item, AssignedAt: a.AssignedAt})
	}
	return out
}

type reviewResponse struct {
	Reviewer reviewerOut `json:"reviewer"`
	Assigned []string    `json:"assigned"`
	Reviewed []string    `json:"reviewed"`
	Pending  []string    `json:"pending"`
	Current  string      `json:"current"`
	Progress float64     `json:"progress"`
	Status   string      `json:"status"`
	Done     bool        `json:"done"`
	Recorded *bool       `json:"recorded,omitempty"`
}

func newReviewResponse(q distribute.Queue) reviewResponse {
	return reviewResponse{
		Reviewer: newReviewerOut(q.Reviewer),
		Assigned: q.Assigned,
		Reviewed: q.Reviewed,
		Pending:  q.Pending,
		Current:  q.Current,
		Progress: q.Progress,
		Status:   q.Status(),
		Done:     q.Done(),
	}
}
