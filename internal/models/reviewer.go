package models

import "time"

// Reviewer is someone who reviews distributed work items.
// Possession of Token is the only credential needed to act as the reviewer.
type Reviewer struct {
	Token     string
	Name      string
	Email     string
	CreatedAt time.Time
}

// Assignment pairs a reviewer token with one work item.
type Assignment struct {
	Token      string
	Item       string
	AssignedAt time.Time
}

// Decision is the outcome a reviewer records for an item.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionAccept || d == DecisionReject
}

// ReviewDecision is one entry of the append-only decision log.
type ReviewDecision struct {
	Item      string
	Timestamp time.Time
	Reviewer  string // display name
	Decision  Decision
}
