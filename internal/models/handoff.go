package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrImmutable is returned when mutating a completed or archived handoff
var ErrImmutable = errors.New("handoff is completed or archived and cannot be modified")

// Status is the handoff lifecycle state
type Status string

const (
	StatusNotStarted     Status = "not_started"
	StatusInProgress     Status = "in_progress"
	StatusBlocked        Status = "blocked"
	StatusReadyForReview Status = "ready_for_review"
	StatusCompleted      Status = "completed"
)

// Phase describes the current activity type, orthogonal to status
type Phase string

const (
	PhaseResearch     Phase = "research"
	PhasePlanning     Phase = "planning"
	PhaseImplementing Phase = "implementing"
	PhaseReview       Phase = "review"
)

// Outcome classifies a tried step
type Outcome string

const (
	OutcomeFail    Outcome = "fail"
	OutcomePartial Outcome = "partial"
	OutcomeSuccess Outcome = "success"
)

// TriedStep is one entry in a handoff's append-only attempt log
type TriedStep struct {
	Outcome     Outcome
	Description string
}

// Handoff is a persisted in-progress work item
type Handoff struct {
	ID           string
	Title        string
	Description  string
	Files        []string
	Status       Status
	Phase        Phase
	Tried        []TriedStep
	Next         string
	Created      time.Time
	Updated      time.Time
	Sessions     []string // session ids that touched this handoff (back-references)
	Agent        string
	Archived     bool
	BlockedSince time.Time // zero unless status is blocked
	Extra        []MetaField
}

// NewHandoff creates a handoff in the initial state
func NewHandoff(id, title, description string, now time.Time) *Handoff {
	return &Handoff{
		ID:          id,
		Title:       title,
		Description: description,
		Status:      StatusNotStarted,
		Phase:       PhaseResearch,
		Created:     now,
		Updated:     now,
	}
}

// InvalidTransitionError names an illegal lifecycle change. The manager
// rejects these outright; it never coerces the request into something legal.
type InvalidTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("handoff %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// validTransitions is the lifecycle state machine. completed is terminal
// except for the one-way archive flag, which is handled separately.
var validTransitions = map[Status][]Status{
	StatusNotStarted:     {StatusInProgress},
	StatusInProgress:     {StatusBlocked, StatusReadyForReview, StatusCompleted},
	StatusBlocked:        {StatusInProgress},
	StatusReadyForReview: {StatusInProgress, StatusCompleted},
	StatusCompleted:      {},
}

// CanTransition reports whether from -> to is a legal lifecycle change
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition applies a status change, refreshing updated_at and the blocked
// clock. Archived handoffs reject every transition.
func (h *Handoff) Transition(to Status, now time.Time) error {
	if h.Archived {
		return &InvalidTransitionError{ID: h.ID, From: h.Status, To: to}
	}
	if !CanTransition(h.Status, to) {
		return &InvalidTransitionError{ID: h.ID, From: h.Status, To: to}
	}
	from := h.Status
	h.Status = to
	h.Updated = now
	switch {
	case to == StatusBlocked:
		h.BlockedSince = now
	case from == StatusBlocked:
		h.BlockedSince = time.Time{}
	}
	return nil
}

// ArchiveNow sets the archive flag. Only completed handoffs may be archived,
// and archival is one-way.
func (h *Handoff) ArchiveNow(now time.Time) error {
	if h.Archived || h.Status != StatusCompleted {
		return &InvalidTransitionError{ID: h.ID, From: h.Status, To: StatusCompleted}
	}
	h.Archived = true
	h.Updated = now
	return nil
}

// Mutable reports whether non-archival mutations are still allowed
func (h *Handoff) Mutable() bool {
	return !h.Archived && h.Status != StatusCompleted
}

// Touch refreshes updated_at after a metadata mutation
func (h *Handoff) Touch(now time.Time) {
	h.Updated = now
}

// LinkSession records a session back-reference if not already present
func (h *Handoff) LinkSession(sessionID string) bool {
	for _, s := range h.Sessions {
		if s == sessionID {
			return false
		}
	}
	h.Sessions = append(h.Sessions, sessionID)
	return true
}

// AgeDays returns fractional days since creation
func (h *Handoff) AgeDays(now time.Time) float64 {
	d := now.Sub(h.Created).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// DaysSinceUpdate returns fractional days since the last mutation
func (h *Handoff) DaysSinceUpdate(now time.Time) float64 {
	d := now.Sub(h.Updated).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// CycleDays returns whole days between creation and last update dates.
// Meaningful for completed handoffs, where updated_at is the completion time.
func (h *Handoff) CycleDays() int {
	cy, cm, cd := h.Created.Date()
	uy, um, ud := h.Updated.Date()
	created := time.Date(cy, cm, cd, 0, 0, 0, 0, time.UTC)
	updated := time.Date(uy, um, ud, 0, 0, 0, 0, time.UTC)
	return int(updated.Sub(created).Hours() / 24)
}

// ValidStatus reports whether s names a known status
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusNotStarted, StatusInProgress, StatusBlocked, StatusReadyForReview, StatusCompleted:
		return true
	}
	return false
}

// ValidPhase reports whether s names a known phase
func ValidPhase(s string) bool {
	switch Phase(s) {
	case PhaseResearch, PhasePlanning, PhaseImplementing, PhaseReview:
		return true
	}
	return false
}

// ValidOutcome reports whether s names a known tried-step outcome
func ValidOutcome(s string) bool {
	switch Outcome(s) {
	case OutcomeFail, OutcomePartial, OutcomeSuccess:
		return true
	}
	return false
}
