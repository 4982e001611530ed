package state

import (
	"fmt"
	"time"
)

type AssignmentStatus string

const (
	AssignmentPending  AssignmentStatus = "PENDING"
	AssignmentAccepted AssignmentStatus = "ACCEPTED"
	AssignmentDeclined AssignmentStatus = "DECLINED"
	AssignmentTimedOut AssignmentStatus = "TIMED_OUT"
)

func (s AssignmentStatus) Terminal() bool {
	switch s {
	case AssignmentAccepted, AssignmentDeclined, AssignmentTimedOut:
		return true
	}
	return false
}

// Assignment is one offer of a lead to one advisor. Only PENDING -> terminal moves are legal.
type Assignment struct {
	ID         string           `json:"id"`
	ClientID   string           `json:"client_id"`
	AdvisorID  string           `json:"advisor_id"`
	Epoch      int              `json:"epoch"`
	Status     AssignmentStatus `json:"status"`
	AskedAt    time.Time        `json:"asked_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
}

func NewAssignment(id, clientID, advisorID string, epoch int, now time.Time) *Assignment {
	return &Assignment{
		ID:        id,
		ClientID:  clientID,
		AdvisorID: advisorID,
		Epoch:     epoch,
		Status:    AssignmentPending,
		AskedAt:   now.UTC(),
	}
}

func (a *Assignment) Resolve(to AssignmentStatus, at time.Time) error {
	if !to.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	if a.Status != AssignmentPending {
		return fmt.Errorf("%w: id=%s status=%s", ErrAlreadyResolved, a.ID, a.Status)
	}
	resolved := at.UTC()
	a.Status = to
	a.ResolvedAt = &resolved
	return nil
}

// DueAt is when the assignment times out if still pending.
func (a *Assignment) DueAt(timeout time.Duration) time.Time {
	return a.AskedAt.Add(timeout)
}
