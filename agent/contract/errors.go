package contract

import (
	"errors"

	promptx "github.com/tanpawarit/chative-lead-dispatch/agent/prompt"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrPromptMissing   = promptx.ErrPromptMissing
	ErrValidation      = errors.New("validation failed")
	ErrInvalidDecision = errors.New("advisor decision must be accept or decline")

	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrRosterExhausted         = errors.New("advisor roster exhausted")
	ErrInvariantViolation      = errors.New("invariant violation")

	ErrAssignmentNotFound      = errors.New("assignment not found")
	ErrPendingAssignmentExists = errors.New("client already has a pending assignment")
	ErrAssignmentResolved      = statex.ErrAlreadyResolved
)
