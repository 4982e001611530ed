package orchestratornode

import (
	"errors"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	dialoguex "github.com/tanpawarit/chative-lead-dispatch/agent/dialogue"
	extractx "github.com/tanpawarit/chative-lead-dispatch/agent/extract"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidClient  = errors.New("client id is empty")
)

const maxMessageLength = 2000

type GraphInput struct {
	ClientID string
	Text     string
}

type GraphOutput struct {
	Reply contractx.Reply
	Stage statex.Stage
}

type GraphState struct {
	ClientID string
	Text     string
	Now      time.Time

	// Session is the persisted session after this turn (before that, the loaded one).
	Session *statex.Session
	// PrevEpoch is the epoch the turn started from; a reset cancels its pending offer.
	PrevEpoch int
	IdleReset bool

	Snapshot extractx.Snapshot
	Update   extractx.Update
	Decision dialoguex.Decision
	Reply    contractx.Reply
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	clientID := strings.TrimSpace(in.ClientID)
	if clientID == "" {
		return nil, ErrInvalidClient
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}
	if r := []rune(text); len(r) > maxMessageLength {
		text = string(r[:maxMessageLength])
	}

	return &GraphState{
		ClientID: clientID,
		Text:     text,
		Now:      nowFn().UTC(),
	}, nil
}
