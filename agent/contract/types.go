package contract

import (
	"fmt"
	"strings"
	"time"

	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

type InboundMessage struct {
	ClientID string `json:"client_id"`
	Text     string `json:"text"`
}

type Reply struct {
	Text         string   `json:"reply"`
	QuickReplies []string `json:"quick_replies"`
}

type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
)

// ParseDecision accepts the canonical values plus the yes/no words advisors type in chat.
func ParseDecision(raw string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "accept", "accepted", "yes", "si", "sí", "ok":
		return DecisionAccept, nil
	case "decline", "declined", "no":
		return DecisionDecline, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, raw)
	}
}

type AdvisorReply struct {
	ClientID  string   `json:"client_id"`
	AdvisorID string   `json:"advisor_id"`
	Decision  Decision `json:"decision"`
}

type AckStatus string

const (
	AckApplied AckStatus = "applied"
	AckIgnored AckStatus = "ignored"
)

type Ack struct {
	Status       AckStatus `json:"status"`
	AssignmentID string    `json:"assignment_id,omitempty"`
	Detail       string    `json:"detail,omitempty"`
}

type Advisor struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Contact string `json:"contact"`
	Active  bool   `json:"active"`
}

type EventKind string

const (
	EventAccepted EventKind = "accepted"
	EventDeclined EventKind = "declined"
	EventTimedOut EventKind = "timed_out"
)

// DispatchEvent is the single input type of the dispatch state machine;
// advisor replies and timer expiries both arrive as one.
type DispatchEvent struct {
	Kind         EventKind `json:"kind"`
	ClientID     string    `json:"client_id"`
	AdvisorID    string    `json:"advisor_id"`
	AssignmentID string    `json:"assignment_id,omitempty"`
	At           time.Time `json:"at"`
}

func EventFromReply(r AdvisorReply, at time.Time) DispatchEvent {
	kind := EventDeclined
	if r.Decision == DecisionAccept {
		kind = EventAccepted
	}
	return DispatchEvent{Kind: kind, ClientID: r.ClientID, AdvisorID: r.AdvisorID, At: at}
}

type AuditKind string

const (
	AuditAsked               AuditKind = "dispatch.asked"
	AuditAccepted            AuditKind = "dispatch.accepted"
	AuditDeclined            AuditKind = "dispatch.declined"
	AuditTimedOut            AuditKind = "dispatch.timed_out"
	AuditExhausted           AuditKind = "dispatch.exhausted"
	AuditRoundRestarted      AuditKind = "dispatch.round_restarted"
	AuditCancelled           AuditKind = "dispatch.cancelled"
	AuditDuplicateTransition AuditKind = "dispatch.duplicate_transition"
	AuditInvariantViolation  AuditKind = "invariant.violation"
	AuditSessionReset        AuditKind = "session.reset"
)

type AuditEvent struct {
	ClientID     string    `json:"client_id"`
	AdvisorID    string    `json:"advisor_id,omitempty"`
	AssignmentID string    `json:"assignment_id,omitempty"`
	Kind         AuditKind `json:"kind"`
	Detail       string    `json:"detail,omitempty"`
	At           time.Time `json:"at"`
}

// Lead is the customer-facing summary handed to advisors.
type Lead struct {
	ClientID     string                 `json:"client_id"`
	Name         string                 `json:"name"`
	Contact      string                 `json:"contact,omitempty"`
	PurchaseType statex.PurchaseType    `json:"purchase_type"`
	Category     statex.VehicleCategory `json:"vehicle_category"`
	Model        string                 `json:"model"`
}

func LeadFromSession(st *statex.Session) Lead {
	return Lead{
		ClientID:     st.ClientID,
		Name:         st.Name,
		Contact:      st.Contact,
		PurchaseType: st.PurchaseType,
		Category:     st.VehicleCategory,
		Model:        st.Model,
	}
}

// Offer is a lead offered to one advisor; Text is the rendered offer message.
type Offer struct {
	AssignmentID string `json:"assignment_id"`
	Lead         Lead   `json:"lead"`
	Text         string `json:"text"`
}

type RecipientKind string

const (
	RecipientCustomer RecipientKind = "customer"
	RecipientAdvisor  RecipientKind = "advisor"
)

// OutboundMessage is an asynchronous message waiting for the transport collaborator.
type OutboundMessage struct {
	ID            string        `json:"id"`
	RecipientKind RecipientKind `json:"recipient_kind"`
	Recipient     string        `json:"recipient"`
	Text          string        `json:"text"`
	CreatedAt     time.Time     `json:"created_at"`
}

// GenerationContext is what the generative fallback may know about the conversation.
type GenerationContext struct {
	ClientID string       `json:"client_id"`
	Stage    statex.Stage `json:"stage"`
	Lead     Lead         `json:"lead"`
}
