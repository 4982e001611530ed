package state

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Session is the persisted source of truth for one client's lead conversation.
// Slots fill in order: name, purchase type, vehicle category, model, confirmation.
type Session struct {
	ClientID string `json:"client_id"`
	Contact  string `json:"contact,omitempty"`

	Name            string          `json:"name,omitempty"`
	PurchaseType    PurchaseType    `json:"purchase_type,omitempty"`
	VehicleCategory VehicleCategory `json:"vehicle_category,omitempty"`
	Model           string          `json:"model,omitempty"`
	Confirmed       bool            `json:"confirmed"`

	AssignedAdvisors  []string       `json:"assigned_advisors,omitempty"`
	CurrentAdvisor    string         `json:"current_advisor,omitempty"`
	DispatchStatus    DispatchStatus `json:"dispatch_status"`
	DispatchUpdatedAt time.Time      `json:"dispatch_updated_at,omitempty"`

	// FailedAttempts counts consecutive messages that resolved nothing.
	FailedAttempts int `json:"failed_attempts,omitempty"`
	// Epoch increments on every reset; assignments carry the epoch they were made in.
	Epoch int `json:"epoch"`
	// Version is the store revision this copy was read at.
	Version int64 `json:"version"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

type PurchaseType string

const (
	PurchaseNew  PurchaseType = "NEW"
	PurchaseUsed PurchaseType = "USED"
)

func (p PurchaseType) Valid() bool {
	return p == PurchaseNew || p == PurchaseUsed
}

type VehicleCategory string

const (
	CategorySedan   VehicleCategory = "SEDAN"
	CategorySUV     VehicleCategory = "SUV"
	CategoryCompact VehicleCategory = "COMPACT"
)

func (c VehicleCategory) Valid() bool {
	switch c {
	case CategorySedan, CategorySUV, CategoryCompact:
		return true
	}
	return false
}

type DispatchStatus string

const (
	DispatchNone      DispatchStatus = "NONE"
	DispatchPending   DispatchStatus = "PENDING"
	DispatchAccepted  DispatchStatus = "ACCEPTED"
	DispatchExhausted DispatchStatus = "EXHAUSTED"
)

func (d DispatchStatus) Valid() bool {
	switch d {
	case DispatchNone, DispatchPending, DispatchAccepted, DispatchExhausted:
		return true
	}
	return false
}

type Stage string

const (
	StageAwaitName         Stage = "AWAIT_NAME"
	StageAwaitPurchaseType Stage = "AWAIT_PURCHASE_TYPE"
	StageAwaitCategory     Stage = "AWAIT_CATEGORY"
	StageAwaitModel        Stage = "AWAIT_MODEL"
	StageAwaitConfirm      Stage = "AWAIT_CONFIRM"
	StageDispatched        Stage = "DISPATCHED"
)

var (
	ErrStateNotFound     = errors.New("session state not found")
	ErrNilSessionState   = errors.New("session state is nil")
	ErrInvalidSession    = errors.New("client id is empty")
	ErrVersionConflict   = errors.New("session version conflict")
	ErrSlotOrder         = errors.New("slot filled out of order")
	ErrInvalidSlot       = errors.New("invalid slot value")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyResolved   = errors.New("assignment already resolved")
	// ErrNoChange is returned by a Mutate callback to skip the write.
	ErrNoChange = errors.New("no change")
)

func NewSession(clientID string, now time.Time) *Session {
	return &Session{
		ClientID:       clientID,
		DispatchStatus: DispatchNone,
		CreatedAt:      now.UTC(),
		LastActivity:   now.UTC(),
	}
}

// Stage is derived from which slots are filled; it is never stored.
func (s *Session) Stage() Stage {
	switch {
	case s.Name == "":
		return StageAwaitName
	case s.PurchaseType == "":
		return StageAwaitPurchaseType
	case s.VehicleCategory == "":
		return StageAwaitCategory
	case s.Model == "":
		return StageAwaitModel
	case !s.Confirmed:
		return StageAwaitConfirm
	default:
		return StageDispatched
	}
}

func (s *Session) Touch(now time.Time) {
	s.LastActivity = now.UTC()
}

// Idle reports whether the last activity is at least window before now.
func (s *Session) Idle(now time.Time, window time.Duration) bool {
	if s.LastActivity.IsZero() || window <= 0 {
		return false
	}
	return now.Sub(s.LastActivity) >= window
}

// Reset clears every field except the client id and the store bookkeeping.
func (s *Session) Reset(now time.Time) {
	*s = Session{
		ClientID:       s.ClientID,
		DispatchStatus: DispatchNone,
		Epoch:          s.Epoch + 1,
		Version:        s.Version,
		CreatedAt:      s.CreatedAt,
		LastActivity:   now.UTC(),
	}
}

// ClearModel reopens AWAIT_MODEL after a rejected confirmation.
func (s *Session) ClearModel() {
	s.Model = ""
	s.Confirmed = false
}

func (s *Session) HasTried(advisorID string) bool {
	return slices.Contains(s.AssignedAdvisors, advisorID)
}

// MarkAsked records an offer to advisorID. Advisors are never asked twice per epoch.
func (s *Session) MarkAsked(advisorID string, now time.Time) error {
	if strings.TrimSpace(advisorID) == "" {
		return fmt.Errorf("%w: advisor id is empty", ErrInvalidSlot)
	}
	if s.HasTried(advisorID) {
		return fmt.Errorf("%w: advisor %s already asked", ErrInvalidTransition, advisorID)
	}
	s.AssignedAdvisors = append(s.AssignedAdvisors, advisorID)
	s.CurrentAdvisor = advisorID
	s.DispatchStatus = DispatchPending
	s.DispatchUpdatedAt = now.UTC()
	return nil
}

func (s *Session) SetDispatchStatus(status DispatchStatus, now time.Time) {
	s.DispatchStatus = status
	s.DispatchUpdatedAt = now.UTC()
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.AssignedAdvisors = slices.Clone(s.AssignedAdvisors)
	return &cp
}

func (s *Session) Validate() error {
	if s == nil {
		return ErrNilSessionState
	}
	if strings.TrimSpace(s.ClientID) == "" {
		return ErrInvalidSession
	}

	filled := []bool{s.Name != "", s.PurchaseType != "", s.VehicleCategory != "", s.Model != "", s.Confirmed}
	for i := 1; i < len(filled); i++ {
		if filled[i] && !filled[i-1] {
			return fmt.Errorf("%w: slot %d set before slot %d", ErrSlotOrder, i, i-1)
		}
	}

	if s.PurchaseType != "" && !s.PurchaseType.Valid() {
		return fmt.Errorf("%w: purchase_type=%q", ErrInvalidSlot, s.PurchaseType)
	}
	if s.VehicleCategory != "" && !s.VehicleCategory.Valid() {
		return fmt.Errorf("%w: vehicle_category=%q", ErrInvalidSlot, s.VehicleCategory)
	}
	if !s.DispatchStatus.Valid() {
		return fmt.Errorf("%w: dispatch_status=%q", ErrInvalidSlot, s.DispatchStatus)
	}
	if s.DispatchStatus != DispatchNone && !s.Confirmed {
		return fmt.Errorf("%w: dispatch_status=%s without confirmation", ErrSlotOrder, s.DispatchStatus)
	}

	seen := make(map[string]struct{}, len(s.AssignedAdvisors))
	for _, id := range s.AssignedAdvisors {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: advisor %s assigned twice", ErrInvalidTransition, id)
		}
		seen[id] = struct{}{}
	}
	if s.CurrentAdvisor != "" {
		if _, ok := seen[s.CurrentAdvisor]; !ok {
			return fmt.Errorf("%w: current advisor %s not in assigned list", ErrInvalidTransition, s.CurrentAdvisor)
		}
	}
	if s.DispatchStatus == DispatchPending && s.CurrentAdvisor == "" {
		return fmt.Errorf("%w: pending dispatch without current advisor", ErrInvalidTransition)
	}
	return nil
}
