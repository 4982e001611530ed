package ledger

import (
	"time"

	"github.com/uptrace/bun"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

// AssignmentRecord is one offer of a lead to an advisor. PendingKey holds the client id while the
// row is PENDING and NULL afterwards; its unique index allows one open offer per client.
type AssignmentRecord struct {
	bun.BaseModel `bun:"table:assignments" gorm:"-"`

	ID         string     `bun:"id,pk" gorm:"primaryKey;size:36"`
	ClientID   string     `bun:"client_id,notnull" gorm:"size:128;not null;index"`
	AdvisorID  string     `bun:"advisor_id,notnull" gorm:"size:128;not null"`
	Epoch      int        `bun:"epoch,notnull" gorm:"not null"`
	Status     string     `bun:"status,notnull" gorm:"size:16;not null;index"`
	PendingKey *string    `bun:"pending_key,unique" gorm:"size:128;uniqueIndex"`
	AskedAt    time.Time  `bun:"asked_at,notnull" gorm:"not null;index"`
	ResolvedAt *time.Time `bun:"resolved_at"`
}

func (AssignmentRecord) TableName() string { return "assignments" }

type AuditRecord struct {
	bun.BaseModel `bun:"table:audit_events" gorm:"-"`

	ID           int64     `bun:"id,pk,autoincrement" gorm:"primaryKey;autoIncrement"`
	ClientID     string    `bun:"client_id,notnull" gorm:"size:128;not null;index"`
	AdvisorID    string    `bun:"advisor_id" gorm:"size:128"`
	AssignmentID string    `bun:"assignment_id" gorm:"size:36"`
	Kind         string    `bun:"kind,notnull" gorm:"size:48;not null;index"`
	Detail       string    `bun:"detail" gorm:"type:text"`
	At           time.Time `bun:"at,notnull" gorm:"not null"`
}

func (AuditRecord) TableName() string { return "audit_events" }

// AdvisorRecord is a roster entry. Dispatch walks active advisors by Position.
type AdvisorRecord struct {
	bun.BaseModel `bun:"table:advisors" gorm:"-"`

	ID        string    `bun:"id,pk" gorm:"primaryKey;size:128"`
	Name      string    `bun:"name" gorm:"size:128"`
	Contact   string    `bun:"contact,notnull" gorm:"size:256;not null"`
	Position  int       `bun:"position,notnull" gorm:"not null;index"`
	Active    bool      `bun:"active,notnull" gorm:"not null"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (AdvisorRecord) TableName() string { return "advisors" }

type OutboxRecord struct {
	bun.BaseModel `bun:"table:outbox" gorm:"-"`

	ID            string     `bun:"id,pk" gorm:"primaryKey;size:36"`
	RecipientKind string     `bun:"recipient_kind,notnull" gorm:"size:16;not null"`
	Recipient     string     `bun:"recipient,notnull" gorm:"size:256;not null"`
	Text          string     `bun:"text,notnull" gorm:"type:text;not null"`
	CreatedAt     time.Time  `bun:"created_at,notnull" gorm:"not null;index"`
	AckedAt       *time.Time `bun:"acked_at" gorm:"index"`
}

func (OutboxRecord) TableName() string { return "outbox" }

func allModels() []any {
	return []any{
		&AssignmentRecord{},
		&AuditRecord{},
		&AdvisorRecord{},
		&OutboxRecord{},
	}
}

func assignmentRecord(a *statex.Assignment) AssignmentRecord {
	rec := AssignmentRecord{
		ID:        a.ID,
		ClientID:  a.ClientID,
		AdvisorID: a.AdvisorID,
		Epoch:     a.Epoch,
		Status:    string(a.Status),
		AskedAt:   a.AskedAt.UTC(),
	}
	if a.Status == statex.AssignmentPending {
		key := a.ClientID
		rec.PendingKey = &key
	}
	if a.ResolvedAt != nil {
		at := a.ResolvedAt.UTC()
		rec.ResolvedAt = &at
	}
	return rec
}

func (r AssignmentRecord) toAssignment() *statex.Assignment {
	a := &statex.Assignment{
		ID:        r.ID,
		ClientID:  r.ClientID,
		AdvisorID: r.AdvisorID,
		Epoch:     r.Epoch,
		Status:    statex.AssignmentStatus(r.Status),
		AskedAt:   r.AskedAt.UTC(),
	}
	if r.ResolvedAt != nil {
		at := r.ResolvedAt.UTC()
		a.ResolvedAt = &at
	}
	return a
}

func auditRecord(ev contractx.AuditEvent) AuditRecord {
	return AuditRecord{
		ClientID:     ev.ClientID,
		AdvisorID:    ev.AdvisorID,
		AssignmentID: ev.AssignmentID,
		Kind:         string(ev.Kind),
		Detail:       ev.Detail,
		At:           ev.At.UTC(),
	}
}

func (r AuditRecord) toEvent() contractx.AuditEvent {
	return contractx.AuditEvent{
		ClientID:     r.ClientID,
		AdvisorID:    r.AdvisorID,
		AssignmentID: r.AssignmentID,
		Kind:         contractx.AuditKind(r.Kind),
		Detail:       r.Detail,
		At:           r.At.UTC(),
	}
}

func (r AdvisorRecord) toAdvisor() contractx.Advisor {
	return contractx.Advisor{ID: r.ID, Name: r.Name, Contact: r.Contact, Active: r.Active}
}

func outboxRecord(m contractx.OutboundMessage) OutboxRecord {
	return OutboxRecord{
		ID:            m.ID,
		RecipientKind: string(m.RecipientKind),
		Recipient:     m.Recipient,
		Text:          m.Text,
		CreatedAt:     m.CreatedAt.UTC(),
	}
}

func (r OutboxRecord) toMessage() contractx.OutboundMessage {
	return contractx.OutboundMessage{
		ID:            r.ID,
		RecipientKind: contractx.RecipientKind(r.RecipientKind),
		Recipient:     r.Recipient,
		Text:          r.Text,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}
