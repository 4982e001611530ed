package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

type BunStore struct {
	db *bun.DB
}

var _ Store = (*BunStore)(nil)

func OpenPostgres(ctx context.Context, dsn string) (*BunStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres ledger needs a dsn", contractx.ErrValidation)
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: connect postgres: %w", err)
	}
	return NewBunStore(db), nil
}

func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{db: db}
}

func (s *BunStore) Migrate(ctx context.Context) error {
	for _, m := range allModels() {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("ledger: create table: %w", err)
		}
	}
	indexes := []struct {
		model  any
		name   string
		column string
	}{
		{(*AssignmentRecord)(nil), "assignments_client_id_idx", "client_id"},
		{(*AssignmentRecord)(nil), "assignments_status_asked_at_idx", "status, asked_at"},
		{(*AuditRecord)(nil), "audit_events_client_id_idx", "client_id"},
		{(*AdvisorRecord)(nil), "advisors_position_idx", "position"},
		{(*OutboxRecord)(nil), "outbox_created_at_idx", "created_at"},
	}
	for _, ix := range indexes {
		_, err := s.db.NewCreateIndex().Model(ix.model).Index(ix.name).ColumnExpr(ix.column).IfNotExists().Exec(ctx)
		if err != nil {
			return fmt.Errorf("ledger: create index %s: %w", ix.name, err)
		}
	}
	return nil
}

func (s *BunStore) Close() error {
	return s.db.Close()
}

func (s *BunStore) CreateAssignment(ctx context.Context, a *statex.Assignment) error {
	if a == nil || a.ID == "" || a.ClientID == "" || a.AdvisorID == "" {
		return fmt.Errorf("%w: assignment needs id, client and advisor", contractx.ErrValidation)
	}
	rec := assignmentRecord(a)
	if _, err := s.db.NewInsert().Model(&rec).Exec(ctx); err != nil {
		if integrityViolation(err) {
			return fmt.Errorf("%w: client=%s", contractx.ErrPendingAssignmentExists, a.ClientID)
		}
		return fmt.Errorf("ledger: create assignment: %w", err)
	}
	return nil
}

func (s *BunStore) GetAssignment(ctx context.Context, id string) (*statex.Assignment, error) {
	var rec AssignmentRecord
	err := s.db.NewSelect().Model(&rec).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id=%s", contractx.ErrAssignmentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get assignment: %w", err)
	}
	return rec.toAssignment(), nil
}

func (s *BunStore) PendingAssignment(ctx context.Context, clientID string) (*statex.Assignment, error) {
	var rec AssignmentRecord
	err := s.db.NewSelect().Model(&rec).
		Where("client_id = ?", clientID).
		Where("status = ?", string(statex.AssignmentPending)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no pending assignment for client=%s", contractx.ErrAssignmentNotFound, clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: pending assignment: %w", err)
	}
	return rec.toAssignment(), nil
}

func (s *BunStore) ResolveAssignment(ctx context.Context, id string, to statex.AssignmentStatus, at time.Time) error {
	if !to.Terminal() {
		return fmt.Errorf("%w: PENDING -> %s", statex.ErrInvalidTransition, to)
	}
	res, err := s.db.NewUpdate().Model((*AssignmentRecord)(nil)).
		Set("status = ?", string(to)).
		Set("resolved_at = ?", at.UTC()).
		Set("pending_key = NULL").
		Where("id = ?", id).
		Where("status = ?", string(statex.AssignmentPending)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ledger: resolve assignment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetAssignment(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: id=%s", contractx.ErrAssignmentResolved, id)
}

func (s *BunStore) ListAssignments(ctx context.Context, clientID string) ([]*statex.Assignment, error) {
	var recs []AssignmentRecord
	err := s.db.NewSelect().Model(&recs).Where("client_id = ?", clientID).Order("asked_at", "id").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list assignments: %w", err)
	}
	return toAssignments(recs), nil
}

func (s *BunStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*statex.Assignment, error) {
	var recs []AssignmentRecord
	err := s.db.NewSelect().Model(&recs).
		Where("status = ?", string(statex.AssignmentPending)).
		Where("asked_at <= ?", cutoff.UTC()).
		Order("asked_at", "id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list pending: %w", err)
	}
	return toAssignments(recs), nil
}

func (s *BunStore) Append(ctx context.Context, ev contractx.AuditEvent) error {
	rec := auditRecord(ev)
	if _, err := s.db.NewInsert().Model(&rec).Exec(ctx); err != nil {
		return fmt.Errorf("ledger: append audit: %w", err)
	}
	return nil
}

func (s *BunStore) ListAudit(ctx context.Context, clientID string) ([]contractx.AuditEvent, error) {
	var recs []AuditRecord
	if err := s.db.NewSelect().Model(&recs).Where("client_id = ?", clientID).Order("id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("ledger: list audit: %w", err)
	}
	out := make([]contractx.AuditEvent, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toEvent())
	}
	return out, nil
}

func (s *BunStore) ListActiveAdvisors(ctx context.Context) ([]contractx.Advisor, error) {
	return s.listAdvisors(ctx, true)
}

func (s *BunStore) ListAdvisors(ctx context.Context) ([]contractx.Advisor, error) {
	return s.listAdvisors(ctx, false)
}

func (s *BunStore) listAdvisors(ctx context.Context, activeOnly bool) ([]contractx.Advisor, error) {
	var recs []AdvisorRecord
	q := s.db.NewSelect().Model(&recs).Order("position", "id")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("%w: list advisors: %v", contractx.ErrCollaboratorUnavailable, err)
	}
	out := make([]contractx.Advisor, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toAdvisor())
	}
	return out, nil
}

func (s *BunStore) UpsertAdvisor(ctx context.Context, adv contractx.Advisor, position int) error {
	if adv.ID == "" || adv.Contact == "" {
		return fmt.Errorf("%w: advisor needs id and contact", contractx.ErrValidation)
	}
	if position < 0 {
		var existing AdvisorRecord
		err := s.db.NewSelect().Model(&existing).Where("id = ?", adv.ID).Limit(1).Scan(ctx)
		switch {
		case err == nil:
			position = existing.Position
		case errors.Is(err, sql.ErrNoRows):
			err = s.db.NewSelect().Model((*AdvisorRecord)(nil)).ColumnExpr("COALESCE(MAX(position), -1) + 1").Scan(ctx, &position)
			if err != nil {
				return fmt.Errorf("ledger: next advisor position: %w", err)
			}
		default:
			return fmt.Errorf("ledger: load advisor: %w", err)
		}
	}

	now := time.Now().UTC()
	rec := AdvisorRecord{
		ID:        adv.ID,
		Name:      adv.Name,
		Contact:   adv.Contact,
		Position:  position,
		Active:    adv.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.NewInsert().Model(&rec).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("contact = EXCLUDED.contact").
		Set("position = EXCLUDED.position").
		Set("active = EXCLUDED.active").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ledger: upsert advisor %q: %w", adv.ID, err)
	}
	return nil
}

func (s *BunStore) SetAdvisorActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.NewUpdate().Model((*AdvisorRecord)(nil)).
		Set("active = ?", active).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ledger: set advisor active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAdvisorNotFound, id)
	}
	return nil
}

func (s *BunStore) Enqueue(ctx context.Context, msg contractx.OutboundMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	rec := outboxRecord(msg)
	if _, err := s.db.NewInsert().Model(&rec).Exec(ctx); err != nil {
		return fmt.Errorf("ledger: enqueue: %w", err)
	}
	return nil
}

func (s *BunStore) PendingOutbox(ctx context.Context, limit int) ([]contractx.OutboundMessage, error) {
	var recs []OutboxRecord
	err := s.db.NewSelect().Model(&recs).
		Where("acked_at IS NULL").
		Order("created_at", "id").
		Limit(defaultLimit(limit)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: pending outbox: %w", err)
	}
	out := make([]contractx.OutboundMessage, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toMessage())
	}
	return out, nil
}

func (s *BunStore) AckOutbox(ctx context.Context, id string) error {
	res, err := s.db.NewUpdate().Model((*OutboxRecord)(nil)).
		Set("acked_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("acked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ledger: ack outbox: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	exists, err := s.db.NewSelect().Model((*OutboxRecord)(nil)).Where("id = ?", id).Exists(ctx)
	if err != nil {
		return fmt.Errorf("ledger: ack outbox: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrOutboxNotFound, id)
	}
	return nil
}

func integrityViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.IntegrityViolation()
}
