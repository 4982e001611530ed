package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// OpenSQLite opens an embedded ledger. SQLite serialises writers, so the pool keeps one connection.
func OpenSQLite(dsn string) (*GormStore, error) {
	if dsn == "" {
		dsn = "file:lead-dispatch.db?_busy_timeout=5000"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("ledger: sqlite pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return NewGormStore(db), nil
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("ledger: auto-migrate: %w", err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) CreateAssignment(ctx context.Context, a *statex.Assignment) error {
	if a == nil || a.ID == "" || a.ClientID == "" || a.AdvisorID == "" {
		return fmt.Errorf("%w: assignment needs id, client and advisor", contractx.ErrValidation)
	}
	rec := assignmentRecord(a)
	err := s.db.WithContext(ctx).Create(&rec).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: client=%s", contractx.ErrPendingAssignmentExists, a.ClientID)
	}
	if err != nil {
		return fmt.Errorf("ledger: create assignment: %w", err)
	}
	return nil
}

func (s *GormStore) GetAssignment(ctx context.Context, id string) (*statex.Assignment, error) {
	var rec AssignmentRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id=%s", contractx.ErrAssignmentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get assignment: %w", err)
	}
	return rec.toAssignment(), nil
}

func (s *GormStore) PendingAssignment(ctx context.Context, clientID string) (*statex.Assignment, error) {
	var rec AssignmentRecord
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND status = ?", clientID, string(statex.AssignmentPending)).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no pending assignment for client=%s", contractx.ErrAssignmentNotFound, clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: pending assignment: %w", err)
	}
	return rec.toAssignment(), nil
}

// ResolveAssignment is a conditional update: only a PENDING row moves.
func (s *GormStore) ResolveAssignment(ctx context.Context, id string, to statex.AssignmentStatus, at time.Time) error {
	if !to.Terminal() {
		return fmt.Errorf("%w: PENDING -> %s", statex.ErrInvalidTransition, to)
	}
	res := s.db.WithContext(ctx).Model(&AssignmentRecord{}).
		Where("id = ? AND status = ?", id, string(statex.AssignmentPending)).
		Updates(map[string]any{
			"status":      string(to),
			"resolved_at": at.UTC(),
			"pending_key": gorm.Expr("NULL"),
		})
	if res.Error != nil {
		return fmt.Errorf("ledger: resolve assignment: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.GetAssignment(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: id=%s", contractx.ErrAssignmentResolved, id)
}

func (s *GormStore) ListAssignments(ctx context.Context, clientID string) ([]*statex.Assignment, error) {
	var recs []AssignmentRecord
	if err := s.db.WithContext(ctx).Where("client_id = ?", clientID).Order("asked_at, id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("ledger: list assignments: %w", err)
	}
	return toAssignments(recs), nil
}

func (s *GormStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*statex.Assignment, error) {
	var recs []AssignmentRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND asked_at <= ?", string(statex.AssignmentPending), cutoff.UTC()).
		Order("asked_at, id").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: list pending: %w", err)
	}
	return toAssignments(recs), nil
}

func (s *GormStore) Append(ctx context.Context, ev contractx.AuditEvent) error {
	rec := auditRecord(ev)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("ledger: append audit: %w", err)
	}
	return nil
}

func (s *GormStore) ListAudit(ctx context.Context, clientID string) ([]contractx.AuditEvent, error) {
	var recs []AuditRecord
	if err := s.db.WithContext(ctx).Where("client_id = ?", clientID).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("ledger: list audit: %w", err)
	}
	out := make([]contractx.AuditEvent, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toEvent())
	}
	return out, nil
}

func (s *GormStore) ListActiveAdvisors(ctx context.Context) ([]contractx.Advisor, error) {
	return s.listAdvisors(ctx, true)
}

func (s *GormStore) ListAdvisors(ctx context.Context) ([]contractx.Advisor, error) {
	return s.listAdvisors(ctx, false)
}

func (s *GormStore) listAdvisors(ctx context.Context, activeOnly bool) ([]contractx.Advisor, error) {
	q := s.db.WithContext(ctx).Order("position, id")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var recs []AdvisorRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("%w: list advisors: %v", contractx.ErrCollaboratorUnavailable, err)
	}
	out := make([]contractx.Advisor, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toAdvisor())
	}
	return out, nil
}

func (s *GormStore) UpsertAdvisor(ctx context.Context, adv contractx.Advisor, position int) error {
	if adv.ID == "" || adv.Contact == "" {
		return fmt.Errorf("%w: advisor needs id and contact", contractx.ErrValidation)
	}
	db := s.db.WithContext(ctx)
	if position < 0 {
		var existing AdvisorRecord
		err := db.Where("id = ?", adv.ID).First(&existing).Error
		switch {
		case err == nil:
			position = existing.Position
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := db.Model(&AdvisorRecord{}).Select("COALESCE(MAX(position), -1) + 1").Scan(&position).Error; err != nil {
				return fmt.Errorf("ledger: next advisor position: %w", err)
			}
		default:
			return fmt.Errorf("ledger: load advisor: %w", err)
		}
	}

	rec := AdvisorRecord{
		ID:       adv.ID,
		Name:     adv.Name,
		Contact:  adv.Contact,
		Position: position,
		Active:   adv.Active,
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "contact", "position", "active", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("ledger: upsert advisor %q: %w", adv.ID, err)
	}
	return nil
}

func (s *GormStore) SetAdvisorActive(ctx context.Context, id string, active bool) error {
	res := s.db.WithContext(ctx).Model(&AdvisorRecord{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("ledger: set advisor active: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrAdvisorNotFound, id)
	}
	return nil
}

func (s *GormStore) Enqueue(ctx context.Context, msg contractx.OutboundMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	rec := outboxRecord(msg)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("ledger: enqueue: %w", err)
	}
	return nil
}

func (s *GormStore) PendingOutbox(ctx context.Context, limit int) ([]contractx.OutboundMessage, error) {
	var recs []OutboxRecord
	err := s.db.WithContext(ctx).
		Where("acked_at IS NULL").
		Order("created_at, id").
		Limit(defaultLimit(limit)).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: pending outbox: %w", err)
	}
	out := make([]contractx.OutboundMessage, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toMessage())
	}
	return out, nil
}

// AckOutbox marks a message delivered. Acking twice is not an error.
func (s *GormStore) AckOutbox(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&OutboxRecord{}).
		Where("id = ? AND acked_at IS NULL", id).
		Update("acked_at", time.Now().UTC())
	if res.Error != nil {
		return fmt.Errorf("ledger: ack outbox: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&OutboxRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("ledger: ack outbox: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrOutboxNotFound, id)
	}
	return nil
}

func toAssignments(recs []AssignmentRecord) []*statex.Assignment {
	out := make([]*statex.Assignment, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toAssignment())
	}
	return out
}
