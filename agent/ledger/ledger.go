package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
)

var (
	ErrAdvisorNotFound = errors.New("advisor not found")
	ErrOutboxNotFound  = errors.New("outbox message not found")
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is the durable side of dispatch: assignments, audit log, roster and outbox.
type Store interface {
	contractx.AssignmentStore
	contractx.AuditSink
	contractx.Directory
	contractx.Outbox

	ListAdvisors(ctx context.Context) ([]contractx.Advisor, error)
	// UpsertAdvisor inserts or updates an advisor. A negative position appends to the roster.
	UpsertAdvisor(ctx context.Context, adv contractx.Advisor, position int) error
	SetAdvisorActive(ctx context.Context, id string, active bool) error
	ListAudit(ctx context.Context, clientID string) ([]contractx.AuditEvent, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the ledger. sqlite goes through gorm, postgres through bun.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		return OpenSQLite(dsn)
	case DriverPostgres, "pg":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: unknown ledger driver %q", contractx.ErrValidation, driver)
	}
}

func defaultLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
