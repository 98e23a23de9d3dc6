package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "folibot/pkg/logx"
)

// Store is the persistence API used by the folio service, the deadline
// scheduler and the sweeper.
type Store interface {
	Insert(ctx context.Context, f Folio) error
	Get(ctx context.Context, folio string) (Folio, error)
	// UpdateStatus sets status and the receipt timestamp.
	UpdateStatus(ctx context.Context, folio string, status Status, at time.Time) error
	// Delete removes the folio. A missing folio is not an error.
	Delete(ctx context.Context, folio string) error
	// NextFolio returns prefix followed by the next sequence number. Numbers
	// are never reused, even after the folio holding them is deleted.
	NextFolio(ctx context.Context, prefix string, start int64) (string, error)
	// ListByStatus lists folios in status created before the cutoff, oldest
	// first. A zero cutoff lists all of them.
	ListByStatus(ctx context.Context, status Status, createdBefore time.Time) ([]Folio, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "memory":
		return openMemory(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
