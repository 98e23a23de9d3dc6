package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	logx "folibot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const folioColumns = `folio, owner_id, marca, linea, anio, serie, motor, color, nombre,
	status, price, issued_at, expires_at, receipt_at, created_at, updated_at`

func (s *sqliteStore) Insert(ctx context.Context, f Folio) error {
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = f.CreatedAt
	}
	if f.Status == "" {
		f.Status = StatusPending
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO folios(`+folioColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(folio) DO NOTHING`,
		f.Folio, f.Owner, f.Marca, f.Linea, f.Anio, f.Serie, f.Motor, f.Color, f.Nombre,
		string(f.Status), f.Price, f.IssuedAt.UnixMilli(), f.ExpiresAt.UnixMilli(), nullMillis(f.ReceiptAt),
		f.CreatedAt.UnixMilli(), f.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, f.Folio)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFolio(r rowScanner) (Folio, error) {
	var f Folio
	var status string
	var issued, expires, created, updated int64
	var receipt sql.NullInt64
	err := r.Scan(&f.Folio, &f.Owner, &f.Marca, &f.Linea, &f.Anio, &f.Serie, &f.Motor, &f.Color, &f.Nombre,
		&status, &f.Price, &issued, &expires, &receipt, &created, &updated)
	if err != nil {
		return Folio{}, err
	}
	f.Status = Status(status)
	f.IssuedAt = time.UnixMilli(issued)
	f.ExpiresAt = time.UnixMilli(expires)
	f.CreatedAt = time.UnixMilli(created)
	f.UpdatedAt = time.UnixMilli(updated)
	if receipt.Valid {
		f.ReceiptAt = time.UnixMilli(receipt.Int64)
	}
	return f, nil
}

func (s *sqliteStore) Get(ctx context.Context, folio string) (Folio, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+folioColumns+` FROM folios WHERE folio = ?`, folio)
	f, err := scanFolio(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Folio{}, fmt.Errorf("%w: %s", ErrNotFound, folio)
	}
	return f, err
}

func (s *sqliteStore) UpdateStatus(ctx context.Context, folio string, status Status, at time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE folios SET status = ?, receipt_at = ?, updated_at = ? WHERE folio = ?`,
		string(status), nullMillis(at), time.Now().UnixMilli(), folio,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, folio)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, folio string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM folios WHERE folio = ?`, folio)
	return err
}

func (s *sqliteStore) NextFolio(ctx context.Context, prefix string, start int64) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	err = tx.QueryRowContext(ctx, `SELECT next FROM folio_seq WHERE prefix = ?`, prefix).Scan(&next)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First use of this prefix: continue after folios that already exist.
		next = start
		rows, err := tx.QueryContext(ctx, `SELECT folio FROM folios WHERE substr(folio, 1, ?) = ?`, len(prefix), prefix)
		if err != nil {
			return "", err
		}
		for rows.Next() {
			var f string
			if err := rows.Scan(&f); err != nil {
				rows.Close()
				return "", err
			}
			if n, ok := folioSuffix(f, prefix); ok && n >= next {
				next = n + 1
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO folio_seq(prefix, next) VALUES(?, ?)
		 ON CONFLICT(prefix) DO UPDATE SET next = excluded.next`,
		prefix, next+1,
	); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return prefix + strconv.FormatInt(next, 10), nil
}

func (s *sqliteStore) ListByStatus(ctx context.Context, status Status, createdBefore time.Time) ([]Folio, error) {
	q := `SELECT ` + folioColumns + ` FROM folios WHERE status = ?`
	args := []any{string(status)}
	if !createdBefore.IsZero() {
		q += ` AND created_at < ?`
		args = append(args, createdBefore.UnixMilli())
	}
	q += ` ORDER BY created_at, folio`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Folio
	for rows.Next() {
		f, err := scanFolio(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, action, folio, ok, detail) VALUES(?,?,?,?,?,?)`,
		e.At.UnixMilli(), e.ActorID, e.Action, e.Folio, ok, nullStr(e.Detail),
	)
	return err
}

// folioSuffix parses the decimal sequence number after prefix.
func folioSuffix(folio, prefix string) (int64, bool) {
	rest, ok := strings.CutPrefix(folio, prefix)
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func nullMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
