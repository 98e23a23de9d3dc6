package storage

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "folibot/pkg/logx"
)

// memoryStore keeps folios in process memory. With a Path the audit log is
// appended to <dir>/<base>.audit.jsonl so operator actions survive restarts
// even in dry runs.
type memoryStore struct {
	log logx.Logger

	mu     sync.Mutex
	folios map[string]Folio
	seq    map[string]int64
	audit  []AuditEntry

	auditFile *os.File
}

func openMemory(cfg Config, log logx.Logger) (Store, error) {
	st := &memoryStore{
		log:    log,
		folios: map[string]Folio{},
		seq:    map[string]int64{},
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return st, nil
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	af, err := os.OpenFile(filepath.Join(dir, base+".audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	st.auditFile = af
	return st, nil
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	st, _ := openMemory(Config{}, logx.Nop())
	return st
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *memoryStore) Insert(ctx context.Context, f Folio) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folios[f.Folio]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, f.Folio)
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = f.CreatedAt
	}
	if f.Status == "" {
		f.Status = StatusPending
	}
	s.folios[f.Folio] = f
	return nil
}

func (s *memoryStore) Get(ctx context.Context, folio string) (Folio, error) {
	if err := ctx.Err(); err != nil {
		return Folio{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folios[folio]
	if !ok {
		return Folio{}, fmt.Errorf("%w: %s", ErrNotFound, folio)
	}
	return f, nil
}

func (s *memoryStore) UpdateStatus(ctx context.Context, folio string, status Status, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folios[folio]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, folio)
	}
	f.Status = status
	f.ReceiptAt = at
	f.UpdatedAt = time.Now()
	s.folios[folio] = f
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, folio string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.folios, folio)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) NextFolio(ctx context.Context, prefix string, start int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := s.seq[prefix]
	if !ok {
		next = start
		for k := range s.folios {
			if n, ok := folioSuffix(k, prefix); ok && n >= next {
				next = n + 1
			}
		}
	}
	s.seq[prefix] = next + 1
	return prefix + strconv.FormatInt(next, 10), nil
}

func (s *memoryStore) ListByStatus(ctx context.Context, status Status, createdBefore time.Time) ([]Folio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	var out []Folio
	for _, f := range s.folios {
		if f.Status != status {
			continue
		}
		if !createdBefore.IsZero() && !f.CreatedAt.Before(createdBefore) {
			continue
		}
		out = append(out, f)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b Folio) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Folio, b.Folio))
	})
	return out, nil
}

func (s *memoryStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	if len(s.audit) > 1000 {
		s.audit = s.audit[len(s.audit)-1000:]
	}
	if s.auditFile == nil {
		return nil
	}
	if err := json.NewEncoder(s.auditFile).Encode(e); err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	return nil
}

// Audit returns the retained audit entries of a memory store, oldest first.
func Audit(st Store) []AuditEntry {
	m, ok := st.(*memoryStore)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.audit)
}
