// Package memstore is an in-memory repository.Store. It gives the same
// atomicity guarantees as the Postgres store: writes are staged on copies and
// published together when the unit of work commits.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pesio-ai/be-customs-aforo/internal/repository"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
)

// Store holds cases, audit entries and worksheets in memory.
type Store struct {
	mu         sync.RWMutex
	cases      map[string]*repository.CaseRecord
	audit      map[string][]*repository.AuditEntry
	worksheets map[string]*repository.Worksheet
	seq        int64
	failNext   []error
	commits    int
}

var (
	_ repository.Store           = (*Store)(nil)
	_ repository.WorksheetReader = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		cases:      make(map[string]*repository.CaseRecord),
		audit:      make(map[string][]*repository.AuditEntry),
		worksheets: make(map[string]*repository.Worksheet),
	}
}

// FailNextCommit makes the next unit of work fail at commit time with err.
// Calls queue up, one error per commit.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, err)
}

// Commits returns how many units of work have committed.
func (s *Store) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// Seed inserts a case directly, bypassing the audit trail.
func (s *Store) Seed(rec *repository.CaseRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := rec.Clone()
	cp.NE = repository.NormalizeNE(cp.NE)
	s.cases[cp.NE] = cp
}

// PutWorksheet stores the worksheet paired with a case.
func (s *Store) PutWorksheet(ws *repository.Worksheet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ws
	cp.NE = repository.NormalizeNE(ws.NE)
	s.worksheets[cp.NE] = &cp
}

// GetByNE implements repository.CaseStore.
func (s *Store) GetByNE(_ context.Context, ne string) (*repository.CaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.cases[repository.NormalizeNE(ne)]
	if !ok {
		return nil, errors.NotFound("case", ne)
	}
	return rec.Clone(), nil
}

// List implements repository.CaseStore. Ordering matches the Postgres store.
func (s *Store) List(_ context.Context, filter repository.CaseFilter) ([]*repository.CaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*repository.CaseRecord, 0)
	for _, rec := range s.cases {
		if filter.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].NE < out[j].NE
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*repository.CaseRecord{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListByNE implements repository.AuditLog.
func (s *Store) ListByNE(_ context.Context, ne string) ([]*repository.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.audit[repository.NormalizeNE(ne)]
	out := make([]*repository.AuditEntry, len(entries))
	for i, e := range entries {
		cp := *e
		out[i] = &cp
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

// GetWorksheet implements repository.WorksheetReader.
func (s *Store) GetWorksheet(_ context.Context, ne string) (*repository.Worksheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.worksheets[repository.NormalizeNE(ne)]
	if !ok {
		return nil, errors.NotFound("worksheet", ne)
	}
	cp := *ws
	return &cp, nil
}

// InTransaction implements repository.UnitOfWork. The store lock is held for
// the whole unit, so units are serialised.
func (s *Store) InTransaction(ctx context.Context, fn func(tx repository.CaseTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return errors.Unavailable(err, "transaction aborted")
	}

	tx := &memTx{store: s, staged: make(map[string]*repository.CaseRecord)}
	if err := fn(tx); err != nil {
		return err
	}

	if len(s.failNext) > 0 {
		err := s.failNext[0]
		s.failNext = s.failNext[1:]
		return err
	}

	for ne, rec := range tx.staged {
		s.cases[ne] = rec
	}
	for _, staged := range tx.entries {
		s.seq++
		staged.entry.Seq = s.seq
		staged.caller.Seq = s.seq
		s.audit[staged.entry.NE] = append(s.audit[staged.entry.NE], staged.entry)
	}
	s.commits++
	return nil
}

type memTx struct {
	store   *Store
	staged  map[string]*repository.CaseRecord
	entries []stagedEntry
}

type stagedEntry struct {
	entry  *repository.AuditEntry
	caller *repository.AuditEntry
}

func (t *memTx) current(ne string) (*repository.CaseRecord, bool) {
	if rec, ok := t.staged[ne]; ok {
		return rec, true
	}
	rec, ok := t.store.cases[ne]
	if !ok {
		return nil, false
	}
	cp := rec.Clone()
	t.staged[ne] = cp
	return cp, true
}

func (t *memTx) InsertCase(_ context.Context, rec *repository.CaseRecord) error {
	ne := repository.NormalizeNE(rec.NE)
	if _, ok := t.current(ne); ok {
		return errors.New(errors.ErrCodeConflict, fmt.Sprintf("case %s already exists", ne))
	}
	cp := rec.Clone()
	cp.NE = ne
	t.staged[ne] = cp
	return nil
}

func (t *memTx) UpdateCase(_ context.Context, upd repository.CaseUpdate) error {
	ne := repository.NormalizeNE(upd.NE)
	rec, ok := t.current(ne)
	if !ok {
		return errors.NotFound("case", upd.NE)
	}
	for _, exp := range upd.Expect {
		if !repository.ValuesEqual(rec.Value(exp.Field), exp.Value) {
			return errors.New(errors.ErrCodeConflict, fmt.Sprintf("case %s was modified concurrently", ne))
		}
	}
	if err := rec.Apply(upd); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update case")
	}
	return nil
}

func (t *memTx) AppendAudit(_ context.Context, entry *repository.AuditEntry) error {
	ne := repository.NormalizeNE(entry.NE)
	if _, ok := t.current(ne); !ok {
		return errors.NotFound("case", entry.NE)
	}
	cp := *entry
	cp.NE = ne
	t.entries = append(t.entries, stagedEntry{entry: &cp, caller: entry})
	return nil
}
