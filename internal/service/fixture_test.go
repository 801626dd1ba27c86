package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-customs-aforo/internal/events"
	"github.com/pesio-ai/be-customs-aforo/internal/metrics"
	"github.com/pesio-ai/be-customs-aforo/internal/repository"
	"github.com/pesio-ai/be-customs-aforo/internal/repository/memstore"
	"github.com/pesio-ai/be-customs-aforo/pkg/logger"
)

const receiptComment = "Physical worksheet received"

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	store   *memstore.Store
	events  *events.Recorder
	clock   *fakeClock
	cases   *CaseService
	coord   *MutationCoordinator
	bulk    *BulkRunner
	badges  *BadgeAggregator
	reclass *Reclassifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	rec := &events.Recorder{}
	clock := &fakeClock{t: time.Date(2025, 5, 6, 8, 0, 0, 0, time.UTC)}
	m := metrics.New(prometheus.NewRegistry())
	log := logger.Nop()
	validator := NewTransitionValidator()

	return &fixture{
		store:   store,
		events:  rec,
		clock:   clock,
		cases:   NewCaseService(store, nil, rec, log).WithClock(clock.Now),
		coord:   NewMutationCoordinator(store, validator, rec, m, log).WithClock(clock.Now),
		bulk:    NewBulkRunner(store, validator, rec, m, log, receiptComment).WithClock(clock.Now),
		badges:  NewBadgeAggregator(store, store, store),
		reclass: NewReclassifier(store, NewRoleAuthorizer([]string{"supervisor"}), rec, m, log).WithClock(clock.Now),
	}
}

func (f *fixture) create(t *testing.T, ne string) *repository.CaseRecord {
	t.Helper()
	rec, err := f.cases.CreateCase(context.Background(), &CreateCaseRequest{NE: ne, CaseType: "import", CreatedBy: "exec1"})
	require.NoError(t, err)
	return rec
}

func (f *fixture) get(t *testing.T, ne string) *repository.CaseRecord {
	t.Helper()
	rec, err := f.store.GetByNE(context.Background(), ne)
	require.NoError(t, err)
	return rec
}

func (f *fixture) trail(t *testing.T, ne string) []*repository.AuditEntry {
	t.Helper()
	entries, err := f.store.ListByNE(context.Background(), ne)
	require.NoError(t, err)
	return entries
}

func (f *fixture) apply(t *testing.T, ne string, field repository.Field, value any, with ...Change) *MutationResult {
	t.Helper()
	res, err := f.coord.ApplyMutation(context.Background(), MutationRequest{
		NE: ne, Field: field, Value: value, Actor: "user1", With: with,
	})
	require.NoError(t, err)
	return res
}

// countEntries counts audit entries with the given field and JSON-encoded new value.
func countEntries(entries []*repository.AuditEntry, field string, newValue any) int {
	want, _ := json.Marshal(newValue)
	n := 0
	for _, e := range entries {
		if e.Field == field && string(e.NewValue) == string(want) {
			n++
		}
	}
	return n
}
