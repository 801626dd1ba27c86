package readmodel

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-customs-aforo/internal/events"
	"github.com/pesio-ai/be-customs-aforo/internal/metrics"
	"github.com/pesio-ai/be-customs-aforo/internal/repository"
	"github.com/pesio-ai/be-customs-aforo/internal/repository/memstore"
)

type countingStore struct {
	repository.CaseStore
	gets int
	// afterLoad runs once the record has been read, before the cache sees it.
	afterLoad func()
}

func (s *countingStore) GetByNE(ctx context.Context, ne string) (*repository.CaseRecord, error) {
	s.gets++
	rec, err := s.CaseStore.GetByNE(ctx, ne)
	if s.afterLoad != nil {
		s.afterLoad()
	}
	return rec, err
}

func newCache(t *testing.T) (*CaseCache, *memstore.Store, *countingStore) {
	t.Helper()
	mem := memstore.New()
	mem.Seed(repository.NewCaseRecord("NX1-00001", "exec", time.Now().UTC()))
	counting := &countingStore{CaseStore: mem}
	cache, err := NewCaseCache(counting, 8, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	require.NoError(t, err)
	return cache, mem, counting
}

func TestCaseCache_ReadThrough(t *testing.T) {
	cache, _, counting := newCache(t)
	ctx := context.Background()

	_, err := cache.GetByNE(ctx, "nx1-00001")
	require.NoError(t, err)
	_, err = cache.GetByNE(ctx, "NX1-00001")
	require.NoError(t, err)

	assert.Equal(t, 1, counting.gets)
	assert.Equal(t, 1, cache.Len())
}

func TestCaseCache_ReturnsCopies(t *testing.T) {
	cache, _, _ := newCache(t)
	ctx := context.Background()

	rec, err := cache.GetByNE(ctx, "NX1-00001")
	require.NoError(t, err)
	rec.Archived = true

	again, err := cache.GetByNE(ctx, "NX1-00001")
	require.NoError(t, err)
	assert.False(t, again.Archived)
}

func TestCaseCache_InvalidatedByChangeFeed(t *testing.T) {
	cache, mem, counting := newCache(t)
	ctx := context.Background()
	bus := events.NewBus()
	bus.Subscribe(cache.HandleEvent)

	_, err := cache.GetByNE(ctx, "NX1-00001")
	require.NoError(t, err)

	require.NoError(t, mem.InTransaction(ctx, func(tx repository.CaseTx) error {
		return tx.UpdateCase(ctx, repository.CaseUpdate{
			NE:      "NX1-00001",
			Changes: []repository.FieldChange{{Field: repository.FieldRevisorStatus, Value: repository.RevisorApproved}},
		})
	}))
	bus.PublishCaseChanged(ctx, events.CaseChanged{NE: "NX1-00001", Op: "mutation"})
	assert.Equal(t, 0, cache.Len())

	rec, err := cache.GetByNE(ctx, "NX1-00001")
	require.NoError(t, err)
	assert.Equal(t, repository.RevisorApproved, rec.RevisorStatus)
	assert.Equal(t, 2, counting.gets)
}

func TestCaseCache_ChangeDuringLoadIsNotCached(t *testing.T) {
	cache, mem, counting := newCache(t)
	ctx := context.Background()

	counting.afterLoad = func() {
		counting.afterLoad = nil
		require.NoError(t, mem.InTransaction(ctx, func(tx repository.CaseTx) error {
			return tx.UpdateCase(ctx, repository.CaseUpdate{
				NE:      "NX1-00001",
				Changes: []repository.FieldChange{{Field: repository.FieldRevisorStatus, Value: repository.RevisorApproved}},
			})
		}))
		cache.OnCaseChanged(&events.CaseChanged{NE: "NX1-00001", Op: "mutation"})
	}

	stale, err := cache.GetByNE(ctx, "NX1-00001")
	require.NoError(t, err)
	assert.Equal(t, repository.RevisorPending, stale.RevisorStatus)
	assert.Equal(t, 0, cache.Len())

	rec, err := cache.GetByNE(ctx, "NX1-00001")
	require.NoError(t, err)
	assert.Equal(t, repository.RevisorApproved, rec.RevisorStatus)
	assert.Equal(t, 2, counting.gets)
	assert.Equal(t, 1, cache.Len())
}

func TestCaseCache_NotFoundIsNotCached(t *testing.T) {
	cache, _, counting := newCache(t)
	ctx := context.Background()

	_, err := cache.GetByNE(ctx, "missing")
	assert.Error(t, err)
	_, err = cache.GetByNE(ctx, "missing")
	assert.Error(t, err)
	assert.Equal(t, 2, counting.gets)
	assert.Equal(t, 0, cache.Len())
}

func TestNewCaseCache_RejectsZeroSize(t *testing.T) {
	_, err := NewCaseCache(memstore.New(), 0, nil, zerolog.Nop())
	assert.Error(t, err)
}
