package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-customs-aforo/internal/repository"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
)

// bulkSelection creates five cases, three of which have a declaration number.
func bulkSelection(t *testing.T, f *fixture) []string {
	t.Helper()
	nes := []string{"B-1", "B-2", "B-3", "B-4", "B-5"}
	for _, ne := range nes {
		f.create(t, ne)
	}
	for _, ne := range []string{"B-1", "B-3", "B-5"} {
		res := f.apply(t, ne, repository.FieldDeclarationNumber, "D-"+ne)
		require.Equal(t, OutcomeApplied, res.Outcome)
	}
	return nes
}

func TestApplyBulkMutation_PartitionsAndCommitsOnce(t *testing.T) {
	f := newFixture(t)
	nes := bulkSelection(t, f)

	trailLens := map[string]int{}
	for _, ne := range nes {
		trailLens[ne] = len(f.trail(t, ne))
	}
	commits := f.store.Commits()

	res, err := f.bulk.ApplyBulkMutation(context.Background(), BulkRequest{
		NEs: nes, Field: repository.FieldDigitacionStatus, Value: "Complete", Actor: "dig1",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"B-1", "B-3", "B-5"}, res.Applied)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, SkippedCase{NE: "B-2", Reason: ReasonDeclarationRequired}, res.Skipped[0])
	assert.Equal(t, SkippedCase{NE: "B-4", Reason: ReasonDeclarationRequired}, res.Skipped[1])
	assert.Equal(t, commits+1, f.store.Commits(), "eligible cases commit in one unit")

	for _, ne := range []string{"B-1", "B-3", "B-5"} {
		assert.Equal(t, repository.DigitacionComplete, f.get(t, ne).DigitacionStatus)
		entries := f.trail(t, ne)
		assert.Len(t, entries, trailLens[ne]+1)
		assert.Equal(t, 1, countEntries(entries, "digitacionStatus", "Complete"))
	}
	for _, ne := range []string{"B-2", "B-4"} {
		assert.Equal(t, repository.DigitacionPending, f.get(t, ne).DigitacionStatus)
		assert.Len(t, f.trail(t, ne), trailLens[ne])
	}
}

func TestApplyBulkMutation_CommitFailureAppliesNothing(t *testing.T) {
	f := newFixture(t)
	nes := bulkSelection(t, f)
	f.store.FailNextCommit(errors.Unavailable(context.DeadlineExceeded, "commit timed out"))

	res, err := f.bulk.ApplyBulkMutation(context.Background(), BulkRequest{
		NEs: nes, Field: repository.FieldDigitacionStatus, Value: "Complete", Actor: "dig1",
	})
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, errors.ErrCodeUnavailable))

	for _, ne := range nes {
		assert.Equal(t, repository.DigitacionPending, f.get(t, ne).DigitacionStatus)
		assert.Zero(t, countEntries(f.trail(t, ne), "digitacionStatus", "Complete"))
	}

	_, failures := f.events.Snapshot()
	require.Len(t, failures, 1)
	assert.Equal(t, OpBulk, failures[0].Op)
	assert.ElementsMatch(t, []string{"B-1", "B-3", "B-5"}, failures[0].NEs)
}

func TestApplyBulkMutation_SkipsMissingAndUnchanged(t *testing.T) {
	f := newFixture(t)
	f.create(t, "A")
	f.create(t, "B")
	f.apply(t, "B", repository.FieldRevisorStatus, "Approved")

	res, err := f.bulk.ApplyBulkMutation(context.Background(), BulkRequest{
		NEs: []string{"a", "A", " b ", "ghost", ""}, Field: repository.FieldRevisorStatus, Value: "Approved", Actor: "rev",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.Applied)
	assert.Equal(t, []SkippedCase{
		{NE: "B", Reason: SkipUnchanged},
		{NE: "GHOST", Reason: SkipNotFound},
	}, res.Skipped)
}

func TestApplyBulkMutation_AllSkippedDoesNotCommit(t *testing.T) {
	f := newFixture(t)
	f.create(t, "A")
	commits := f.store.Commits()

	res, err := f.bulk.ApplyBulkMutation(context.Background(), BulkRequest{
		NEs: []string{"A"}, Field: repository.FieldPreliquidationStatus, Value: "Approved", Actor: "u",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assert.Len(t, res.Skipped, 1)
	assert.Equal(t, commits, f.store.Commits())
}

func TestApplyBulkMutation_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	f.create(t, "A")
	ctx := context.Background()

	_, err := f.bulk.ApplyBulkMutation(ctx, BulkRequest{NEs: []string{"A"}, Field: repository.FieldRevisorStatus, Value: "Bogus", Actor: "u"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = f.bulk.ApplyBulkMutation(ctx, BulkRequest{NEs: nil, Field: repository.FieldRevisorStatus, Value: "Approved", Actor: "u"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = f.bulk.ApplyBulkMutation(ctx, BulkRequest{NEs: []string{"A"}, Field: repository.FieldCaseType, Value: "x", Actor: "u"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestAcknowledgeReceipt(t *testing.T) {
	f := newFixture(t)
	f.create(t, "A")
	f.create(t, "B")

	res, err := f.bulk.AcknowledgeReceipt(context.Background(), []string{"A", "B", "C"}, "clerk")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, res.Applied)
	assert.Equal(t, []SkippedCase{{NE: "C", Reason: SkipNotFound}}, res.Skipped)

	for _, ne := range res.Applied {
		rec := f.get(t, ne)
		require.NotNil(t, rec.WorksheetReceivedAt)

		entries := f.trail(t, ne)
		last := entries[len(entries)-1]
		assert.Equal(t, "worksheetReceivedAt", last.Field)
		require.NotNil(t, last.Comment)
		assert.Equal(t, receiptComment, *last.Comment)
		assert.Equal(t, "clerk", last.UpdatedBy)
	}

	// Acknowledging again is still eligible and writes a new entry.
	again, err := f.bulk.AcknowledgeReceipt(context.Background(), []string{"A"}, "clerk")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, again.Applied)
	assert.Equal(t, 2, countFields(f.trail(t, "A"), "worksheetReceivedAt"))
}

func countFields(entries []*repository.AuditEntry, field string) int {
	n := 0
	for _, e := range entries {
		if e.Field == field {
			n++
		}
	}
	return n
}
