package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-customs-aforo/internal/repository"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
)

func ptr[T any](v T) *T { return &v }

func baseCase() *repository.CaseRecord {
	return repository.NewCaseRecord("NX1-00001", "exec1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestTransitionValidator_Plan(t *testing.T) {
	v := NewTransitionValidator()

	tests := []struct {
		name    string
		setup   func(c *repository.CaseRecord)
		primary Change
		with    []Change
		verdict Verdict
		reason  string
		changes int
	}{
		{
			name:    "under review without positions",
			primary: Change{Field: repository.FieldAforadorStatus, Value: "UnderReview"},
			verdict: VerdictRejected,
			reason:  ReasonPositionsRequired,
		},
		{
			name:    "under review with zero positions",
			setup:   func(c *repository.CaseRecord) { c.TotalPositions = ptr(0) },
			primary: Change{Field: repository.FieldAforadorStatus, Value: "UnderReview"},
			verdict: VerdictRejected,
			reason:  ReasonPositionsRequired,
		},
		{
			name:    "under review with positions already set",
			setup:   func(c *repository.CaseRecord) { c.TotalPositions = ptr(12) },
			primary: Change{Field: repository.FieldAforadorStatus, Value: "UnderReview"},
			verdict: VerdictOK,
			changes: 1,
		},
		{
			name:    "under review with positions supplied atomically",
			primary: Change{Field: repository.FieldAforadorStatus, Value: "UnderReview"},
			with:    []Change{{Field: repository.FieldTotalPositions, Value: float64(7)}},
			verdict: VerdictOK,
			changes: 2,
		},
		{
			name:    "complete without declaration number",
			primary: Change{Field: repository.FieldDigitacionStatus, Value: "Complete"},
			verdict: VerdictRejected,
			reason:  ReasonDeclarationRequired,
		},
		{
			name:    "complete with blank declaration number",
			primary: Change{Field: repository.FieldDigitacionStatus, Value: "Complete"},
			with:    []Change{{Field: repository.FieldDeclarationNumber, Value: "   "}},
			verdict: VerdictRejected,
			reason:  ReasonDeclarationRequired,
		},
		{
			name:    "complete with declaration number",
			primary: Change{Field: repository.FieldDigitacionStatus, Value: "Complete"},
			with:    []Change{{Field: repository.FieldDeclarationNumber, Value: "D-55"}},
			verdict: VerdictOK,
			changes: 2,
		},
		{
			name:    "preliquidation before revisor approval",
			primary: Change{Field: repository.FieldPreliquidationStatus, Value: "Approved"},
			verdict: VerdictRejected,
			reason:  ReasonRevisorNotApproved,
		},
		{
			name:    "preliquidation after revisor approval",
			setup:   func(c *repository.CaseRecord) { c.RevisorStatus = repository.RevisorApproved },
			primary: Change{Field: repository.FieldPreliquidationStatus, Value: "Approved"},
			verdict: VerdictOK,
			changes: 1,
		},
		{
			name:    "no-op status",
			primary: Change{Field: repository.FieldRevisorStatus, Value: "Pending"},
			verdict: VerdictUnchanged,
		},
		{
			name:    "no-op precondition field is not rejected",
			setup:   func(c *repository.CaseRecord) { c.DigitacionStatus = repository.DigitacionComplete },
			primary: Change{Field: repository.FieldDigitacionStatus, Value: "Complete"},
			verdict: VerdictUnchanged,
		},
		{
			name:    "free text has no precondition",
			primary: Change{Field: repository.FieldAforadorComment, Value: "missing invoice copy"},
			verdict: VerdictOK,
			changes: 1,
		},
		{
			name:    "companion no-op is dropped",
			setup:   func(c *repository.CaseRecord) { c.TotalPositions = ptr(3) },
			primary: Change{Field: repository.FieldAforadorStatus, Value: "UnderReview"},
			with:    []Change{{Field: repository.FieldTotalPositions, Value: 3}},
			verdict: VerdictOK,
			changes: 1,
		},
		{
			name: "unchanged primary with changed companion",
			setup: func(c *repository.CaseRecord) {
				c.AforadorStatus = repository.AforadorUnderReview
				c.TotalPositions = ptr(5)
			},
			primary: Change{Field: repository.FieldAforadorStatus, Value: "UnderReview"},
			with:    []Change{{Field: repository.FieldTotalPositions, Value: 7}},
			verdict: VerdictOK,
			changes: 1,
		},
		{
			name: "unchanged primary with unchanged companion",
			setup: func(c *repository.CaseRecord) {
				c.AforadorStatus = repository.AforadorUnderReview
				c.TotalPositions = ptr(5)
			},
			primary: Change{Field: repository.FieldAforadorStatus, Value: "UnderReview"},
			with:    []Change{{Field: repository.FieldTotalPositions, Value: 5}},
			verdict: VerdictUnchanged,
		},
		{
			name: "companion breaking an unchanged primary",
			setup: func(c *repository.CaseRecord) {
				c.AforadorStatus = repository.AforadorUnderReview
				c.TotalPositions = ptr(5)
			},
			primary: Change{Field: repository.FieldAforadorStatus, Value: "UnderReview"},
			with:    []Change{{Field: repository.FieldTotalPositions, Value: nil}},
			verdict: VerdictRejected,
			reason:  ReasonPositionsRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := baseCase()
			if tt.setup != nil {
				tt.setup(c)
			}
			before := c.Clone()

			plan, err := v.Plan(c, tt.primary, tt.with)
			require.NoError(t, err)
			assert.Equal(t, tt.verdict, plan.Verdict)
			assert.Equal(t, tt.reason, plan.Reason)
			assert.Len(t, plan.Changes, tt.changes)
			assert.Equal(t, before, c, "Plan must not modify the record")
		})
	}
}

func TestTransitionValidator_PlanInputErrors(t *testing.T) {
	v := NewTransitionValidator()

	_, err := v.Plan(baseCase(), Change{Field: repository.FieldRevisorStatus, Value: "Maybe"}, nil)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = v.Plan(baseCase(), Change{Field: repository.Field(999), Value: "x"}, nil)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = v.Plan(baseCase(), Change{Field: repository.FieldTotalPositions, Value: -1}, nil)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = v.Plan(baseCase(),
		Change{Field: repository.FieldAforadorStatus, Value: "UnderReview"},
		[]Change{
			{Field: repository.FieldTotalPositions, Value: 1},
			{Field: repository.FieldTotalPositions, Value: 2},
		})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestTransitionValidator_Validate(t *testing.T) {
	v := NewTransitionValidator()
	c := baseCase()

	ok, _ := v.Validate(c, repository.FieldAforadorStatus, repository.AforadorInProgress)
	assert.True(t, ok)

	ok, reason := v.Validate(c, repository.FieldAforadorStatus, repository.AforadorUnderReview)
	assert.False(t, ok)
	assert.Equal(t, ReasonPositionsRequired, reason)

	ok, _ = v.Validate(c, repository.FieldDigitacionStatus, repository.DigitacionStored)
	assert.True(t, ok)

	ok, _ = v.Validate(c, repository.FieldAforador, "aforador7")
	assert.True(t, ok)
}
