package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/pesio-ai/be-customs-aforo/internal/events"
	"github.com/pesio-ai/be-customs-aforo/internal/metrics"
	"github.com/pesio-ai/be-customs-aforo/internal/repository"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
	"github.com/pesio-ai/be-customs-aforo/pkg/logger"
)

// Outcome is the result of a single-case mutation.
type Outcome string

const (
	OutcomeApplied   Outcome = "Applied"
	OutcomeRejected  Outcome = "Rejected"
	OutcomeUnchanged Outcome = "Unchanged"
)

// ExpectedValue wraps the value a field must still hold for the write to
// proceed. A nil *ExpectedValue disables the check.
type ExpectedValue struct {
	Value any `json:"value"`
}

// MutationRequest asks for one field of one case to change. With carries
// companion values written in the same atomic unit, such as totalPositions
// alongside aforadorStatus=UnderReview.
type MutationRequest struct {
	NE          string           `json:"ne" validate:"required"`
	Field       repository.Field `json:"field" validate:"required"`
	Value       any              `json:"value"`
	Actor       string           `json:"-"`
	Comment     *string          `json:"comment,omitempty"`
	With        []Change         `json:"with,omitempty"`
	ExpectedOld *ExpectedValue   `json:"expectedOld,omitempty"`
}

// MutationResult reports what ApplyMutation did.
type MutationResult struct {
	NE      string                   `json:"ne"`
	Field   string                   `json:"field"`
	Outcome Outcome                  `json:"outcome"`
	Reason  string                   `json:"reason,omitempty"`
	Entries []*repository.AuditEntry `json:"entries,omitempty"`
}

// MutationCoordinator applies single-case mutations: validate, then write the
// record update and its audit entries in one atomic unit.
type MutationCoordinator struct {
	writer
	validator *TransitionValidator
}

// NewMutationCoordinator creates a new MutationCoordinator.
func NewMutationCoordinator(
	store repository.Store,
	validator *TransitionValidator,
	publisher events.Publisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *MutationCoordinator {
	return &MutationCoordinator{
		writer:    newWriter(store, publisher, m, log),
		validator: validator,
	}
}

// WithClock replaces the time source.
func (c *MutationCoordinator) WithClock(clock Clock) *MutationCoordinator {
	c.clock = clock
	return c
}

// ApplyMutation validates and applies req. A failed precondition is reported
// as an OutcomeRejected result, not an error; errors are reserved for bad
// input, missing cases and store failures.
func (c *MutationCoordinator) ApplyMutation(ctx context.Context, req MutationRequest) (*MutationResult, error) {
	if err := checkRequest(req.NE, req.Actor, req.Field); err != nil {
		return nil, err
	}
	for _, w := range req.With {
		if w.Field.Valid() && w.Field.Privileged() {
			return nil, errors.InvalidInput("with", fmt.Sprintf("%s can only be changed by %s", w.Field, w.Field.OwnedBy()))
		}
	}

	current, err := c.store.GetByNE(ctx, req.NE)
	if err != nil {
		return nil, c.fail(ctx, OpMutation, req.Actor, []string{req.NE}, err)
	}

	var expect []repository.FieldValue
	if req.ExpectedOld != nil {
		old, err := normalize(Change{Field: req.Field, Value: req.ExpectedOld.Value})
		if err != nil {
			return nil, err
		}
		if !repository.ValuesEqual(current.Value(req.Field), old) {
			c.metrics.Mutation(req.Field.String(), metrics.OutcomeFailed)
			return nil, errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("%s of case %s no longer holds the expected value", req.Field, current.NE))
		}
		expect = []repository.FieldValue{{Field: req.Field, Value: old}}
	}

	plan, err := c.validator.Plan(current, Change{Field: req.Field, Value: req.Value}, req.With)
	if err != nil {
		return nil, err
	}

	result := &MutationResult{NE: current.NE, Field: req.Field.String()}
	switch plan.Verdict {
	case VerdictUnchanged:
		c.metrics.Mutation(result.Field, metrics.OutcomeUnchanged)
		c.log.Debug().Str("ne", current.NE).Str("field", result.Field).Str("actor", req.Actor).Msg("Mutation is a no-op")
		result.Outcome = OutcomeUnchanged
		return result, nil

	case VerdictRejected:
		c.metrics.Mutation(result.Field, metrics.OutcomeRejected)
		c.log.Info().
			Str("ne", current.NE).
			Str("field", result.Field).
			Str("actor", req.Actor).
			Str("reason", plan.Reason).
			Msg("Mutation rejected")
		result.Outcome = OutcomeRejected
		result.Reason = plan.Reason
		return result, nil
	}

	entries, err := c.applyChanges(ctx, OpMutation, req.Actor, current, plan.Changes, req.Comment, expect)
	if err != nil {
		c.metrics.Mutation(result.Field, metrics.OutcomeFailed)
		return nil, err
	}

	c.metrics.Mutation(result.Field, metrics.OutcomeApplied)
	c.log.Info().
		Str("ne", current.NE).
		Str("field", result.Field).
		Str("actor", req.Actor).
		Int("entries", len(entries)).
		Msg("Mutation applied")

	result.Outcome = OutcomeApplied
	result.Entries = entries
	return result, nil
}

// applyChanges commits changes to one case with their audit entries and
// announces the change once the commit succeeds.
func (w *writer) applyChanges(
	ctx context.Context,
	op, actor string,
	before *repository.CaseRecord,
	changes []repository.FieldChange,
	comment *string,
	expect []repository.FieldValue,
) ([]*repository.AuditEntry, error) {
	now := w.now()
	stamp(changes, actor, now)

	entries, err := auditEntries(before, actor, now, changes, comment)
	if err != nil {
		return nil, err
	}
	upd := repository.CaseUpdate{NE: before.NE, Changes: changes, Expect: expect, InvolvedUser: actor}

	err = w.commit(ctx, op, actor, []string{before.NE}, func(tx repository.CaseTx) error {
		return writeCase(ctx, tx, upd, entries)
	})
	if err != nil {
		return nil, err
	}

	w.announce(ctx, op, actor, before.NE, now, changes)
	return entries, nil
}

func checkRequest(ne, actor string, field repository.Field) error {
	if strings.TrimSpace(ne) == "" {
		return errors.InvalidInput("ne", "is required")
	}
	return checkActorAndField(actor, field)
}

func checkActorAndField(actor string, field repository.Field) error {
	if strings.TrimSpace(actor) == "" {
		return errors.InvalidInput("actor", "is required")
	}
	if !field.Valid() {
		return errors.InvalidInput("field", "unknown field")
	}
	if field.Privileged() {
		return errors.InvalidInput("field", fmt.Sprintf("%s can only be changed by %s", field, field.OwnedBy()))
	}
	return nil
}
