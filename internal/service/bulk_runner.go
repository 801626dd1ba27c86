package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-customs-aforo/internal/events"
	"github.com/pesio-ai/be-customs-aforo/internal/metrics"
	"github.com/pesio-ai/be-customs-aforo/internal/repository"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
	"github.com/pesio-ai/be-customs-aforo/pkg/logger"
)

// Skip reasons that are not validator rejections.
const (
	SkipNotFound  = "case not found"
	SkipUnchanged = "value unchanged"
)

// BulkRequest applies the same field value to many cases.
type BulkRequest struct {
	NEs     []string         `json:"nes" validate:"required,min=1,dive,required"`
	Field   repository.Field `json:"field" validate:"required"`
	Value   any              `json:"value"`
	Actor   string           `json:"-"`
	Comment *string          `json:"comment,omitempty"`
}

// SkippedCase is a case left out of a bulk mutation, with the reason.
type SkippedCase struct {
	NE     string `json:"ne"`
	Reason string `json:"reason"`
}

// BulkResult partitions the selection. Skips are an expected outcome.
type BulkResult struct {
	Field   string        `json:"field"`
	Applied []string      `json:"applied"`
	Skipped []SkippedCase `json:"skipped"`
}

// BulkRunner applies a mutation to a set of cases in one atomic unit,
// skipping the cases whose current state does not allow it.
type BulkRunner struct {
	writer
	validator      *TransitionValidator
	receiptComment string
}

// NewBulkRunner creates a new BulkRunner.
func NewBulkRunner(
	store repository.Store,
	validator *TransitionValidator,
	publisher events.Publisher,
	m *metrics.Metrics,
	log *logger.Logger,
	receiptComment string,
) *BulkRunner {
	return &BulkRunner{
		writer:         newWriter(store, publisher, m, log),
		validator:      validator,
		receiptComment: receiptComment,
	}
}

// WithClock replaces the time source.
func (b *BulkRunner) WithClock(clock Clock) *BulkRunner {
	b.clock = clock
	return b
}

type bulkItem struct {
	before  *repository.CaseRecord
	changes []repository.FieldChange
}

// ApplyBulkMutation evaluates every selected case against a snapshot of its
// current state, then commits all eligible cases together. If the commit
// fails nothing is applied and the error is returned; the caller retries the
// whole operation.
func (b *BulkRunner) ApplyBulkMutation(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	if err := checkActorAndField(req.Actor, req.Field); err != nil {
		return nil, err
	}
	// Malformed values fail the whole request rather than every item.
	if _, err := normalize(Change{Field: req.Field, Value: req.Value}); err != nil {
		return nil, err
	}

	return b.run(ctx, OpBulk, req.Actor, req.Field, req.NEs, req.Comment, func(rec *repository.CaseRecord) (*Plan, error) {
		return b.validator.Plan(rec, Change{Field: req.Field, Value: req.Value}, nil)
	})
}

// AcknowledgeReceipt stamps the worksheet-received timestamp on every case
// with a fixed comment. Every existing case is eligible.
func (b *BulkRunner) AcknowledgeReceipt(ctx context.Context, nes []string, actor string) (*BulkResult, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, errors.InvalidInput("actor", "is required")
	}
	at := b.now()
	comment := b.receiptComment

	return b.run(ctx, OpAcknowledge, actor, repository.FieldWorksheetReceivedAt, nes, &comment, func(*repository.CaseRecord) (*Plan, error) {
		ts := at
		return &Plan{
			Verdict: VerdictOK,
			Changes: []repository.FieldChange{{Field: repository.FieldWorksheetReceivedAt, Value: &ts}},
		}, nil
	})
}

func (b *BulkRunner) run(
	ctx context.Context,
	op, actor string,
	field repository.Field,
	nes []string,
	comment *string,
	plan func(*repository.CaseRecord) (*Plan, error),
) (*BulkResult, error) {
	selection := dedupe(nes)
	if len(selection) == 0 {
		return nil, errors.InvalidInput("nes", "at least one case is required")
	}

	result := &BulkResult{Field: field.String(), Applied: []string{}, Skipped: []SkippedCase{}}
	items := make([]bulkItem, 0, len(selection))

	for _, ne := range selection {
		rec, err := b.store.GetByNE(ctx, ne)
		if errors.Is(err, errors.ErrCodeNotFound) {
			result.Skipped = append(result.Skipped, SkippedCase{NE: ne, Reason: SkipNotFound})
			continue
		}
		if err != nil {
			return nil, b.fail(ctx, op, actor, selection, err)
		}

		p, err := plan(rec)
		if err != nil {
			return nil, err
		}
		switch p.Verdict {
		case VerdictUnchanged:
			result.Skipped = append(result.Skipped, SkippedCase{NE: rec.NE, Reason: SkipUnchanged})
		case VerdictRejected:
			result.Skipped = append(result.Skipped, SkippedCase{NE: rec.NE, Reason: p.Reason})
		default:
			items = append(items, bulkItem{before: rec, changes: p.Changes})
		}
	}

	if len(items) > 0 {
		if err := b.commitItems(ctx, op, actor, items, comment); err != nil {
			b.metrics.BulkItems(result.Field, metrics.OutcomeFailed, len(items))
			return nil, err
		}
		for _, it := range items {
			result.Applied = append(result.Applied, it.before.NE)
		}
	}

	b.metrics.BulkItems(result.Field, metrics.ResultApplied, len(result.Applied))
	b.metrics.BulkItems(result.Field, metrics.ResultSkipped, len(result.Skipped))
	b.log.Info().
		Str("op", op).
		Str("field", result.Field).
		Str("actor", actor).
		Int("applied", len(result.Applied)).
		Int("skipped", len(result.Skipped)).
		Msg("Bulk mutation finished")

	return result, nil
}

func (b *BulkRunner) commitItems(ctx context.Context, op, actor string, items []bulkItem, comment *string) error {
	now := b.now()
	updates := make([]repository.CaseUpdate, len(items))
	entries := make([][]*repository.AuditEntry, len(items))
	nes := make([]string, len(items))

	for i, it := range items {
		stamp(it.changes, actor, now)
		e, err := auditEntries(it.before, actor, now, it.changes, comment)
		if err != nil {
			return err
		}
		updates[i] = repository.CaseUpdate{NE: it.before.NE, Changes: it.changes, InvolvedUser: actor}
		entries[i] = e
		nes[i] = it.before.NE
	}

	err := b.commit(ctx, op, actor, nes, func(tx repository.CaseTx) error {
		for i := range updates {
			if err := writeCase(ctx, tx, updates[i], entries[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, it := range items {
		b.announce(ctx, op, actor, it.before.NE, now, it.changes)
	}
	return nil
}

// dedupe normalises NEs and drops blanks and repeats, keeping input order.
func dedupe(nes []string) []string {
	seen := make(map[string]struct{}, len(nes))
	out := make([]string, 0, len(nes))
	for _, ne := range nes {
		n := repository.NormalizeNE(ne)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
