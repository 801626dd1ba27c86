package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-customs-aforo/internal/events"
	"github.com/pesio-ai/be-customs-aforo/internal/metrics"
	"github.com/pesio-ai/be-customs-aforo/internal/repository"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
	"github.com/pesio-ai/be-customs-aforo/pkg/logger"
)

// Operation names used in events and logs.
const (
	OpCreate      = "create"
	OpMutation    = "mutation"
	OpBulk        = "bulk"
	OpAcknowledge = "acknowledge"
	OpReclassify  = "reclassify"
)

// Clock returns the current time. Entries written by one operation share one
// reading of it.
type Clock func() time.Time

// writer is the shared write path: one atomic unit per operation, the error
// channel for store failures and the change-feed after commit.
type writer struct {
	store     repository.Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	clock     Clock
	log       *logger.Logger
}

func newWriter(store repository.Store, publisher events.Publisher, m *metrics.Metrics, log *logger.Logger) writer {
	if publisher == nil {
		publisher = events.Fanout(nil)
	}
	return writer{store: store, publisher: publisher, metrics: m, clock: time.Now, log: log}
}

func (w *writer) now() time.Time {
	return w.clock().UTC().Truncate(time.Microsecond)
}

// commit runs fn in one unit of work. Refusals and outages are published to
// the error channel and returned.
func (w *writer) commit(ctx context.Context, op, actor string, nes []string, fn func(tx repository.CaseTx) error) error {
	start := time.Now()
	err := w.store.InTransaction(ctx, fn)
	w.metrics.CommitDuration(start)
	if err != nil {
		return w.fail(ctx, op, actor, nes, err)
	}
	return nil
}

// fail reports PERMISSION_DENIED and UNAVAILABLE errors on the error channel.
// err is always returned unchanged.
func (w *writer) fail(ctx context.Context, op, actor string, nes []string, err error) error {
	code := errors.CodeOf(err)
	if code != errors.ErrCodePermissionDenied && code != errors.ErrCodeUnavailable {
		return err
	}
	w.log.Error().Err(err).
		Str("op", op).
		Str("actor", actor).
		Strs("nes", nes).
		Str("code", string(code)).
		Msg("Store refused or unreachable")
	w.publisher.PublishStoreFailure(ctx, events.StoreFailure{
		NEs:     nes,
		Op:      op,
		Actor:   actor,
		Code:    string(code),
		Message: err.Error(),
		At:      w.now(),
	})
	return err
}

// announce publishes the change-feed event for one committed case.
func (w *writer) announce(ctx context.Context, op, actor, ne string, at time.Time, changes []repository.FieldChange) {
	fields := make([]string, len(changes))
	for i, c := range changes {
		fields[i] = c.Field.String()
	}
	w.publisher.PublishCaseChanged(ctx, events.CaseChanged{NE: ne, Fields: fields, Actor: actor, Op: op, At: at})
}

// auditEntries builds one entry per change with values taken from before,
// which must be the record as it was prior to the write. comment goes on the
// first entry only.
func auditEntries(before *repository.CaseRecord, actor string, at time.Time, changes []repository.FieldChange, comment *string) ([]*repository.AuditEntry, error) {
	entries := make([]*repository.AuditEntry, 0, len(changes))
	for i, c := range changes {
		oldValue, err := repository.EncodeValue(before.Value(c.Field))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode old value")
		}
		newValue, err := repository.EncodeValue(c.Value)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode new value")
		}
		entry := &repository.AuditEntry{
			ID:        uuid.NewString(),
			NE:        before.NE,
			UpdatedAt: at,
			UpdatedBy: actor,
			Field:     c.Field.AuditName(),
			OldValue:  oldValue,
			NewValue:  newValue,
		}
		if i == 0 && comment != nil && *comment != "" {
			cp := *comment
			entry.Comment = &cp
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// stamp sets the LastUpdate companion on status and assignment writes.
func stamp(changes []repository.FieldChange, actor string, at time.Time) {
	for i := range changes {
		if changes[i].Field.HasCompanion() {
			changes[i].Stamp = &repository.LastUpdate{By: actor, At: at}
		}
	}
}

// writeCase issues the update and its audit entries on tx.
func writeCase(ctx context.Context, tx repository.CaseTx, upd repository.CaseUpdate, entries []*repository.AuditEntry) error {
	if err := tx.UpdateCase(ctx, upd); err != nil {
		return err
	}
	for _, e := range entries {
		if err := tx.AppendAudit(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
