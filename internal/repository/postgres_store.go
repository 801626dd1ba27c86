package repository

import (
	"context"
	stderrors "errors"
	"net"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-customs-aforo/pkg/database"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
)

// PostgresStore implements Store on top of a pgx pool.
type PostgresStore struct {
	db *database.DB
	*CaseRepository
	*CaseAuditRepository
}

// NewPostgresStore creates a Store backed by Postgres.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{
		db:                  db,
		CaseRepository:      NewCaseRepository(db),
		CaseAuditRepository: NewCaseAuditRepository(db),
	}
}

// InTransaction runs fn in one database transaction. Nothing is committed
// unless fn returns nil and the commit itself succeeds.
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(tx CaseTx) error) error {
	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&pgCaseTx{tx: tx, cases: s.CaseRepository, audit: s.CaseAuditRepository})
	})
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return classifyStoreError(err, "transaction failed")
}

type pgCaseTx struct {
	tx    pgx.Tx
	cases *CaseRepository
	audit *CaseAuditRepository
}

func (t *pgCaseTx) InsertCase(ctx context.Context, rec *CaseRecord) error {
	return t.cases.insert(ctx, t.tx, rec)
}

func (t *pgCaseTx) UpdateCase(ctx context.Context, upd CaseUpdate) error {
	return t.cases.update(ctx, t.tx, upd)
}

func (t *pgCaseTx) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	return t.audit.append(ctx, t.tx, entry)
}

// classifyStoreError maps driver errors onto the error taxonomy.
func classifyStoreError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(err, errors.ErrCodeNotFound, msg)
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.InsufficientPrivilege:
			return errors.Wrap(err, errors.ErrCodePermissionDenied, msg)
		case pgErr.Code == pgerrcode.SerializationFailure, pgErr.Code == pgerrcode.DeadlockDetected:
			// transient: the whole operation can be retried
			return errors.Unavailable(err, msg)
		case pgerrcode.IsConnectionException(pgErr.Code), strings.HasPrefix(pgErr.Code, "57P0"):
			return errors.Unavailable(err, msg)
		}
		return errors.Wrap(err, errors.ErrCodeInternal, msg)
	}

	var connectErr *pgconn.ConnectError
	if stderrors.As(err, &connectErr) {
		return errors.Unavailable(err, msg)
	}
	if pgconn.Timeout(err) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Unavailable(err, msg)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return errors.Unavailable(err, msg)
	}
	return errors.Wrap(err, errors.ErrCodeInternal, msg)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
