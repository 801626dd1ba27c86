//go:build integration

package repository_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pesio-ai/be-customs-aforo/internal/repository"
	"github.com/pesio-ai/be-customs-aforo/pkg/database"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("aforo_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.New(ctx, database.Config{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, repository.Migrate(db, zerolog.Nop()))
	// A second run is a no-op.
	require.NoError(t, repository.Migrate(db, zerolog.Nop()))
	return db
}

func auditEntry(ne, field string, at time.Time, oldValue, newValue any) *repository.AuditEntry {
	oldRaw, _ := json.Marshal(oldValue)
	newRaw, _ := json.Marshal(newValue)
	return &repository.AuditEntry{
		ID: uuid.NewString(), NE: ne, UpdatedAt: at, UpdatedBy: "user1",
		Field: field, OldValue: oldRaw, NewValue: newRaw,
	}
}

func TestPostgresStore(t *testing.T) {
	db := newTestDB(t)
	store := repository.NewPostgresStore(db)
	ctx := context.Background()
	t0 := time.Date(2025, 5, 6, 8, 0, 0, 0, time.UTC)

	create := func(ne string) {
		rec := repository.NewCaseRecord(ne, "exec1", t0)
		require.NoError(t, store.InTransaction(ctx, func(tx repository.CaseTx) error {
			if err := tx.InsertCase(ctx, rec); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, auditEntry(ne, repository.AuditTagCreation, t0, nil, map[string]string{"ne": ne}))
		}))
	}
	create("NX1-00001")
	create("NX1-00002")

	t.Run("lookup ignores case", func(t *testing.T) {
		rec, err := store.GetByNE(ctx, "nx1-00001")
		require.NoError(t, err)

		padded, err := store.GetByNE(ctx, "  nx1-00001 ")
		require.NoError(t, err)
		assert.Equal(t, rec.NE, padded.NE)
		assert.Equal(t, "NX1-00001", rec.NE)
		assert.Equal(t, repository.AforadorPending, rec.AforadorStatus)
		assert.Equal(t, []string{"exec1"}, rec.InvolvedUsers)

		_, err = store.GetByNE(ctx, "NX1-99999")
		assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
	})

	t.Run("duplicate insert conflicts", func(t *testing.T) {
		err := store.InTransaction(ctx, func(tx repository.CaseTx) error {
			return tx.InsertCase(ctx, repository.NewCaseRecord("NX1-00001", "exec1", t0))
		})
		assert.True(t, errors.Is(err, errors.ErrCodeConflict))
	})

	t.Run("update and audit commit together", func(t *testing.T) {
		at := t0.Add(time.Minute)
		entry := auditEntry("NX1-00001", "revisorStatus", at, "Pending", "Approved")
		require.NoError(t, store.InTransaction(ctx, func(tx repository.CaseTx) error {
			if err := tx.UpdateCase(ctx, repository.CaseUpdate{
				NE: "nx1-00001",
				Changes: []repository.FieldChange{{
					Field: repository.FieldRevisorStatus,
					Value: repository.RevisorApproved,
					Stamp: &repository.LastUpdate{By: "rev1", At: at},
				}},
				InvolvedUser: "rev1",
			}); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, entry)
		}))
		assert.NotZero(t, entry.Seq)

		rec, err := store.GetByNE(ctx, "NX1-00001")
		require.NoError(t, err)
		assert.Equal(t, repository.RevisorApproved, rec.RevisorStatus)
		require.NotNil(t, rec.RevisorStatusLastUpdate)
		assert.Equal(t, "rev1", rec.RevisorStatusLastUpdate.By)
		assert.True(t, at.Equal(rec.RevisorStatusLastUpdate.At))
		assert.ElementsMatch(t, []string{"exec1", "rev1"}, rec.InvolvedUsers)

		trail, err := store.ListByNE(ctx, "NX1-00001")
		require.NoError(t, err)
		require.Len(t, trail, 2)
		assert.Equal(t, repository.AuditTagCreation, trail[0].Field)
		assert.Equal(t, "revisorStatus", trail[1].Field)
		assert.JSONEq(t, `"Approved"`, string(trail[1].NewValue))
	})

	t.Run("failure rolls back every write", func(t *testing.T) {
		err := store.InTransaction(ctx, func(tx repository.CaseTx) error {
			if err := tx.UpdateCase(ctx, repository.CaseUpdate{
				NE:      "NX1-00002",
				Changes: []repository.FieldChange{{Field: repository.FieldDeclarationNumber, Value: "DEC-1"}},
			}); err != nil {
				return err
			}
			return tx.UpdateCase(ctx, repository.CaseUpdate{
				NE:      "NX1-99999",
				Changes: []repository.FieldChange{{Field: repository.FieldDeclarationNumber, Value: "DEC-1"}},
			})
		})
		assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

		rec, err := store.GetByNE(ctx, "NX1-00002")
		require.NoError(t, err)
		assert.Nil(t, rec.DeclarationNumber)
	})

	t.Run("expected value mismatch conflicts", func(t *testing.T) {
		err := store.InTransaction(ctx, func(tx repository.CaseTx) error {
			return tx.UpdateCase(ctx, repository.CaseUpdate{
				NE:      "NX1-00002",
				Changes: []repository.FieldChange{{Field: repository.FieldRevisorStatus, Value: repository.RevisorRejected}},
				Expect:  []repository.FieldValue{{Field: repository.FieldRevisorStatus, Value: repository.RevisorApproved}},
			})
		})
		assert.True(t, errors.Is(err, errors.ErrCodeConflict))
	})

	t.Run("list filters", func(t *testing.T) {
		got, err := store.List(ctx, repository.CaseFilter{
			Equals: []repository.FieldValue{{Field: repository.FieldRevisorStatus, Value: repository.RevisorApproved}},
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "NX1-00001", got[0].NE)

		got, err = store.List(ctx, repository.CaseFilter{InvolvedUser: "exec1", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("audit log is append-only", func(t *testing.T) {
		_, err := db.Exec(ctx, `UPDATE case_audit_log SET updated_by = 'mallory'`)
		assert.Error(t, err)
		_, err = db.Exec(ctx, `DELETE FROM case_audit_log`)
		assert.Error(t, err)
	})

	t.Run("worksheets", func(t *testing.T) {
		worksheets := repository.NewWorksheetRepository(db)
		_, err := worksheets.GetWorksheet(ctx, "NX1-00001")
		assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

		_, err = db.Exec(ctx, `
			INSERT INTO worksheets (ne, worksheet_type, required_permits, payments)
			VALUES ('NX1-00001', 'import', '[{"name":"SAG","status":"Delivered"}]', '[{"concept":"IVA","status":"Pending"}]')`)
		require.NoError(t, err)

		ws, err := worksheets.GetWorksheet(ctx, "nx1-00001")
		require.NoError(t, err)
		require.Len(t, ws.RequiredPermits, 1)
		assert.Equal(t, repository.PermitDelivered, ws.RequiredPermits[0].Status)
		require.Len(t, ws.Payments, 1)
		assert.Equal(t, repository.PaymentPending, ws.Payments[0].Status)
	})
}
