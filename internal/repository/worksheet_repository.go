package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-customs-aforo/pkg/database"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
)

// WorksheetRepository reads the worksheets table. Worksheets are maintained
// by the document subsystem; this service only reads them.
type WorksheetRepository struct {
	db *database.DB
}

// NewWorksheetRepository creates a new worksheet repository
func NewWorksheetRepository(db *database.DB) *WorksheetRepository {
	return &WorksheetRepository{db: db}
}

// GetWorksheet retrieves the worksheet paired with a case.
func (r *WorksheetRepository) GetWorksheet(ctx context.Context, ne string) (*Worksheet, error) {
	query := `
		SELECT ne, worksheet_type, documents, required_permits, payments
		FROM worksheets
		WHERE ne = $1
	`

	ws := &Worksheet{}
	var documents, permits, payments []byte
	err := r.db.QueryRow(ctx, query, NormalizeNE(ne)).Scan(
		&ws.NE,
		&ws.WorksheetType,
		&documents,
		&permits,
		&payments,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("worksheet", ne)
	}
	if err != nil {
		return nil, classifyStoreError(err, "failed to get worksheet")
	}

	if err := unmarshalList(documents, &ws.Documents); err != nil {
		return nil, err
	}
	if err := unmarshalList(permits, &ws.RequiredPermits); err != nil {
		return nil, err
	}
	if err := unmarshalList(payments, &ws.Payments); err != nil {
		return nil, err
	}
	return ws, nil
}

func unmarshalList(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to decode worksheet")
	}
	return nil
}
