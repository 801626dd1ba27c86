package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-customs-aforo/pkg/database"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
)

// CaseRepository reads and writes the cases table.
type CaseRepository struct {
	db *database.DB
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *database.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

const caseColumns = `
	ne, case_type, consignee, executive,
	aforador_status, aforador_status_updated_by, aforador_status_updated_at,
	revisor_status, revisor_status_updated_by, revisor_status_updated_at,
	preliquidation_status, preliquidation_status_updated_by, preliquidation_status_updated_at,
	digitacion_status, digitacion_status_updated_by, digitacion_status_updated_at,
	incident_status, incident_status_updated_by, incident_status_updated_at,
	facturacion_status, facturacion_status_updated_by, facturacion_status_updated_at,
	aforador, aforador_updated_by, aforador_updated_at,
	revisor_assigned, revisor_assigned_updated_by, revisor_assigned_updated_at,
	digitador_assigned, digitador_assigned_updated_by, digitador_assigned_updated_at,
	has_value_doubt, value_doubt_status, incident_reported,
	declaration_number, total_positions, involved_users,
	prior_exam_id, prior_exam_status,
	aforador_comment, revisor_comment, digitacion_comment, facturacion_comment, incident_comment,
	worksheet_received_at, archived, created_at, created_by`

// GetByNE retrieves a case. ne is normalised before the lookup, matching
// how cases are stored.
func (r *CaseRepository) GetByNE(ctx context.Context, ne string) (*CaseRecord, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE ne = $1`

	rec, err := r.scanCase(r.db.QueryRow(ctx, query, NormalizeNE(ne)))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("case", ne)
	}
	if err != nil {
		return nil, classifyStoreError(err, "failed to get case")
	}
	return rec, nil
}

// List retrieves cases matching the filter, newest first.
func (r *CaseRepository) List(ctx context.Context, filter CaseFilter) ([]*CaseRecord, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE 1 = 1`
	args := []any{}
	argCount := 1

	if !filter.IncludeArchived {
		query += " AND archived = FALSE"
	}
	for _, cond := range filter.Equals {
		if !cond.Field.Valid() {
			return nil, errors.InvalidInput("filter", "unknown field")
		}
		query += fmt.Sprintf(" AND %s IS NOT DISTINCT FROM $%d", cond.Field.Column(), argCount)
		args = append(args, columnArg(cond.Value))
		argCount++
	}
	if filter.Assignee != "" {
		query += fmt.Sprintf(" AND (aforador = $%d OR revisor_assigned = $%d OR digitador_assigned = $%d)", argCount, argCount, argCount)
		args = append(args, filter.Assignee)
		argCount++
	}
	if filter.InvolvedUser != "" {
		query += fmt.Sprintf(" AND $%d = ANY(involved_users)", argCount)
		args = append(args, filter.InvolvedUser)
		argCount++
	}

	query += " ORDER BY created_at DESC, ne"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyStoreError(err, "failed to list cases")
	}
	defer rows.Close()

	cases := make([]*CaseRecord, 0)
	for rows.Next() {
		rec, err := r.scanCase(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan case")
		}
		cases = append(cases, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError(err, "failed to list cases")
	}
	return cases, nil
}

func (r *CaseRepository) insert(ctx context.Context, q database.Querier, rec *CaseRecord) error {
	query := `
		INSERT INTO cases (ne, case_type, consignee, executive,
		                   aforador_status, revisor_status, preliquidation_status,
		                   digitacion_status, facturacion_status,
		                   involved_users, prior_exam_id, prior_exam_status,
		                   created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	var priorID, priorStatus *string
	if rec.PriorExam != nil {
		priorID, priorStatus = &rec.PriorExam.ID, &rec.PriorExam.Status
	}

	_, err := q.Exec(ctx, query,
		NormalizeNE(rec.NE),
		rec.CaseType,
		rec.Consignee,
		rec.Executive,
		string(rec.AforadorStatus),
		string(rec.RevisorStatus),
		string(rec.PreliquidationStatus),
		string(rec.DigitacionStatus),
		string(rec.FacturacionStatus),
		rec.InvolvedUsers,
		priorID,
		priorStatus,
		rec.CreatedAt,
		rec.CreatedBy,
	)
	if isUniqueViolation(err) {
		return errors.New(errors.ErrCodeConflict, fmt.Sprintf("case %s already exists", rec.NE))
	}
	if err != nil {
		return classifyStoreError(err, "failed to create case")
	}
	return nil
}

func (r *CaseRepository) update(ctx context.Context, q database.Querier, upd CaseUpdate) error {
	sets := make([]string, 0, len(upd.Changes)*3+1)
	args := []any{NormalizeNE(upd.NE)}
	argCount := 2

	for _, ch := range upd.Changes {
		if !ch.Field.Valid() {
			return errors.InvalidInput("field", "unknown field")
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", ch.Field.Column(), argCount))
		args = append(args, columnArg(ch.Value))
		argCount++

		if ch.Stamp != nil && ch.Field.HasCompanion() {
			byCol, atCol := ch.Field.CompanionColumns()
			sets = append(sets,
				fmt.Sprintf("%s = $%d", byCol, argCount),
				fmt.Sprintf("%s = $%d", atCol, argCount+1))
			args = append(args, ch.Stamp.By, ch.Stamp.At)
			argCount += 2
		}
	}
	if upd.InvolvedUser != "" {
		sets = append(sets, fmt.Sprintf(
			"involved_users = CASE WHEN $%d = ANY(involved_users) THEN involved_users ELSE array_append(involved_users, $%d) END",
			argCount, argCount))
		args = append(args, upd.InvolvedUser)
		argCount++
	}
	if len(sets) == 0 {
		return nil
	}

	where := []string{"ne = $1"}
	for _, exp := range upd.Expect {
		if !exp.Field.Valid() {
			return errors.InvalidInput("field", "unknown field")
		}
		where = append(where, fmt.Sprintf("%s IS NOT DISTINCT FROM $%d", exp.Field.Column(), argCount))
		args = append(args, columnArg(exp.Value))
		argCount++
	}

	query := `UPDATE cases SET ` + strings.Join(sets, ", ") + ` WHERE ` + strings.Join(where, " AND ") + ` RETURNING ne`

	var returned string
	err := q.QueryRow(ctx, query, args...).Scan(&returned)
	if err == pgx.ErrNoRows && len(upd.Expect) > 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cases WHERE ne = $1)`, args[0]).Scan(&exists); err != nil {
			return classifyStoreError(err, "failed to update case")
		}
		if exists {
			return errors.New(errors.ErrCodeConflict, fmt.Sprintf("case %s was modified concurrently", upd.NE))
		}
	}
	if err == pgx.ErrNoRows {
		return errors.NotFound("case", upd.NE)
	}
	if err != nil {
		return classifyStoreError(err, "failed to update case")
	}
	return nil
}

// columnArg converts a normalised value into something pgx can encode.
func columnArg(v any) any {
	switch t := v.(type) {
	case AforadorStatus:
		return string(t)
	case RevisorStatus:
		return string(t)
	case PreliquidationStatus:
		return string(t)
	case DigitacionStatus:
		return string(t)
	case IncidentStatus:
		return string(t)
	case FacturacionStatus:
		return string(t)
	}
	return v
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type caseScanner interface {
	Scan(dest ...any) error
}

type lastUpdateCols struct {
	by *string
	at *time.Time
}

func (l lastUpdateCols) value() *LastUpdate {
	if l.by == nil || l.at == nil {
		return nil
	}
	return &LastUpdate{By: *l.by, At: *l.at}
}

func (r *CaseRepository) scanCase(row caseScanner) (*CaseRecord, error) {
	rec := &CaseRecord{}
	var (
		aforadorStatus, revisorStatus, preliqStatus  string
		digitacionStatus, incidentStatus, factStatus string
		priorID, priorStatus                         *string
		stamps                                       [9]lastUpdateCols
	)

	err := row.Scan(
		&rec.NE, &rec.CaseType, &rec.Consignee, &rec.Executive,
		&aforadorStatus, &stamps[0].by, &stamps[0].at,
		&revisorStatus, &stamps[1].by, &stamps[1].at,
		&preliqStatus, &stamps[2].by, &stamps[2].at,
		&digitacionStatus, &stamps[3].by, &stamps[3].at,
		&incidentStatus, &stamps[4].by, &stamps[4].at,
		&factStatus, &stamps[5].by, &stamps[5].at,
		&rec.Aforador, &stamps[6].by, &stamps[6].at,
		&rec.RevisorAssigned, &stamps[7].by, &stamps[7].at,
		&rec.DigitadorAssigned, &stamps[8].by, &stamps[8].at,
		&rec.HasValueDoubt, &rec.ValueDoubtStatus, &rec.IncidentReported,
		&rec.DeclarationNumber, &rec.TotalPositions, &rec.InvolvedUsers,
		&priorID, &priorStatus,
		&rec.AforadorComment, &rec.RevisorComment, &rec.DigitacionComment, &rec.FacturacionComment, &rec.IncidentComment,
		&rec.WorksheetReceivedAt, &rec.Archived, &rec.CreatedAt, &rec.CreatedBy,
	)
	if err != nil {
		return nil, err
	}

	rec.AforadorStatus = AforadorStatus(aforadorStatus)
	rec.RevisorStatus = RevisorStatus(revisorStatus)
	rec.PreliquidationStatus = PreliquidationStatus(preliqStatus)
	rec.DigitacionStatus = DigitacionStatus(digitacionStatus)
	rec.IncidentStatus = IncidentStatus(incidentStatus)
	rec.FacturacionStatus = FacturacionStatus(factStatus)

	stamped := []Field{
		FieldAforadorStatus, FieldRevisorStatus, FieldPreliquidationStatus,
		FieldDigitacionStatus, FieldIncidentStatus, FieldFacturacionStatus,
		FieldAforador, FieldRevisorAssigned, FieldDigitadorAssigned,
	}
	for i, f := range stamped {
		rec.setLastUpdate(f, stamps[i].value())
	}

	if priorID != nil {
		rec.PriorExam = &PriorExamRef{ID: *priorID}
		if priorStatus != nil {
			rec.PriorExam.Status = *priorStatus
		}
	}
	if rec.WorksheetReceivedAt != nil {
		t := rec.WorksheetReceivedAt.UTC()
		rec.WorksheetReceivedAt = &t
	}
	return rec, nil
}
