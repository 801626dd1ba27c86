package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-customs-aforo/internal/events"
	"github.com/pesio-ai/be-customs-aforo/internal/repository"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
	"github.com/pesio-ai/be-customs-aforo/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// CaseService handles the case lifecycle outside field mutations: opening a
// case and the read paths.
type CaseService struct {
	writer
	reader repository.CaseStore
}

// NewCaseService creates a new case service. reader serves GetCase and may be
// a read-model cache in front of store.
func NewCaseService(
	store repository.Store,
	reader repository.CaseStore,
	publisher events.Publisher,
	log *logger.Logger,
) *CaseService {
	if reader == nil {
		reader = store
	}
	return &CaseService{
		writer: newWriter(store, publisher, nil, log),
		reader: reader,
	}
}

// WithClock replaces the time source.
func (s *CaseService) WithClock(clock Clock) *CaseService {
	s.clock = clock
	return s
}

// CreateCaseRequest represents a create case request
type CreateCaseRequest struct {
	NE        string                   `json:"ne" validate:"required,max=64"`
	CaseType  string                   `json:"caseType"`
	Consignee string                   `json:"consignee"`
	Executive string                   `json:"executive"`
	PriorExam *repository.PriorExamRef `json:"priorExam,omitempty"`
	CreatedBy string                   `json:"-"`
}

// ListCasesRequest filters ListCases. Equals values are normalised like
// mutation values.
type ListCasesRequest struct {
	Equals          []Change
	Assignee        string
	InvolvedUser    string
	IncludeArchived bool
	Limit           int
	Offset          int
}

// CreateCase opens a case with every sub-workflow Pending and writes the
// creation audit entry in the same atomic unit.
func (s *CaseService) CreateCase(ctx context.Context, req *CreateCaseRequest) (*repository.CaseRecord, error) {
	ne := repository.NormalizeNE(req.NE)
	if ne == "" {
		return nil, errors.InvalidInput("ne", "is required")
	}
	if strings.TrimSpace(req.CreatedBy) == "" {
		return nil, errors.InvalidInput("actor", "is required")
	}

	now := s.now()
	rec := repository.NewCaseRecord(ne, req.CreatedBy, now)
	rec.CaseType = strings.TrimSpace(req.CaseType)
	rec.Consignee = strings.TrimSpace(req.Consignee)
	rec.Executive = strings.TrimSpace(req.Executive)
	if rec.Executive == "" {
		rec.Executive = req.CreatedBy
	}
	if req.PriorExam != nil && req.PriorExam.ID != "" {
		pe := *req.PriorExam
		rec.PriorExam = &pe
	}

	snapshot, err := json.Marshal(map[string]string{
		"ne":        rec.NE,
		"caseType":  rec.CaseType,
		"consignee": rec.Consignee,
		"executive": rec.Executive,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode case")
	}
	entry := &repository.AuditEntry{
		ID:        uuid.NewString(),
		NE:        rec.NE,
		UpdatedAt: now,
		UpdatedBy: req.CreatedBy,
		Field:     repository.AuditTagCreation,
		OldValue:  json.RawMessage("null"),
		NewValue:  snapshot,
	}

	err = s.commit(ctx, OpCreate, req.CreatedBy, []string{rec.NE}, func(tx repository.CaseTx) error {
		if err := tx.InsertCase(ctx, rec); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishCaseChanged(ctx, events.CaseChanged{
		NE: rec.NE, Fields: []string{repository.AuditTagCreation}, Actor: req.CreatedBy, Op: OpCreate, At: now,
	})
	s.log.Info().
		Str("ne", rec.NE).
		Str("actor", req.CreatedBy).
		Msg("Case created")

	return rec, nil
}

// GetCase retrieves a case by NE.
func (s *CaseService) GetCase(ctx context.Context, ne string) (*repository.CaseRecord, error) {
	if strings.TrimSpace(ne) == "" {
		return nil, errors.InvalidInput("ne", "is required")
	}
	rec, err := s.reader.GetByNE(ctx, ne)
	if err != nil {
		return nil, s.fail(ctx, "get", "", []string{ne}, err)
	}
	return rec, nil
}

// ListCases lists cases matching the request.
func (s *CaseService) ListCases(ctx context.Context, req ListCasesRequest) ([]*repository.CaseRecord, error) {
	filter := repository.CaseFilter{
		Assignee:        strings.TrimSpace(req.Assignee),
		InvolvedUser:    strings.TrimSpace(req.InvolvedUser),
		IncludeArchived: req.IncludeArchived,
		Limit:           req.Limit,
		Offset:          req.Offset,
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	for _, c := range req.Equals {
		v, err := normalize(c)
		if err != nil {
			return nil, err
		}
		filter.Equals = append(filter.Equals, repository.FieldValue{Field: c.Field, Value: v})
	}

	cases, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, s.fail(ctx, "list", "", nil, err)
	}
	return cases, nil
}

// GetAuditTrail returns the case's audit entries ordered by time, then
// insertion.
func (s *CaseService) GetAuditTrail(ctx context.Context, ne string) ([]*repository.AuditEntry, error) {
	rec, err := s.reader.GetByNE(ctx, ne)
	if err != nil {
		return nil, s.fail(ctx, "audit", "", []string{ne}, err)
	}
	entries, err := s.store.ListByNE(ctx, rec.NE)
	if err != nil {
		return nil, s.fail(ctx, "audit", "", []string{rec.NE}, err)
	}
	return entries, nil
}
