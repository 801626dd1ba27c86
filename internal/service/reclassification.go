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

// ActionReclassify is the privileged action checked by the Authorizer.
const ActionReclassify = "case.reclassify"

// Authorizer decides whether an actor holding roles may perform action.
type Authorizer interface {
	Authorize(actor string, roles []string, action string) error
}

// RoleAuthorizer grants privileged actions to holders of any configured role.
type RoleAuthorizer struct {
	privileged map[string]struct{}
}

// NewRoleAuthorizer creates an authorizer over the given privileged roles.
// Role names are compared case-insensitively.
func NewRoleAuthorizer(roles []string) *RoleAuthorizer {
	a := &RoleAuthorizer{privileged: make(map[string]struct{}, len(roles))}
	for _, r := range roles {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			a.privileged[r] = struct{}{}
		}
	}
	return a
}

// Authorize implements Authorizer.
func (a *RoleAuthorizer) Authorize(actor string, roles []string, action string) error {
	if strings.TrimSpace(actor) == "" {
		return errors.New(errors.ErrCodeUnauthorized, "an authenticated actor is required")
	}
	for _, r := range roles {
		if _, ok := a.privileged[strings.ToLower(strings.TrimSpace(r))]; ok {
			return nil
		}
	}
	return errors.New(errors.ErrCodeUnauthorized, fmt.Sprintf("%s requires a privileged role", action))
}

// ReclassifyRequest changes a case's type outside the normal workflow.
type ReclassifyRequest struct {
	NE          string   `json:"ne" validate:"required"`
	NewCaseType string   `json:"newCaseType" validate:"required"`
	Reason      string   `json:"reason" validate:"required"`
	Actor       string   `json:"-"`
	Roles       []string `json:"-"`
}

// Reclassifier performs privileged, audited reclassification.
type Reclassifier struct {
	writer
	authorizer Authorizer
}

// NewReclassifier creates a new Reclassifier.
func NewReclassifier(
	store repository.Store,
	authorizer Authorizer,
	publisher events.Publisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *Reclassifier {
	return &Reclassifier{
		writer:     newWriter(store, publisher, m, log),
		authorizer: authorizer,
	}
}

// WithClock replaces the time source.
func (r *Reclassifier) WithClock(clock Clock) *Reclassifier {
	r.clock = clock
	return r
}

// ReclassifyCase writes the new case type with an audit entry tagged
// "reclassification" carrying the reason as its comment.
func (r *Reclassifier) ReclassifyCase(ctx context.Context, req ReclassifyRequest) (*MutationResult, error) {
	if err := r.authorizer.Authorize(req.Actor, req.Roles, ActionReclassify); err != nil {
		r.log.Warn().
			Str("ne", req.NE).
			Str("actor", req.Actor).
			Strs("roles", req.Roles).
			Msg("Reclassification refused")
		return nil, err
	}
	if strings.TrimSpace(req.NE) == "" {
		return nil, errors.InvalidInput("ne", "is required")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, errors.InvalidInput("reason", "reclassification reason is required")
	}
	caseType := strings.TrimSpace(req.NewCaseType)
	if caseType == "" {
		return nil, errors.InvalidInput("newCaseType", "is required")
	}

	current, err := r.store.GetByNE(ctx, req.NE)
	if err != nil {
		return nil, r.fail(ctx, OpReclassify, req.Actor, []string{req.NE}, err)
	}

	field := repository.FieldCaseType
	result := &MutationResult{NE: current.NE, Field: field.String()}
	if current.CaseType == caseType {
		r.metrics.Mutation(field.String(), metrics.OutcomeUnchanged)
		result.Outcome = OutcomeUnchanged
		return result, nil
	}

	changes := []repository.FieldChange{{Field: field, Value: caseType}}
	entries, err := r.applyChanges(ctx, OpReclassify, req.Actor, current, changes, &reason, nil)
	if err != nil {
		r.metrics.Mutation(field.String(), metrics.OutcomeFailed)
		return nil, err
	}

	r.metrics.Mutation(field.String(), metrics.OutcomeApplied)
	r.log.Warn().
		Str("ne", current.NE).
		Str("actor", req.Actor).
		Str("from", current.CaseType).
		Str("to", caseType).
		Str("reason", reason).
		Msg("Case reclassified")

	result.Outcome = OutcomeApplied
	result.Entries = entries
	return result, nil
}
