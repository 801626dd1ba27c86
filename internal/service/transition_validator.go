package service

import (
	"fmt"
	"strings"

	"github.com/pesio-ai/be-customs-aforo/internal/repository"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
)

// Change is a caller-supplied field write before normalisation.
type Change struct {
	Field repository.Field `json:"field"`
	Value any              `json:"value"`
}

// Verdict is the validator's decision for a proposed mutation.
type Verdict int

const (
	VerdictOK Verdict = iota + 1
	VerdictUnchanged
	VerdictRejected
)

// Plan is a validated mutation: the normalised writes that actually change
// something, primary field first when it changes.
type Plan struct {
	Verdict Verdict
	Reason  string
	Changes []repository.FieldChange
}

// Rejection reasons shown to the actor.
const (
	ReasonPositionsRequired   = "enter total positions before marking the case UnderReview"
	ReasonDeclarationRequired = "enter the declaration number before completing digitization"
	ReasonRevisorNotApproved  = "preliquidation can only be approved after the revisor approves"
)

// TransitionValidator holds the legal-state rules per sub-workflow.
// It is pure: no I/O and no clock.
type TransitionValidator struct{}

// NewTransitionValidator creates a TransitionValidator.
func NewTransitionValidator() *TransitionValidator {
	return &TransitionValidator{}
}

// Validate checks a single normalised value against the record it would be
// written to. current must already reflect any companion values supplied
// in the same mutation.
func (v *TransitionValidator) Validate(current *repository.CaseRecord, field repository.Field, value any) (ok bool, reason string) {
	switch field {
	case repository.FieldAforadorStatus:
		if value == repository.AforadorUnderReview && (current.TotalPositions == nil || *current.TotalPositions <= 0) {
			return false, ReasonPositionsRequired
		}
	case repository.FieldDigitacionStatus:
		if value == repository.DigitacionComplete &&
			(current.DeclarationNumber == nil || strings.TrimSpace(*current.DeclarationNumber) == "") {
			return false, ReasonDeclarationRequired
		}
	case repository.FieldPreliquidationStatus:
		if value == repository.PreliquidationApproved && current.RevisorStatus != repository.RevisorApproved {
			return false, ReasonRevisorNotApproved
		}
	}
	return true, ""
}

// Plan normalises primary and its companions, suppresses no-ops and runs the
// rules against the state the record would have after every write lands.
// The plan is VerdictUnchanged only when primary and every companion already
// hold; otherwise the companions that differ are written even if primary
// does not. Malformed input (unknown field, wrong value type) is an error; a
// failed precondition is a VerdictRejected plan.
func (v *TransitionValidator) Plan(current *repository.CaseRecord, primary Change, with []Change) (*Plan, error) {
	value, err := normalize(primary)
	if err != nil {
		return nil, err
	}

	changes := make([]repository.FieldChange, 0, len(with)+1)
	if !repository.ValuesEqual(current.Value(primary.Field), value) {
		changes = append(changes, repository.FieldChange{Field: primary.Field, Value: value})
	}
	seen := map[repository.Field]bool{primary.Field: true}
	for _, c := range with {
		if seen[c.Field] {
			return nil, errors.InvalidInput("with", fmt.Sprintf("%s is supplied more than once", c.Field))
		}
		seen[c.Field] = true

		cv, err := normalize(c)
		if err != nil {
			return nil, err
		}
		if repository.ValuesEqual(current.Value(c.Field), cv) {
			continue
		}
		changes = append(changes, repository.FieldChange{Field: c.Field, Value: cv})
	}
	if len(changes) == 0 {
		return &Plan{Verdict: VerdictUnchanged}, nil
	}

	projected := current.Clone()
	for _, c := range changes {
		if err := projected.SetValue(c.Field, c.Value); err != nil {
			return nil, errors.InvalidInput(c.Field.String(), err.Error())
		}
	}
	// primary is checked even when it already holds: a companion may remove
	// what it depends on.
	if ok, reason := v.Validate(projected, primary.Field, value); !ok {
		return &Plan{Verdict: VerdictRejected, Reason: reason}, nil
	}
	for _, c := range changes {
		if ok, reason := v.Validate(projected, c.Field, c.Value); !ok {
			return &Plan{Verdict: VerdictRejected, Reason: reason}, nil
		}
	}
	return &Plan{Verdict: VerdictOK, Changes: changes}, nil
}

func normalize(c Change) (any, error) {
	if !c.Field.Valid() {
		return nil, errors.InvalidInput("field", "unknown field")
	}
	v, err := repository.NormalizeValue(c.Field, c.Value)
	if err != nil {
		return nil, errors.InvalidInput(c.Field.String(), err.Error())
	}
	return v, nil
}
