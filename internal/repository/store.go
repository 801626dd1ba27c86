package repository

import (
	"context"
	"encoding/json"
	"time"
)

// Semantic audit tags used instead of a field name.
const (
	AuditTagCreation         = "creation"
	AuditTagReclassification = "reclassification"
)

// AuditEntry is one immutable record in a case's bitácora.
type AuditEntry struct {
	ID        string          `json:"id"`
	NE        string          `json:"ne"`
	Seq       int64           `json:"seq"`
	UpdatedAt time.Time       `json:"updatedAt"`
	UpdatedBy string          `json:"updatedBy"`
	Field     string          `json:"field"`
	OldValue  json.RawMessage `json:"oldValue"`
	NewValue  json.RawMessage `json:"newValue"`
	Comment   *string         `json:"comment,omitempty"`
}

// FieldChange is one normalised field write. Stamp is set for fields with a
// LastUpdate companion.
type FieldChange struct {
	Field Field
	Value any
	Stamp *LastUpdate
}

// CaseUpdate is the set of writes to one case inside a unit of work.
// Expect lists values that must still hold at write time; a mismatch fails
// the update with CONFLICT.
type CaseUpdate struct {
	NE           string
	Changes      []FieldChange
	Expect       []FieldValue
	InvolvedUser string
}

// FieldValue is an equality condition used by CaseFilter.
type FieldValue struct {
	Field Field
	Value any
}

// CaseFilter selects cases for listing. Conditions are ANDed.
type CaseFilter struct {
	Equals          []FieldValue
	Assignee        string // matches aforador, revisorAssigned or digitadorAssigned
	InvolvedUser    string
	IncludeArchived bool
	Limit           int
	Offset          int
}

// Matches evaluates the filter against an in-memory record. Equals values
// must already be normalised.
func (f CaseFilter) Matches(c *CaseRecord) bool {
	if !f.IncludeArchived && c.Archived {
		return false
	}
	for _, cond := range f.Equals {
		if !ValuesEqual(c.Value(cond.Field), cond.Value) {
			return false
		}
	}
	if f.Assignee != "" && c.Aforador != f.Assignee && c.RevisorAssigned != f.Assignee && c.DigitadorAssigned != f.Assignee {
		return false
	}
	if f.InvolvedUser != "" && !contains(c.InvolvedUsers, f.InvolvedUser) {
		return false
	}
	return true
}

// CaseStore reads case records. Reads are not transactional.
type CaseStore interface {
	GetByNE(ctx context.Context, ne string) (*CaseRecord, error)
	List(ctx context.Context, filter CaseFilter) ([]*CaseRecord, error)
}

// AuditLog reads a case's audit trail ordered by UpdatedAt, then insertion.
type AuditLog interface {
	ListByNE(ctx context.Context, ne string) ([]*AuditEntry, error)
}

// CaseTx is the write side of one atomic unit. Every write issued through it
// lands together or not at all.
type CaseTx interface {
	InsertCase(ctx context.Context, rec *CaseRecord) error
	UpdateCase(ctx context.Context, upd CaseUpdate) error
	AppendAudit(ctx context.Context, entry *AuditEntry) error
}

// UnitOfWork opens atomic units.
type UnitOfWork interface {
	InTransaction(ctx context.Context, fn func(tx CaseTx) error) error
}

// Store is the full persistence contract of the workflow engine.
type Store interface {
	CaseStore
	AuditLog
	UnitOfWork
}

// WorksheetReader fetches the worksheet paired with a case.
type WorksheetReader interface {
	GetWorksheet(ctx context.Context, ne string) (*Worksheet, error)
}
