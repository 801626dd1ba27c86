package repository

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Field is the closed set of mutable CaseRecord attributes.
type Field int

const (
	FieldAforadorStatus Field = iota + 1
	FieldRevisorStatus
	FieldPreliquidationStatus
	FieldDigitacionStatus
	FieldIncidentStatus
	FieldFacturacionStatus
	FieldAforador
	FieldRevisorAssigned
	FieldDigitadorAssigned
	FieldTotalPositions
	FieldDeclarationNumber
	FieldHasValueDoubt
	FieldValueDoubtStatus
	FieldIncidentReported
	FieldAforadorComment
	FieldRevisorComment
	FieldDigitacionComment
	FieldFacturacionComment
	FieldIncidentComment
	FieldConsignee
	FieldWorksheetReceivedAt
	FieldArchived
	FieldCaseType

	fieldCount
)

// ValueKind describes the Go type a field holds once normalised.
type ValueKind int

const (
	KindStatus       ValueKind = iota + 1 // field-specific string enum
	KindActor                             // string, trimmed
	KindText                              // string
	KindOptionalText                      // *string, empty -> nil
	KindOptionalInt                       // *int, non-negative
	KindBool                              // bool
	KindTimestamp                         // *time.Time, UTC
)

type fieldSpec struct {
	name       string
	auditName  string
	column     string
	kind       ValueKind
	companion  bool
	allowed    []string
	ownedBy    string
}

var fieldSpecs = [fieldCount]fieldSpec{
	FieldAforadorStatus: {name: "aforadorStatus", column: "aforador_status", kind: KindStatus, companion: true,
		allowed: []string{string(AforadorPending), string(AforadorInProgress), string(AforadorIncomplete), string(AforadorUnderReview)}},
	FieldRevisorStatus: {name: "revisorStatus", column: "revisor_status", kind: KindStatus, companion: true,
		allowed: []string{string(RevisorPending), string(RevisorApproved), string(RevisorRejected), string(RevisorRevalidationRequested)}},
	FieldPreliquidationStatus: {name: "preliquidationStatus", column: "preliquidation_status", kind: KindStatus, companion: true,
		allowed: []string{string(PreliquidationPending), string(PreliquidationApproved)}},
	FieldDigitacionStatus: {name: "digitacionStatus", column: "digitacion_status", kind: KindStatus, companion: true,
		allowed: []string{string(DigitacionPending), string(DigitacionPendingDigitization), string(DigitacionInProgress), string(DigitacionStored), string(DigitacionComplete)}},
	FieldIncidentStatus: {name: "incidentStatus", column: "incident_status", kind: KindStatus, companion: true,
		allowed: []string{string(IncidentPending), string(IncidentApproved), string(IncidentRejected)}},
	FieldFacturacionStatus: {name: "facturacionStatus", column: "facturacion_status", kind: KindStatus, companion: true,
		allowed: []string{string(FacturacionPending), string(FacturacionSentToBilling), string(FacturacionBilled)}},
	FieldAforador:            {name: "aforador", column: "aforador", kind: KindActor, companion: true},
	FieldRevisorAssigned:     {name: "revisorAssigned", column: "revisor_assigned", kind: KindActor, companion: true},
	FieldDigitadorAssigned:   {name: "digitadorAssigned", column: "digitador_assigned", kind: KindActor, companion: true},
	FieldTotalPositions:      {name: "totalPositions", column: "total_positions", kind: KindOptionalInt},
	FieldDeclarationNumber:   {name: "declarationNumber", column: "declaration_number", kind: KindOptionalText},
	FieldHasValueDoubt:       {name: "hasValueDoubt", column: "has_value_doubt", kind: KindBool},
	FieldValueDoubtStatus:    {name: "valueDoubtStatus", column: "value_doubt_status", kind: KindText},
	FieldIncidentReported:    {name: "incidentReported", column: "incident_reported", kind: KindBool},
	FieldAforadorComment:     {name: "aforadorComment", column: "aforador_comment", kind: KindText},
	FieldRevisorComment:      {name: "revisorComment", column: "revisor_comment", kind: KindText},
	FieldDigitacionComment:   {name: "digitacionComment", column: "digitacion_comment", kind: KindText},
	FieldFacturacionComment:  {name: "facturacionComment", column: "facturacion_comment", kind: KindText},
	FieldIncidentComment:     {name: "incidentComment", column: "incident_comment", kind: KindText},
	FieldConsignee:           {name: "consignee", column: "consignee", kind: KindText},
	FieldWorksheetReceivedAt: {name: "worksheetReceivedAt", column: "worksheet_received_at", kind: KindTimestamp, ownedBy: "receipt acknowledgement"},
	FieldArchived:            {name: "archived", column: "archived", kind: KindBool},
	FieldCaseType: {name: "caseType", auditName: AuditTagReclassification, column: "case_type", kind: KindText,
		ownedBy: AuditTagReclassification},
}

// AllFields lists every mutable field in declaration order.
func AllFields() []Field {
	out := make([]Field, 0, fieldCount-1)
	for f := FieldAforadorStatus; f < fieldCount; f++ {
		out = append(out, f)
	}
	return out
}

// ParseField resolves a wire name such as "revisorStatus".
func ParseField(name string) (Field, error) {
	for f := FieldAforadorStatus; f < fieldCount; f++ {
		if fieldSpecs[f].name == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown field %q", name)
}

// Valid reports whether f is a declared field.
func (f Field) Valid() bool { return f > 0 && f < fieldCount }

func (f Field) spec() fieldSpec {
	if !f.Valid() {
		return fieldSpec{name: "field(" + strconv.Itoa(int(f)) + ")"}
	}
	return fieldSpecs[f]
}

func (f Field) String() string { return f.spec().name }

// AuditName is the value written to AuditEntry.Field for this field.
func (f Field) AuditName() string {
	if s := f.spec(); s.auditName != "" {
		return s.auditName
	}
	return f.spec().name
}

// Column is the Postgres column backing the field.
func (f Field) Column() string { return f.spec().column }

// Kind returns the value kind.
func (f Field) Kind() ValueKind { return f.spec().kind }

// HasCompanion reports whether writes also stamp a LastUpdate companion.
func (f Field) HasCompanion() bool { return f.spec().companion }

// CompanionColumns returns the "updated by" and "updated at" columns.
func (f Field) CompanionColumns() (by, at string) {
	c := f.spec().column
	return c + "_updated_by", c + "_updated_at"
}

// Privileged reports whether the field is only writable through a dedicated
// operation rather than ApplyMutation or ApplyBulkMutation.
func (f Field) Privileged() bool { return f.spec().ownedBy != "" }

// OwnedBy names the operation that writes a privileged field.
func (f Field) OwnedBy() string { return f.spec().ownedBy }

// AllowedValues lists the legal enum values of a status field.
func (f Field) AllowedValues() []string { return f.spec().allowed }

// MarshalText encodes the wire name.
func (f Field) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid field %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText decodes a wire name.
func (f *Field) UnmarshalText(b []byte) error {
	parsed, err := ParseField(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ── Values ────────────────────────────────────────────────────────────────────

// NormalizeValue converts a caller-supplied value (often decoded from JSON)
// into the canonical Go type for the field and checks enum legality.
func NormalizeValue(f Field, v any) (any, error) {
	switch f.Kind() {
	case KindStatus:
		s, ok := asString(v)
		if !ok {
			return nil, fmt.Errorf("%s expects a status string, got %T", f, v)
		}
		if !contains(f.AllowedValues(), s) {
			return nil, fmt.Errorf("%q is not a legal %s (allowed: %s)", s, f, strings.Join(f.AllowedValues(), ", "))
		}
		return statusValue(f, s), nil

	case KindActor:
		s, ok := asString(v)
		if !ok {
			return nil, fmt.Errorf("%s expects an actor id, got %T", f, v)
		}
		return strings.TrimSpace(s), nil

	case KindText:
		s, ok := asString(v)
		if !ok {
			return nil, fmt.Errorf("%s expects text, got %T", f, v)
		}
		return s, nil

	case KindOptionalText:
		switch t := v.(type) {
		case nil:
			return (*string)(nil), nil
		case *string:
			if t == nil || strings.TrimSpace(*t) == "" {
				return (*string)(nil), nil
			}
			s := strings.TrimSpace(*t)
			return &s, nil
		case string:
			if strings.TrimSpace(t) == "" {
				return (*string)(nil), nil
			}
			s := strings.TrimSpace(t)
			return &s, nil
		}
		return nil, fmt.Errorf("%s expects text or null, got %T", f, v)

	case KindOptionalInt:
		n, isNil, err := asOptionalInt(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		if isNil {
			return (*int)(nil), nil
		}
		if n < 0 {
			return nil, fmt.Errorf("%s must not be negative", f)
		}
		// stored as INTEGER
		if n > math.MaxInt32 {
			return nil, fmt.Errorf("%s must not exceed %d", f, math.MaxInt32)
		}
		return &n, nil

	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%s expects a boolean, got %T", f, v)
		}
		return b, nil

	case KindTimestamp:
		switch t := v.(type) {
		case nil:
			return (*time.Time)(nil), nil
		case time.Time:
			u := t.Round(0).UTC()
			return &u, nil
		case *time.Time:
			if t == nil {
				return (*time.Time)(nil), nil
			}
			u := t.Round(0).UTC()
			return &u, nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, fmt.Errorf("%s expects an RFC3339 timestamp: %w", f, err)
			}
			u := parsed.UTC()
			return &u, nil
		}
		return nil, fmt.Errorf("%s expects a timestamp, got %T", f, v)
	}
	return nil, fmt.Errorf("unknown field %s", f)
}

// ValuesEqual compares two normalised values.
func ValuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// EncodeValue serialises a normalised value for the audit trail.
func EncodeValue(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// Value returns the current normalised value of f.
func (c *CaseRecord) Value(f Field) any {
	switch f {
	case FieldAforadorStatus:
		return c.AforadorStatus
	case FieldRevisorStatus:
		return c.RevisorStatus
	case FieldPreliquidationStatus:
		return c.PreliquidationStatus
	case FieldDigitacionStatus:
		return c.DigitacionStatus
	case FieldIncidentStatus:
		return c.IncidentStatus
	case FieldFacturacionStatus:
		return c.FacturacionStatus
	case FieldAforador:
		return c.Aforador
	case FieldRevisorAssigned:
		return c.RevisorAssigned
	case FieldDigitadorAssigned:
		return c.DigitadorAssigned
	case FieldTotalPositions:
		if c.TotalPositions == nil {
			return (*int)(nil)
		}
		v := *c.TotalPositions
		return &v
	case FieldDeclarationNumber:
		if c.DeclarationNumber == nil {
			return (*string)(nil)
		}
		v := *c.DeclarationNumber
		return &v
	case FieldHasValueDoubt:
		return c.HasValueDoubt
	case FieldValueDoubtStatus:
		return c.ValueDoubtStatus
	case FieldIncidentReported:
		return c.IncidentReported
	case FieldAforadorComment:
		return c.AforadorComment
	case FieldRevisorComment:
		return c.RevisorComment
	case FieldDigitacionComment:
		return c.DigitacionComment
	case FieldFacturacionComment:
		return c.FacturacionComment
	case FieldIncidentComment:
		return c.IncidentComment
	case FieldConsignee:
		return c.Consignee
	case FieldWorksheetReceivedAt:
		if c.WorksheetReceivedAt == nil {
			return (*time.Time)(nil)
		}
		v := *c.WorksheetReceivedAt
		return &v
	case FieldArchived:
		return c.Archived
	case FieldCaseType:
		return c.CaseType
	}
	return nil
}

// SetValue writes a normalised value. A value of the wrong type is an error.
func (c *CaseRecord) SetValue(f Field, v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cannot assign %T to %s", v, f)
		}
	}()

	switch f {
	case FieldAforadorStatus:
		c.AforadorStatus = v.(AforadorStatus)
	case FieldRevisorStatus:
		c.RevisorStatus = v.(RevisorStatus)
	case FieldPreliquidationStatus:
		c.PreliquidationStatus = v.(PreliquidationStatus)
	case FieldDigitacionStatus:
		c.DigitacionStatus = v.(DigitacionStatus)
	case FieldIncidentStatus:
		c.IncidentStatus = v.(IncidentStatus)
	case FieldFacturacionStatus:
		c.FacturacionStatus = v.(FacturacionStatus)
	case FieldAforador:
		c.Aforador = v.(string)
	case FieldRevisorAssigned:
		c.RevisorAssigned = v.(string)
	case FieldDigitadorAssigned:
		c.DigitadorAssigned = v.(string)
	case FieldTotalPositions:
		c.TotalPositions = v.(*int)
	case FieldDeclarationNumber:
		c.DeclarationNumber = v.(*string)
	case FieldHasValueDoubt:
		c.HasValueDoubt = v.(bool)
	case FieldValueDoubtStatus:
		c.ValueDoubtStatus = v.(string)
	case FieldIncidentReported:
		c.IncidentReported = v.(bool)
	case FieldAforadorComment:
		c.AforadorComment = v.(string)
	case FieldRevisorComment:
		c.RevisorComment = v.(string)
	case FieldDigitacionComment:
		c.DigitacionComment = v.(string)
	case FieldFacturacionComment:
		c.FacturacionComment = v.(string)
	case FieldIncidentComment:
		c.IncidentComment = v.(string)
	case FieldConsignee:
		c.Consignee = v.(string)
	case FieldWorksheetReceivedAt:
		c.WorksheetReceivedAt = v.(*time.Time)
	case FieldArchived:
		c.Archived = v.(bool)
	case FieldCaseType:
		c.CaseType = v.(string)
	default:
		return fmt.Errorf("unknown field %s", f)
	}
	return nil
}

// LastUpdateOf returns the companion stamp of f, or nil.
func (c *CaseRecord) LastUpdateOf(f Field) *LastUpdate {
	switch f {
	case FieldAforadorStatus:
		return c.AforadorStatusLastUpdate
	case FieldRevisorStatus:
		return c.RevisorStatusLastUpdate
	case FieldPreliquidationStatus:
		return c.PreliquidationStatusLastUpdate
	case FieldDigitacionStatus:
		return c.DigitacionStatusLastUpdate
	case FieldIncidentStatus:
		return c.IncidentStatusLastUpdate
	case FieldFacturacionStatus:
		return c.FacturacionStatusLastUpdate
	case FieldAforador:
		return c.AforadorLastUpdate
	case FieldRevisorAssigned:
		return c.RevisorAssignedLastUpdate
	case FieldDigitadorAssigned:
		return c.DigitadorAssignedLastUpdate
	}
	return nil
}

func (c *CaseRecord) setLastUpdate(f Field, lu *LastUpdate) {
	switch f {
	case FieldAforadorStatus:
		c.AforadorStatusLastUpdate = lu
	case FieldRevisorStatus:
		c.RevisorStatusLastUpdate = lu
	case FieldPreliquidationStatus:
		c.PreliquidationStatusLastUpdate = lu
	case FieldDigitacionStatus:
		c.DigitacionStatusLastUpdate = lu
	case FieldIncidentStatus:
		c.IncidentStatusLastUpdate = lu
	case FieldFacturacionStatus:
		c.FacturacionStatusLastUpdate = lu
	case FieldAforador:
		c.AforadorLastUpdate = lu
	case FieldRevisorAssigned:
		c.RevisorAssignedLastUpdate = lu
	case FieldDigitadorAssigned:
		c.DigitadorAssignedLastUpdate = lu
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

func statusValue(f Field, s string) any {
	switch f {
	case FieldAforadorStatus:
		return AforadorStatus(s)
	case FieldRevisorStatus:
		return RevisorStatus(s)
	case FieldPreliquidationStatus:
		return PreliquidationStatus(s)
	case FieldDigitacionStatus:
		return DigitacionStatus(s)
	case FieldIncidentStatus:
		return IncidentStatus(s)
	case FieldFacturacionStatus:
		return FacturacionStatus(s)
	}
	return s
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case AforadorStatus:
		return string(t), true
	case RevisorStatus:
		return string(t), true
	case PreliquidationStatus:
		return string(t), true
	case DigitacionStatus:
		return string(t), true
	case IncidentStatus:
		return string(t), true
	case FacturacionStatus:
		return string(t), true
	}
	return "", false
}

func asOptionalInt(v any) (n int, isNil bool, err error) {
	switch t := v.(type) {
	case nil:
		return 0, true, nil
	case *int:
		if t == nil {
			return 0, true, nil
		}
		return *t, false, nil
	case int:
		return t, false, nil
	case int32:
		return int(t), false, nil
	case int64:
		return int(t), false, nil
	case float64:
		if t != math.Trunc(t) {
			return 0, false, fmt.Errorf("expects a whole number, got %v", t)
		}
		if math.Abs(t) > math.MaxInt32 {
			return 0, false, fmt.Errorf("%v is out of range", t)
		}
		return int(t), false, nil
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, false, fmt.Errorf("expects a whole number: %w", err)
		}
		return int(i), false, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return 0, true, nil
		}
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false, fmt.Errorf("expects a whole number: %w", err)
		}
		return i, false, nil
	}
	return 0, false, fmt.Errorf("expects a number, got %T", v)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
