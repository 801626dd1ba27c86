package repository

import (
	"strings"
	"time"
)

// ── Sub-workflow status enums ─────────────────────────────────────────────────

// AforadorStatus is the appraisal stage status.
type AforadorStatus string

const (
	AforadorPending     AforadorStatus = "Pending"
	AforadorInProgress  AforadorStatus = "InProgress"
	AforadorIncomplete  AforadorStatus = "Incomplete"
	AforadorUnderReview AforadorStatus = "UnderReview"
)

// RevisorStatus is the review stage status.
type RevisorStatus string

const (
	RevisorPending               RevisorStatus = "Pending"
	RevisorApproved              RevisorStatus = "Approved"
	RevisorRejected              RevisorStatus = "Rejected"
	RevisorRevalidationRequested RevisorStatus = "RevalidationRequested"
)

// PreliquidationStatus is the pre-liquidation confirmation status.
type PreliquidationStatus string

const (
	PreliquidationPending  PreliquidationStatus = "Pending"
	PreliquidationApproved PreliquidationStatus = "Approved"
)

// DigitacionStatus is the data-entry stage status.
type DigitacionStatus string

const (
	DigitacionPending             DigitacionStatus = "Pending"
	DigitacionPendingDigitization DigitacionStatus = "PendingDigitization"
	DigitacionInProgress          DigitacionStatus = "InProgress"
	DigitacionStored              DigitacionStatus = "Stored"
	DigitacionComplete            DigitacionStatus = "Complete"
)

// IncidentStatus is empty until an incident is reported.
type IncidentStatus string

const (
	IncidentPending  IncidentStatus = "Pending"
	IncidentApproved IncidentStatus = "Approved"
	IncidentRejected IncidentStatus = "Rejected"
)

// FacturacionStatus is the billing stage status.
type FacturacionStatus string

const (
	FacturacionPending       FacturacionStatus = "Pending"
	FacturacionSentToBilling FacturacionStatus = "SentToBilling"
	FacturacionBilled        FacturacionStatus = "Billed"
)

// PriorExamComplete is the terminal prior-exam status.
const PriorExamComplete = "complete"

// ── Case record ───────────────────────────────────────────────────────────────

// LastUpdate records who last wrote a status or assignment field, and when.
type LastUpdate struct {
	By string    `json:"by"`
	At time.Time `json:"at"`
}

// PriorExamRef points at a prior physical examination of the goods.
type PriorExamRef struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CaseRecord is one customs case, keyed by its NE.
type CaseRecord struct {
	NE        string `json:"ne"`
	CaseType  string `json:"caseType"`
	Consignee string `json:"consignee"`
	Executive string `json:"executive"`

	AforadorStatus                 AforadorStatus       `json:"aforadorStatus"`
	AforadorStatusLastUpdate       *LastUpdate          `json:"aforadorStatusLastUpdate,omitempty"`
	RevisorStatus                  RevisorStatus        `json:"revisorStatus"`
	RevisorStatusLastUpdate        *LastUpdate          `json:"revisorStatusLastUpdate,omitempty"`
	PreliquidationStatus           PreliquidationStatus `json:"preliquidationStatus"`
	PreliquidationStatusLastUpdate *LastUpdate          `json:"preliquidationStatusLastUpdate,omitempty"`
	DigitacionStatus               DigitacionStatus     `json:"digitacionStatus"`
	DigitacionStatusLastUpdate     *LastUpdate          `json:"digitacionStatusLastUpdate,omitempty"`
	IncidentStatus                 IncidentStatus       `json:"incidentStatus,omitempty"`
	IncidentStatusLastUpdate       *LastUpdate          `json:"incidentStatusLastUpdate,omitempty"`
	FacturacionStatus              FacturacionStatus    `json:"facturacionStatus"`
	FacturacionStatusLastUpdate    *LastUpdate          `json:"facturacionStatusLastUpdate,omitempty"`

	Aforador                    string      `json:"aforador"`
	AforadorLastUpdate          *LastUpdate `json:"aforadorLastUpdate,omitempty"`
	RevisorAssigned             string      `json:"revisorAssigned"`
	RevisorAssignedLastUpdate   *LastUpdate `json:"revisorAssignedLastUpdate,omitempty"`
	DigitadorAssigned           string      `json:"digitadorAssigned"`
	DigitadorAssignedLastUpdate *LastUpdate `json:"digitadorAssignedLastUpdate,omitempty"`

	HasValueDoubt     bool          `json:"hasValueDoubt"`
	ValueDoubtStatus  string        `json:"valueDoubtStatus,omitempty"`
	IncidentReported  bool          `json:"incidentReported"`
	DeclarationNumber *string       `json:"declarationNumber"`
	TotalPositions    *int          `json:"totalPositions"`
	InvolvedUsers     []string      `json:"involvedUsers"`
	PriorExam         *PriorExamRef `json:"priorExam,omitempty"`

	AforadorComment    string `json:"aforadorComment,omitempty"`
	RevisorComment     string `json:"revisorComment,omitempty"`
	DigitacionComment  string `json:"digitacionComment,omitempty"`
	FacturacionComment string `json:"facturacionComment,omitempty"`
	IncidentComment    string `json:"incidentComment,omitempty"`

	WorksheetReceivedAt *time.Time `json:"worksheetReceivedAt,omitempty"`
	Archived            bool       `json:"archived"`
	CreatedAt           time.Time  `json:"createdAt"`
	CreatedBy           string     `json:"createdBy"`
}

// NormalizeNE canonicalises a tracking number for storage and lookup.
func NormalizeNE(ne string) string {
	return strings.ToUpper(strings.TrimSpace(ne))
}

// NewCaseRecord returns a case with every sub-workflow at its Pending variant.
func NewCaseRecord(ne, createdBy string, now time.Time) *CaseRecord {
	return &CaseRecord{
		NE:                   NormalizeNE(ne),
		AforadorStatus:       AforadorPending,
		RevisorStatus:        RevisorPending,
		PreliquidationStatus: PreliquidationPending,
		DigitacionStatus:     DigitacionPending,
		FacturacionStatus:    FacturacionPending,
		InvolvedUsers:        []string{createdBy},
		CreatedAt:            now,
		CreatedBy:            createdBy,
	}
}

// Clone returns a deep copy.
func (c *CaseRecord) Clone() *CaseRecord {
	if c == nil {
		return nil
	}
	cp := *c
	for _, f := range AllFields() {
		if lu := c.LastUpdateOf(f); lu != nil {
			v := *lu
			cp.setLastUpdate(f, &v)
		}
	}
	if c.DeclarationNumber != nil {
		v := *c.DeclarationNumber
		cp.DeclarationNumber = &v
	}
	if c.TotalPositions != nil {
		v := *c.TotalPositions
		cp.TotalPositions = &v
	}
	if c.PriorExam != nil {
		v := *c.PriorExam
		cp.PriorExam = &v
	}
	if c.WorksheetReceivedAt != nil {
		v := *c.WorksheetReceivedAt
		cp.WorksheetReceivedAt = &v
	}
	cp.InvolvedUsers = append([]string(nil), c.InvolvedUsers...)
	return &cp
}

// Apply writes an update onto the record. Values must already be normalised.
func (c *CaseRecord) Apply(upd CaseUpdate) error {
	for _, ch := range upd.Changes {
		if err := c.SetValue(ch.Field, ch.Value); err != nil {
			return err
		}
		if ch.Stamp != nil && ch.Field.HasCompanion() {
			stamp := *ch.Stamp
			c.setLastUpdate(ch.Field, &stamp)
		}
	}
	c.AddInvolvedUser(upd.InvolvedUser)
	return nil
}

// AddInvolvedUser adds an actor to the involved set. The set is derived
// metadata like LastUpdate: it always equals the distinct UpdatedBy values of
// the case's audit trail, so it gets no audit entry of its own.
func (c *CaseRecord) AddInvolvedUser(actor string) {
	if actor == "" {
		return
	}
	for _, u := range c.InvolvedUsers {
		if u == actor {
			return
		}
	}
	c.InvolvedUsers = append(c.InvolvedUsers, actor)
}

// ── Worksheet (owned by another subsystem, read-only here) ────────────────────

// PermitStatus is the lifecycle of a required permit.
type PermitStatus string

const (
	PermitPending   PermitStatus = "Pending"
	PermitInProcess PermitStatus = "InProcess"
	PermitDelivered PermitStatus = "Delivered"
)

// PaymentStatus is the lifecycle of a worksheet payment.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentPaid    PaymentStatus = "Paid"
)

// Permit is one permit the worksheet requires.
type Permit struct {
	Code   string       `json:"code"`
	Name   string       `json:"name"`
	Status PermitStatus `json:"status"`
}

// Payment is one payment attached to the worksheet.
type Payment struct {
	ID      string        `json:"id"`
	Concept string        `json:"concept"`
	Amount  int64         `json:"amount"` // cents
	Status  PaymentStatus `json:"status"`
}

// Document is a supporting document listed on the worksheet.
type Document struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

// Worksheet is the 1:1 companion of a case.
type Worksheet struct {
	NE              string     `json:"ne"`
	WorksheetType   string     `json:"worksheetType"`
	Documents       []Document `json:"documents"`
	RequiredPermits []Permit   `json:"requiredPermits"`
	Payments        []Payment  `json:"payments"`
}
