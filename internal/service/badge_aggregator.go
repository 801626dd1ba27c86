package service

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/pesio-ai/be-customs-aforo/internal/repository"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
)

// BadgeSet is the composite at-a-glance status of a case. A nil badge means
// "not applicable" and must render as neither complete nor incomplete.
type BadgeSet struct {
	PermitsComplete     *bool `json:"permitsComplete"`
	PaymentsComplete    *bool `json:"paymentsComplete"`
	IncidentResolved    *bool `json:"incidentResolved"`
	ValueDoubtResolved  *bool `json:"valueDoubtResolved"`
	PriorExamComplete   *bool `json:"priorExamComplete"`
	ReceiptAcknowledged bool  `json:"receiptAcknowledged"`
}

// BadgeInput is everything DeriveBadges looks at.
type BadgeInput struct {
	Case      *repository.CaseRecord
	Worksheet *repository.Worksheet
	Permits   []repository.Permit
	Payments  []repository.Payment
	Audit     []*repository.AuditEntry
}

// DeriveBadges computes the badge set. It is pure.
func DeriveBadges(in BadgeInput) BadgeSet {
	var b BadgeSet

	if len(in.Permits) > 0 {
		done := true
		for _, p := range in.Permits {
			if p.Status != repository.PermitDelivered {
				done = false
				break
			}
		}
		b.PermitsComplete = &done
	}

	if len(in.Payments) > 0 {
		done := true
		for _, p := range in.Payments {
			if p.Status != repository.PaymentPaid {
				done = false
				break
			}
		}
		b.PaymentsComplete = &done
	}

	if c := in.Case; c != nil {
		if c.IncidentReported {
			resolved := c.IncidentStatus == repository.IncidentApproved
			b.IncidentResolved = &resolved
		}
		if c.HasValueDoubt {
			resolved := c.ValueDoubtStatus != ""
			b.ValueDoubtResolved = &resolved
		}
		if c.PriorExam != nil {
			complete := c.PriorExam.Status == repository.PriorExamComplete
			b.PriorExamComplete = &complete
		}
	}

	// The trail is oldest first, so the latest receipt entry decides.
	receipt := repository.FieldWorksheetReceivedAt.AuditName()
	for _, e := range in.Audit {
		if e.Field == receipt {
			b.ReceiptAcknowledged = !isNullJSON(e.NewValue)
		}
	}
	return b
}

func isNullJSON(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

// BadgeAggregator gathers a case and its related entities and derives badges.
// It never writes.
type BadgeAggregator struct {
	cases      repository.CaseStore
	worksheets repository.WorksheetReader
	audit      repository.AuditLog
}

// NewBadgeAggregator creates a new BadgeAggregator.
func NewBadgeAggregator(cases repository.CaseStore, worksheets repository.WorksheetReader, audit repository.AuditLog) *BadgeAggregator {
	return &BadgeAggregator{cases: cases, worksheets: worksheets, audit: audit}
}

// GetBadges loads the case, its worksheet and its audit trail. A missing
// worksheet leaves the permit and payment badges not applicable.
func (a *BadgeAggregator) GetBadges(ctx context.Context, ne string) (*BadgeSet, error) {
	rec, err := a.cases.GetByNE(ctx, ne)
	if err != nil {
		return nil, err
	}

	in := BadgeInput{Case: rec}

	if a.worksheets != nil {
		ws, err := a.worksheets.GetWorksheet(ctx, rec.NE)
		switch {
		case err == nil:
			in.Worksheet = ws
			in.Permits = ws.RequiredPermits
			in.Payments = ws.Payments
		case !errors.Is(err, errors.ErrCodeNotFound):
			return nil, err
		}
	}

	trail, err := a.audit.ListByNE(ctx, rec.NE)
	if err != nil {
		return nil, err
	}
	in.Audit = trail

	badges := DeriveBadges(in)
	return &badges, nil
}
