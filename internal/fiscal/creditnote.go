package fiscal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa-erp/internal/fiscal/codes"
)

// CreditNoteInput describes a reversal request against an authorized invoice.
type CreditNoteInput struct {
	OriginalID uuid.UUID
	// Amount of the reversal. Zero means "full": whatever pending balance
	// remains.
	Amount decimal.Decimal
	// Lines optionally fixes explicit line-level amounts; when empty the
	// original's lines are apportioned pro-rata.
	Lines []DraftLine
	// VoidOriginal marks the original invoice voided once the note itself is
	// authorized. Left false, the issuance is a standalone partial note and
	// only the derived pending balance moves.
	VoidOriginal bool
	Actor        string
	Reason       string
}

// PendingBalance returns the portion of an authorized invoice's total not yet
// offset by valid credit notes. Voided, rejected and draft notes do not
// count. The balance is always derived, never stored.
func (s *Service) PendingBalance(ctx context.Context, originalID uuid.UUID) (decimal.Decimal, error) {
	original, err := s.repo.Get(ctx, originalID)
	if err != nil {
		return decimal.Zero, err
	}
	return s.pendingBalance(ctx, original)
}

func (s *Service) pendingBalance(ctx context.Context, original *Invoice) (decimal.Decimal, error) {
	notes, err := s.repo.ListCreditNotes(ctx, original.ID)
	if err != nil {
		return decimal.Zero, err
	}
	balance := original.GrandTotal
	for _, note := range notes {
		if note.State != StateAuthorized {
			continue
		}
		balance = balance.Sub(note.GrandTotal)
	}
	return balance, nil
}

// IssueCreditNote issues a full or partial credit note against an authorized
// invoice and drives it through the same authorization lifecycle. The pending
// balance is checked before any external call; a request exceeding it fails
// hard and is never clamped.
func (s *Service) IssueCreditNote(ctx context.Context, input CreditNoteInput) (*Invoice, error) {
	release, err := s.acquire(ctx, lockKey(input.OriginalID))
	if err != nil {
		return nil, err
	}
	defer release()

	original, err := s.repo.Get(ctx, input.OriginalID)
	if err != nil {
		return nil, err
	}
	if original.State != StateAuthorized {
		return nil, &IllegalTransitionError{From: original.State, To: StateVoided}
	}

	pending, err := s.pendingBalance(ctx, original)
	if err != nil {
		return nil, err
	}
	if !pending.IsPositive() {
		return nil, ErrBalanceExhausted
	}
	amount := input.Amount
	if amount.IsZero() {
		amount = pending
	}
	if amount.GreaterThan(pending) {
		return nil, &BalanceExceededError{Requested: amount.StringFixed(2), Pending: pending.StringFixed(2)}
	}
	if !amount.IsPositive() {
		return nil, &ValidationError{Problems: []string{"credit note amount must be positive"}}
	}

	note, err := s.buildCreditNote(original, input, amount)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, note); err != nil {
		return nil, err
	}

	authorized, err := s.authorizeLocked(ctx, note, input.Actor)
	if err != nil {
		// The original keeps its state: a rejected or unreachable note never
		// completes a void.
		return note, err
	}
	note = authorized

	if input.VoidOriginal {
		reason := input.Reason
		if reason == "" {
			reason = "voided by credit note " + note.FormattedNumber()
		}
		if err := MarkVoided(original, input.Actor, reason, time.Now()); err != nil {
			return note, err
		}
		if err := s.repo.Update(ctx, original); err != nil {
			return note, err
		}
		s.recordAudit(ctx, input.Actor, "fiscal.void", original.ID, map[string]any{
			"credit_note_id": note.ID.String(),
			"reason":         reason,
		})
	}

	s.logger.Info("credit note authorized",
		slog.String("credit_note_id", note.ID.String()),
		slog.String("original_id", original.ID.String()),
		slog.String("amount", amount.StringFixed(2)))
	return note, nil
}

// VoidWithCreditNote fully discharges the pending balance with one note and
// voids the original.
func (s *Service) VoidWithCreditNote(ctx context.Context, originalID uuid.UUID, actor, reason string) (*Invoice, error) {
	return s.IssueCreditNote(ctx, CreditNoteInput{
		OriginalID:   originalID,
		VoidOriginal: true,
		Actor:        actor,
		Reason:       reason,
	})
}

// buildCreditNote derives the note record from the original. The letter is
// mirrored through the +2 mapping and the counterparty is copied verbatim:
// the party on the reversal must match the document being reversed, so its
// tax status is deliberately not re-resolved.
func (s *Service) buildCreditNote(original *Invoice, input CreditNoteInput, amount decimal.Decimal) (*Invoice, error) {
	noteType, err := codes.CreditNoteFor(original.Type)
	if err != nil {
		return nil, err
	}
	originalCode, err := codes.Code(original.Type)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	note := &Invoice{
		ID:            uuid.New(),
		Type:          noteType,
		PointOfSale:   original.PointOfSale,
		IssuerCUIT:    original.IssuerCUIT,
		IssuerName:    original.IssuerName,
		IssuerAddress: original.IssuerAddress,
		IssuerRegime:  original.IssuerRegime,
		Counterparty:  original.Counterparty,
		VATApplied:    original.VATApplied,
		State:         StateDraft,
		OriginalID:    original.ID,
		Reference: &DocumentReference{
			TypeCode:    originalCode,
			PointOfSale: original.PointOfSale,
			Sequence:    original.Authorization.Sequence,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if len(input.Lines) > 0 {
		sum := decimal.Zero
		for _, l := range input.Lines {
			sum = sum.Add(l.Total)
			note.Lines = append(note.Lines, LineItem{
				Code:        l.Code,
				Description: l.Description,
				Quantity:    l.Quantity,
				UnitPrice:   l.UnitPrice,
				NetAmount:   l.NetAmount,
				VATRate:     l.VATRate,
				Total:       l.Total,
			})
		}
		// Explicit lines must carry the requested amount exactly; the scaled
		// aggregates reconcile against that same figure.
		if !sum.Equal(amount) {
			return nil, &ValidationError{Problems: []string{
				fmt.Sprintf("line totals %s do not add up to credit note amount %s", sum.StringFixed(2), amount.StringFixed(2)),
			}}
		}
		applyAggregates(note, original, amount)
	} else {
		apportion(note, original, amount)
	}
	return note, nil
}

// apportion scales the original's aggregates and lines pro-rata to amount,
// pushing every rounding remainder onto the last element so each column and
// the grand-total identity reconcile exactly.
func apportion(note *Invoice, original *Invoice, amount decimal.Decimal) {
	applyAggregates(note, original, amount)

	factor := amount.Div(original.GrandTotal)
	lineCount := len(original.Lines)
	totalLeft := note.GrandTotal
	netLeft := note.NetTaxed.Add(note.NetUntaxed).Add(note.Exempt)
	for i, l := range original.Lines {
		nl := LineItem{
			Code:        l.Code,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			VATRate:     l.VATRate,
		}
		if i == lineCount-1 {
			nl.NetAmount = netLeft
			nl.Total = totalLeft
		} else {
			nl.NetAmount = l.NetAmount.Mul(factor).Round(2)
			nl.Total = l.Total.Mul(factor).Round(2)
			netLeft = netLeft.Sub(nl.NetAmount)
			totalLeft = totalLeft.Sub(nl.Total)
		}
		note.Lines = append(note.Lines, nl)
	}
}

// applyAggregates distributes amount over the invoice-level aggregates in the
// original's proportions. NetTaxed absorbs the remainder: it is the largest
// component on taxed invoices, so the absorbed cent distorts it least.
func applyAggregates(note *Invoice, original *Invoice, amount decimal.Decimal) {
	factor := amount.Div(original.GrandTotal)

	note.NetUntaxed = original.NetUntaxed.Mul(factor).Round(2)
	note.Exempt = original.Exempt.Mul(factor).Round(2)
	note.VATTotal = original.VATTotal.Mul(factor).Round(2)
	note.TributeTotal = original.TributeTotal.Mul(factor).Round(2)
	note.NetTaxed = amount.Sub(note.NetUntaxed).Sub(note.Exempt).Sub(note.VATTotal).Sub(note.TributeTotal)
	note.GrandTotal = amount

	vatLeft := note.VATTotal
	baseLeft := note.NetTaxed
	for i, entry := range original.VATBreakdown {
		ne := VATEntry{RateCode: entry.RateCode, Rate: entry.Rate}
		if i == len(original.VATBreakdown)-1 {
			ne.Base = baseLeft
			ne.Amount = vatLeft
		} else {
			ne.Base = entry.Base.Mul(factor).Round(2)
			ne.Amount = entry.Amount.Mul(factor).Round(2)
			baseLeft = baseLeft.Sub(ne.Base)
			vatLeft = vatLeft.Sub(ne.Amount)
		}
		note.VATBreakdown = append(note.VATBreakdown, ne)
	}

	tributeLeft := note.TributeTotal
	for i, tr := range original.Tributes {
		nt := Tribute{Code: tr.Code, Description: tr.Description}
		if i == len(original.Tributes)-1 {
			nt.Amount = tributeLeft
			nt.Base = tr.Base.Mul(factor).Round(2)
		} else {
			nt.Amount = tr.Amount.Mul(factor).Round(2)
			nt.Base = tr.Base.Mul(factor).Round(2)
			tributeLeft = tributeLeft.Sub(nt.Amount)
		}
		note.Tributes = append(note.Tributes, nt)
	}
}
