package fiscal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa-erp/internal/fiscal/codes"
	"github.com/pampa-erp/pampa-erp/internal/shared"
)

// RepositoryPort defines persistence for the fiscal module. Update applies an
// optimistic version check and returns ErrVersionConflict when the stored
// version moved.
type RepositoryPort interface {
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id uuid.UUID) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	ListCreditNotes(ctx context.Context, originalID uuid.UUID) ([]Invoice, error)
	ListByState(ctx context.Context, state State, limit, offset int) ([]Invoice, error)
	ListExpiringCAE(ctx context.Context, before time.Time) ([]Invoice, error)
}

// Locker serializes operations per invoice id. The service surfaces a held
// lock as ErrLocked regardless of the implementation's own sentinel.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// MetricsRecorder receives authorization outcome observations.
type MetricsRecorder interface {
	ObserveAuthorization(outcome string, elapsed time.Duration)
}

// Service orchestrates the invoice lifecycle: profile resolution, payload
// assembly, authority submission and state transitions.
type Service struct {
	repo      RepositoryPort
	resolver  *ProfileResolver
	assembler *Assembler
	gateway   Authorizer
	locks     Locker
	audit     *shared.AuditLogger
	logger    *slog.Logger
	issuer    IssuerConfig
	metrics   MetricsRecorder
}

// WithMetrics attaches an optional metrics recorder.
func (s *Service) WithMetrics(m MetricsRecorder) *Service {
	s.metrics = m
	return s
}

// NewService builds a Service.
func NewService(repo RepositoryPort, resolver *ProfileResolver, assembler *Assembler, gateway Authorizer, locks Locker, audit *shared.AuditLogger, logger *slog.Logger, issuer IssuerConfig) *Service {
	return &Service{
		repo:      repo,
		resolver:  resolver,
		assembler: assembler,
		gateway:   gateway,
		locks:     locks,
		audit:     audit,
		logger:    logger,
		issuer:    issuer,
	}
}

// DraftLine is one line of a draft being created.
type DraftLine struct {
	Code        string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	GrossAmount decimal.Decimal
	Discount    decimal.Decimal
	NetAmount   decimal.Decimal
	VATRate     decimal.Decimal
	Total       decimal.Decimal
}

// DraftInput creates a draft invoice, either from a sale or manual entry.
type DraftInput struct {
	Counterparty Counterparty
	Lines        []DraftLine
	NetTaxed     decimal.Decimal
	NetUntaxed   decimal.Decimal
	Exempt       decimal.Decimal
	VATTotal     decimal.Decimal
	TributeTotal decimal.Decimal
	GrandTotal   decimal.Decimal
	VATBreakdown []VATEntry
	Tributes     []Tribute
	VATApplied   bool
	SaleID       uuid.UUID
}

// CreateDraft stores a new draft invoice with empty fiscal artifacts. The
// voucher type is provisional until resolution at authorization time.
func (s *Service) CreateDraft(ctx context.Context, input DraftInput) (*Invoice, error) {
	now := time.Now()
	inv := &Invoice{
		ID:            uuid.New(),
		Type:          codes.FacturaB,
		PointOfSale:   s.issuer.PointOfSale,
		IssuerCUIT:    s.issuer.CUIT,
		IssuerName:    s.issuer.Name,
		IssuerAddress: s.issuer.Address,
		IssuerRegime:  s.issuer.Regime,
		Counterparty:  input.Counterparty,
		NetTaxed:      input.NetTaxed,
		NetUntaxed:    input.NetUntaxed,
		Exempt:        input.Exempt,
		VATTotal:      input.VATTotal,
		TributeTotal:  input.TributeTotal,
		GrandTotal:    input.GrandTotal,
		VATBreakdown:  input.VATBreakdown,
		Tributes:      input.Tributes,
		VATApplied:    input.VATApplied,
		SaleID:        input.SaleID,
		State:         StateDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, l := range input.Lines {
		inv.Lines = append(inv.Lines, LineItem{
			Code:        l.Code,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			GrossAmount: l.GrossAmount,
			Discount:    l.Discount,
			NetAmount:   l.NetAmount,
			VATRate:     l.VATRate,
			Total:       l.Total,
		})
	}
	if err := inv.CheckTotals(); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Get returns one invoice.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.repo.Get(ctx, id)
}

// Authorize submits a draft to the authority and applies the outcome. The
// whole operation runs under the per-invoice lock: exactly one submission can
// be in flight per invoice, concurrent attempts observe ErrLocked or a
// terminal state.
func (s *Service) Authorize(ctx context.Context, id uuid.UUID, actor string) (*Invoice, error) {
	release, err := s.acquire(ctx, lockKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if codes.IsCreditNote(inv.Type) && inv.OriginalID != uuid.Nil {
		// A draft note resubmitted after a transport failure competes with
		// notes issued in the meantime, so it serializes against the original.
		releaseOriginal, err := s.acquire(ctx, lockKey(inv.OriginalID))
		if err != nil {
			return nil, err
		}
		defer releaseOriginal()
	}
	return s.authorizeLocked(ctx, inv, actor)
}

// authorizeLocked runs the submission for an invoice whose lock is held.
// Credit notes additionally require the original's lock: the pending balance
// is re-derived here so a note can never authorize for more than remains.
func (s *Service) authorizeLocked(ctx context.Context, inv *Invoice, actor string) (*Invoice, error) {
	if inv.State != StateDraft {
		return nil, &IllegalTransitionError{From: inv.State, To: StateAuthorized}
	}
	if codes.IsCreditNote(inv.Type) && inv.OriginalID != uuid.Nil {
		if err := s.checkNoteBalance(ctx, inv); err != nil {
			return nil, err
		}
	}

	profile, err := s.profileFor(ctx, inv)
	if err != nil {
		return nil, err
	}
	inv.Type = profile.InvoiceType
	inv.Counterparty.DocTypeCode = profile.DocTypeCode
	inv.Counterparty.ConditionCode = profile.ConditionCode
	inv.Counterparty.ConditionLabel = profile.ConditionLabel

	sub, err := s.assembler.Build(inv, profile)
	if err != nil {
		// Locally invalid: nothing was submitted, nothing is persisted.
		return nil, err
	}

	started := time.Now()
	auth, err := s.gateway.Authorize(ctx, sub)
	s.observe(err, time.Since(started))
	now := time.Now()
	switch {
	case err == nil:
		if err := MarkAuthorized(inv, *auth, actor, now); err != nil {
			return nil, err
		}
		if err := s.repo.Update(ctx, inv); err != nil {
			return nil, err
		}
		s.recordAudit(ctx, actor, "fiscal.authorize", inv.ID, map[string]any{
			"cae": auth.CAE, "sequence": auth.Sequence, "type": string(inv.Type),
		})
		s.logger.Info("invoice authorized",
			slog.String("invoice_id", inv.ID.String()),
			slog.String("number", inv.FormattedNumber()),
			slog.String("type", string(inv.Type)))
		return inv, nil

	case isRejection(err):
		var rej *RejectionError
		errors.As(err, &rej)
		if terr := MarkRejected(inv, rej.Reasons, actor, now); terr != nil {
			return nil, terr
		}
		// The rejection is persisted so the authority's reasons stay
		// auditable; transport failures never take this path.
		if perr := s.repo.Update(ctx, inv); perr != nil {
			return nil, perr
		}
		s.recordAudit(ctx, actor, "fiscal.reject", inv.ID, map[string]any{"reasons": rej.Reasons})
		return inv, err

	default:
		// Transport or resolution failure: the invoice stays a draft with no
		// artifacts, eligible for retry.
		s.logger.Warn("authorization attempt failed without outcome",
			slog.String("invoice_id", inv.ID.String()),
			slog.Any("error", err))
		return nil, err
	}
}

// checkNoteBalance re-derives the original's pending balance before a credit
// note is submitted. Other notes may have consumed the balance between the
// note's issuance and this attempt; the sum of authorized notes must never
// exceed the original's grand total.
func (s *Service) checkNoteBalance(ctx context.Context, note *Invoice) error {
	original, err := s.repo.Get(ctx, note.OriginalID)
	if err != nil {
		return err
	}
	if original.State != StateAuthorized {
		return &IllegalTransitionError{From: original.State, To: StateVoided}
	}
	pending, err := s.pendingBalance(ctx, original)
	if err != nil {
		return err
	}
	if note.GrandTotal.GreaterThan(pending) {
		return &BalanceExceededError{Requested: note.GrandTotal.StringFixed(2), Pending: pending.StringFixed(2)}
	}
	return nil
}

// profileFor resolves the fiscal profile for standard invoices. Credit and
// debit notes reuse the counterparty exactly as stored on them: the party on
// a reversal must match the document being reversed.
func (s *Service) profileFor(ctx context.Context, inv *Invoice) (*TaxProfile, error) {
	if inv.IsNote() {
		letter, err := codes.Letter(inv.Type)
		if err != nil {
			return nil, err
		}
		return &TaxProfile{
			InvoiceType:     inv.Type,
			Letter:          letter,
			ConditionCode:   inv.Counterparty.ConditionCode,
			ConditionLabel:  inv.Counterparty.ConditionLabel,
			DiscriminateVAT: letter == "A",
			DocTypeCode:     inv.Counterparty.DocTypeCode,
			DocNumber:       inv.Counterparty.DocNumber,
		}, nil
	}
	return s.resolver.Resolve(ctx, s.issuer.Regime, inv.Counterparty)
}

// ResetToDraft returns a rejected invoice to draft for resubmission after the
// underlying data was corrected.
func (s *Service) ResetToDraft(ctx context.Context, id uuid.UUID, actor, reason string) (*Invoice, error) {
	release, err := s.acquire(ctx, lockKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ResetToDraft(inv, actor, reason, time.Now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, inv); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, "fiscal.reset", inv.ID, map[string]any{"reason": reason})
	return inv, nil
}

// VoidWithoutCreditNote voids an authorized invoice without issuing a
// reversal. This override exists for records whose authorization never
// mattered downstream (internal bookkeeping errors); it demands an explicit
// reason and always leaves an audit trail.
func (s *Service) VoidWithoutCreditNote(ctx context.Context, id uuid.UUID, actor, reason string) (*Invoice, error) {
	if reason == "" {
		return nil, &ValidationError{Problems: []string{"void override requires a reason"}}
	}
	release, err := s.acquire(ctx, lockKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := MarkVoided(inv, actor, reason, time.Now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, inv); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, "fiscal.void_override", inv.ID, map[string]any{"reason": reason})
	return inv, nil
}

// PointsOfSale proxies the authority's enabled points-of-sale query.
func (s *Service) PointsOfSale(ctx context.Context) ([]PointOfSale, error) {
	return s.gateway.PointsOfSale(ctx)
}

// VerifyAuthorization re-checks a granted CAE against the authority.
func (s *Service) VerifyAuthorization(ctx context.Context, id uuid.UUID) (bool, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if inv.Authorization.Empty() {
		return false, fmt.Errorf("fiscal: invoice %s carries no authorization", id)
	}
	typeCode, err := codes.Code(inv.Type)
	if err != nil {
		return false, err
	}
	return s.gateway.VerifyAuthorization(ctx, inv.Authorization.CAE, typeCode, inv.PointOfSale, inv.Authorization.Sequence)
}

func (s *Service) recordAudit(ctx context.Context, actor string, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "invoice",
		EntityID: id.String(),
		Meta:     meta,
	}); err != nil {
		s.logger.Error("audit record failed", slog.Any("error", err))
	}
}

func (s *Service) observe(err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	outcome := "approved"
	switch {
	case isRejection(err):
		outcome = "rejected"
	case err != nil:
		outcome = "transport_error"
	}
	s.metrics.ObserveAuthorization(outcome, elapsed)
}

func isRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}

// acquire takes the per-invoice lock, translating the lock backend's own
// sentinel so callers only ever observe ErrLocked.
func (s *Service) acquire(ctx context.Context, key string) (func(), error) {
	release, err := s.locks.Acquire(ctx, key)
	if errors.Is(err, shared.ErrLockHeld) {
		return nil, ErrLocked
	}
	return release, err
}

func lockKey(id uuid.UUID) string {
	return "fiscal:invoice:" + id.String()
}
