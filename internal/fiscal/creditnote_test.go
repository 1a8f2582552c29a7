package fiscal

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa-erp/internal/fiscal/codes"
)

func authorizedOriginal(t *testing.T, svc *Service) *Invoice {
	t.Helper()
	ctx := context.Background()
	draft, err := svc.CreateDraft(ctx, taxedDraftInput())
	require.NoError(t, err)
	inv, err := svc.Authorize(ctx, draft.ID, "ops")
	require.NoError(t, err)
	return inv
}

func TestIssuePartialCreditNote(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryInvoiceRepo()
	gateway := approvingGateway()
	svc := newTestService(repo, gateway, registeredRegistry())
	original := authorizedOriginal(t, svc)

	note, err := svc.IssueCreditNote(ctx, CreditNoteInput{
		OriginalID: original.ID,
		Amount:     dec("400"),
		Actor:      "ops",
		Reason:     "partial return",
	})
	require.NoError(t, err)
	require.Equal(t, codes.NotaCreditoA, note.Type)
	require.Equal(t, StateAuthorized, note.State)
	require.True(t, note.GrandTotal.Equal(dec("400")))
	require.NoError(t, note.CheckTotals())

	// The note mirrors the original's identity and points back at it.
	require.Equal(t, original.Counterparty, note.Counterparty)
	require.NotNil(t, note.Reference)
	require.Equal(t, 1, note.Reference.TypeCode)
	require.Equal(t, original.Authorization.Sequence, note.Reference.Sequence)

	// A standalone partial note never touches the original's state.
	stored, err := repo.Get(ctx, original.ID)
	require.NoError(t, err)
	require.Equal(t, StateAuthorized, stored.State)

	pending, err := svc.PendingBalance(ctx, original.ID)
	require.NoError(t, err)
	require.True(t, pending.Equal(dec("810")), "1210 - 400, got %s", pending)
}

func TestCreditNoteExceedingBalanceFailsHard(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryInvoiceRepo()
	gateway := approvingGateway()
	svc := newTestService(repo, gateway, registeredRegistry())
	original := authorizedOriginal(t, svc)

	_, err := svc.IssueCreditNote(ctx, CreditNoteInput{OriginalID: original.ID, Amount: dec("400"), Actor: "ops"})
	require.NoError(t, err)
	callsBefore := gateway.calls

	_, err = svc.IssueCreditNote(ctx, CreditNoteInput{OriginalID: original.ID, Amount: dec("900"), Actor: "ops"})
	var exceeded *BalanceExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, "900.00", exceeded.Requested)
	require.Equal(t, "810.00", exceeded.Pending)
	require.Equal(t, callsBefore, gateway.calls, "the balance check runs before any external call")

	pending, err := svc.PendingBalance(ctx, original.ID)
	require.NoError(t, err)
	require.True(t, pending.Equal(dec("810")), "the amount is never clamped, got %s", pending)
}

func TestCreditNoteZeroAmountMeansFullBalance(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryInvoiceRepo()
	svc := newTestService(repo, approvingGateway(), registeredRegistry())
	original := authorizedOriginal(t, svc)

	_, err := svc.IssueCreditNote(ctx, CreditNoteInput{OriginalID: original.ID, Amount: dec("400"), Actor: "ops"})
	require.NoError(t, err)

	note, err := svc.IssueCreditNote(ctx, CreditNoteInput{OriginalID: original.ID, Actor: "ops"})
	require.NoError(t, err)
	require.True(t, note.GrandTotal.Equal(dec("810")))

	pending, err := svc.PendingBalance(ctx, original.ID)
	require.NoError(t, err)
	require.True(t, pending.IsZero())

	_, err = svc.IssueCreditNote(ctx, CreditNoteInput{OriginalID: original.ID, Actor: "ops"})
	require.ErrorIs(t, err, ErrBalanceExhausted)
}

func TestVoidWithCreditNote(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryInvoiceRepo()
	svc := newTestService(repo, approvingGateway(), registeredRegistry())
	original := authorizedOriginal(t, svc)

	note, err := svc.VoidWithCreditNote(ctx, original.ID, "ops", "customer cancelled")
	require.NoError(t, err)
	require.Equal(t, StateAuthorized, note.State)
	require.True(t, note.GrandTotal.Equal(original.GrandTotal))

	stored, err := repo.Get(ctx, original.ID)
	require.NoError(t, err)
	require.Equal(t, StateVoided, stored.State)
	require.Equal(t, "customer cancelled", stored.VoidReason)
	require.Equal(t, "71234567890123", stored.Authorization.CAE, "voiding keeps the original's artifacts")
}

func TestCreditNoteRejectionKeepsOriginalUntouched(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryInvoiceRepo()
	gateway := approvingGateway()
	svc := newTestService(repo, gateway, registeredRegistry())
	original := authorizedOriginal(t, svc)

	gateway.authorizeFn = func(sub *Submission) (*Authorization, error) {
		return nil, &RejectionError{Reasons: []string{"reference mismatch"}}
	}

	note, err := svc.VoidWithCreditNote(ctx, original.ID, "ops", "cancel")
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, StateRejected, note.State)

	stored, err := repo.Get(ctx, original.ID)
	require.NoError(t, err)
	require.Equal(t, StateAuthorized, stored.State, "a rejected note never completes a void")

	// Rejected notes do not consume the pending balance.
	pending, err := svc.PendingBalance(ctx, original.ID)
	require.NoError(t, err)
	require.True(t, pending.Equal(original.GrandTotal))
}

func TestCreditNoteTransportFailureLeavesNoteDraft(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryInvoiceRepo()
	gateway := approvingGateway()
	svc := newTestService(repo, gateway, registeredRegistry())
	original := authorizedOriginal(t, svc)

	gateway.authorizeFn = func(sub *Submission) (*Authorization, error) {
		return nil, &TransportError{Op: "authorize", Err: errors.New("timeout")}
	}

	note, err := svc.IssueCreditNote(ctx, CreditNoteInput{OriginalID: original.ID, Amount: dec("200"), Actor: "ops"})
	require.True(t, IsRetryable(err))
	require.Equal(t, StateDraft, note.State)

	pending, err := svc.PendingBalance(ctx, original.ID)
	require.NoError(t, err)
	require.True(t, pending.Equal(original.GrandTotal), "a draft note does not consume balance")
}

func TestCreditNoteOnNonAuthorizedFails(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryInvoiceRepo()
	svc := newTestService(repo, approvingGateway(), registeredRegistry())

	draft, err := svc.CreateDraft(ctx, taxedDraftInput())
	require.NoError(t, err)

	_, err = svc.IssueCreditNote(ctx, CreditNoteInput{OriginalID: draft.ID, Amount: dec("100"), Actor: "ops"})
	var ill *IllegalTransitionError
	require.ErrorAs(t, err, &ill)
	require.Equal(t, StateDraft, ill.From)
}

func TestApportionReconcilesEveryColumn(t *testing.T) {
	original := &Invoice{
		Lines: []LineItem{
			{Description: "a", NetAmount: dec("333.33"), Total: dec("403.33")},
			{Description: "b", NetAmount: dec("333.33"), Total: dec("403.33")},
			{Description: "c", NetAmount: dec("333.34"), Total: dec("403.34")},
		},
		NetTaxed:   dec("1000"),
		VATTotal:   dec("210"),
		GrandTotal: dec("1210"),
		VATBreakdown: []VATEntry{
			{RateCode: 5, Rate: dec("0.21"), Base: dec("1000"), Amount: dec("210")},
		},
	}

	note := &Invoice{}
	apportion(note, original, dec("403.34"))

	require.NoError(t, note.CheckTotals())
	require.True(t, note.GrandTotal.Equal(dec("403.34")))

	lineTotal := decimal.Zero
	lineNet := decimal.Zero
	for _, l := range note.Lines {
		lineTotal = lineTotal.Add(l.Total)
		lineNet = lineNet.Add(l.NetAmount)
	}
	require.True(t, lineTotal.Equal(note.GrandTotal), "lines sum %s vs total %s", lineTotal, note.GrandTotal)
	require.True(t, lineNet.Equal(note.NetTaxed.Add(note.NetUntaxed).Add(note.Exempt)))

	vatSum := decimal.Zero
	for _, v := range note.VATBreakdown {
		vatSum = vatSum.Add(v.Amount)
	}
	require.True(t, vatSum.Equal(note.VATTotal))
}

func TestApportionScalesMixedAggregates(t *testing.T) {
	original := &Invoice{
		Lines: []LineItem{
			{Description: "taxed", NetAmount: dec("500"), Total: dec("605")},
			{Description: "exempt", NetAmount: dec("300"), Total: dec("300")},
		},
		NetTaxed:   dec("500"),
		Exempt:     dec("300"),
		VATTotal:   dec("105"),
		GrandTotal: dec("905"),
		VATBreakdown: []VATEntry{
			{RateCode: 5, Rate: dec("0.21"), Base: dec("500"), Amount: dec("105")},
		},
	}

	note := &Invoice{}
	apportion(note, original, dec("452.50"))

	require.NoError(t, note.CheckTotals())
	require.True(t, note.Exempt.Equal(dec("150")), "got %s", note.Exempt)
	require.True(t, note.VATTotal.Equal(dec("52.50")), "got %s", note.VATTotal)
	require.True(t, note.NetTaxed.Equal(dec("250")), "got %s", note.NetTaxed)
}

func TestDraftNoteResubmissionRechecksBalance(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryInvoiceRepo()
	gateway := approvingGateway()
	svc := newTestService(repo, gateway, registeredRegistry())
	original := authorizedOriginal(t, svc)

	approve := gateway.authorizeFn
	gateway.authorizeFn = func(sub *Submission) (*Authorization, error) {
		return nil, &TransportError{Op: "authorize", Err: errors.New("timeout")}
	}
	stale, err := svc.IssueCreditNote(ctx, CreditNoteInput{OriginalID: original.ID, Amount: dec("900"), Actor: "ops"})
	require.True(t, IsRetryable(err))
	require.Equal(t, StateDraft, stale.State)

	// A second note consumes most of the balance while the first sits draft.
	gateway.authorizeFn = approve
	_, err = svc.IssueCreditNote(ctx, CreditNoteInput{OriginalID: original.ID, Amount: dec("900"), Actor: "ops"})
	require.NoError(t, err)

	before := gateway.calls
	_, err = svc.Authorize(ctx, stale.ID, "ops")
	var bal *BalanceExceededError
	require.ErrorAs(t, err, &bal)
	require.Equal(t, "900.00", bal.Requested)
	require.Equal(t, "310.00", bal.Pending)
	require.Equal(t, before, gateway.calls, "refused before any submission")

	got, err := repo.Get(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, StateDraft, got.State)

	pending, err := svc.PendingBalance(ctx, original.ID)
	require.NoError(t, err)
	require.False(t, pending.IsNegative())
	require.True(t, pending.Equal(dec("310")))
}

func TestDraftNoteResubmissionWithinBalanceAuthorizes(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryInvoiceRepo()
	gateway := approvingGateway()
	svc := newTestService(repo, gateway, registeredRegistry())
	original := authorizedOriginal(t, svc)

	approve := gateway.authorizeFn
	gateway.authorizeFn = func(sub *Submission) (*Authorization, error) {
		return nil, &TransportError{Op: "authorize", Err: errors.New("timeout")}
	}
	note, err := svc.IssueCreditNote(ctx, CreditNoteInput{OriginalID: original.ID, Amount: dec("200"), Actor: "ops"})
	require.True(t, IsRetryable(err))

	gateway.authorizeFn = approve
	resubmitted, err := svc.Authorize(ctx, note.ID, "ops")
	require.NoError(t, err)
	require.Equal(t, StateAuthorized, resubmitted.State)

	pending, err := svc.PendingBalance(ctx, original.ID)
	require.NoError(t, err)
	require.True(t, pending.Equal(dec("1010")))
}

func TestCreditNoteExplicitLinesMustMatchAmount(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryInvoiceRepo()
	gateway := approvingGateway()
	svc := newTestService(repo, gateway, registeredRegistry())
	original := authorizedOriginal(t, svc)

	before := gateway.calls
	_, err := svc.IssueCreditNote(ctx, CreditNoteInput{
		OriginalID: original.ID,
		Amount:     dec("400"),
		Actor:      "ops",
		Lines: []DraftLine{{
			Description: "returned goods",
			Quantity:    dec("1"),
			UnitPrice:   dec("300"),
			NetAmount:   dec("247.93"),
			VATRate:     dec("21"),
			Total:       dec("300"),
		}},
	})
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	require.Contains(t, valErr.Problems[0], "do not add up")
	require.Equal(t, before, gateway.calls)
}

func TestCreditNoteExplicitLinesCarryThrough(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryInvoiceRepo()
	gateway := approvingGateway()
	svc := newTestService(repo, gateway, registeredRegistry())
	original := authorizedOriginal(t, svc)

	note, err := svc.IssueCreditNote(ctx, CreditNoteInput{
		OriginalID: original.ID,
		Amount:     dec("400"),
		Actor:      "ops",
		Lines: []DraftLine{{
			Description: "returned goods",
			Quantity:    dec("1"),
			UnitPrice:   dec("400"),
			NetAmount:   dec("330.58"),
			VATRate:     dec("21"),
			Total:       dec("400"),
		}},
	})
	require.NoError(t, err)
	require.Equal(t, StateAuthorized, note.State)
	require.Len(t, note.Lines, 1)
	require.True(t, note.Lines[0].UnitPrice.Equal(dec("400")))
	require.True(t, note.Lines[0].VATRate.Equal(dec("21")))
	require.NoError(t, note.CheckTotals())
}
