package fiscal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa-erp/internal/fiscal/codes"
	"github.com/pampa-erp/pampa-erp/internal/platform/httpx"
	"github.com/pampa-erp/pampa-erp/internal/shared"
)

// SaleDrafter builds a draft input from a recorded sale.
type SaleDrafter interface {
	DraftFromSale(ctx context.Context, saleID uuid.UUID) (*DraftInput, error)
}

// RetryEnqueuer schedules a background resubmission of a draft whose
// authorization failed at the transport level.
type RetryEnqueuer interface {
	EnqueueAuthorizeRetry(ctx context.Context, invoiceID uuid.UUID, actor string) error
}

// Handler exposes the fiscal invoice lifecycle over HTTP.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	sales       SaleDrafter
	idempotency *shared.IdempotencyStore
	retry       RetryEnqueuer
	validate    *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sales SaleDrafter, idempotency *shared.IdempotencyStore) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		sales:       sales,
		idempotency: idempotency,
		validate:    validator.New(),
	}
}

// WithRetryQueue makes transport-failed authorizations requeue in the
// background instead of relying on the caller to resubmit.
func (h *Handler) WithRetryQueue(retry RetryEnqueuer) *Handler {
	h.retry = retry
	return h
}

// MountRoutes registers fiscal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices", h.createDraft)
	r.Get("/invoices", h.listInvoices)
	r.Get("/invoices/{id}", h.getInvoice)
	r.Post("/invoices/{id}/authorize", h.authorize)
	r.Post("/invoices/{id}/reset", h.reset)
	r.Post("/invoices/{id}/void", h.void)
	r.Post("/invoices/{id}/credit-notes", h.issueCreditNote)
	r.Get("/invoices/{id}/pending-balance", h.pendingBalance)
	r.Get("/invoices/{id}/verify", h.verify)
	r.Get("/points-of-sale", h.pointsOfSale)
}

type draftLineRequest struct {
	Code        string `json:"code"`
	Description string `json:"description" validate:"required"`
	Quantity    string `json:"quantity" validate:"required"`
	UnitPrice   string `json:"unit_price" validate:"required"`
	Net         string `json:"net" validate:"required"`
	VATRate     string `json:"vat_rate"`
	Total       string `json:"total" validate:"required"`
}

type createDraftRequest struct {
	SaleID string `json:"sale_id"`

	Counterparty struct {
		DocType   string `json:"doc_type"`
		DocNumber string `json:"doc_number"`
		Name      string `json:"name"`
		Address   string `json:"address"`
	} `json:"counterparty"`
	Lines      []draftLineRequest `json:"lines"`
	NetTaxed   string             `json:"net_taxed"`
	NetUntaxed string             `json:"net_untaxed"`
	Exempt     string             `json:"exempt"`
	VATTotal   string             `json:"vat_total"`
	GrandTotal string             `json:"grand_total"`
	VATApplied bool               `json:"vat_applied"`
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}

	var input *DraftInput
	if req.SaleID != "" {
		saleID, err := uuid.Parse(req.SaleID)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
			return
		}
		input, err = h.sales.DraftFromSale(r.Context(), saleID)
		if err != nil {
			h.respondErr(w, err)
			return
		}
	} else {
		built, err := h.draftFromRequest(req)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		input = built
	}

	inv, err := h.service.CreateDraft(r.Context(), *input)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoiceResponse(inv))
}

func (h *Handler) draftFromRequest(req createDraftRequest) (*DraftInput, error) {
	if err := h.validate.Var(req.Counterparty.DocNumber, "required"); err != nil {
		return nil, errors.New("counterparty doc_number is required")
	}
	docType := req.Counterparty.DocType
	if docType == "" {
		docType = "DNI"
	}
	docTypeCode, err := codes.DocTypeCode(docType)
	if err != nil {
		return nil, err
	}

	input := &DraftInput{
		Counterparty: Counterparty{
			DocTypeCode: docTypeCode,
			DocNumber:   req.Counterparty.DocNumber,
			Name:        req.Counterparty.Name,
			Address:     req.Counterparty.Address,
		},
		VATApplied: req.VATApplied,
	}
	if input.NetTaxed, err = parseAmount(req.NetTaxed); err != nil {
		return nil, err
	}
	if input.NetUntaxed, err = parseAmount(req.NetUntaxed); err != nil {
		return nil, err
	}
	if input.Exempt, err = parseAmount(req.Exempt); err != nil {
		return nil, err
	}
	if input.VATTotal, err = parseAmount(req.VATTotal); err != nil {
		return nil, err
	}
	if input.GrandTotal, err = parseAmount(req.GrandTotal); err != nil {
		return nil, err
	}
	for _, l := range req.Lines {
		if err := h.validate.Struct(l); err != nil {
			return nil, err
		}
		line := DraftLine{Code: l.Code, Description: l.Description}
		if line.Quantity, err = parseAmount(l.Quantity); err != nil {
			return nil, err
		}
		if line.UnitPrice, err = parseAmount(l.UnitPrice); err != nil {
			return nil, err
		}
		if line.NetAmount, err = parseAmount(l.Net); err != nil {
			return nil, err
		}
		if line.VATRate, err = parseAmount(l.VATRate); err != nil {
			return nil, err
		}
		if line.Total, err = parseAmount(l.Total); err != nil {
			return nil, err
		}
		input.Lines = append(input.Lines, line)
	}
	if input.VATTotal.IsPositive() && input.NetTaxed.IsPositive() {
		input.VATBreakdown = []VATEntry{{
			RateCode: 5, // 21%
			Rate:     decimal.NewFromFloat(0.21),
			Base:     input.NetTaxed,
			Amount:   input.VATTotal,
		}}
	}
	return input, nil
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoiceResponse(inv))
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	state := State(r.URL.Query().Get("state"))
	if state == "" {
		state = StateDraft
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	p := shared.NewPagination(page, perPage, 0)

	invoices, err := h.service.repo.ListByState(r.Context(), state, p.PerPage, p.Offset())
	if err != nil {
		h.respondErr(w, err)
		return
	}
	out := make([]map[string]any, 0, len(invoices))
	for i := range invoices {
		out = append(out, invoiceResponse(&invoices[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"invoices": out,
		"page":     p.Page,
		"per_page": p.PerPage,
	})
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	// An idempotency key turns a retried HTTP call into a refusal instead of
	// a second submission attempt.
	if key := r.Header.Get("Idempotency-Key"); key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, "fiscal.authorize"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate", "this authorization request was already processed")
				return
			}
			h.respondErr(w, err)
			return
		}
	}

	actor := shared.ActorFromContext(r.Context())
	inv, err := h.service.Authorize(r.Context(), id, actor)
	if err != nil && !isRejection(err) {
		// The draft is untouched after a transport failure, so a queued
		// resubmission is safe. The caller still sees the failure.
		if IsRetryable(err) && h.retry != nil {
			if qerr := h.retry.EnqueueAuthorizeRetry(r.Context(), id, actor); qerr != nil {
				h.logger.Warn("enqueue authorize retry", slog.Any("error", qerr))
			}
		}
		h.respondErr(w, err)
		return
	}
	// A business rejection still returns the invoice: the record moved to
	// rejected and carries the authority's reasons.
	httpx.JSON(w, http.StatusOK, invoiceResponse(inv))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	_ = httpx.DecodeJSON(r, &req)

	inv, err := h.service.ResetToDraft(r.Context(), id, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoiceResponse(inv))
}

type voidRequest struct {
	Reason            string `json:"reason"`
	WithoutCreditNote bool   `json:"without_credit_note"`
}

func (h *Handler) void(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req voidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	actor := shared.ActorFromContext(r.Context())

	if req.WithoutCreditNote {
		inv, err := h.service.VoidWithoutCreditNote(r.Context(), id, actor, req.Reason)
		if err != nil {
			h.respondErr(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, invoiceResponse(inv))
		return
	}

	note, err := h.service.VoidWithCreditNote(r.Context(), id, actor, req.Reason)
	if err != nil && !isRejection(err) {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"credit_note": invoiceResponse(note)})
}

type creditNoteRequest struct {
	Amount string             `json:"amount"`
	Lines  []draftLineRequest `json:"lines"`
	Reason string             `json:"reason"`
}

func (h *Handler) issueCreditNote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req creditNoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid amount")
		return
	}
	input := CreditNoteInput{
		OriginalID: id,
		Amount:     amount,
		Actor:      shared.ActorFromContext(r.Context()),
		Reason:     req.Reason,
	}
	for _, l := range req.Lines {
		line := DraftLine{Code: l.Code, Description: l.Description}
		if line.Quantity, err = parseAmount(l.Quantity); err == nil {
			if line.UnitPrice, err = parseAmount(l.UnitPrice); err == nil {
				if line.NetAmount, err = parseAmount(l.Net); err == nil {
					if line.VATRate, err = parseAmount(l.VATRate); err == nil {
						line.Total, err = parseAmount(l.Total)
					}
				}
			}
		}
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid line amounts")
			return
		}
		input.Lines = append(input.Lines, line)
	}

	note, err := h.service.IssueCreditNote(r.Context(), input)
	if err != nil && !isRejection(err) {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoiceResponse(note))
}

func (h *Handler) pendingBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	balance, err := h.service.PendingBalance(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"pending_balance": balance.StringFixed(2)})
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	valid, err := h.service.VerifyAuthorization(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (h *Handler) pointsOfSale(w http.ResponseWriter, r *http.Request) {
	points, err := h.service.PointsOfSale(r.Context())
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"points_of_sale": points})
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return uuid.Nil, false
	}
	return id, true
}

// respondErr maps the fiscal error taxonomy onto problem responses.
func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	var (
		valErr     *ValidationError
		illegalErr *IllegalTransitionError
		balErr     *BalanceExceededError
		transErr   *TransportError
	)
	switch {
	case errors.As(err, &valErr):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", valErr.Error())
	case errors.As(err, &illegalErr):
		httpx.Problem(w, http.StatusConflict, "Illegal Transition", illegalErr.Error())
	case errors.As(err, &balErr):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Balance Exceeded", balErr.Error())
	case errors.Is(err, ErrBalanceExhausted):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Balance Exhausted", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrLocked):
		httpx.Problem(w, http.StatusConflict, "Conflict", "another operation on this invoice is in progress")
	case errors.As(err, &transErr):
		httpx.Problem(w, http.StatusBadGateway, "Authority Unreachable", transErr.Error())
	default:
		h.logger.Error("fiscal handler error", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func invoiceResponse(inv *Invoice) map[string]any {
	if inv == nil {
		return nil
	}
	resp := map[string]any{
		"id":            inv.ID,
		"type":          inv.Type,
		"state":         inv.State,
		"point_of_sale": inv.PointOfSale,
		"counterparty":  inv.Counterparty,
		"grand_total":   inv.GrandTotal.StringFixed(2),
		"vat_total":     inv.VATTotal.StringFixed(2),
		"lines":         inv.Lines,
		"version":       inv.Version,
	}
	if !inv.Authorization.Empty() {
		resp["cae"] = inv.Authorization.CAE
		resp["cae_expiry"] = inv.Authorization.CAEExpiry
		resp["number"] = inv.FormattedNumber()
		resp["barcode"] = inv.Authorization.Barcode
	}
	if len(inv.RejectionReasons) > 0 {
		resp["rejection_reasons"] = inv.RejectionReasons
	}
	if inv.VoidReason != "" {
		resp["void_reason"] = inv.VoidReason
	}
	if inv.OriginalID != uuid.Nil {
		resp["original_id"] = inv.OriginalID
	}
	return resp
}
