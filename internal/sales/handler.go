package sales

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa-erp/internal/platform/httpx"
)

// Handler manages sales endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sales", h.record)
	r.Get("/sales/{id}", h.get)
}

type saleLineRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Discount    string `json:"discount"`
	Total       string `json:"total"`
}

type recordSaleRequest struct {
	CustomerID string            `json:"customer_id"`
	Lines      []saleLineRequest `json:"lines"`
	Net        string            `json:"net"`
	VAT        string            `json:"vat"`
	Total      string            `json:"total"`
	VATApplied bool              `json:"vat_applied"`
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	var req recordSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
		return
	}
	input := SaleInput{CustomerID: customerID, VATApplied: req.VATApplied}
	if input.Net, err = parseAmount(req.Net); err == nil {
		if input.VAT, err = parseAmount(req.VAT); err == nil {
			input.Total, err = parseAmount(req.Total)
		}
	}
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid amounts")
		return
	}
	for _, l := range req.Lines {
		line := SaleLine{Code: l.Code, Description: l.Description}
		if line.Quantity, err = parseAmount(l.Quantity); err == nil {
			if line.UnitPrice, err = parseAmount(l.UnitPrice); err == nil {
				if line.Discount, err = parseAmount(l.Discount); err == nil {
					line.Total, err = parseAmount(l.Total)
				}
			}
		}
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid line amounts")
			return
		}
		input.Lines = append(input.Lines, line)
	}

	sale, err := h.service.Record(r.Context(), input)
	if err != nil {
		if !errors.Is(err, httpx.ErrValidation) {
			h.logger.Error("record sale", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	sale, err := h.service.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			h.logger.Error("get sale", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
