// Package wsfe is the HTTP client for the tax authority's electronic
// invoicing services: credential login, voucher authorization, point-of-sale
// enumeration and after-the-fact CAE verification.
package wsfe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pampa-erp/pampa-erp/internal/fiscal"
)

// TicketSource provides login tickets for outgoing calls.
type TicketSource interface {
	Ticket(ctx context.Context) (accessTicket, error)
}

// Options tunes the client's retry behaviour.
type Options struct {
	// MaxRetries bounds automatic retries of transport failures where no
	// response was received. Received responses, including rejections, are
	// never retried.
	MaxRetries int
	// Backoff is the initial delay between retries; it doubles per attempt.
	Backoff time.Duration
}

// Client talks to the authority's authorization service. It implements
// fiscal.Authorizer.
type Client struct {
	baseURL string
	tickets TicketSource
	client  *http.Client
	logger  *slog.Logger
	opts    Options

	group singleflight.Group
}

// NewClient builds a Client. A nil httpClient falls back to a 30s-timeout
// default.
func NewClient(baseURL string, tickets TicketSource, httpClient *http.Client, logger *slog.Logger, opts Options) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	return &Client{baseURL: baseURL, tickets: tickets, client: httpClient, logger: logger, opts: opts}
}

type wireItem struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Net         string `json:"net"`
	VAT         string `json:"vat"`
	Total       string `json:"total"`
}

type wireVAT struct {
	RateCode int    `json:"rate_code"`
	Base     string `json:"base"`
	Amount   string `json:"amount"`
}

type wireTribute struct {
	Code   int    `json:"code"`
	Base   string `json:"base"`
	Amount string `json:"amount"`
}

type wireReference struct {
	TypeCode    int   `json:"type_code"`
	PointOfSale int   `json:"point_of_sale"`
	Sequence    int64 `json:"sequence"`
}

type authorizeRequest struct {
	Token       string          `json:"token"`
	Sign        string          `json:"sign"`
	IssuerCUIT  string          `json:"issuer_cuit"`
	PointOfSale int             `json:"point_of_sale"`
	TypeCode    int             `json:"type_code"`
	DocType     int             `json:"doc_type"`
	DocNumber   string          `json:"doc_number"`
	PartyName   string          `json:"party_name"`
	IssueDate   string          `json:"issue_date"`
	NetTaxed    string          `json:"net_taxed"`
	NetUntaxed  string          `json:"net_untaxed"`
	Exempt      string          `json:"exempt"`
	VATTotal    string          `json:"vat_total"`
	Tributes    string          `json:"tribute_total"`
	GrandTotal  string          `json:"grand_total"`
	Items       []wireItem      `json:"items"`
	VAT         []wireVAT       `json:"vat,omitempty"`
	OtherTaxes  []wireTribute   `json:"other_taxes,omitempty"`
	References  []wireReference `json:"references,omitempty"`
}

type authorizeResponse struct {
	Result       string   `json:"result"`
	CAE          string   `json:"cae"`
	CAEExpiry    string   `json:"cae_expiry"`
	Sequence     int64    `json:"sequence"`
	Observations []string `json:"observations"`
	Reasons      []string `json:"reasons"`
}

func buildRequest(sub *fiscal.Submission, ticket accessTicket) authorizeRequest {
	req := authorizeRequest{
		Token:       ticket.Token,
		Sign:        ticket.Sign,
		IssuerCUIT:  sub.IssuerCUIT,
		PointOfSale: sub.PointOfSale,
		TypeCode:    sub.TypeCode,
		DocType:     sub.DocTypeCode,
		DocNumber:   sub.DocNumber,
		PartyName:   sub.PartyName,
		IssueDate:   sub.IssueDate.Format("20060102"),
		NetTaxed:    sub.NetTaxed.StringFixed(2),
		NetUntaxed:  sub.NetUntaxed.StringFixed(2),
		Exempt:      sub.Exempt.StringFixed(2),
		VATTotal:    sub.VATTotal.StringFixed(2),
		Tributes:    sub.TributeTotal.StringFixed(2),
		GrandTotal:  sub.GrandTotal.StringFixed(2),
	}
	for _, it := range sub.Items {
		req.Items = append(req.Items, wireItem{
			Code:        it.Code,
			Description: it.Description,
			Quantity:    it.Quantity.String(),
			UnitPrice:   it.UnitPrice.StringFixed(2),
			Net:         it.NetAmount.StringFixed(2),
			VAT:         it.VATAmount.StringFixed(2),
			Total:       it.Total.StringFixed(2),
		})
	}
	for _, v := range sub.VAT {
		req.VAT = append(req.VAT, wireVAT{RateCode: v.RateCode, Base: v.Base.StringFixed(2), Amount: v.Amount.StringFixed(2)})
	}
	for _, tr := range sub.Tributes {
		req.OtherTaxes = append(req.OtherTaxes, wireTribute{Code: tr.Code, Base: tr.Base.StringFixed(2), Amount: tr.Amount.StringFixed(2)})
	}
	for _, ref := range sub.References {
		req.References = append(req.References, wireReference{TypeCode: ref.TypeCode, PointOfSale: ref.PointOfSale, Sequence: ref.Sequence})
	}
	return req
}

// Authorize submits sub and interprets the authority's answer. Transport
// failures where no response arrived are retried up to the configured bound
// with doubling backoff; anything the authority actually answered, approval
// or rejection, is final for this attempt.
func (c *Client) Authorize(ctx context.Context, sub *fiscal.Submission) (*fiscal.Authorization, error) {
	ticket, err := c.tickets.Ticket(ctx)
	if err != nil {
		return nil, &fiscal.TransportError{Op: "authorize", Err: err}
	}
	payload, err := json.Marshal(buildRequest(sub, ticket))
	if err != nil {
		return nil, fmt.Errorf("wsfe: encode request: %w", err)
	}

	var resp *http.Response
	backoff := c.opts.Backoff
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoices/authorize", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("wsfe: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = c.client.Do(req)
		if err == nil {
			break
		}
		if attempt >= c.opts.MaxRetries || ctx.Err() != nil {
			return nil, &fiscal.TransportError{Op: "authorize", Err: err}
		}
		c.logger.Warn("authority unreachable, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.Any("error", err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, &fiscal.TransportError{Op: "authorize", Err: ctx.Err()}
		}
		backoff *= 2
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		// The authority answered but not with a business outcome. Classified
		// as transport so the invoice stays a draft; callers should verify
		// the last authorized sequence before resubmitting.
		return nil, &fiscal.TransportError{Op: "authorize", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wsfe: authorize returned status %d", resp.StatusCode)
	}

	var body authorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("wsfe: decode response: %w", err)
	}

	switch body.Result {
	case "A":
		expiry, err := time.Parse("20060102", body.CAEExpiry)
		if err != nil {
			return nil, fmt.Errorf("wsfe: bad CAE expiry %q: %w", body.CAEExpiry, err)
		}
		barcode, err := Barcode(sub.IssuerCUIT, sub.TypeCode, sub.PointOfSale, body.CAE, expiry)
		if err != nil {
			return nil, err
		}
		return &fiscal.Authorization{
			CAE:          body.CAE,
			CAEExpiry:    expiry,
			Sequence:     body.Sequence,
			AuthorizedAt: time.Now(),
			Barcode:      barcode,
			Observations: body.Observations,
		}, nil
	case "R":
		reasons := body.Reasons
		if len(reasons) == 0 {
			reasons = []string{"rejected without stated reasons"}
		}
		return nil, &fiscal.RejectionError{Reasons: reasons}
	default:
		return nil, fmt.Errorf("wsfe: unknown result %q", body.Result)
	}
}

type pointOfSaleResponse struct {
	PointsOfSale []struct {
		Number  int    `json:"number"`
		Kind    string `json:"kind"`
		Blocked bool   `json:"blocked"`
	} `json:"points_of_sale"`
}

// PointsOfSale lists the sales channels currently enabled with the
// authority. Concurrent callers share one in-flight query.
func (c *Client) PointsOfSale(ctx context.Context) ([]fiscal.PointOfSale, error) {
	v, err, _ := c.group.Do("points-of-sale", func() (any, error) {
		var body pointOfSaleResponse
		if err := c.getJSON(ctx, "/points-of-sale", &body); err != nil {
			return nil, err
		}
		out := make([]fiscal.PointOfSale, 0, len(body.PointsOfSale))
		for _, p := range body.PointsOfSale {
			out = append(out, fiscal.PointOfSale{Number: p.Number, Kind: p.Kind, Blocked: p.Blocked})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]fiscal.PointOfSale), nil
}

// VerifyAuthorization asks the authority whether a previously granted CAE is
// still on record for the given voucher coordinates.
func (c *Client) VerifyAuthorization(ctx context.Context, cae string, typeCode, pointOfSale int, sequence int64) (bool, error) {
	path := fmt.Sprintf("/invoices/verify?cae=%s&type=%d&pos=%d&seq=%d", cae, typeCode, pointOfSale, sequence)
	var body struct {
		Valid bool `json:"valid"`
	}
	if err := c.getJSON(ctx, path, &body); err != nil {
		return false, err
	}
	return body.Valid, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ticket, err := c.tickets.Ticket(ctx)
	if err != nil {
		return &fiscal.TransportError{Op: path, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+ticket.Token)
	req.Header.Set("X-Auth-Sign", ticket.Sign)

	resp, err := c.client.Do(req)
	if err != nil {
		return &fiscal.TransportError{Op: path, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &fiscal.TransportError{Op: path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
