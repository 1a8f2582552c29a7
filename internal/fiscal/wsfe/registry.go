package wsfe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pampa-erp/pampa-erp/internal/fiscal"
)

// RegistryClient queries the authority's taxpayer registry. It implements
// fiscal.RegistryLookup.
type RegistryClient struct {
	baseURL string
	tickets TicketSource
	client  *http.Client
}

// NewRegistryClient builds a RegistryClient.
func NewRegistryClient(baseURL string, tickets TicketSource, httpClient *http.Client) *RegistryClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &RegistryClient{baseURL: baseURL, tickets: tickets, client: httpClient}
}

type registryResponse struct {
	Found          bool   `json:"found"`
	ConditionCode  int    `json:"condition_code"`
	ConditionLabel string `json:"condition_label"`
}

// TaxStatus returns the registered tax condition for taxID. An identifier
// absent from the registry yields fiscal.ErrNotRegistered.
func (c *RegistryClient) TaxStatus(ctx context.Context, taxID string) (*fiscal.TaxStatus, error) {
	ticket, err := c.tickets.Ticket(ctx)
	if err != nil {
		return nil, &fiscal.TransportError{Op: "registry", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/registry/"+taxID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+ticket.Token)
	req.Header.Set("X-Auth-Sign", ticket.Sign)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &fiscal.TransportError{Op: "registry", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fiscal.ErrNotRegistered
	default:
		return nil, &fiscal.TransportError{Op: "registry", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var body registryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("wsfe: decode registry response: %w", err)
	}
	if !body.Found {
		return nil, fiscal.ErrNotRegistered
	}
	return &fiscal.TaxStatus{ConditionCode: body.ConditionCode, ConditionLabel: body.ConditionLabel}, nil
}
