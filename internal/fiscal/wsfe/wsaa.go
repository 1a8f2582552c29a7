package wsfe

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pkcs12"
)

// accessTicket is a short-lived credential granted by the authority's login
// service. Every authorization call presents its token and signature.
type accessTicket struct {
	Token   string    `json:"token"`
	Sign    string    `json:"sign"`
	Expires time.Time `json:"expires"`
}

func (t accessTicket) valid(now time.Time) bool {
	// Renew a little early so an in-flight call never straddles the expiry.
	return t.Token != "" && now.Before(t.Expires.Add(-5*time.Minute))
}

// CredentialManager exchanges the issuer's certificate for access tickets and
// caches them until shortly before expiry.
type CredentialManager struct {
	loginURL string
	client   *http.Client

	key  *rsa.PrivateKey
	cuit string

	mu     sync.Mutex
	ticket accessTicket
}

// NewCredentialManager loads the PKCS#12 credential from disk and prepares a
// manager bound to the authority's login endpoint.
func NewCredentialManager(loginURL, certPath, certPassword, cuit string, client *http.Client) (*CredentialManager, error) {
	raw, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("wsfe: read credential %s: %w", certPath, err)
	}
	priv, _, err := pkcs12.Decode(raw, certPassword)
	if err != nil {
		return nil, fmt.Errorf("wsfe: decode credential: %w", err)
	}
	key, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("wsfe: credential key is %T, need RSA", priv)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &CredentialManager{loginURL: loginURL, client: client, key: key, cuit: cuit}, nil
}

type loginRequest struct {
	CUIT       string `json:"cuit"`
	UniqueID   string `json:"unique_id"`
	Generation string `json:"generation"`
	Expiration string `json:"expiration"`
	Signature  string `json:"signature"`
}

// Ticket returns a valid access ticket, logging in again when the cached one
// is gone or about to expire. Concurrent callers share one login.
func (m *CredentialManager) Ticket(ctx context.Context) (accessTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if m.ticket.valid(now) {
		return m.ticket, nil
	}

	req := loginRequest{
		CUIT:       m.cuit,
		UniqueID:   uuid.NewString(),
		Generation: now.Format(time.RFC3339),
		Expiration: now.Add(12 * time.Hour).Format(time.RFC3339),
	}
	digest := sha256.Sum256([]byte(req.CUIT + req.UniqueID + req.Generation + req.Expiration))
	sig, err := rsa.SignPKCS1v15(rand.Reader, m.key, crypto.SHA256, digest[:])
	if err != nil {
		return accessTicket{}, fmt.Errorf("wsfe: sign login request: %w", err)
	}
	req.Signature = base64.StdEncoding.EncodeToString(sig)

	body, err := json.Marshal(req)
	if err != nil {
		return accessTicket{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.loginURL, bytes.NewReader(body))
	if err != nil {
		return accessTicket{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return accessTicket{}, fmt.Errorf("wsfe: login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return accessTicket{}, fmt.Errorf("wsfe: login returned status %d", resp.StatusCode)
	}

	var ticket accessTicket
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		return accessTicket{}, fmt.Errorf("wsfe: decode login response: %w", err)
	}
	m.ticket = ticket
	return ticket, nil
}
