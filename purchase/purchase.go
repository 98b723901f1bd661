// Package purchase defines the pay-per-call purchase capability. The core
// only depends on the Purchaser contract; the shipped HTTP client handles the
// payment-required challenge transparently by retrying once with a signed
// payer credential.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

var (
	// ErrProviderUnavailable wraps transport or provider-side failures.
	// The orchestrator treats it as "provider unavailable", not as a run
	// failure.
	ErrProviderUnavailable = errors.New("purchase: provider unavailable")
	// ErrCredentialRequired is returned when a provider demands payment
	// but no credential signer is configured.
	ErrCredentialRequired = errors.New("purchase: payment required but no payer credential configured")
)

// Delivery is the provider's response to a purchase call.
type Delivery struct {
	Payload      string `json:"payload"`
	RealizedCost string `json:"realizedCost,omitempty"`
	ProtocolUsed bool   `json:"protocolUsed"`
}

// Purchaser invokes a provider endpoint with the query and an optional payer
// credential and returns the delivered analysis.
type Purchaser interface {
	Purchase(ctx context.Context, endpoint, query, credential string) (*Delivery, error)
}

// CredentialSigner mints short-lived payer credentials accepted by providers
// in the challenge retry.
type CredentialSigner struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
	nowFn    func() time.Time
}

// NewCredentialSigner constructs an HS256 signer for payer credentials.
func NewCredentialSigner(secret []byte, issuer string, lifetime time.Duration) *CredentialSigner {
	if lifetime <= 0 {
		lifetime = 2 * time.Minute
	}
	return &CredentialSigner{secret: secret, issuer: issuer, lifetime: lifetime, nowFn: time.Now}
}

// SetNowFunc overrides the clock, primarily for deterministic tests.
func (s *CredentialSigner) SetNowFunc(now func() time.Time) {
	if s == nil {
		return
	}
	if now == nil {
		now = time.Now
	}
	s.nowFn = now
}

// Sign mints a bearer credential scoped to the provider endpoint.
func (s *CredentialSigner) Sign(audience string) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrCredentialRequired
	}
	now := s.nowFn()
	claims := jwt.MapClaims{
		"iss": s.issuer,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(s.lifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("purchase: sign credential: %w", err)
	}
	return signed, nil
}

// HTTPPurchaser posts queries to provider endpoints. On a 402 response it
// signs a payer credential and retries once, annotating the realized cost
// reported by the provider.
type HTTPPurchaser struct {
	client *http.Client
	signer *CredentialSigner

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	pace     rate.Limit
	burst    int
}

// NewHTTPPurchaser constructs the client. A nil http.Client falls back to a
// default with a 30s timeout; the signer may be nil when pay-per-call mode is
// disabled.
func NewHTTPPurchaser(client *http.Client, signer *CredentialSigner) *HTTPPurchaser {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPPurchaser{
		client:   client,
		signer:   signer,
		limiters: make(map[string]*rate.Limiter),
		pace:     rate.Limit(2),
		burst:    4,
	}
}

// SetPace overrides the per-endpoint request pacing.
func (p *HTTPPurchaser) SetPace(pace rate.Limit, burst int) {
	if p == nil || pace <= 0 || burst <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pace = pace
	p.burst = burst
	p.limiters = make(map[string]*rate.Limiter)
}

func (p *HTTPPurchaser) limiter(endpoint string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	limiter, ok := p.limiters[endpoint]
	if !ok {
		limiter = rate.NewLimiter(p.pace, p.burst)
		p.limiters[endpoint] = limiter
	}
	return limiter
}

// Purchase implements the Purchaser interface.
func (p *HTTPPurchaser) Purchase(ctx context.Context, endpoint, query, credential string) (*Delivery, error) {
	if err := p.limiter(endpoint).Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	status, body, cost, err := p.post(ctx, endpoint, query, credential)
	if err != nil {
		return nil, err
	}
	protocolUsed := false
	if status == http.StatusPaymentRequired {
		if credential == "" {
			if p.signer == nil {
				return nil, ErrCredentialRequired
			}
			credential, err = p.signer.Sign(endpoint)
			if err != nil {
				return nil, err
			}
		}
		protocolUsed = true
		status, body, cost, err = p.post(ctx, endpoint, query, credential)
		if err != nil {
			return nil, err
		}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: endpoint %s returned status %d", ErrProviderUnavailable, endpoint, status)
	}
	return &Delivery{Payload: body, RealizedCost: cost, ProtocolUsed: protocolUsed}, nil
}

func (p *HTTPPurchaser) post(ctx context.Context, endpoint, query, credential string) (int, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(query))
	if err != nil {
		return 0, "", "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	req.Header.Set("Content-Type", "text/plain")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, "", "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, "", "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return resp.StatusCode, string(body), resp.Header.Get("X-Realized-Cost"), nil
}
