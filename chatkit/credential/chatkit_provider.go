package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// tokenLeeway is subtracted from the advertised expiry so a token is
// refreshed before the platform starts rejecting it.
const tokenLeeway = 30 * time.Second

// ChatkitProvider fetches tokens from an application token endpoint using
// the client_credentials grant, scoped to one user. It is the default
// provider and the only one Bind customises.
type ChatkitProvider struct {
	endpoint string
	client   *http.Client
	headers  map[string]string

	mu        sync.Mutex
	userID    string
	token     string
	expiresAt time.Time
	now       func() time.Time
}

// ChatkitOption configures a ChatkitProvider.
type ChatkitOption func(*ChatkitProvider)

// WithHTTPClient overrides the HTTP client used for token requests.
func WithHTTPClient(c *http.Client) ChatkitOption {
	return func(p *ChatkitProvider) { p.client = c }
}

// WithHeaders adds headers to every token request.
func WithHeaders(h map[string]string) ChatkitOption {
	return func(p *ChatkitProvider) {
		for k, v := range h {
			p.headers[k] = v
		}
	}
}

// NewChatkitProvider creates a provider for the given token endpoint.
func NewChatkitProvider(endpoint string, opts ...ChatkitOption) *ChatkitProvider {
	p := &ChatkitProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		headers:  make(map[string]string),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ChatkitProvider) bindUser(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.userID != userID {
		p.token = ""
		p.expiresAt = time.Time{}
	}
	p.userID = userID
}

// UserID returns the user the provider is bound to.
func (p *ChatkitProvider) UserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenEndpointError is returned when the endpoint answers with a non-2xx status.
type TokenEndpointError struct {
	Status int
	Body   string
}

func (e *TokenEndpointError) Error() string {
	return fmt.Sprintf("credential: token endpoint returned %d: %s", e.Status, e.Body)
}

// FetchToken returns the cached token while it is fresh, otherwise
// requests a new one.
func (p *ChatkitProvider) FetchToken(ctx context.Context, params Params) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Before(p.expiresAt) {
		return p.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if p.userID != "" {
		form.Set("user_id", p.userID)
	}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("credential: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("credential: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &TokenEndpointError{Status: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("credential: decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", ErrNoToken
	}

	p.token = tr.AccessToken
	ttl := time.Duration(tr.ExpiresIn)*time.Second - tokenLeeway
	if ttl < 0 {
		ttl = 0
	}
	p.expiresAt = p.now().Add(ttl)

	return p.token, nil
}

// ClearToken drops the cached token if it is still token.
func (p *ChatkitProvider) ClearToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if token == "" || p.token == token {
		p.token = ""
		p.expiresAt = time.Time{}
	}
}
