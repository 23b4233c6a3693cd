// Package credential defines the token provider consumed by the
// subscription core and the providers the module ships with.
package credential

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrNoProvider = errors.New("credential: no token provider")
	ErrNoToken    = errors.New("credential: token endpoint returned no access token")
)

// Params are extra values sent with a token request.
type Params map[string]string

// Provider issues access tokens for service calls.
type Provider interface {
	FetchToken(ctx context.Context, params Params) (string, error)
}

// Invalidator is implemented by providers that cache tokens. Transports
// call ClearToken after the platform rejects a token.
type Invalidator interface {
	ClearToken(token string)
}

// userBinder is implemented only by the providers in this package, which
// is what lets Bind leave caller-supplied providers untouched.
type userBinder interface {
	bindUser(userID string)
}

// Bind scopes the module's own providers to userID before any connection
// opens. Any other provider is returned as-is.
func Bind(p Provider, userID string) (Provider, error) {
	if p == nil {
		return nil, ErrNoProvider
	}
	if b, ok := p.(userBinder); ok {
		b.bindUser(userID)
	}
	return p, nil
}

// WithInitialParams passes params on the first token fetch only; later
// fetches (refreshes) send none.
func WithInitialParams(p Provider, params Params) Provider {
	if len(params) == 0 {
		return p
	}
	return &initialParams{Provider: p, params: params}
}

type initialParams struct {
	Provider
	params Params
	once   sync.Once
}

func (ip *initialParams) FetchToken(ctx context.Context, params Params) (string, error) {
	var first Params
	ip.once.Do(func() { first = ip.params })
	if first != nil {
		merged := make(Params, len(first)+len(params))
		for k, v := range first {
			merged[k] = v
		}
		for k, v := range params {
			merged[k] = v
		}
		params = merged
	}
	return ip.Provider.FetchToken(ctx, params)
}

// ClearToken forwards to the wrapped provider when it caches tokens.
func (ip *initialParams) ClearToken(token string) {
	if inv, ok := ip.Provider.(Invalidator); ok {
		inv.ClearToken(token)
	}
}

// Unwrap exposes the wrapped provider.
func (ip *initialParams) Unwrap() Provider {
	return ip.Provider
}
