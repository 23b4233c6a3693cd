package credential

import (
	"context"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live-chatkit/pkg/jwt"
)

// LocalProvider signs tokens in-process with a shared instance key. It is
// meant for development deployments where the key may live on the client.
type LocalProvider struct {
	signer     *jwt.Signer
	instanceID string

	mu     sync.Mutex
	userID string
	token  string
	expiry time.Time
}

// NewLocalProvider creates a provider signing for instanceID with keyID/secret.
func NewLocalProvider(instanceID, keyID, secret string, ttl time.Duration) (*LocalProvider, error) {
	signer, err := jwt.NewSigner(keyID, secret, ttl)
	if err != nil {
		return nil, err
	}
	return &LocalProvider{signer: signer, instanceID: instanceID}, nil
}

func (p *LocalProvider) bindUser(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.userID != userID {
		p.token = ""
	}
	p.userID = userID
}

// FetchToken returns a token for the bound user, re-signing once the
// previous one is within a minute of expiry.
func (p *LocalProvider) FetchToken(ctx context.Context, _ Params) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Until(p.expiry) > time.Minute {
		return p.token, nil
	}
	tok, exp, err := p.signer.Sign(p.instanceID, p.userID)
	if err != nil {
		return "", err
	}
	p.token = tok
	p.expiry = time.Unix(exp, 0)
	return tok, nil
}

// ClearToken forces the next fetch to sign a fresh token.
func (p *LocalProvider) ClearToken(string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
}
