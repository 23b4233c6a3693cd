// Package ws is the websocket/HTTP transport: streams are websocket
// connections carrying one ChatEvent per text frame, requests are plain
// HTTP calls.
package ws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live-chatkit/chatkit/codec"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/credential"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/locator"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport"
	"github.com/weiawesome/wes-io-live-chatkit/pkg/log"
)

// Config holds transport settings.
type Config struct {
	DialTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	// ReadLimit caps the size of one frame. Zero means no limit.
	ReadLimit int64
	// Insecure switches to ws:// and http://.
	Insecure bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DialTimeout:  10 * time.Second,
		MaxRetries:   5,
		RetryBackoff: time.Second,
		ReadLimit:    1 << 20,
	}
}

// Factory builds websocket instances.
type Factory struct {
	cfg Config
}

// NewFactory creates a Factory.
func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

// NewInstance implements transport.Factory. The locator is not validated here.
func (f *Factory) NewInstance(opts transport.Options) (transport.Instance, error) {
	if opts.ServiceName == "" {
		return nil, errors.New("ws: service name is required")
	}

	inst := &Instance{
		cfg:     f.cfg,
		opts:    opts,
		dialer:  &websocket.Dialer{HandshakeTimeout: f.cfg.DialTimeout, Proxy: http.ProxyFromEnvironment},
		codec:   codec.Default(),
		logger:  log.L(),
		retries: transport.RetryPolicy{MaxRetries: f.cfg.MaxRetries, Backoff: f.cfg.RetryBackoff},
	}
	if b := opts.Base; b != nil {
		if b.HTTPClient != nil {
			inst.client = b.HTTPClient
		}
		if b.Dialer != nil {
			inst.dialer = b.Dialer
		}
		if b.Codec != nil {
			inst.codec = b.Codec
		}
		inst.logger = b.Logger
	}
	inst.logger = inst.logger.With().Str(log.FieldService, opts.ServiceName).Logger()
	if inst.client == nil {
		inst.client = &http.Client{
			Timeout:   30 * time.Second,
			Transport: log.RoundTripper(nil, inst.logger),
		}
	}

	return inst, nil
}

// Instance is one service of one platform instance.
type Instance struct {
	cfg     Config
	opts    transport.Options
	client  *http.Client
	dialer  *websocket.Dialer
	codec   *codec.Codec
	logger  zerolog.Logger
	retries transport.RetryPolicy
}

// ServiceName implements transport.Instance.
func (i *Instance) ServiceName() string {
	return i.opts.ServiceName
}

// platform returns the parsed locator and the host requests and streams
// go to.
func (i *Instance) platform() (locator.Locator, string, error) {
	loc, err := locator.Require(i.opts.Locator)
	if err != nil {
		return locator.Locator{}, "", err
	}

	host := i.opts.Host
	if i.opts.Base != nil && i.opts.Base.Host != "" {
		host = i.opts.Base.Host
	}
	if host == "" {
		host = loc.Host("")
	}
	return loc, host, nil
}

// baseURL returns <scheme>://<host>/services/<service>/<version>/<instance>.
func (i *Instance) baseURL(scheme string) (string, error) {
	loc, host, err := i.platform()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s://%s/services/%s/%s/%s", scheme, host, i.opts.ServiceName, i.opts.ServiceVersion, loc.InstanceID), nil
}

// onPlatform reports whether an absolute URL points at the platform host.
func (i *Instance) onPlatform(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	_, host, err := i.platform()
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

func (i *Instance) endpoint(scheme, path string) (string, error) {
	base, err := i.baseURL(scheme)
	if err != nil {
		return "", err
	}
	return base + "/" + strings.TrimPrefix(path, "/"), nil
}

func (i *Instance) schemes() (ws, web string) {
	if i.cfg.Insecure {
		return "ws", "http"
	}
	return "wss", "https"
}

// loggerFor returns the logger carried by ctx tagged with this service,
// or the instance's own logger.
func (i *Instance) loggerFor(ctx context.Context) zerolog.Logger {
	if l, ok := log.FromContext(ctx); ok {
		return l.With().Str(log.FieldService, i.opts.ServiceName).Logger()
	}
	return i.logger
}

// Request implements transport.Instance.
func (i *Instance) Request(ctx context.Context, req transport.Request, tokens credential.Provider) ([]byte, error) {
	ctx = log.WithLogger(ctx, i.loggerFor(ctx))
	// Credentials only go to the platform; absolute links elsewhere are
	// fetched without them.
	target := req.URL
	authorize := true
	if target == "" {
		_, web := i.schemes()
		var err error
		if target, err = i.endpoint(web, req.Path); err != nil {
			return nil, err
		}
	} else {
		authorize = i.onPlatform(target)
	}
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("ws: build request: %w", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	var token string
	if authorize {
		if token, err = fetchToken(ctx, tokens); err != nil {
			return nil, err
		}
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	httpReq.Header.Set(log.HeaderRequestID, uuid.New().String())

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ws: %s %s: %w", method, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ws: read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		clearToken(tokens, token)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &transport.StatusError{Status: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// Open implements transport.Instance. The first connection is made
// before Open returns; later drops are retried in the background.
func (i *Instance) Open(ctx context.Context, path string, tokens credential.Provider) (transport.Stream, error) {
	wsScheme, _ := i.schemes()
	target, err := i.endpoint(wsScheme, path)
	if err != nil {
		return nil, err
	}

	s := newStream(i, target, path, tokens, i.loggerFor(ctx))
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	go s.run(conn)
	return s, nil
}

func fetchToken(ctx context.Context, tokens credential.Provider) (string, error) {
	if tokens == nil {
		return "", nil
	}
	token, err := tokens.FetchToken(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("ws: fetch token: %w", err)
	}
	return token, nil
}

func clearToken(tokens credential.Provider, token string) {
	if inv, ok := tokens.(credential.Invalidator); ok {
		inv.ClearToken(token)
	}
}
