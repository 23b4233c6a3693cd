package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" warn ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewWritesServiceField(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", ServiceName: "chatkit", Output: &buf})

	logger.Debug().Str(FieldUserID, "alice").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "chatkit", entry[FieldService])
	assert.Equal(t, "alice", entry[FieldUserID])
	assert.Equal(t, "hello", entry["message"])
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Output: &buf})

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())
}

func TestCtx(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf}).With().Str(FieldSubscriptionID, "sub-1").Logger()

	ctx := WithLogger(context.Background(), logger)
	l := Ctx(ctx, zerolog.Nop())
	l.Info().Msg("scoped")
	assert.Contains(t, buf.String(), `"subscription_id":"sub-1"`)

	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	var fallback bytes.Buffer
	l = Ctx(context.Background(), New(Config{Output: &fallback}))
	l.Info().Msg("unscoped")
	assert.Contains(t, fallback.String(), "unscoped")
}

func TestRoundTripper_SetsRequestID(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(HeaderRequestID)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Output: &buf})
	client := &http.Client{Transport: RoundTripper(nil, logger)}

	resp, err := client.Get(srv.URL + "/users/alice")
	require.NoError(t, err)
	resp.Body.Close()

	assert.NotEmpty(t, got)
	assert.Contains(t, buf.String(), got)
	assert.Contains(t, buf.String(), `"path":"/users/alice"`)
	assert.Contains(t, buf.String(), `"status":204`)
}

func TestRoundTripper_UsesContextLogger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var base, scoped bytes.Buffer
	client := &http.Client{Transport: RoundTripper(nil, New(Config{Level: "debug", Output: &base}))}

	logger := New(Config{Level: "debug", Output: &scoped}).With().Str(FieldSubscriptionID, "sub-9").Logger()
	req, err := http.NewRequestWithContext(WithLogger(context.Background(), logger), http.MethodGet, srv.URL+"/rooms", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Zero(t, base.Len())
	assert.Contains(t, scoped.String(), `"subscription_id":"sub-9"`)
	assert.Contains(t, scoped.String(), `"status":200`)
}
