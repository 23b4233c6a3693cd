package log

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HeaderRequestID carries the request id on outgoing calls.
const HeaderRequestID = "X-Request-ID"

// RoundTripper wraps next so every outgoing request carries an
// X-Request-ID and is logged on completion, with the request context's
// logger when it has one. A nil next uses http.DefaultTransport.
func RoundTripper(next http.RoundTripper, logger zerolog.Logger) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &loggingTransport{next: next, logger: logger}
}

type loggingTransport struct {
	next   http.RoundTripper
	logger zerolog.Logger
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()

	reqID := r.Header.Get(HeaderRequestID)
	if reqID == "" {
		reqID = uuid.New().String()
		r = r.Clone(r.Context())
		r.Header.Set(HeaderRequestID, reqID)
	}

	child := Ctx(r.Context(), t.logger).With().
		Str(FieldRequestID, reqID).
		Str(FieldMethod, r.Method).
		Str(FieldPath, r.URL.Path).
		Logger()

	resp, err := t.next.RoundTrip(r)
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		child.Warn().Err(err).Float64(FieldLatency, latency).Msg("request failed")
		return nil, err
	}

	child.Debug().
		Int(FieldStatus, resp.StatusCode).
		Float64(FieldLatency, latency).
		Msg("request completed")
	return resp, nil
}
