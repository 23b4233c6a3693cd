// Package codec holds the serialization settings shared by every
// component that decodes wire payloads. A Codec is built once by the
// manager and injected; there is no package-level codec.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Config controls decoding strictness.
type Config struct {
	// DisallowUnknownFields rejects payloads carrying fields the target
	// type does not declare.
	DisallowUnknownFields bool
	// UseNumber decodes numbers into json.Number inside interface{} values.
	UseNumber bool
}

// Codec encodes and decodes wire payloads.
type Codec struct {
	cfg Config
}

// New creates a codec.
func New(cfg Config) *Codec {
	return &Codec{cfg: cfg}
}

// Default returns a lenient codec.
func Default() *Codec {
	return New(Config{})
}

// Decode unmarshals data into v.
func (c *Codec) Decode(data []byte, v any) error {
	return c.DecodeReader(bytes.NewReader(data), v)
}

// DecodeReader unmarshals one JSON value from r into v.
func (c *Codec) DecodeReader(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	if c.cfg.DisallowUnknownFields {
		dec.DisallowUnknownFields()
	}
	if c.cfg.UseNumber {
		dec.UseNumber()
	}
	return dec.Decode(v)
}

// Encode marshals v.
func (c *Codec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeError reports an event payload that could not be decoded.
type DecodeError struct {
	EventName string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q payload: %v", e.EventName, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeEvent decodes an event payload, wrapping failures in *DecodeError.
func (c *Codec) DecodeEvent(eventName string, data []byte, v any) error {
	if len(data) == 0 {
		return &DecodeError{EventName: eventName, Err: io.ErrUnexpectedEOF}
	}
	if err := c.Decode(data, v); err != nil {
		return &DecodeError{EventName: eventName, Err: err}
	}
	return nil
}
