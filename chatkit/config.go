// Package chatkit connects a single authenticated user to the chat
// platform and delivers everything that happens to them through one
// ordered listener.
package chatkit

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live-chatkit/chatkit/codec"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/credential"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/dispatcher"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport"
)

// Config configures a Manager. InstanceLocator, UserID and TokenProvider
// are required.
type Config struct {
	// InstanceLocator has the form version:cluster:instance.
	InstanceLocator string
	UserID          string
	TokenProvider   credential.Provider
	// TokenParams are sent with the first token request only.
	TokenParams credential.Params

	// Executor runs listener callbacks. Defaults to a queue owned by the
	// Manager.
	Executor dispatcher.Executor
	// Factory builds service instances. Defaults to the websocket transport.
	Factory transport.Factory
	// Base is shared by every service instance.
	Base           *transport.Base
	PlatformDomain string
	Version        string

	// LogLevel is used when Logger is nil.
	LogLevel string
	Logger   *zerolog.Logger
	Codec    *codec.Codec
}

// ConfigurationError reports a missing or invalid configuration field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("chatkit: %s is required", e.Field)
	}
	return fmt.Sprintf("chatkit: invalid %s: %s", e.Field, e.Reason)
}

func (c *Config) validate() error {
	if c.InstanceLocator == "" {
		return &ConfigurationError{Field: "InstanceLocator"}
	}
	if c.UserID == "" {
		return &ConfigurationError{Field: "UserID"}
	}
	if c.TokenProvider == nil {
		return &ConfigurationError{Field: "TokenProvider"}
	}
	return nil
}
