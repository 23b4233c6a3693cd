// Package locator parses instance locators of the form
// "<version>:<cluster>:<instance id>".
//
// Parsing is permissive: a locator of the wrong shape is not an error at
// parse time. Callers skip host derivation and let the transport report
// the problem when it first needs the instance id.
package locator

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultPlatformDomain is appended to the cluster to form the service host.
const DefaultPlatformDomain = "pusherplatform.io"

// ErrMalformed is wrapped by FormatError.
var ErrMalformed = errors.New("malformed instance locator")

// Locator is the routing metadata carried by an instance locator.
type Locator struct {
	Version    string
	Cluster    string
	InstanceID string
}

// Parse splits s on ':'. ok is false unless exactly three parts are present.
func Parse(s string) (Locator, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Locator{}, false
	}
	return Locator{
		Version:    parts[0],
		Cluster:    parts[1],
		InstanceID: parts[2],
	}, true
}

// Host returns "<cluster>.<domain>". An empty domain uses DefaultPlatformDomain.
func (l Locator) Host(domain string) string {
	if domain == "" {
		domain = DefaultPlatformDomain
	}
	return l.Cluster + "." + domain
}

func (l Locator) String() string {
	return l.Version + ":" + l.Cluster + ":" + l.InstanceID
}

// FormatError reports a locator that could not be used to reach a service.
type FormatError struct {
	Locator string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("instance locator %q: expected version:cluster:instance", e.Locator)
}

func (e *FormatError) Unwrap() error { return ErrMalformed }

// Require parses s and returns a *FormatError when it is malformed or any
// segment is empty. Transports call this; the connect path does not.
func Require(s string) (Locator, error) {
	l, ok := Parse(s)
	if !ok || l.Version == "" || l.Cluster == "" || l.InstanceID == "" {
		return Locator{}, &FormatError{Locator: s}
	}
	return l, nil
}
