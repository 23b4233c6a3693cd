package transport

import (
	"fmt"

	"github.com/weiawesome/wes-io-live-chatkit/chatkit/locator"
)

// Endpoints bundles one instance per backend service.
type Endpoints struct {
	Core     Instance
	Cursors  Instance
	Files    Instance
	Presence Instance
}

// EndpointConfig is the input to NewEndpoints.
type EndpointConfig struct {
	Locator        string
	Version        string
	PlatformDomain string
	Base           *Base
}

// NewEndpoints builds the four service instances. A well-formed locator
// supplies the default host; a malformed one is passed through for the
// transport to reject. Any instance failing to build is an error.
func NewEndpoints(f Factory, cfg EndpointConfig) (*Endpoints, error) {
	version := cfg.Version
	if version == "" {
		version = DefaultVersion
	}
	domain := cfg.PlatformDomain
	if domain == "" {
		domain = locator.DefaultPlatformDomain
	}

	var host string
	if loc, ok := locator.Parse(cfg.Locator); ok {
		host = loc.Host(domain)
	}

	build := func(service string) (Instance, error) {
		inst, err := f.NewInstance(Options{
			Locator:        cfg.Locator,
			ServiceName:    service,
			ServiceVersion: version,
			Host:           host,
			Base:           cfg.Base,
		})
		if err != nil {
			return nil, fmt.Errorf("build %s instance: %w", service, err)
		}
		return inst, nil
	}

	var (
		e   Endpoints
		err error
	)
	if e.Core, err = build(ServiceCore); err != nil {
		return nil, err
	}
	if e.Cursors, err = build(ServiceCursors); err != nil {
		return nil, err
	}
	if e.Files, err = build(ServiceFiles); err != nil {
		return nil, err
	}
	if e.Presence, err = build(ServicePresence); err != nil {
		return nil, err
	}
	return &e, nil
}
