package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFactory struct {
	opts   []Options
	failOn string
}

func (f *recordingFactory) NewInstance(opts Options) (Instance, error) {
	f.opts = append(f.opts, opts)
	if opts.ServiceName == f.failOn {
		return nil, errors.New("boom")
	}
	return nil, nil
}

func TestNewEndpoints_SharedOptions(t *testing.T) {
	f := &recordingFactory{}
	base := &Base{Host: "override"}

	_, err := NewEndpoints(f, EndpointConfig{Locator: "v1:us1:abc", Base: base})
	require.NoError(t, err)
	require.Len(t, f.opts, 4)

	services := make([]string, 0, 4)
	for _, o := range f.opts {
		services = append(services, o.ServiceName)
		assert.Equal(t, "v1:us1:abc", o.Locator)
		assert.Equal(t, DefaultVersion, o.ServiceVersion)
		assert.Equal(t, "us1.pusherplatform.io", o.Host)
		assert.Same(t, base, o.Base)
	}
	assert.Equal(t, []string{ServiceCore, ServiceCursors, ServiceFiles, ServicePresence}, services)
}

func TestNewEndpoints_MalformedLocatorSkipsHost(t *testing.T) {
	f := &recordingFactory{}
	_, err := NewEndpoints(f, EndpointConfig{Locator: "not-a-locator"})
	require.NoError(t, err)
	for _, o := range f.opts {
		assert.Empty(t, o.Host)
		assert.Equal(t, "not-a-locator", o.Locator)
	}
}

func TestNewEndpoints_ConstructionFailure(t *testing.T) {
	f := &recordingFactory{failOn: ServiceFiles}
	_, err := NewEndpoints(f, EndpointConfig{Locator: "v1:us1:abc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ServiceFiles)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{Backoff: 10}
	assert.EqualValues(t, 10, p.Delay(0))
	assert.EqualValues(t, 30, p.Delay(3))
}
