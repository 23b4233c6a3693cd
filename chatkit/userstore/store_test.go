package userstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live-chatkit/chatkit/codec"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/domain"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport/transporttest"
)

type countingFetcher struct {
	calls   int32
	release chan struct{}
}

func (f *countingFetcher) FetchUser(ctx context.Context, id string) (*domain.User, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.release != nil {
		<-f.release
	}
	return &domain.User{ID: id, Name: "name-" + id}, nil
}

func TestGet_ConcurrentCallsFetchOnce(t *testing.T) {
	f := &countingFetcher{release: make(chan struct{})}
	s := New(f, zerolog.Nop())

	const n = 50
	results := make([]*domain.User, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := s.Get(context.Background(), "alice")
			assert.NoError(t, err)
			results[i] = u
		}(i)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&f.calls) == 1 }, time.Second, time.Millisecond)
	close(f.release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&f.calls))
	for _, u := range results {
		assert.Same(t, results[0], u)
	}
	assert.Equal(t, "name-alice", results[0].GetName())

	again, err := s.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Same(t, results[0], again)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.calls))
}

func TestResolve_PlaceholderIsEnrichedInPlace(t *testing.T) {
	f := &countingFetcher{}
	s := New(f, zerolog.Nop())

	u := s.Resolve("bob")
	require.NotNil(t, u)
	assert.Equal(t, "bob", u.ID)

	require.Eventually(t, func() bool { return u.GetName() == "name-bob" }, time.Second, time.Millisecond)
	assert.Same(t, u, s.Resolve("bob"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.calls))
}

func TestUpdate_MergesByField(t *testing.T) {
	s := New(nil, zerolog.Nop())

	u := s.Update(&domain.User{ID: "carol", Name: "Carol", CustomData: domain.CustomData{"a": "1"}})
	merged := s.Update(&domain.User{ID: "carol", AvatarURL: "http://img", CustomData: domain.CustomData{"b": "2"}})

	assert.Same(t, u, merged)
	assert.Equal(t, "Carol", u.GetName())
	assert.Equal(t, "http://img", u.GetAvatarURL())
	assert.Equal(t, domain.CustomData{"a": "1", "b": "2"}, u.GetCustomData())

	got, err := s.Get(context.Background(), "carol")
	require.NoError(t, err)
	assert.Same(t, u, got)
}

func TestGet_WithoutFetcher(t *testing.T) {
	s := New(nil, zerolog.Nop())

	_, err := s.Get(context.Background(), "erin")
	assert.ErrorIs(t, err, ErrNoFetcher)

	placeholder := s.Resolve("erin")
	_, err = s.Get(context.Background(), "erin")
	assert.ErrorIs(t, err, ErrNoFetcher)
	assert.Equal(t, "erin", placeholder.ID)
}

func TestClose_DiscardsLateFetch(t *testing.T) {
	f := &countingFetcher{release: make(chan struct{})}
	s := New(f, zerolog.Nop())
	placeholder := s.Resolve("dave")

	require.Eventually(t, func() bool { return atomic.LoadInt32(&f.calls) == 1 }, time.Second, time.Millisecond)
	s.Close()
	close(f.release)

	assert.Never(t, func() bool { return placeholder.GetName() != "" }, 50*time.Millisecond, time.Millisecond)

	_, err := s.Get(context.Background(), "dave")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGet_CallerCancelDoesNotAbortFetch(t *testing.T) {
	f := &countingFetcher{release: make(chan struct{})}
	s := New(f, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Get(ctx, "erin")
		errCh <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&f.calls) == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(f.release)
	require.Eventually(t, func() bool {
		u, ok := s.Peek("erin")
		return ok && u.GetName() == "name-erin"
	}, time.Second, time.Millisecond)
}

func TestInstanceFetcher(t *testing.T) {
	inst := transporttest.NewInstance(transport.Options{ServiceName: transport.ServiceCore})
	inst.RespondJSON("users/frank", map[string]any{"id": "frank", "name": "Frank", "custom_data": map[string]string{"k": "v"}})

	f := NewInstanceFetcher(inst, nil, codec.Default())
	u, err := f.FetchUser(context.Background(), "frank")
	require.NoError(t, err)
	assert.Equal(t, "Frank", u.Name)
	assert.Equal(t, domain.CustomData{"k": "v"}, u.CustomData)

	_, err = f.FetchUser(context.Background(), "nobody")
	var se *transport.StatusError
	assert.True(t, errors.As(err, &se))
}
