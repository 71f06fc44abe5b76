package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	delay    time.Duration
	fail     map[string]error
	panics   map[string]bool
	block    chan struct{}
	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

func (f *fakeFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxSeen.Load()
		if cur <= prev || f.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}
	if f.panics[req.URL] {
		panic("fetcher exploded")
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.fail[req.URL]; err != nil {
		return nil, err
	}
	return []byte("body:" + req.URL), nil
}

type denyLimiter struct{ err error }

func (l denyLimiter) Wait(context.Context, string) error { return l.err }

type staticIDs struct {
	id  string
	err error
}

func (s staticIDs) NewID() (string, error) { return s.id, s.err }

func newTestDispatcher(t *testing.T, f Fetcher, cfg Config) *Dispatcher {
	t.Helper()
	d := New(f, nil, nil, cfg, zap.NewNop())
	t.Cleanup(d.Close)
	return d
}

func requests(n int) []Request {
	out := make([]Request, n)
	for i := range out {
		u := fmt.Sprintf("https://example.com/%d", i)
		out[i] = Request{Key: u, URL: u}
	}
	return out
}

func TestSubmitReturnsOneResultPerRequest(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, &fakeFetcher{}, Config{})
	reqs := requests(7)
	res, err := d.Submit(context.Background(), Batch{Name: "b", Requests: reqs})
	require.NoError(t, err)
	require.Len(t, res, len(reqs))

	byKey := res.ByKey()
	for _, r := range reqs {
		got, ok := byKey[r.Key]
		require.True(t, ok, r.Key)
		assert.True(t, got.OK())
		assert.Equal(t, "body:"+r.URL, string(got.Body))
	}
	for i, r := range res {
		assert.Equal(t, reqs[i].Key, r.Key)
	}
}

func TestSubmitEmptyBatch(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, &fakeFetcher{}, Config{})
	res, err := d.Submit(context.Background(), Batch{})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSubmitIsolatesFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("503 Service Unavailable")
	reqs := requests(3)
	f := &fakeFetcher{fail: map[string]error{reqs[1].URL: boom}}
	d := newTestDispatcher(t, f, Config{})

	res, err := d.Submit(context.Background(), Batch{Requests: reqs})
	require.NoError(t, err)
	byKey := res.ByKey()
	assert.True(t, byKey[reqs[0].Key].OK())
	assert.ErrorIs(t, byKey[reqs[1].Key].Err, boom)
	assert.Nil(t, byKey[reqs[1].Key].Body)
	assert.True(t, byKey[reqs[2].Key].OK())
}

func TestSubmitRespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{delay: 10 * time.Millisecond}
	d := newTestDispatcher(t, f, Config{Concurrency: 2})

	res, err := d.Submit(context.Background(), Batch{Requests: requests(12)})
	require.NoError(t, err)
	assert.Len(t, res, 12)
	assert.LessOrEqual(t, f.maxSeen.Load(), int64(2))
	assert.Positive(t, f.maxSeen.Load())
	assert.Equal(t, int64(12), f.calls.Load())
}

func TestSubmitRecoversPanics(t *testing.T) {
	t.Parallel()

	reqs := requests(2)
	f := &fakeFetcher{panics: map[string]bool{reqs[0].URL: true}}
	d := newTestDispatcher(t, f, Config{})

	res, err := d.Submit(context.Background(), Batch{Requests: reqs})
	require.NoError(t, err)
	require.Error(t, res[0].Err)
	assert.Contains(t, res[0].Err.Error(), "panic: fetcher exploded")
	assert.True(t, res[1].OK())

	// The worker survives and keeps serving batches.
	res, err = d.Submit(context.Background(), Batch{Requests: reqs[1:]})
	require.NoError(t, err)
	assert.True(t, res[0].OK())
}

func TestSubmitRejectsNonGET(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	d := newTestDispatcher(t, f, Config{})
	res, err := d.Submit(context.Background(), Batch{Requests: []Request{
		{Key: "post", Method: "POST", URL: "https://example.com"},
		{Key: "get", Method: "GET", URL: "https://example.com/get"},
	}})
	require.NoError(t, err)
	assert.ErrorIs(t, res[0].Err, ErrUnsupportedMethod)
	assert.True(t, res[1].OK())
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestSubmitAppliesTimeout(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{block: make(chan struct{})}
	d := newTestDispatcher(t, f, Config{Timeout: 20 * time.Millisecond})

	res, err := d.Submit(context.Background(), Batch{Requests: requests(1)})
	require.NoError(t, err)
	assert.ErrorIs(t, res[0].Err, context.DeadlineExceeded)
}

func TestSubmitLimiterErrorIsPerRequest(t *testing.T) {
	t.Parallel()

	denied := errors.New("rate limited")
	f := &fakeFetcher{}
	d := New(f, denyLimiter{err: denied}, nil, Config{}, nil)
	t.Cleanup(d.Close)

	res, err := d.Submit(context.Background(), Batch{Requests: requests(2)})
	require.NoError(t, err)
	for _, r := range res {
		assert.ErrorIs(t, r.Err, denied)
	}
	assert.Zero(t, f.calls.Load())
}

func TestSubmitCallerContextCanceled(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{block: make(chan struct{})}
	d := newTestDispatcher(t, f, Config{Timeout: -1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.Submit(ctx, Batch{Name: "slow", Requests: requests(1)})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(f.block)
}

func TestSubmitAfterCloseFails(t *testing.T) {
	t.Parallel()

	d := New(&fakeFetcher{}, nil, nil, Config{}, zap.NewNop())
	d.Close()
	d.Close()

	_, err := d.Submit(context.Background(), Batch{Requests: requests(1)})
	require.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestCloseWhileBatchInFlight(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{block: make(chan struct{})}
	d := New(f, nil, nil, Config{Timeout: -1}, zap.NewNop())

	errs := make(chan error, 1)
	go func() {
		_, err := d.Submit(context.Background(), Batch{Requests: requests(1)})
		errs <- err
	}()
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	d.Close()
	select {
	case err := <-errs:
		// Either the worker replied with canceled results or shut down first.
		if err != nil {
			assert.ErrorIs(t, err, ErrDispatcherClosed)
		}
	case <-time.After(time.Second):
		t.Fatal("submit did not return after close")
	}
}

func TestWorkerStartsLazily(t *testing.T) {
	t.Parallel()

	d := New(&fakeFetcher{}, nil, nil, Config{}, nil)
	t.Cleanup(d.Close)
	assert.Nil(t, d.ctx)

	_, err := d.Submit(context.Background(), Batch{})
	require.NoError(t, err)
	assert.NotNil(t, d.ctx)
}

func TestConcurrentSubmitters(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, &fakeFetcher{delay: time.Millisecond}, Config{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			reqs := requests(i + 1)
			res, err := d.Submit(context.Background(), Batch{Requests: reqs})
			assert.NoError(t, err)
			assert.Len(t, res, len(reqs))
		}()
	}
	wg.Wait()
}

func TestBatchName(t *testing.T) {
	t.Parallel()

	d := New(&fakeFetcher{}, nil, staticIDs{id: "0193"}, Config{}, nil)
	assert.Equal(t, "0193", d.batchName())

	d = New(&fakeFetcher{}, nil, staticIDs{err: errors.New("entropy")}, Config{}, nil)
	assert.Equal(t, "batch", d.batchName())

	d = New(&fakeFetcher{}, nil, nil, Config{}, nil)
	assert.Equal(t, "batch", d.batchName())
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	d := New(&fakeFetcher{}, nil, nil, Config{}, nil)
	assert.Equal(t, DefaultConcurrency, d.cfg.Concurrency)
	assert.Equal(t, DefaultTimeout, d.cfg.Timeout)
}
