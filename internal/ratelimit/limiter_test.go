package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delays struct {
	mu    sync.Mutex
	hosts []string
}

func (d *delays) ObserveRateLimitDelay(host string, _ time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hosts = append(d.hosts, host)
}

func TestLimiterWaitsPerHost(t *testing.T) {
	t.Parallel()

	obs := &delays{}
	l := New(Config{RPS: 10, Burst: 1}, obs)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "test.com"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "TEST.com"))
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
	assert.Equal(t, []string{"test.com"}, obs.hosts)

	// A fresh host has its own bucket.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "other.com"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 2, l.Hosts())
}

func TestLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1}, nil)
	require.NoError(t, l.Wait(context.Background(), "a.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "a.com"))
}

func TestZeroRateIsUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{}, nil)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "a.com"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	l := New(Config{RPS: 100, Burst: 1}, nil)
	client := &http.Client{Transport: &Transport{Limiter: l}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, l.Hosts())
}
