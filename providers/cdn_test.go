package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPProber_UsesHEADAndReturnsStatus(t *testing.T) {
	var gotMethod, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.RawQuery
		if r.URL.Path == "/asics/SKU001_SR_RT_GLB" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewHTTPProber(time.Second, nil, NoRetry, zap.NewNop())

	status, err := p.Probe(context.Background(), srv.URL+"/asics/SKU001_SR_RT_GLB?$zoom$")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, http.MethodHead, gotMethod)
	assert.Equal(t, "$zoom$", gotQuery)

	status, err = p.Probe(context.Background(), srv.URL+"/asics/SKU001_SB_FR_GLB?$zoom$")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHTTPProber_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/moved" {
			http.Redirect(w, r, "/final", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPProber(time.Second, nil, NoRetry, zap.NewNop())
	status, err := p.Probe(context.Background(), srv.URL+"/moved")
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, status)
}

func TestHTTPProber_TransportErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL + "/gone"
	srv.Close()

	p := NewHTTPProber(time.Second, nil, RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond}, zap.NewNop())
	_, err := p.Probe(context.Background(), url)
	assert.Error(t, err)
}

func TestRetryPolicy_StopsOnSuccess(t *testing.T) {
	calls := 0
	err := RetryPolicy{Attempts: 5, BaseDelay: time.Millisecond}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_HonoursRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := RetryPolicy{Attempts: 5, BaseDelay: time.Millisecond}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	}, func(err error) bool { return !errors.Is(err, permanent) })
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryPolicy{Attempts: 5, BaseDelay: time.Hour}.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	}, nil)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_GivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("attempt %d", calls)
	}, nil)
	assert.EqualError(t, err, "attempt 3")
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_BackoffIsCapped(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond}
	b := p.newBackOff()
	assert.Equal(t, 100*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 200*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 250*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 250*time.Millisecond, b.NextBackOff())
}
