package providers

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultProbeTimeout bounds a single HEAD request against the CDN.
const DefaultProbeTimeout = 5 * time.Second

// Prober checks whether an asset exists without downloading it.
type Prober interface {
	// Probe returns the HTTP status code of a HEAD request to url.
	Probe(ctx context.Context, url string) (int, error)
}

// HTTPProber probes CDN URLs with HEAD requests.
type HTTPProber struct {
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	retry   RetryPolicy
	logger  *zap.Logger
}

// NewHTTPProber creates a prober. Redirects are reported as-is rather than
// followed, so only a direct 200 counts as a hit.
func NewHTTPProber(timeout time.Duration, limiter *rate.Limiter, retry RetryPolicy, logger *zap.Logger) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if limiter == nil {
		limiter = NewLimiter(0)
	}
	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
		limiter: limiter,
		retry:   retry,
		logger:  logger,
	}
}

// Probe issues a HEAD request. Transport errors are retried according to the
// retry policy; any response, whatever its status, is returned immediately.
func (p *HTTPProber) Probe(ctx context.Context, url string) (int, error) {
	var status int
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := p.client.Do(req)
		if err != nil {
			p.logger.Debug("CDN probe transport error", zap.String("url", url), zap.Error(err))
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		status = resp.StatusCode
		return nil
	}, func(error) bool { return ctx.Err() == nil })

	return status, err
}
