package provider

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// restClient is the shared HTTP plumbing of every adapter.
type restClient struct {
	name    string
	client  *resty.Client
	logger  *zap.Logger
	retries int
	backoff time.Duration
}

func newRestClient(name, baseURL string, timeout time.Duration, retries int, logger *zap.Logger) *restClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &restClient{
		name:    name,
		client:  client,
		logger:  logger.Named(name),
		retries: retries,
		backoff: 250 * time.Millisecond,
	}
}

// doRequest executes req, retrying transient failures (network errors and
// 5xx) with exponential backoff. Quota rejections are returned at once as
// ErrRateLimited so the gateway can move on to the next provider.
func (c *restClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var lastErr error
	for i := 0; i <= c.retries; i++ {
		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err := req.SetContext(ctx).Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		switch {
		case err != nil:
			lastErr = fmt.Errorf("%w: %s: %v", ErrUnavailable, c.name, err)
		case resp.StatusCode() == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: %s returned %s", ErrRateLimited, c.name, resp.Status())
		case resp.StatusCode() == http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s returned %s", ErrNotFound, c.name, resp.Status())
		case resp.StatusCode() >= http.StatusInternalServerError:
			lastErr = fmt.Errorf("%w: %s returned %s", ErrUnavailable, c.name, resp.Status())
		default:
			return nil, fmt.Errorf("request to %s failed with status %s: %s", c.name, resp.Status(), resp.String())
		}

		if i == c.retries {
			break
		}
		wait := time.Duration(math.Pow(2, float64(i))) * c.backoff
		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", wait),
			zap.Error(lastErr),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
