package myrace

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// RetryPolicy retries transient failures only: timeouts, connection
// errors and 5xx responses. Semantic rejections never pass through it.
type RetryPolicy struct {
	// total attempts, defaults to 3
	Attempts int
	// first backoff delay, doubled each attempt, defaults to 500ms
	BaseDelay time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	return p
}

func transientStatus(res *resty.Response) bool {
	return res != nil && res.StatusCode() >= 500
}

// doWithRetry runs one request factory under the retry policy. A retry
// sequence runs to completion or exhaustion; it is not cancelable
// mid-backoff by design of the calling flows.
func (c *Client) doWithRetry(ctx context.Context, do func(req *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	var res *resty.Response
	var err error

	delay := c.retry.BaseDelay
	for attempt := 0; attempt < c.retry.Attempts; attempt++ {
		if attempt > 0 {
			slog.DebugContext(ctx, "retrying request", "attempt", attempt+1, "delay", delay)
			time.Sleep(delay)
			delay *= 2
		}

		res, err = do(c.Http.R().SetContext(ctx))
		if err != nil {
			continue
		}
		if transientStatus(res) {
			continue
		}
		return res, nil
	}

	if err != nil {
		return nil, err
	}
	return res, fmt.Errorf("http %d after %d attempts", res.StatusCode(), c.retry.Attempts)
}

func (c *Client) getWithRetry(ctx context.Context, endpoint string) (*resty.Response, error) {
	return c.doWithRetry(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.Get(endpoint)
	})
}

func (c *Client) postFormWithRetry(ctx context.Context, endpoint string, form url.Values) (*resty.Response, error) {
	return c.doWithRetry(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetFormDataFromValues(form).Post(endpoint)
	})
}
