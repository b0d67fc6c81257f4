package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	gobreaker "github.com/sony/gobreaker/v2"
)

// statusError is a non-2xx upstream answer.
type statusError struct {
	code       int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.code)
}

func (e *statusError) serverSide() bool { return e.code >= 500 }

// retryable reports whether another attempt could succeed. 429 is handed to
// the limiter instead of being retried here.
func (e *statusError) retryable() bool {
	return e.serverSide() || e.code == http.StatusRequestTimeout
}

// call performs the breaker-guarded, retried request.
func (g *Gateway) call(ctx context.Context, req request) (Response, error) {
	p := req.provider

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.InitialBackoff
	bo.MaxInterval = p.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, p.cfg.Retries), ctx)

	attempt := 0
	op := func() (Response, error) {
		attempt++
		resp, err := p.breaker.Execute(func() (Response, error) {
			return g.do(ctx, req)
		})
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Response{}, backoff.Permanent(err)
		}
		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return Response{}, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return Response{}, backoff.Permanent(err)
		}
		g.log.Debug("upstream.attempt.fail", "provider", p.name, "attempt", attempt, "err", err)
		return Response{}, err
	}
	return backoff.RetryWithData(op, policy)
}

// do is one attempt, bounded by the provider timeout.
func (g *Gateway) do(ctx context.Context, req request) (Response, error) {
	actx, cancel := context.WithTimeout(ctx, req.provider.cfg.Timeout)
	defer cancel()

	hreq, err := http.NewRequestWithContext(actx, http.MethodGet, req.url, nil)
	if err != nil {
		return Response{}, backoff.Permanent(err)
	}
	hreq.Header.Set("User-Agent", g.userAgent)
	if req.accept != "" {
		hreq.Header.Set("Accept", req.accept)
	}

	res, err := g.client.Do(hreq)
	if err != nil {
		return Response{}, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
		return Response{}, &statusError{
			code:       res.StatusCode,
			retryAfter: parseRetryAfter(res.Header.Get("Retry-After"), g.now()),
		}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes+1))
	if err != nil {
		return Response{}, err
	}
	if len(body) > maxBodyBytes {
		return Response{}, backoff.Permanent(errors.New("upstream body too large"))
	}
	ct := res.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return Response{ContentType: ct, Body: body}, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Unparseable or past
// values yield 0.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
	}
	return 0
}
