package ai

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
)

type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// delayHint carries a server-requested wait into the next backoff step.
type delayHint struct {
	wait time.Duration
}

type hintedBackoff struct {
	next retry.Backoff
	hint *delayHint
}

func (b hintedBackoff) Next() (time.Duration, bool) {
	d, stop := b.next.Next()
	if stop {
		return 0, true
	}
	if b.hint.wait > 0 {
		d, b.hint.wait = b.hint.wait, 0
	}
	return d, false
}

// run calls attempt until it succeeds, fails permanently, or the policy is
// exhausted. Transient failures are marked with retry.RetryableError; the
// last one is returned unwrapped.
func (p retryPolicy) run(ctx context.Context, attempt func(ctx context.Context, hint *delayHint) error) error {
	base := p.baseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	var b retry.Backoff = retry.NewExponential(base)
	b = retry.WithJitterPercent(20, b)
	if p.maxDelay > 0 {
		b = retry.WithCappedDuration(p.maxDelay, b)
	}
	retries := uint64(0)
	if p.maxAttempts > 1 {
		retries = uint64(p.maxAttempts - 1)
	}
	b = retry.WithMaxRetries(retries, b)

	hint := &delayHint{}
	return retry.Do(ctx, hintedBackoff{next: b, hint: hint}, func(ctx context.Context) error {
		return attempt(ctx, hint)
	})
}

// transientNetErr reports timeouts and truncated responses, which are worth
// another attempt. Refused connections and DNS failures are not.
func transientNetErr(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// retryAfter reads Retry-After as delta seconds or an HTTP date.
func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d.Truncate(time.Second)
		}
	}
	return 0
}
