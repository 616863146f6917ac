package ai

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyStopsAfterMaxAttempts(t *testing.T) {
	p := retryPolicy{maxAttempts: 3, baseDelay: time.Millisecond, maxDelay: 2 * time.Millisecond}
	calls := 0
	boom := errors.New("boom")
	err := p.run(context.Background(), func(context.Context, *delayHint) error {
		calls++
		return retry.RetryableError(boom)
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyPermanentErrorIsNotRetried(t *testing.T) {
	p := retryPolicy{maxAttempts: 5, baseDelay: time.Millisecond}
	calls := 0
	err := p.run(context.Background(), func(context.Context, *delayHint) error {
		calls++
		return &AuthError{APIError: &APIError{StatusCode: 401}}
	})
	var auth *AuthError
	require.ErrorAs(t, err, &auth)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyUsesServerHint(t *testing.T) {
	p := retryPolicy{maxAttempts: 2, baseDelay: time.Millisecond, maxDelay: time.Millisecond}
	calls := 0
	start := time.Now()
	err := p.run(context.Background(), func(_ context.Context, hint *delayHint) error {
		calls++
		if calls == 1 {
			hint.wait = 150 * time.Millisecond
			return retry.RetryableError(errors.New("busy"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
}

func TestRetryAfterParsing(t *testing.T) {
	h := func(v string) *http.Response {
		return &http.Response{Header: http.Header{"Retry-After": {v}}}
	}
	assert.Equal(t, 3*time.Second, retryAfter(h("3")))
	assert.Zero(t, retryAfter(h("-1")))
	assert.Zero(t, retryAfter(h("soon")))
	assert.Zero(t, retryAfter(nil))
	future := time.Now().Add(5 * time.Second).UTC().Format(http.TimeFormat)
	d := retryAfter(h(future))
	assert.True(t, d >= 3*time.Second && d <= 5*time.Second, "got %v", d)
}
