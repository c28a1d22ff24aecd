package llm

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"repairbot/internal/logging"

	"google.golang.org/genai"
)

// rateLimitText matches a standalone 429 status or RESOURCE_EXHAUSTED in
// errors that lost their genai type on the way up.
var rateLimitText = regexp.MustCompile(`\b(429|RESOURCE_EXHAUSTED)\b`)

// IsRateLimited reports whether err means the provider asked us to slow
// down: a genai APIError with code 429 or status RESOURCE_EXHAUSTED, or an
// error whose text carries either marker as a whole word.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && rateLimitedAPIError(apiErr) {
		return true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && rateLimitedAPIError(*apiErrPtr) {
		return true
	}
	return rateLimitText.MatchString(err.Error())
}

func rateLimitedAPIError(e genai.APIError) bool {
	return e.Code == http.StatusTooManyRequests || e.Status == "RESOURCE_EXHAUSTED"
}

// Policy bounds the retry loop.
type Policy struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // delay before retry n is BaseDelay * 2^n
}

// DefaultPolicy allows three retries starting at two seconds.
var DefaultPolicy = Policy{MaxRetries: 3, BaseDelay: 2 * time.Second}

// Delay returns the backoff before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<uint(attempt))
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls fn until it succeeds, fails with an error that is not a rate
// limit, or the policy runs out. onRetry, if set, runs before each backoff.
// The returned error is the last one fn produced, or ctx's error if the
// wait was interrupted.
func Retry(ctx context.Context, p Policy, sleep Sleeper, onRetry func(attempt int, delay time.Duration, err error), fn func(attempt int) error) error {
	if sleep == nil {
		sleep = SleepContext
	}
	for attempt := 0; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if !IsRateLimited(err) || attempt >= p.MaxRetries {
			return err
		}

		delay := p.Delay(attempt)
		logging.LLMWarn("rate limited, retrying in %v (attempt %d/%d)", delay, attempt+1, p.MaxRetries)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}
