package config

import (
	"github.com/legalcrawl/engine/pkg/retry"
	"github.com/legalcrawl/engine/pkg/timeutil"
)

// RetryParam builds the retry/backoff parameters the Fetch Pipeline and
// Asset Resolver drive their exponential-backoff retries with (§4.7), taken
// straight from this execution config's own knobs rather than a
// recomputed set — every caller that retries anything retries against the
// same base delay, jitter, and random seed this config was built with.
func (c Config) RetryParam() retry.RetryParam {
	return retry.NewRetryParam(
		c.BaseDelay(),
		c.Jitter(),
		c.RandomSeed(),
		c.MaxAttempt(),
		timeutil.NewBackoffParam(
			c.BackoffInitialDuration(),
			c.BackoffMultiplier(),
			c.BackoffMaxDuration(),
		),
	)
}
