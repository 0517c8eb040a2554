// Copyright 2024 Andres Morey
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"time"

	"github.com/chronobase/dataprovider/internal/apierr"
)

// RetryingGateway wraps a Gateway with a fixed-delay, bounded-attempt
// retry policy: StoreTransient errors are retried, with
// dbRetryDelay between attempts, up to
// maxAttempts total tries. All other error kinds propagate immediately.
type RetryingGateway struct {
	inner       Gateway
	delay       time.Duration
	maxAttempts int
}

// NewRetryingGateway constructs the decorator. maxAttempts counts the
// first try, so maxAttempts=3 means up to two retries after the first
// failure.
func NewRetryingGateway(inner Gateway, delay time.Duration, maxAttempts int) *RetryingGateway {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryingGateway{inner: inner, delay: delay, maxAttempts: maxAttempts}
}

// call runs fn with the retry policy, returning the first non-retryable
// error or the last error after attempts are exhausted.
func (g *RetryingGateway) call(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !apierr.Retryable(lastErr) {
			return lastErr
		}
		if attempt == g.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return apierr.Wrap(apierr.Cancelled, "store retry interrupted", ctx.Err())
		case <-time.After(g.delay):
		}
	}
	return lastErr
}
