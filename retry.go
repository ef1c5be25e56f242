/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package isolevel

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/tomoncle/isolevel/database"
)

// RetryPolicy bounds RetryOnConflict.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
	Logger   database.Logger
}

// DefaultRetryPolicy makes three attempts with exponential backoff from 20ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Delay:    20 * time.Millisecond,
		MaxDelay: time.Second,
	}
}

// RetryOnConflict runs fn until it succeeds, fails with an error that
// database.IsRetryable rejects, the attempts are spent, or ctx ends. fn must
// be a complete unit of work, typically one Service call or one Transact,
// since a conflict aborts the whole transaction. The last error is returned
// unchanged.
func RetryOnConflict[R any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (R, error)) (R, error) {
	if policy.Attempts == 0 {
		policy.Attempts = DefaultRetryPolicy().Attempts
	}
	logger := policy.Logger
	if logger == nil {
		logger = database.GetLogger()
	}

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(policy.Attempts),
		retry.Delay(policy.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(database.IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Retrying after transaction conflict", "attempt", n+1, "error", err)
		}),
	}
	if policy.MaxDelay > 0 {
		opts = append(opts, retry.MaxDelay(policy.MaxDelay))
	}

	return retry.DoWithData(func() (R, error) { return fn(ctx) }, opts...)
}
