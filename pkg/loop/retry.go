// Copyright 2025 Kadir Pekel
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

package loop

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kestrelrun/agentloop/pkg/loop/errs"
)

// ProviderErrorCategory classifies a model/tool provider error so the
// retry executor can apply a category-specific retry budget and honor a
// provider's own Retry-After hint when present.
type ProviderErrorCategory string

const (
	CategoryRateLimit    ProviderErrorCategory = "rate_limit"
	CategoryTimeout      ProviderErrorCategory = "timeout"
	CategoryNetwork      ProviderErrorCategory = "network"
	CategoryServer       ProviderErrorCategory = "server"
	CategoryAuth         ProviderErrorCategory = "auth"
	CategoryContentPolicy ProviderErrorCategory = "content_policy"
	CategoryMalformed    ProviderErrorCategory = "malformed"
	CategoryUnknown      ProviderErrorCategory = "unknown"
)

// ProviderError is the normalized shape an ErrorHandler extracts from a
// raw error returned by a model or tool call.
type ProviderError struct {
	Category   ProviderErrorCategory
	RetryAfter *time.Duration
	Retryable  bool
}

// ErrorHandler classifies provider errors. Implementations are supplied
// per-provider (OpenAI rate-limit headers, Anthropic overload errors,
// etc); DefaultErrorHandler provides a conservative fallback.
type ErrorHandler interface {
	Classify(err error) ProviderError
}

// DefaultErrorHandler treats context errors as non-retryable and
// everything else as an unknown, retryable server-side error.
type DefaultErrorHandler struct{}

func (DefaultErrorHandler) Classify(err error) ProviderError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ProviderError{Category: CategoryTimeout, Retryable: false}
	}
	return ProviderError{Category: CategoryUnknown, Retryable: true}
}

// RetryStrategy lets a caller fully override the delay/continue decision
// for a given attempt, bypassing the provider-aware and full-jitter
// fallback paths entirely.
type RetryStrategy func(attempt int, err error) (delay time.Duration, retry bool)

// RetryConfig configures Execute.
type RetryConfig struct {
	MaxRetries            int
	BaseDelay             time.Duration
	Multiplier            float64
	MaxRetryDelay         time.Duration
	PerCategoryMaxRetries map[ProviderErrorCategory]int
	FunctionTimeout       time.Duration
	CustomStrategy        RetryStrategy
	ErrorHandler          ErrorHandler
}

// DefaultRetryConfig returns sane defaults: 3 retries, 250ms base delay,
// doubling, capped at 30s, the default error handler.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     250 * time.Millisecond,
		Multiplier:    2.0,
		MaxRetryDelay: 30 * time.Second,
		ErrorHandler:  DefaultErrorHandler{},
	}
}

// fullJitterBackOff computes retry delays with the "full jitter"
// algorithm: delay = random(0, min(maxDelay, base*multiplier^attempt)).
// It has no Reset method and is not used as a backoff.BackOff. This is
// deliberately not backoff.NewExponentialBackOff's default equal-jitter
// strategy; full jitter is what the retry executor uses whenever no
// CustomRetryStrategy is supplied and the classified error carries no
// RetryAfter hint.
type fullJitterBackOff struct {
	attempt    int
	base       time.Duration
	multiplier float64
	max        time.Duration
}

func (b *fullJitterBackOff) NextBackOff() time.Duration {
	d := float64(b.base) * pow(b.multiplier, b.attempt)
	b.attempt++
	capped := time.Duration(d)
	if capped > b.max {
		capped = b.max
	}
	if capped <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(capped) + 1))
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Execute runs fn, retrying on failure per cfg. Category-specific and
// overall retry budgets are both enforced; a CustomRetryStrategy, when
// set, takes precedence over both the ErrorHandler and the full-jitter
// fallback. FunctionTimeout, when non-zero, bounds each individual
// attempt; the outer ctx bounds the whole operation including retries.
func Execute[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	categoryAttempts := map[ProviderErrorCategory]int{}
	errorHandler := cfg.ErrorHandler
	if errorHandler == nil {
		errorHandler = DefaultErrorHandler{}
	}

	op := func() (T, error) {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.FunctionTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.FunctionTimeout)
			defer cancel()
		}
		result, err := fn(attemptCtx)
		if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", errs.ErrTimeout, err)
		}
		return result, err
	}

	bo := &fullJitterBackOff{base: cfg.BaseDelay, multiplier: cfg.Multiplier, max: cfg.MaxRetryDelay}
	if bo.multiplier == 0 {
		bo.multiplier = 2.0
	}
	if bo.max == 0 {
		bo.max = 30 * time.Second
	}

	attempt := 0
	for {
		result, err := op()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if cfg.CustomStrategy != nil {
			delay, retry := cfg.CustomStrategy(attempt, err)
			if !retry {
				return result, err
			}
			if !sleep(ctx, delay) {
				return result, ctx.Err()
			}
			attempt++
			continue
		}

		pe := errorHandler.Classify(err)
		if !pe.Retryable {
			return result, backoffPermanent(err)
		}

		if attempt >= cfg.MaxRetries {
			return result, err
		}
		if limit, ok := cfg.PerCategoryMaxRetries[pe.Category]; ok {
			categoryAttempts[pe.Category]++
			if categoryAttempts[pe.Category] > limit {
				return result, err
			}
		}

		var delay time.Duration
		if pe.RetryAfter != nil {
			delay = *pe.RetryAfter
		} else {
			delay = bo.NextBackOff()
		}
		if !sleep(ctx, delay) {
			return result, ctx.Err()
		}
		attempt++
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// backoffPermanent marks err as non-retryable using backoff/v5's
// Permanent wrapper, so any code that later bridges into backoff.Retry
// directly (e.g. a ChatClient implementation that wants provider-native
// retry semantics) observes the same "stop retrying" signal this
// executor uses internally.
func backoffPermanent(err error) error {
	return backoff.Permanent(err)
}
