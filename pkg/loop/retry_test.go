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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestExecuteSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	result, err := Execute(context.Background(), DefaultRetryConfig(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, ErrorHandler: DefaultErrorHandler{}}
	calls := 0
	result, err := Execute(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errBoom
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestExecuteExhaustsRetryBudget(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, ErrorHandler: DefaultErrorHandler{}}
	calls := 0
	_, err := Execute(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, errBoom
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestExecuteHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond}
	_, err := Execute(ctx, cfg, func(ctx context.Context) (int, error) {
		return 0, errBoom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteCustomStrategyOverridesDefault(t *testing.T) {
	calls := 0
	cfg := RetryConfig{
		CustomStrategy: func(attempt int, err error) (time.Duration, bool) {
			return 0, attempt < 1
		},
	}
	_, err := Execute(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, errBoom
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestExecutePerCategoryMaxRetries(t *testing.T) {
	calls := 0
	cfg := RetryConfig{
		MaxRetries:            10,
		BaseDelay:             time.Millisecond,
		PerCategoryMaxRetries: map[ProviderErrorCategory]int{CategoryUnknown: 1},
		ErrorHandler:          DefaultErrorHandler{},
	}
	_, err := Execute(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, errBoom
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls) // initial attempt + 1 allowed retry for the category
}

func TestDefaultErrorHandlerClassifiesContextErrorsAsNonRetryable(t *testing.T) {
	pe := DefaultErrorHandler{}.Classify(context.DeadlineExceeded)
	assert.False(t, pe.Retryable)
	assert.Equal(t, CategoryTimeout, pe.Category)
}

func TestDefaultRetryConfigDefaults(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxRetryDelay)
}
