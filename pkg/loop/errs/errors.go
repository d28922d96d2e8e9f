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

// Package errs pins the agentic loop's error taxonomy to concrete
// sentinel values for use with errors.Is/errors.As. Terminations (max
// iterations, max consecutive failures, circuit breaker) are not returned
// as errors: the driver records them only as the human-readable
// State.TerminationReason and in the KindRunTerminated event.
package errs

import "errors"

var (
	// ErrValidation covers malformed input: empty messages, unknown
	// requested tools, invalid configuration values.
	ErrValidation = errors.New("agentloop: validation error")

	// ErrConfiguration covers invalid Configuration values detected at
	// driver construction time.
	ErrConfiguration = errors.New("agentloop: configuration error")

	// ErrMaxIterations names the termination where the iteration budget is
	// exhausted without reaching a final response. The driver does not
	// return it; see the package comment.
	ErrMaxIterations = errors.New("agentloop: max iterations reached")

	// ErrMaxConsecutiveFailures names the termination where too many
	// iterations in a row failed to produce progress. The driver does not
	// return it; see the package comment.
	ErrMaxConsecutiveFailures = errors.New("agentloop: max consecutive failures reached")

	// ErrCircuitBreaker names the termination where a tool's consecutive
	// identical call signature count reaches the configured threshold. The
	// driver does not return it; see the package comment.
	ErrCircuitBreaker = errors.New("agentloop: circuit breaker tripped")

	// ErrVersionTooNew is returned by Deserialize when a checkpoint
	// document's schema version exceeds what this build understands.
	ErrVersionTooNew = errors.New("agentloop: checkpoint version too new")

	// ErrIntegrityMismatch is returned when a History Reduction State's
	// recorded hash no longer matches the message prefix it summarized.
	ErrIntegrityMismatch = errors.New("agentloop: reduction integrity mismatch")

	// ErrTimeout is returned when a wait (WaitForResponse, a function's
	// own execution) exceeds its deadline.
	ErrTimeout = errors.New("agentloop: timed out")

	// ErrCancelled is returned when a wait is cut short by context
	// cancellation rather than a configured timeout.
	ErrCancelled = errors.New("agentloop: cancelled")

	// ErrResumeWithNewMessages is returned when Run is called with both a
	// non-empty resume checkpoint and new input messages.
	ErrResumeWithNewMessages = errors.New("agentloop: cannot resume with new input messages")

	// ErrConflictingResume names a checkpoint load for the given thread
	// that races against a concurrent writer (eTag mismatch). Nothing in
	// this module returns it; a stale Save fails with checkpoint.ErrConflict.
	ErrConflictingResume = errors.New("agentloop: conflicting resume")

	// ErrEmptyRun is returned when Run is called with no input messages
	// and no checkpoint to resume from.
	ErrEmptyRun = errors.New("agentloop: empty run, nothing to do")

	// ErrPermissionDenied names a denied permission request. Function
	// results of denied calls carry a "permission denied: " text exception
	// rather than this error.
	ErrPermissionDenied = errors.New("agentloop: permission denied")
)
