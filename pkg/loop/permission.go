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
	"log/slog"
	"time"
)

// PermissionRequest describes a tool invocation awaiting a human (or
// policy) decision.
type PermissionRequest struct {
	CallID       string
	FunctionName string
	Arguments    map[string]any
}

// PermissionResult is the decision for one PermissionRequest.
type PermissionResult struct {
	Approved bool
	Reason   string
}

// PermissionMiddleware observes or mutates a permission decision before
// it is finalized.
type PermissionMiddleware = Middleware[*PermissionContext]

// PermissionManager runs the permission middleware chain and, failing a
// configured middleware decision, asks the caller via the Coordinator and
// waits for a reply.
type PermissionManager struct {
	Middleware []PermissionMiddleware
	Timeout    time.Duration
	Logger     *slog.Logger
}

// NewPermissionManager builds a PermissionManager with sane defaults.
func NewPermissionManager(mws ...PermissionMiddleware) *PermissionManager {
	return &PermissionManager{
		Middleware: mws,
		Timeout:    5 * time.Minute,
		Logger:     slog.Default(),
	}
}

// CheckPermission resolves a single PermissionRequest. With no middleware
// configured it denies the request at once. Otherwise, if no middleware
// short-circuits the chain with a decision, it emits a
// KindPermissionRequested event on coord and blocks for a
// KindPermissionResolved reply correlated by requestID.
func (m *PermissionManager) CheckPermission(ctx context.Context, req PermissionRequest, coord *Coordinator) PermissionResult {
	if len(m.Middleware) == 0 {
		return PermissionResult{Approved: false, Reason: "no permission middleware configured"}
	}

	pctx := &PermissionContext{
		CallID:       req.CallID,
		FunctionName: req.FunctionName,
		Arguments:    req.Arguments,
	}

	terminal := func(ctx context.Context, pc *PermissionContext) error {
		if coord == nil {
			pc.Approved = false
			pc.Reason = "no coordinator configured to request human approval"
			return nil
		}
		requestID := NewRequestID()
		coord.Emit(Event{
			Kind:         KindPermissionRequested,
			Time:         time.Now(),
			CallID:       req.CallID,
			FunctionName: req.FunctionName,
			RequestID:    requestID,
			Data:         map[string]any{"arguments": req.Arguments},
		})
		evt, err := coord.WaitForResponse(ctx, requestID, m.Timeout)
		if err != nil {
			pc.Approved = false
			pc.Reason = err.Error()
			return nil
		}
		approved, _ := evt.Data["approved"].(bool)
		reason, _ := evt.Data["reason"].(string)
		pc.Approved = approved
		pc.Reason = reason
		return nil
	}

	handler := Chain(m.Middleware, terminal)
	if err := handler(ctx, pctx); err != nil {
		m.Logger.Warn("permission middleware error", "call_id", req.CallID, "err", err)
		return PermissionResult{Approved: false, Reason: err.Error()}
	}
	if coord != nil {
		coord.Emit(Event{
			Kind:         KindPermissionResolved,
			Time:         time.Now(),
			CallID:       req.CallID,
			FunctionName: req.FunctionName,
			Data:         map[string]any{"approved": pctx.Approved, "reason": pctx.Reason},
		})
	}
	return PermissionResult{Approved: pctx.Approved, Reason: pctx.Reason}
}

// DeniedPermission pairs a request with the reason it was denied.
type DeniedPermission struct {
	Request PermissionRequest
	Reason  string
}

// CheckPermissions resolves a batch of requests concurrently, returning
// the approved subset (in original order) and every denial.
func (m *PermissionManager) CheckPermissions(ctx context.Context, reqs []PermissionRequest, coord *Coordinator) ([]PermissionRequest, []DeniedPermission) {
	type outcome struct {
		req     PermissionRequest
		result  PermissionResult
	}
	outcomes := make([]outcome, len(reqs))
	done := make(chan int, len(reqs))
	for i, r := range reqs {
		go func(i int, r PermissionRequest) {
			outcomes[i] = outcome{req: r, result: m.CheckPermission(ctx, r, coord)}
			done <- i
		}(i, r)
	}
	for range reqs {
		<-done
	}

	var approved []PermissionRequest
	var denied []DeniedPermission
	for _, o := range outcomes {
		if o.result.Approved {
			approved = append(approved, o.req)
		} else {
			denied = append(denied, DeniedPermission{Request: o.req, Reason: o.result.Reason})
		}
	}
	return approved, denied
}
