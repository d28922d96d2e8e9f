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
	"log/slog"
	"sync"
)

// Observer receives a fire-and-forget copy of every event the driver
// emits. OnEvent must not block the driver; panics are recovered and
// counted as failures by the dispatcher's circuit breaker.
type Observer interface {
	OnEvent(evt Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(evt Event)

func (f ObserverFunc) OnEvent(evt Event) { f(evt) }

// observerHealth tracks one observer's circuit-breaker state.
type observerHealth struct {
	open            bool
	consecFailures  int
	consecSuccesses int
}

// Dispatcher fans events out to a set of observers, each independently
// protected by a circuit breaker: after OpenAfter consecutive failures
// (recovered panics) an observer is skipped for the next CloseAfter-1
// dispatches and given another chance on the CloseAfter-th dispatch
// after opening; a success there closes the circuit again.
type Dispatcher struct {
	mu         sync.Mutex
	observers  []Observer
	health     map[Observer]*observerHealth
	OpenAfter  int
	CloseAfter int
	Logger     *slog.Logger
}

// NewDispatcher builds a Dispatcher with the teacher-aligned defaults of
// 5 consecutive failures to open, 2 to close.
func NewDispatcher(observers ...Observer) *Dispatcher {
	d := &Dispatcher{
		observers:  observers,
		health:     map[Observer]*observerHealth{},
		OpenAfter:  5,
		CloseAfter: 2,
		Logger:     slog.Default(),
	}
	for _, o := range observers {
		d.health[o] = &observerHealth{}
	}
	return d
}

// Register adds an observer at runtime.
func (d *Dispatcher) Register(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
	d.health[o] = &observerHealth{}
}

// Dispatch delivers evt to every non-open observer, recovering panics and
// updating each observer's circuit-breaker state.
func (d *Dispatcher) Dispatch(evt Event) {
	d.mu.Lock()
	observers := append([]Observer(nil), d.observers...)
	d.mu.Unlock()

	for _, o := range observers {
		d.dispatchOne(o, evt)
	}
}

func (d *Dispatcher) dispatchOne(o Observer, evt Event) {
	d.mu.Lock()
	h := d.health[o]
	if h == nil {
		h = &observerHealth{}
		d.health[o] = h
	}
	if h.open {
		h.consecSuccesses++
		shouldTry := h.consecSuccesses >= d.CloseAfter
		d.mu.Unlock()
		if !shouldTry {
			return
		}
	} else {
		d.mu.Unlock()
	}

	ok := d.invoke(o, evt)

	d.mu.Lock()
	defer d.mu.Unlock()
	if ok {
		h.consecFailures = 0
		if h.open {
			h.open = false
			h.consecSuccesses = 0
		}
	} else {
		h.consecFailures++
		h.consecSuccesses = 0
		if h.consecFailures >= d.OpenAfter && !h.open {
			h.open = true
			d.Logger.Warn("observer circuit breaker opened", "consecutive_failures", h.consecFailures)
		}
	}
}

func (d *Dispatcher) invoke(o Observer, evt Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.Logger.Warn("observer panicked", "recover", r)
			ok = false
		}
	}()
	o.OnEvent(evt)
	return true
}
