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

package agentconfig

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher pushes validated AgentConfiguration snapshots whenever the
// backing file changes on disk, generalizing the teacher's low-ceremony
// config loading into a live-reload source for a long-running engine
// process.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	updates chan *AgentConfiguration
	logger  *slog.Logger
}

// Watch starts watching path for changes, emitting a freshly loaded and
// validated AgentConfiguration on the returned channel each time the file
// is written or created. Watch does not load or send the initial
// configuration; callers should call Load once up front.
func Watch(ctx context.Context, path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		updates: make(chan *AgentConfiguration, 1),
		logger:  logger,
	}
	go w.run(ctx)
	return w, nil
}

// Updates returns the channel of validated configuration snapshots.
func (w *Watcher) Updates() <-chan *AgentConfiguration {
	return w.updates
}

// Close stops watching and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.updates)
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("agentconfig: reload failed", "path", w.path, "error", err)
				continue
			}
			select {
			case w.updates <- cfg:
			default:
				// drop the stale pending update, latest wins
				select {
				case <-w.updates:
				default:
				}
				w.updates <- cfg
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("agentconfig: watch error", "path", w.path, "error", err)
		}
	}
}
