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

package checkpoint

import "errors"

var (
	// ErrNotFound is returned by Load when no document exists for a
	// thread ID.
	ErrNotFound = errors.New("checkpoint: not found")

	// ErrConflict is returned by Save when prevETag no longer matches
	// the stored document, signalling a concurrent writer.
	ErrConflict = errors.New("checkpoint: conflicting write")
)
