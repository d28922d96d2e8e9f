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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateResume(t *testing.T) {
	tests := []struct {
		name          string
		hasCheckpoint bool
		hasNewInput   bool
		want          ResumeScenario
	}{
		{"no checkpoint, no input", false, false, ScenarioEmptyRun},
		{"no checkpoint, new input", false, true, ScenarioFreshRun},
		{"checkpoint, no input", true, false, ScenarioResume},
		{"checkpoint, new input", true, true, ScenarioConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateResume(tt.hasCheckpoint, tt.hasNewInput))
		})
	}
}
