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

package tool

import "github.com/mitchellh/mapstructure"

// DecodeArguments decodes a function call's raw argument map into dst, a
// pointer to a tool-defined config struct. Tools that want typed
// arguments instead of hand-walking map[string]any call this at the top
// of Invoke rather than unmarshalling through JSON, since FunctionCall
// arguments already arrive decoded as Go values from the model response.
func DecodeArguments(args map[string]any, dst any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
		TagName:          "arg",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(args)
}
