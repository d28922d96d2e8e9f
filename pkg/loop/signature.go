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
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// maxSignatureDepth bounds the recursion FunctionSignature will walk
// before giving up and falling back to a stable hash, guarding against
// pathological or cyclic argument maps.
const maxSignatureDepth = 64

// FunctionSignature deterministically serializes a function call for
// circuit-breaker comparison: "{name}({k1=JSON(v1),k2=JSON(v2),...})"
// with keys sorted ordinally and values compact-JSON-encoded. Arguments
// that cannot be serialized, or that nest deeper than maxSignatureDepth,
// fall back to "{typeName}:{stableHash}".
func FunctionSignature(name string, args map[string]any) string {
	if err := checkDepth(args, 0); err != nil {
		return fallbackSignature(name, args)
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		encoded, err := json.Marshal(args[k])
		if err != nil {
			return fallbackSignature(name, args)
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.Write(encoded)
	}
	b.WriteByte(')')
	return b.String()
}

func checkDepth(v any, depth int) error {
	if depth > maxSignatureDepth {
		return fmt.Errorf("loop: signature depth exceeds %d", maxSignatureDepth)
	}
	switch val := v.(type) {
	case map[string]any:
		for _, v2 := range val {
			if err := checkDepth(v2, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, v2 := range val {
			if err := checkDepth(v2, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func fallbackSignature(name string, args any) string {
	typeName := reflect.TypeOf(args).String()
	h := sha256.New()
	fmt.Fprintf(h, "%s:%#v", name, args)
	return fmt.Sprintf("%s:%x", typeName, h.Sum(nil))
}
