/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

// Values reported by an enum that holds an out-of-range number.
const (
	IllegalValue = -1
	IllegalName  = "unknown"
	IllegalDesc  = "unknown"
)

// BaseEnum is implemented by the closed sets of values used across the module,
// such as isolation levels and transaction states.
type BaseEnum interface {
	IsValid() bool
	Number() int
	String() string
	Desc() string
	Name() string
}

// EnumNames returns the names of the valid members of values, preserving order.
func EnumNames[E BaseEnum](values ...E) []string {
	names := make([]string, 0, len(values))
	for _, v := range values {
		if v.IsValid() {
			names = append(names, v.Name())
		}
	}
	return names
}
