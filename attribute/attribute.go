// Copyright 2024-2025 The rpcx-rs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package attribute provides a type-safe container of custom attributes
// named Values. This can be used to add custom metadata to a discovered
// server. Custom attributes are declared using [NewKey] to create a
// strongly-typed key. The values can then be defined using the key's
// Value method.
//
// The following example declares a custom string "rack" attribute and
// constructs a discovered server that carries it alongside the built-in
// weight attribute used by the weighted round-robin strategy:
//
//	var Rack = attribute.NewKey[string]()
//
//	server := discovery.Server{
//		Key: "tcp@111.222.123.234:5432",
//		Attributes: attribute.NewValues(
//			selector.Weight.Value(4),
//			Rack.Value("rack-17"),
//		),
//	}
//
// Custom [Discovery] implementations can attach any kind of metadata to a
// server this way. This can be combined with a custom [Selector] that uses
// the metadata, which can access the properties in a type-safe way using
// the [GetValue] function.
//
// Such metadata can be used to implement regional affinity or to inform a
// weighted selection strategy (where a weight could be used to send more
// traffic to a server that has more available resources, such as more
// compute, memory, or network bandwidth).
//
// [Discovery]: https://pkg.go.dev/github.com/lgphp/rpcx-rs/discovery#Discovery
// [Selector]: https://pkg.go.dev/github.com/lgphp/rpcx-rs/selector#Selector
package attribute

// Values is an immutable collection of typed attribute values, keyed by the
// [Key] that created each entry.
type Values struct {
	data map[any]any
}

// NewValues collects the given values into a Values. When the same key
// appears more than once, the last occurrence wins.
//
// Use this function in tandem with [Key.Value], like this:
//
//	var rackKey = attribute.NewKey[string]()
//	...
//	attribute.NewValues(rackKey.Value("rack-17"))
func NewValues(values ...Value) Values {
	data := make(map[any]any, len(values))
	for _, value := range values {
		data[value.key] = value.value
	}
	return Values{data: data}
}

// Key declares an attribute whose values have type T. Applications should
// use NewKey to create a new key for each distinct attribute.
type Key[T any] struct {
	// can't be empty or else pointers won't be distinct
	_ bool
}

// NewKey returns a new attribute key for values of type T. Keys are
// identified by their address, so every call returns a distinct key even
// when multiple are created for the same type.
func NewKey[T any]() *Key[T] {
	return new(Key[T])
}

// Value pairs the key with a concrete value, for passing to [NewValues].
func (k *Key[T]) Value(value T) Value {
	return Value{key: k, value: value}
}

// Value is a single custom attribute: a key plus its corresponding value.
type Value struct {
	key, value any
}

// GetValue retrieves the value stored under key. The second return value
// reports whether the key was present; absent keys yield the zero value.
func GetValue[T any](values Values, key *Key[T]) (T, bool) {
	value, ok := values.data[key].(T)
	return value, ok
}
