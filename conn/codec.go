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

package conn

import (
	"encoding/json"
	"fmt"
)

// Codec turns call arguments into payload bytes and response payloads
// back into reply values. Implementations must be safe for concurrent
// use.
type Codec interface {
	Encode(value any) ([]byte, error)
	Decode(data []byte, value any) error
}

// JSONCodec encodes payloads as JSON. It is the default codec.
type JSONCodec struct{}

func (JSONCodec) Encode(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (JSONCodec) Decode(data []byte, value any) error {
	return json.Unmarshal(data, value)
}

// ByteCodec passes raw bytes through untouched, for callers that do
// their own marshalling. Arguments must be []byte and replies *[]byte.
type ByteCodec struct{}

func (ByteCodec) Encode(value any) ([]byte, error) {
	switch data := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return data, nil
	case *[]byte:
		return *data, nil
	default:
		return nil, fmt.Errorf("byte codec cannot encode %T", value)
	}
}

func (ByteCodec) Decode(data []byte, value any) error {
	target, ok := value.(*[]byte)
	if !ok {
		return fmt.Errorf("byte codec cannot decode into %T", value)
	}
	*target = data
	return nil
}
