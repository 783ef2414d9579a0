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

package rpcx

import (
	"context"

	"github.com/lgphp/rpcx-rs/conn"
)

type metadataKey struct{}

// WithMetadata returns a context carrying call metadata. The client
// forwards the metadata to the server with every attempt of a call made
// under that context.
func WithMetadata(ctx context.Context, md conn.Metadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, md)
}

// MetadataFrom returns the call metadata carried by ctx, or nil.
func MetadataFrom(ctx context.Context) conn.Metadata {
	md, _ := ctx.Value(metadataKey{}).(conn.Metadata)
	return md
}
