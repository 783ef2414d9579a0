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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lgphp/rpcx-rs/conn"
)

func TestWithMetadata(t *testing.T) {
	t.Parallel()
	md := conn.Metadata{"token": "abc"}
	ctx := WithMetadata(context.Background(), md)
	assert.Equal(t, md, MetadataFrom(ctx))
}

func TestMetadataFromEmptyContext(t *testing.T) {
	t.Parallel()
	assert.Nil(t, MetadataFrom(context.Background()))
}

func TestWithMetadataReplaces(t *testing.T) {
	t.Parallel()
	ctx := WithMetadata(context.Background(), conn.Metadata{"token": "abc"})
	ctx = WithMetadata(ctx, conn.Metadata{"token": "xyz"})
	assert.Equal(t, conn.Metadata{"token": "xyz"}, MetadataFrom(ctx))
}
