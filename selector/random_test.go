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

package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomSpreadsAcrossServers(t *testing.T) {
	t.Parallel()
	keys := []string{"tcp@a:1", "tcp@b:1", "tcp@c:1"}
	sel := NewRandom()
	sel.UpdateServers(makeServers(keys...))

	seen := map[string]int{}
	for i := 0; i < 300; i++ {
		key := sel.Select("Arith", "Add", nil)
		require.Contains(t, keys, key)
		seen[key]++
	}
	assert.Len(t, seen, len(keys), "every server gets picked eventually")
}

func TestRandomSingleServer(t *testing.T) {
	t.Parallel()
	sel := NewRandom()
	sel.UpdateServers(makeServers("tcp@only:1"))
	for i := 0; i < 5; i++ {
		assert.Equal(t, "tcp@only:1", sel.Select("Arith", "Add", nil))
	}
}
