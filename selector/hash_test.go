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

type tenantArgs struct {
	Tenant string
	Extra  int
}

func (a tenantArgs) HashKey() string {
	return a.Tenant
}

func TestConsistentHashPinsRequestsToOneServer(t *testing.T) {
	t.Parallel()
	keys := []string{"tcp@s1:1", "tcp@s2:1", "tcp@s3:1", "tcp@s4:1", "tcp@s5:1"}
	sel := NewConsistentHash()
	sel.UpdateServers(makeServers(keys...))

	first := sel.Select("Arith", "Add", 7)
	require.Contains(t, keys, first)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, sel.Select("Arith", "Add", 7))
	}

	// Different argument values spread across servers.
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		seen[sel.Select("Arith", "Add", i)] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestConsistentHashUsesKeyer(t *testing.T) {
	t.Parallel()
	sel := NewConsistentHash()
	sel.UpdateServers(makeServers("tcp@s1:1", "tcp@s2:1", "tcp@s3:1"))

	// Arguments that differ only outside their hash key land on the same
	// server.
	first := sel.Select("Orders", "Place", tenantArgs{Tenant: "tenant-42", Extra: 1})
	second := sel.Select("Orders", "Place", tenantArgs{Tenant: "tenant-42", Extra: 99})
	assert.Equal(t, first, second)
}

func TestConsistentHashIgnoresDiscoveryOrder(t *testing.T) {
	t.Parallel()
	selA := NewConsistentHash()
	selA.UpdateServers(makeServers("tcp@s1:1", "tcp@s2:1", "tcp@s3:1"))
	selB := NewConsistentHash()
	selB.UpdateServers(makeServers("tcp@s3:1", "tcp@s1:1", "tcp@s2:1"))

	for i := 0; i < 20; i++ {
		assert.Equal(t,
			selA.Select("Arith", "Add", i),
			selB.Select("Arith", "Add", i))
	}
}

func TestConsistentHashRemapsOnlyAffectedRequests(t *testing.T) {
	t.Parallel()
	keys := []string{"tcp@s1:1", "tcp@s2:1", "tcp@s3:1", "tcp@s4:1"}
	sel := NewConsistentHash()
	sel.UpdateServers(makeServers(keys...))

	before := make([]string, 50)
	for i := range before {
		before[i] = sel.Select("Arith", "Add", i)
	}

	// Drop the last server in sorted order. Requests that were mapped to
	// one of the surviving servers must stay where they were.
	sel.UpdateServers(makeServers(keys[:3]...))
	for i := range before {
		after := sel.Select("Arith", "Add", i)
		require.Contains(t, keys[:3], after)
		if before[i] != keys[3] {
			assert.Equal(t, before[i], after, "args %d moved despite its server surviving", i)
		}
	}
}

func TestHashRequestSeparatesPathAndMethod(t *testing.T) {
	t.Parallel()
	assert.NotEqual(t,
		hashRequest("Arith", "Add", nil),
		hashRequest("Ari", "thAdd", nil))
	assert.NotEqual(t,
		hashRequest("Arith", "Add", nil),
		hashRequest("Arith", "Add", 1))
}
