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

	"github.com/lgphp/rpcx-rs/attribute"
	"github.com/lgphp/rpcx-rs/discovery"
)

func TestWeightedRoundRobinSmoothSequence(t *testing.T) {
	t.Parallel()
	sel := NewWeightedRoundRobin()
	sel.UpdateServers([]discovery.Server{
		{Key: "tcp@heavy:1", Attributes: attribute.NewValues(Weight.Value(5))},
		{Key: "tcp@light:1", Attributes: attribute.NewValues(Weight.Value(1))},
	})

	// The smooth variant interleaves the light server into the middle of
	// the cycle instead of queueing it after five heavy picks.
	want := []string{
		"tcp@heavy:1", "tcp@heavy:1", "tcp@heavy:1",
		"tcp@light:1",
		"tcp@heavy:1", "tcp@heavy:1",
	}
	got := make([]string, 0, len(want))
	for range want {
		got = append(got, sel.Select("Arith", "Add", nil))
	}
	assert.Equal(t, want, got)
}

func TestWeightedRoundRobinExactProportions(t *testing.T) {
	t.Parallel()
	sel := NewWeightedRoundRobin()
	sel.UpdateServers([]discovery.Server{
		{Key: "tcp@a:1", Attributes: attribute.NewValues(Weight.Value(3))},
		{Key: "tcp@b:1", Attributes: attribute.NewValues(Weight.Value(1))},
	})

	counts := map[string]int{}
	for i := 0; i < 40; i++ {
		counts[sel.Select("Arith", "Add", nil)]++
	}
	// Ten full cycles of total weight four.
	assert.Equal(t, map[string]int{"tcp@a:1": 30, "tcp@b:1": 10}, counts)
}

func TestWeightedRoundRobinDefaultsMissingWeightToOne(t *testing.T) {
	t.Parallel()
	sel := NewWeightedRoundRobin()
	sel.UpdateServers([]discovery.Server{
		{Key: "tcp@a:1"},
		{Key: "tcp@b:1", Attributes: attribute.NewValues(Weight.Value(0))},
		{Key: "tcp@c:1", Attributes: attribute.NewValues(Weight.Value(-7))},
	})

	// With every weight clamped to one the cycle degenerates to plain
	// round-robin in update order.
	want := []string{"tcp@a:1", "tcp@b:1", "tcp@c:1", "tcp@a:1", "tcp@b:1", "tcp@c:1"}
	got := make([]string, 0, len(want))
	for range want {
		got = append(got, sel.Select("Arith", "Add", nil))
	}
	assert.Equal(t, want, got)
}

func TestNextWeighted(t *testing.T) {
	t.Parallel()
	require.Empty(t, nextWeighted(nil))
	require.Empty(t, nextWeighted([]*weightedItem{
		{key: "a", weight: 0},
		{key: "b", weight: 0},
	}), "zero-weight items are excluded, not defaulted")

	items := []*weightedItem{
		{key: "a", weight: 2},
		{key: "b", weight: 0},
		{key: "c", weight: 1},
	}
	counts := map[string]int{}
	for i := 0; i < 30; i++ {
		counts[nextWeighted(items)]++
	}
	assert.Equal(t, map[string]int{"a": 20, "c": 10}, counts)
}
