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
	"sync"

	"github.com/lgphp/rpcx-rs/attribute"
	"github.com/lgphp/rpcx-rs/discovery"
)

// NewWeightedRoundRobin creates a selector that distributes picks in
// proportion to each server's Weight attribute using smooth weighted
// round-robin. Servers with no Weight attribute (or a non-positive one)
// count as weight 1. The smooth variant interleaves picks instead of
// sending runs of consecutive requests to the heaviest server.
func NewWeightedRoundRobin() Selector {
	return &weightedRoundRobinSelector{}
}

type weightedRoundRobinSelector struct {
	mu sync.Mutex
	// +checklocks:mu
	items []*weightedItem
}

func (s *weightedRoundRobinSelector) Select(_, _ string, _ any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nextWeighted(s.items)
}

func (s *weightedRoundRobinSelector) UpdateServers(servers []discovery.Server) {
	items := make([]*weightedItem, 0, len(servers))
	for _, server := range servers {
		weight, ok := attribute.GetValue(server.Attributes, Weight)
		if !ok || weight <= 0 {
			weight = 1
		}
		items = append(items, &weightedItem{key: server.Key, weight: weight})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

type weightedItem struct {
	key     string
	weight  int
	current int
}

// nextWeighted advances the smooth weighted round-robin state and returns
// the chosen key. Each item's current value grows by its weight every turn;
// the item with the largest current value wins and pays back the total
// weight, which spreads the wins of heavy items across the cycle.
func nextWeighted(items []*weightedItem) string {
	var best *weightedItem
	total := 0
	for _, item := range items {
		if item.weight <= 0 {
			continue
		}
		item.current += item.weight
		total += item.weight
		if best == nil || item.current > best.current {
			best = item
		}
	}
	if best == nil {
		return ""
	}
	best.current -= total
	return best.key
}
