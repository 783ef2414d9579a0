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
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/lgphp/rpcx-rs/discovery"
	"github.com/lgphp/rpcx-rs/internal"
)

// NewRoundRobin creates a selector that cycles through the servers in order.
// Each update shuffles the server list so that a fleet of clients receiving
// the same discovery results does not converge on the same rotation.
func NewRoundRobin() Selector {
	selector := &roundRobinSelector{
		rnd: internal.NewRand(),
	}
	selector.state.Store(&roundRobinState{})
	return selector
}

type roundRobinSelector struct {
	state atomic.Pointer[roundRobinState]

	// rnd is not safe for concurrent use
	rndMu sync.Mutex
	// +checklocks:rndMu
	rnd *rand.Rand
}

type roundRobinState struct {
	keys    []string
	counter atomic.Uint64
}

func (s *roundRobinSelector) Select(_, _ string, _ any) string {
	state := s.state.Load()
	if len(state.keys) == 0 {
		return ""
	}
	i := state.counter.Add(1) - 1
	return state.keys[i%uint64(len(state.keys))]
}

func (s *roundRobinSelector) UpdateServers(servers []discovery.Server) {
	keys := serverKeys(servers)
	s.rndMu.Lock()
	s.rnd.Shuffle(len(keys), func(i, j int) {
		keys[i], keys[j] = keys[j], keys[i]
	})
	s.rndMu.Unlock()
	s.state.Store(&roundRobinState{keys: keys})
}
