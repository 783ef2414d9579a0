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
	"sync/atomic"

	"github.com/lgphp/rpcx-rs/discovery"
)

// NewRandom creates a selector that picks a server uniformly at random.
func NewRandom() Selector {
	selector := &randomSelector{}
	selector.keys.Store(&[]string{})
	return selector
}

type randomSelector struct {
	keys atomic.Pointer[[]string]
}

func (s *randomSelector) Select(_, _ string, _ any) string {
	keys := *s.keys.Load()
	if len(keys) == 0 {
		return ""
	}
	return keys[rand.Intn(len(keys))] //nolint:gosec // does not need to be cryptographically secure
}

func (s *randomSelector) UpdateServers(servers []discovery.Server) {
	keys := serverKeys(servers)
	s.keys.Store(&keys)
}
