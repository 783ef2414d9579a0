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
	"fmt"
	"hash/fnv"
	"io"
	"slices"
	"sync"

	jump "github.com/dgryski/go-jump"

	"github.com/lgphp/rpcx-rs/discovery"
)

// NewConsistentHash creates a selector that maps each request to a server
// based on a hash of the service path, method, and argument. The same
// request always lands on the same server while the server set is stable,
// and jump consistent hashing keeps remapping small when servers come and
// go. Argument types can control their hash input by implementing Keyer;
// otherwise the argument's fmt "%v" rendering is hashed.
func NewConsistentHash() Selector {
	return &consistentHashSelector{}
}

type consistentHashSelector struct {
	mu sync.RWMutex
	// keys is kept sorted so the request-to-server mapping does not depend
	// on the order discovery happened to return the servers in.
	// +checklocks:mu
	keys []string
}

func (s *consistentHashSelector) Select(servicePath, serviceMethod string, args any) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.keys) == 0 {
		return ""
	}
	bucket := jump.Hash(hashRequest(servicePath, serviceMethod, args), len(s.keys))
	return s.keys[bucket]
}

func (s *consistentHashSelector) UpdateServers(servers []discovery.Server) {
	keys := serverKeys(servers)
	slices.Sort(keys)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}

func hashRequest(servicePath, serviceMethod string, args any) uint64 {
	hash := fnv.New64a()
	_, _ = io.WriteString(hash, servicePath)
	_, _ = hash.Write([]byte{0})
	_, _ = io.WriteString(hash, serviceMethod)
	_, _ = hash.Write([]byte{0})
	if args != nil {
		if keyer, ok := args.(Keyer); ok {
			_, _ = io.WriteString(hash, keyer.HashKey())
		} else {
			_, _ = fmt.Fprintf(hash, "%v", args)
		}
	}
	return hash.Sum64()
}
