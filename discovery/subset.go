// Copyright 2025 The rpcx-rs Authors
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

package discovery

import (
	"container/heap"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"sync"

	"github.com/lgphp/rpcx-rs/internal"
)

// Subset returns a Discovery that uses rendezvous hashing to reduce server
// sets to a randomly-distributed but consistent subset of k servers. When
// provided the same selection key and k value, it yields the same servers.
// When a server is removed, only the clients that would have been directed
// to it are redistributed to other servers.
func Subset(discovery Discovery, options SubsetConfig) (Discovery, error) {
	if options.SelectionKey == "" {
		randomKey, err := randomKey()
		if err != nil {
			return nil, err
		}
		options.SelectionKey = randomKey
	}
	if options.Size == 0 {
		return nil, errors.New("Size must be set")
	}
	if options.Hash == nil {
		options.Hash = internal.NewMurmurHash3(0)
	}
	return &subsetDiscovery{
		discovery: discovery,
		key:       []byte(options.SelectionKey),
		k:         options.Size,
		hash:      options.Hash,
	}, nil
}

// SubsetConfig represents the configuration options for use with Subset.
type SubsetConfig struct {
	// Size specifies the number of servers to select out of the set of
	// available servers. This option is required.
	Size int

	// SelectionKey specifies the key used to uniquely select servers. This
	// value controls which servers get selected, thus typically you set a
	// unique value for each program instance, using e.g. the machine host
	// name. If not set, a random string will be used.
	SelectionKey string

	// Hash provides a hash function to use. If unspecified, an
	// implementation of MurmurHash3 will be used.
	Hash hash.Hash32
}

type subsetDiscovery struct {
	discovery Discovery
	key       []byte
	k         int

	// Guards hash, which is stateful. Subsets may be computed concurrently
	// from Servers and from watch deliveries.
	mu   sync.Mutex
	hash hash.Hash32
}

func (s *subsetDiscovery) Servers() []Server {
	return s.computeSubset(s.discovery.Servers())
}

func (s *subsetDiscovery) Watch(ctx context.Context, receiver Receiver) io.Closer {
	return s.discovery.Watch(ctx, &subsetReceiver{Receiver: receiver, parent: s})
}

func (s *subsetDiscovery) Close() error {
	return s.discovery.Close()
}

func (s *subsetDiscovery) computeSubset(servers []Server) []Server {
	if len(servers) <= s.k {
		return servers
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, k := len(servers), s.k
	serverHeap := newServerHeap(servers[:k], s.key, s.hash)
	for i := k; i < n; i++ {
		rank := serverHeap.rank(servers[i])
		if rank > serverHeap.ranks[0] {
			serverHeap.servers[0] = servers[i]
			serverHeap.ranks[0] = rank
			heap.Fix(serverHeap, 0)
		}
	}
	return serverHeap.servers
}

type subsetReceiver struct {
	Receiver
	parent *subsetDiscovery
}

func (r *subsetReceiver) OnServers(servers []Server) {
	r.Receiver.OnServers(r.parent.computeSubset(servers))
}

// serverHeap is a min-heap of servers ordered by rendezvous rank, holding
// the k highest-ranked servers seen so far.
type serverHeap struct {
	servers []Server
	ranks   []uint32
	key     []byte
	hash    hash.Hash32
}

func newServerHeap(servers []Server, key []byte, hash hash.Hash32) *serverHeap {
	sheap := &serverHeap{
		servers: servers,
		ranks:   make([]uint32, len(servers)),
		key:     key,
		hash:    hash,
	}
	for i := range sheap.ranks {
		sheap.ranks[i] = sheap.rank(sheap.servers[i])
	}
	heap.Init(sheap)
	return sheap
}

func (h serverHeap) rank(server Server) uint32 {
	h.hash.Reset()
	_, _ = h.hash.Write(h.key)
	_, _ = h.hash.Write([]byte(server.Key))
	return h.hash.Sum32()
}

func (h serverHeap) Len() int { return len(h.servers) }

func (h serverHeap) Less(i, j int) bool {
	return h.ranks[i] < h.ranks[j]
}

func (h serverHeap) Swap(i, j int) {
	h.servers[i], h.servers[j] = h.servers[j], h.servers[i]
	h.ranks[i], h.ranks[j] = h.ranks[j], h.ranks[i]
}

func (h *serverHeap) Push(any) { panic("Push should not be called") } //nolint:forbidigo // inaccessible code
func (h *serverHeap) Pop() any { panic("Pop should not be called") }  //nolint:forbidigo // inaccessible code

func randomKey() (string, error) {
	data := [16]byte{}
	if _, err := rand.Read(data[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(data[:]), nil
}
