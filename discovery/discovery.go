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

package discovery

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/lgphp/rpcx-rs/attribute"
)

// Server is one discovered server: the key where it can be reached and any
// metadata attached by the Discovery implementation.
type Server struct {
	// Key is the server key in "network@address" form, for example
	// "tcp@10.0.0.3:8972". A key without a network prefix implies "tcp".
	Key string

	// Attributes is a collection of arbitrary key/value pairs.
	Attributes attribute.Values
}

// SplitKey splits a server key of the form "network@address" into its two
// parts. A key without an "@" separator implies the "tcp" network.
func SplitKey(key string) (network, address string) {
	network, address, ok := strings.Cut(key, "@")
	if !ok {
		return "tcp", key
	}
	return network, address
}

// Discovery tracks the set of servers that can answer calls for a logical
// service.
type Discovery interface {
	// Servers returns the current full server set. Implementations backed
	// by asynchronous sources return the most recently observed set, which
	// may be empty before the first observation.
	Servers() []Server

	// Watch registers a receiver for server-set changes. The current set is
	// delivered promptly, and the full set (no deltas) is delivered again on
	// every change, until the returned value is closed, the given context is
	// cancelled, or the Discovery itself is closed. A Discovery may report
	// errors in addition to or instead of server sets, but it should keep
	// trying even in the face of errors.
	//
	// Receivers are invoked from the Discovery's delivery goroutine (or the
	// updater's, for manually-updated implementations) and must not block.
	Watch(ctx context.Context, receiver Receiver) io.Closer

	// Close frees any resources and stops all deliveries. After Close
	// returns there are no subsequent calls to receivers.
	Close() error
}

// Receiver receives discovered server sets.
type Receiver interface {
	// OnServers is called when the server set is (re-)discovered. It may be
	// called repeatedly as the set changes over time. Each call supplies the
	// full set.
	OnServers([]Server)
	// OnError is called when discovery encounters an error. This can happen
	// at any time, including after servers were already delivered, and does
	// not invalidate previously delivered sets.
	OnError(error)
}

// Static is a Discovery over a fixed server set, replaceable with Update.
// It never reports errors. The zero value is not usable; use NewStatic or
// NewStaticKeys.
type Static struct {
	mu sync.RWMutex
	// +checklocks:mu
	servers []Server
	// +checklocks:mu
	watchers map[*staticWatch]struct{}
	// +checklocks:mu
	closed bool
}

// NewStatic returns a Static discovery seeded with the given servers.
func NewStatic(servers ...Server) *Static {
	return &Static{
		servers:  append([]Server(nil), servers...),
		watchers: map[*staticWatch]struct{}{},
	}
}

// NewStaticKeys is like NewStatic for servers that carry no metadata.
func NewStaticKeys(keys ...string) *Static {
	servers := make([]Server, len(keys))
	for i, key := range keys {
		servers[i].Key = key
	}
	return NewStatic(servers...)
}

func (s *Static) Servers() []Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Server(nil), s.servers...)
}

// Update replaces the server set and notifies all active watchers.
func (s *Static) Update(servers ...Server) {
	clone := append([]Server(nil), servers...)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.servers = clone
	targets := s.liveWatchersLocked()
	s.mu.Unlock()

	// Notify outside the lock so receivers may call back into Static.
	for _, watch := range targets {
		watch.receiver.OnServers(append([]Server(nil), clone...))
	}
}

func (s *Static) Watch(ctx context.Context, receiver Receiver) io.Closer {
	watch := &staticWatch{parent: s, ctx: ctx, receiver: receiver}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return watch
	}
	s.watchers[watch] = struct{}{}
	snapshot := append([]Server(nil), s.servers...)
	s.mu.Unlock()

	receiver.OnServers(snapshot)
	return watch
}

func (s *Static) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	clear(s.watchers)
	return nil
}

// +checklocks:s.mu
func (s *Static) liveWatchersLocked() []*staticWatch {
	targets := make([]*staticWatch, 0, len(s.watchers))
	for watch := range s.watchers {
		if watch.ctx.Err() != nil {
			delete(s.watchers, watch)
			continue
		}
		targets = append(targets, watch)
	}
	return targets
}

type staticWatch struct {
	parent   *Static
	ctx      context.Context //nolint:containedctx // scopes the watch lifetime
	receiver Receiver
}

func (w *staticWatch) Close() error {
	w.parent.mu.Lock()
	defer w.parent.mu.Unlock()
	delete(w.parent.watchers, w)
	return nil
}
