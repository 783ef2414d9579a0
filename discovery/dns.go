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
	"net"
	"sync"
	"time"

	"github.com/lgphp/rpcx-rs/internal"
)

// Prober is an interface for types that provide single-shot discovery:
// one poll of the backing source.
type Prober interface {
	// ProbeOnce returns the full server set. The second return value
	// specifies the TTL of the result, or 0 if there is no known TTL.
	ProbeOnce(ctx context.Context) ([]Server, time.Duration, error)
}

// NewDNS creates a Discovery that periodically resolves a DNS name into
// "tcp@ip:port" server keys. The hostPort must carry an explicit port;
// every resolved IP is paired with it. The network selects which kind of
// addresses to resolve and must be one of "ip", "ip4" or "ip6". Note that
// because net.Resolver does not expose record TTL values, results are
// re-polled at the fixed ttl given here. A nil resolver uses
// [net.DefaultResolver].
func NewDNS(resolver *net.Resolver, network, hostPort string, ttl time.Duration) Discovery {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return NewPolling(
		&dnsProber{
			resolver: resolver,
			network:  network,
			hostPort: hostPort,
		},
		ttl,
	)
}

// NewPolling creates a Discovery that re-polls an underlying single-shot
// prober whenever the previous result's TTL expires. If the prober does not
// return a TTL with the result, defaultTTL is used. Polling begins with the
// first Watch and ends at Close; before the first poll completes, Servers
// returns an empty set.
func NewPolling(prober Prober, defaultTTL time.Duration) Discovery {
	return newPolling(prober, defaultTTL, internal.NewRealClock())
}

func newPolling(prober Prober, defaultTTL time.Duration, clock internal.Clock) *polling {
	ctx, cancel := context.WithCancel(context.Background())
	return &polling{
		prober:     prober,
		defaultTTL: defaultTTL,
		clock:      clock,
		runCtx:     ctx,
		cancel:     cancel,
		doneSignal: make(chan struct{}),
		refreshCh:  make(chan struct{}, 1),
		watchers:   map[*pollWatch]struct{}{},
	}
}

type dnsProber struct {
	resolver *net.Resolver
	network  string
	hostPort string
}

func (p *dnsProber) ProbeOnce(ctx context.Context) ([]Server, time.Duration, error) {
	host, port, err := net.SplitHostPort(p.hostPort)
	if err != nil {
		return nil, 0, err
	}
	addresses, err := p.resolver.LookupNetIP(ctx, p.network, host)
	if err != nil {
		return nil, 0, err
	}
	servers := make([]Server, len(addresses))
	for i, address := range addresses {
		servers[i].Key = "tcp@" + net.JoinHostPort(address.Unmap().String(), port)
	}
	return servers, 0, nil
}

type polling struct {
	prober     Prober
	defaultTTL time.Duration
	clock      internal.Clock

	startOnce  sync.Once
	runCtx     context.Context //nolint:containedctx // bounds the poll loop, cancelled by Close
	cancel     context.CancelFunc
	doneSignal chan struct{}
	refreshCh  chan struct{}

	mu sync.RWMutex
	// +checklocks:mu
	latest []Server
	// +checklocks:mu
	watchers map[*pollWatch]struct{}
	// +checklocks:mu
	started bool
	// +checklocks:mu
	closed bool
}

func (p *polling) Servers() []Server {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Server(nil), p.latest...)
}

// Refresh hints that the server set may be stale and should be re-polled
// soon, for example after calls to every known server have failed. It never
// blocks; redundant hints coalesce.
func (p *polling) Refresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

func (p *polling) Watch(ctx context.Context, receiver Receiver) io.Closer {
	watch := &pollWatch{parent: p, ctx: ctx, receiver: receiver}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return watch
	}
	p.watchers[watch] = struct{}{}
	snapshot := append([]Server(nil), p.latest...)
	seeded := p.latest != nil
	p.started = true
	p.mu.Unlock()

	if seeded {
		receiver.OnServers(snapshot)
	}
	p.startOnce.Do(func() {
		go p.run(p.runCtx)
	})
	return watch
}

func (p *polling) Close() error {
	p.cancel()
	p.mu.Lock()
	p.closed = true
	started := p.started
	clear(p.watchers)
	p.mu.Unlock()
	if started {
		<-p.doneSignal
	}
	return nil
}

func (p *polling) run(ctx context.Context) {
	defer close(p.doneSignal)

	timer := p.clock.NewTimer(0)
	if !timer.Stop() {
		<-timer.Chan()
	}

	for {
		servers, ttl, err := p.prober.ProbeOnce(ctx)
		if err != nil {
			p.notifyError(err)
		} else {
			p.notifyServers(servers)
		}

		if ttl == 0 {
			ttl = p.defaultTTL
		}
		timer.Reset(ttl)

		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.Chan()
			}
			return
		case <-p.refreshCh:
			// We still want to drain the timer in this case:
			// > Reset should be invoked only on stopped or expired timers
			// > with drained channels.
			// https://pkg.go.dev/time#Timer.Reset
			if !timer.Stop() {
				<-timer.Chan()
			}
			// Continue.
		case <-timer.Chan():
			// Continue.
		}
	}
}

func (p *polling) notifyServers(servers []Server) {
	clone := append([]Server(nil), servers...)
	p.mu.Lock()
	p.latest = clone
	targets := p.liveWatchersLocked()
	p.mu.Unlock()
	for _, watch := range targets {
		watch.receiver.OnServers(append([]Server(nil), clone...))
	}
}

func (p *polling) notifyError(err error) {
	p.mu.Lock()
	targets := p.liveWatchersLocked()
	p.mu.Unlock()
	for _, watch := range targets {
		watch.receiver.OnError(err)
	}
}

// +checklocks:p.mu
func (p *polling) liveWatchersLocked() []*pollWatch {
	targets := make([]*pollWatch, 0, len(p.watchers))
	for watch := range p.watchers {
		if watch.ctx.Err() != nil {
			delete(p.watchers, watch)
			continue
		}
		targets = append(targets, watch)
	}
	return targets
}

type pollWatch struct {
	parent   *polling
	ctx      context.Context //nolint:containedctx // scopes the watch lifetime
	receiver Receiver
}

func (w *pollWatch) Close() error {
	w.parent.mu.Lock()
	defer w.parent.mu.Unlock()
	delete(w.parent.watchers, w)
	return nil
}
