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
	"context"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edwingeng/deque/v2"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"

	"github.com/lgphp/rpcx-rs/discovery"
)

// ProbeFunc measures the round-trip time to a server. The context carries
// the probe deadline; network and address come from splitting the server
// key.
type ProbeFunc func(ctx context.Context, network, address string) (time.Duration, error)

const (
	// rttWindowSize bounds how many recent samples feed a server's weight.
	rttWindowSize = 8

	defaultProbeTimeout = time.Second

	protocolICMP = 1
)

// NewWeightedICMP creates a selector that weights servers by measured
// round-trip time: nearby servers are picked more often, and servers slower
// than a second are excluded until they recover. Probes run on every
// UpdateServers call, which blocks until all servers have been probed or
// the per-probe timeout expires. A nil probe uses DefaultProbe.
func NewWeightedICMP(probe ProbeFunc) Selector {
	if probe == nil {
		probe = DefaultProbe
	}
	return &icmpSelector{
		probe:   probe,
		windows: map[string]*rttWindow{},
	}
}

type icmpSelector struct {
	probe ProbeFunc

	mu sync.Mutex
	// +checklocks:mu
	items []*weightedItem
	// +checklocks:mu
	windows map[string]*rttWindow
}

func (s *icmpSelector) Select(_, _ string, _ any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nextWeighted(s.items)
}

func (s *icmpSelector) UpdateServers(servers []discovery.Server) {
	rtts := make([]time.Duration, len(servers))
	errs := make([]error, len(servers))
	// Probes run in parallel; a failed probe is recorded per server and
	// does not cancel the others.
	var group errgroup.Group
	for i, server := range servers {
		i, server := i, server
		group.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultProbeTimeout)
			defer cancel()
			network, address := discovery.SplitKey(server.Key)
			rtts[i], errs[i] = s.probe(ctx, network, address)
			return nil
		})
	}
	_ = group.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	windows := make(map[string]*rttWindow, len(servers))
	items := make([]*weightedItem, 0, len(servers))
	for i, server := range servers {
		window := s.windows[server.Key]
		if window == nil {
			window = newRTTWindow()
		}
		windows[server.Key] = window
		if errs[i] == nil {
			window.add(rtts[i])
		}
		// A server that has never answered a probe gets weight zero and is
		// excluded until a probe succeeds.
		weight := 0
		if window.count() > 0 {
			weight = rttWeight(window.mean())
		}
		items = append(items, &weightedItem{key: server.Key, weight: weight})
	}
	s.windows = windows
	s.items = items
}

// rttWindow keeps a sliding window of recent round-trip samples so a single
// slow probe does not swing the server's weight.
type rttWindow struct {
	samples *deque.Deque[time.Duration]
	sum     time.Duration
}

func newRTTWindow() *rttWindow {
	return &rttWindow{samples: deque.NewDeque[time.Duration]()}
}

func (w *rttWindow) add(sample time.Duration) {
	w.samples.PushFront(sample)
	w.sum += sample
	for w.samples.Len() > rttWindowSize {
		w.sum -= w.samples.PopBack()
	}
}

func (w *rttWindow) count() int {
	return w.samples.Len()
}

func (w *rttWindow) mean() time.Duration {
	if w.samples.Len() == 0 {
		return 0
	}
	return w.sum / time.Duration(w.samples.Len())
}

// rttWeight converts a round-trip time into a selection weight. Anything
// under 10ms counts as equally fast, weights fall off linearly up to 200ms,
// very slow servers keep a token weight, and servers past a second are
// excluded outright.
func rttWeight(rtt time.Duration) int {
	switch ms := rtt.Milliseconds(); {
	case ms <= 10:
		return 191
	case ms <= 200:
		return 201 - int(ms)
	case ms < 1000:
		return 1
	default:
		return 0
	}
}

// icmpSeq distinguishes concurrent probes sharing the process-wide echo ID.
var icmpSeq atomic.Uint32 //nolint:gochecknoglobals

// DefaultProbe measures round-trip time with an ICMP echo request. Raw ICMP
// sockets usually require elevated privileges; when the socket cannot be
// opened, or the echo fails, the probe falls back to timing a TCP connect.
func DefaultProbe(ctx context.Context, network, address string) (time.Duration, error) {
	host := address
	if hostOnly, _, err := net.SplitHostPort(address); err == nil {
		host = hostOnly
	}
	if rtt, err := icmpProbe(ctx, host); err == nil {
		return rtt, nil
	}
	return dialProbe(ctx, network, address)
}

func icmpProbe(ctx context.Context, host string) (time.Duration, error) {
	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return 0, err
	}
	packetConn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return 0, err
	}
	defer packetConn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err := packetConn.SetDeadline(deadline); err != nil {
			return 0, err
		}
	}

	echoID := os.Getpid() & 0xffff
	echoSeq := int(icmpSeq.Add(1) & 0xffff)
	message := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{ID: echoID, Seq: echoSeq, Data: []byte("rpcx-rs probe")},
	}
	packet, err := message.Marshal(nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	if _, err := packetConn.WriteTo(packet, &net.IPAddr{IP: addrs[0]}); err != nil {
		return 0, err
	}

	reply := make([]byte, 1500)
	for {
		length, _, err := packetConn.ReadFrom(reply)
		if err != nil {
			return 0, err
		}
		parsed, err := icmp.ParseMessage(protocolICMP, reply[:length])
		if err != nil {
			continue
		}
		echo, ok := parsed.Body.(*icmp.Echo)
		if !ok || parsed.Type != ipv4.ICMPTypeEchoReply || echo.ID != echoID || echo.Seq != echoSeq {
			// A reply meant for another probe or another process.
			continue
		}
		return time.Since(start), nil
	}
}

func dialProbe(ctx context.Context, network, address string) (time.Duration, error) {
	var dialer net.Dialer
	start := time.Now()
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return 0, err
	}
	rtt := time.Since(start)
	_ = conn.Close()
	return rtt, nil
}
