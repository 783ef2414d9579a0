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
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRTTWeight(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		rtt  time.Duration
		want int
	}{
		{0, 191},
		{5 * time.Millisecond, 191},
		{10 * time.Millisecond, 191},
		{11 * time.Millisecond, 190},
		{100 * time.Millisecond, 101},
		{200 * time.Millisecond, 1},
		{500 * time.Millisecond, 1},
		{999 * time.Millisecond, 1},
		{time.Second, 0},
		{3 * time.Second, 0},
	}
	for _, testCase := range testCases {
		assert.Equal(t, testCase.want, rttWeight(testCase.rtt), "rtt %v", testCase.rtt)
	}
}

func TestWeightedICMPFavorsFastServers(t *testing.T) {
	t.Parallel()
	rtts := map[string]time.Duration{
		"fast:1": 5 * time.Millisecond,    // weight 191
		"slow:1": 150 * time.Millisecond,  // weight 51
	}
	probe := func(ctx context.Context, network, address string) (time.Duration, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("probe context has no deadline")
		}
		if network != "tcp" {
			t.Errorf("unexpected probe network %q", network)
		}
		rtt, ok := rtts[address]
		if !ok {
			return 0, errors.New("unexpected address " + address)
		}
		return rtt, nil
	}
	sel := NewWeightedICMP(probe)
	sel.UpdateServers(makeServers("tcp@fast:1", "tcp@slow:1"))

	counts := map[string]int{}
	for i := 0; i < 242; i++ { // one full cycle of total weight 191+51
		counts[sel.Select("Arith", "Add", nil)]++
	}
	assert.Equal(t, map[string]int{"tcp@fast:1": 191, "tcp@slow:1": 51}, counts)
}

func TestWeightedICMPExcludesUnprobedServers(t *testing.T) {
	t.Parallel()
	probe := func(_ context.Context, _, address string) (time.Duration, error) {
		if address == "down:1" {
			return 0, errors.New("host unreachable")
		}
		return 5 * time.Millisecond, nil
	}
	sel := NewWeightedICMP(probe)
	sel.UpdateServers(makeServers("tcp@up:1", "tcp@down:1"))

	// A server that has never answered a probe gets no traffic at all.
	for i := 0; i < 20; i++ {
		assert.Equal(t, "tcp@up:1", sel.Select("Arith", "Add", nil))
	}
}

func TestWeightedICMPKeepsHistoryAcrossProbeFailures(t *testing.T) {
	t.Parallel()
	fail := false
	probe := func(_ context.Context, _, _ string) (time.Duration, error) {
		if fail {
			return 0, errors.New("probe timed out")
		}
		return 5 * time.Millisecond, nil
	}
	sel := NewWeightedICMP(probe)
	servers := makeServers("tcp@a:1")
	sel.UpdateServers(servers)
	require.Equal(t, "tcp@a:1", sel.Select("Arith", "Add", nil))

	// A failed probe leaves the existing window in place, so a server with
	// good history keeps receiving traffic through a transient blip.
	fail = true
	sel.UpdateServers(servers)
	assert.Equal(t, "tcp@a:1", sel.Select("Arith", "Add", nil))
}

func TestWeightedICMPWindowedExclusion(t *testing.T) {
	t.Parallel()
	rtt := 5 * time.Millisecond
	probe := func(_ context.Context, _, _ string) (time.Duration, error) {
		return rtt, nil
	}
	sel := NewWeightedICMP(probe)
	servers := makeServers("tcp@a:1")
	sel.UpdateServers(servers)
	require.Equal(t, "tcp@a:1", sel.Select("Arith", "Add", nil))

	// One slow sample drags the mean up but does not exclude the server.
	rtt = 1500 * time.Millisecond
	sel.UpdateServers(servers)
	assert.Equal(t, "tcp@a:1", sel.Select("Arith", "Add", nil))

	// Once the window fills with slow samples the server drops out.
	for i := 0; i < rttWindowSize; i++ {
		sel.UpdateServers(servers)
	}
	assert.Empty(t, sel.Select("Arith", "Add", nil))
}

func TestRTTWindowEvictsOldSamples(t *testing.T) {
	t.Parallel()
	window := newRTTWindow()
	require.Zero(t, window.count())
	require.Zero(t, window.mean())

	window.add(10 * time.Millisecond)
	window.add(30 * time.Millisecond)
	require.Equal(t, 2, window.count())
	require.Equal(t, 20*time.Millisecond, window.mean())

	for i := 0; i < rttWindowSize; i++ {
		window.add(100 * time.Millisecond)
	}
	assert.Equal(t, rttWindowSize, window.count())
	assert.Equal(t, 100*time.Millisecond, window.mean())
}

func TestDefaultProbeLocalhost(t *testing.T) {
	t.Parallel()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	// Raw ICMP sockets are usually unavailable in tests, so this exercises
	// the TCP connect fallback against a live listener.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rtt, err := DefaultProbe(ctx, "tcp", listener.Addr().String())
	require.NoError(t, err)
	assert.Positive(t, rtt)
}
