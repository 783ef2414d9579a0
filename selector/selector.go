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
	"errors"
	"fmt"

	"github.com/lgphp/rpcx-rs/attribute"
	"github.com/lgphp/rpcx-rs/discovery"
)

// Selector picks the server that answers a call. Select returns a server
// key ("network@address", where a bare address implies "tcp"), or the
// empty string when no candidate is available. It must be cheap,
// non-blocking, and safe for concurrent use; the dispatcher invokes it on
// every call.
//
// The candidate set is replaced via UpdateServers, typically fed by a
// discovery.Discovery. A Selector never polls discovery itself.
type Selector interface {
	Select(servicePath, serviceMethod string, args any) string
	UpdateServers(servers []discovery.Server)
}

// Keyer lets call arguments control the consistent-hash key. Arguments
// that do not implement Keyer are formatted with %v instead.
type Keyer interface {
	HashKey() string
}

//nolint:gochecknoglobals
var (
	// Weight is the relative share of traffic a server should receive
	// under the weighted round-robin strategy. Servers without a weight
	// (or with a non-positive one) count as weight 1.
	Weight = attribute.NewKey[int]()

	// Latitude and Longitude are the decimal-degree coordinates of a
	// server, read by the closest strategy. Servers without coordinates
	// rank behind every server that has them.
	Latitude  = attribute.NewKey[float64]()
	Longitude = attribute.NewKey[float64]()
)

// SelectMode enumerates the built-in selection strategies. The dispatcher
// holds a concrete Selector, not a mode; the enum exists as configuration
// vocabulary and for building a selector with New.
type SelectMode int

const (
	// RandomSelect picks uniformly at random.
	RandomSelect SelectMode = iota
	// RoundRobin picks servers in sequence.
	RoundRobin
	// WeightedRoundRobin spreads picks according to the Weight attribute.
	WeightedRoundRobin
	// WeightedICMP spreads picks according to measured round-trip times.
	WeightedICMP
	// ConsistentHash maps equal call arguments to the same server.
	ConsistentHash
	// Closest picks the geographically nearest server.
	Closest
)

// SelectByUser records that selection is delegated to a user-provided
// Selector implementation.
const SelectByUser SelectMode = 1000

func (m SelectMode) String() string {
	switch m {
	case RandomSelect:
		return "RandomSelect"
	case RoundRobin:
		return "RoundRobin"
	case WeightedRoundRobin:
		return "WeightedRoundRobin"
	case WeightedICMP:
		return "WeightedICMP"
	case ConsistentHash:
		return "ConsistentHash"
	case Closest:
		return "Closest"
	case SelectByUser:
		return "SelectByUser"
	default:
		return fmt.Sprintf("SelectMode(%d)", int(m))
	}
}

// New constructs a built-in selector for the given mode. Modes that need
// extra inputs are not constructible here: Closest requires the client's
// coordinates (use NewClosest) and SelectByUser means the caller supplies
// their own Selector.
func New(mode SelectMode) (Selector, error) {
	switch mode {
	case RandomSelect:
		return NewRandom(), nil
	case RoundRobin:
		return NewRoundRobin(), nil
	case WeightedRoundRobin:
		return NewWeightedRoundRobin(), nil
	case WeightedICMP:
		return NewWeightedICMP(nil), nil
	case ConsistentHash:
		return NewConsistentHash(), nil
	case Closest:
		return nil, errors.New("closest selection needs client coordinates; use NewClosest")
	case SelectByUser:
		return nil, errors.New("SelectByUser delegates to a user-provided Selector")
	default:
		return nil, fmt.Errorf("unknown select mode %v", mode)
	}
}

func serverKeys(servers []discovery.Server) []string {
	keys := make([]string, len(servers))
	for i, server := range servers {
		keys[i] = server.Key
	}
	return keys
}
