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

// Package selector provides functionality for picking the server that
// answers a call. This is used by an rpcx.XClient to resolve a service
// path, method and arguments into the server key of a concrete server.
//
// This package defines the core interface, [Selector], which picks a
// single server key out of the candidate set it was last given via
// UpdateServers. Selection happens on every call, so implementations must
// be cheap, non-blocking, and safe for concurrent use.
//
// This package also contains implementations of all the built-in
// selection strategies enumerated by [SelectMode]: uniformly random,
// round-robin, smooth weighted round-robin, latency-weighted (probing
// servers with ICMP echoes), consistent hashing over the call's
// arguments, and geographically closest. [New] constructs a selector for
// a mode; strategies that need extra inputs have dedicated constructors,
// such as [NewClosest]. [SelectByUser] is not a strategy of its own: it
// records that selection is delegated to a user-provided Selector
// implementation.
//
// Strategies that rank heterogeneous servers read well-known attributes
// from the discovered server metadata: [Weight] for weighted round-robin
// and [Latitude]/[Longitude] for the closest strategy. A custom Discovery
// implementation can attach these via the attribute package.
package selector
