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

// Package rpcx provides a client-side dispatcher for RPC services that
// are served by more than one server. On top of a pluggable connection
// layer it adds per-request server selection, connection caching,
// failure policies with retries and backup requests, and service
// discovery.
//
// To create a client use the [NewXClient] function. It takes a failure
// policy, a [selection strategy], and options:
//
//	sel, err := selector.New(selector.RoundRobin)
//	if err != nil {
//	    return err
//	}
//	client := rpcx.NewXClient(
//	    rpcx.Failover,
//	    sel,
//	    rpcx.WithDiscovery(discovery.NewStaticKeys("tcp@127.0.0.1:8972")),
//	)
//	defer client.Close()
//
//	args := ArithArgs{A: 1, B: 2}
//	var reply ArithReply
//	err = client.Call(ctx, "Arith", "Add", &args, &reply)
//
// The client has a notion of "closing", via its Close method. This step
// stops the discovery watcher, closes every cached connection, and waits
// for all of that to finish. The client cannot be used after it has been
// closed.
//
// # Server Keys
//
// Servers are identified by keys of the form "network@address", such as
// "tcp@10.0.0.3:8972" or "http@10.0.0.3:8080". A key without a network
// prefix implies "tcp". Keys flow from a [discovery source] through the
// selector to the connection cache, which keeps at most one connection
// per key.
//
// # Fail Modes
//
// Call and Go share one of four failure policies, chosen at
// construction:
//
//   - [Failover] retries on servers not yet tried, reselecting before
//     each retry.
//   - [Failfast] makes exactly one attempt.
//   - [Failtry] retries on the same server.
//   - [Failbackup] waits a configurable latency for the first server,
//     then races a second request against it; the first success wins.
//
// One-way notifications sent with Notify bypass the policy entirely, as
// does [ErrServerNotFound]: a request the selector cannot place is never
// retried.
//
// # Transports
//
// Connections are created by the [conn] package, which speaks a framed
// binary protocol over TCP-like networks and JSON-RPC over HTTP. Custom
// transports can be added with [conn.Register], wired to new network
// names in server keys.
//
// [selection strategy]: https://pkg.go.dev/github.com/lgphp/rpcx-rs/selector#Selector
// [discovery source]: https://pkg.go.dev/github.com/lgphp/rpcx-rs/discovery#Discovery
// [conn]: https://pkg.go.dev/github.com/lgphp/rpcx-rs/conn
package rpcx
