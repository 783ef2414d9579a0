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

// Package discovery provides functionality for service discovery: tracking
// the set of servers that can answer calls for a logical service. Each
// server is identified by a server key of the form "network@address"
// (for example "tcp@10.0.0.3:8972"), optionally carrying custom metadata.
//
// It contains the core interface ([Discovery]) that can be implemented
// to create a custom discovery strategy. The interface is general enough
// that it can support any form of discovery, including ones that are
// backed by push mechanisms (like "watching" nodes in ZooKeeper or etcd
// or "watching" resources in Kubernetes).
//
// # Provided Implementations
//
// [NewStatic] tracks a fixed server set that can be replaced manually with
// [Static.Update]. [NewDNS] periodically resolves a DNS name into a set of
// "tcp@ip:port" keys. DNS discovery is built on periodic polling via a
// [Prober]; to create a new discovery implementation that polls some other
// source, implement [Prober] and use it with [NewPolling].
//
// # Attaching Metadata
//
// A Discovery implementation can attach arbitrary type-safe metadata to a
// server via its Attributes field (see the attribute package). The
// selector package consumes well-known attributes such as selector.Weight
// for weighted strategies and selector.Latitude/selector.Longitude for
// geographic ones.
//
// # Subsetting
//
// Subsetting bounds how many servers any one client talks to. It is
// implemented by [Subset] as a Discovery decorator: server sets flowing to
// receivers (and returned from Servers) are reduced to a consistent,
// randomly-distributed subset chosen with rendezvous hashing. Clients with
// the same selection key observe the same subset; when a server disappears,
// only the calls that would have gone to it move elsewhere.
package discovery
