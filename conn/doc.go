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

// Package conn provides the transport layer underneath an rpcx.XClient:
// a [Conn] is a single client connection to one server, able to carry
// blocking calls, asynchronous calls, and one-way notifications.
//
// # Transports
//
// Connections are created through [New], which picks an implementation
// based on the network name of the server key:
//
//   - "tcp", "tcp4", "tcp6", and "unix" use a multiplexed binary framing
//     over a single stream connection. Frames carry a sequence number, so
//     any number of calls can be in flight concurrently and responses may
//     arrive out of order.
//   - "http" speaks JSON-RPC 2.0 over HTTP POST requests.
//   - "grpc" dials a gRPC channel; it is only compiled in when the "grpc"
//     build tag is set, keeping the dependency out of builds that do not
//     need it.
//
// Additional transports can be installed with [Register].
//
// # Lifecycle
//
// A Conn starts out [Uninitialized]. [Conn.Start] establishes the
// transport and must be called exactly once before dispatching calls;
// [Conn.Close] tears it down and fails any calls still in flight with
// [ErrShutdown]. A closed connection never becomes usable again, callers
// are expected to create a new one.
//
// # Payload encoding
//
// Argument and reply payloads pass through a [Codec]. The default is
// [JSONCodec]; [ByteCodec] sends raw bytes for callers that do their own
// marshalling.
package conn
