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

package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrShutdown is returned for calls made on a closed connection and for
// calls that were still in flight when the connection went down.
var ErrShutdown = errors.New("connection is shut down")

// Conn is a client connection to a single server. Implementations are
// safe for concurrent use; any number of calls may be in flight at once.
type Conn interface {
	// Start establishes the transport. It must be called exactly once,
	// before any calls are dispatched.
	Start(ctx context.Context) error

	// Call invokes servicePath.serviceMethod with args and decodes the
	// server's response into reply. It blocks until the response arrives,
	// the context is done, or the connection goes down.
	Call(ctx context.Context, servicePath, serviceMethod string, md Metadata, args, reply any) error

	// Notify sends a one-way message. It returns once the message has
	// been handed to the transport; no response is ever read.
	Notify(ctx context.Context, servicePath, serviceMethod string, md Metadata, args any) error

	// Go invokes the method asynchronously. It returns a Call handle whose
	// Done channel signals completion. If done is nil a fresh buffered
	// channel is allocated; if non-nil it must have capacity for the
	// completion or it may be dropped.
	Go(servicePath, serviceMethod string, md Metadata, args, reply any, done chan *Call) *Call

	// Address returns the address this connection was created for.
	Address() string

	// State reports the connection's lifecycle state.
	State() State

	// Close tears the connection down and fails in-flight calls with
	// ErrShutdown. It is idempotent.
	Close() error
}

// Metadata carries request-scoped string pairs to the server alongside a
// call.
type Metadata map[string]string

// Call tracks one asynchronous invocation. When the call completes,
// Error and Reply are populated and the handle is delivered on Done.
type Call struct {
	ServicePath   string
	ServiceMethod string
	Metadata      Metadata
	Args          any
	Reply         any
	Error         error
	Done          chan *Call

	seq uint64
}

// done delivers the completion without blocking. A caller that supplied
// an already-full Done channel forfeits the notification.
func (c *Call) done() {
	select {
	case c.Done <- c:
	default:
	}
}

// ServerError is an error reported by the server in response to a call,
// as opposed to an error talking to the server.
type ServerError string

func (e ServerError) Error() string {
	return string(e)
}

// State is the lifecycle state of a Conn.
type State int

const (
	// Uninitialized means Start has not been called yet.
	Uninitialized State = iota
	// Started means the transport is established and calls may be made.
	Started
	// Closed means the connection is permanently down.
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Started:
		return "started"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a connection. The zero value is usable; defaults
// are applied by New.
type Options struct {
	// ConnectTimeout bounds how long Start may spend establishing the
	// transport. Defaults to 5s.
	ConnectTimeout time.Duration

	// CallTimeout, when non-zero, is applied to calls whose context does
	// not already carry a deadline.
	CallTimeout time.Duration

	// Codec encodes argument and reply payloads. Defaults to JSONCodec.
	Codec Codec
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.Codec == nil {
		o.Codec = JSONCodec{}
	}
	return o
}

// applyCallTimeout adds the configured default timeout to contexts that
// do not already carry a deadline.
func applyCallTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			return context.WithTimeout(ctx, timeout)
		}
	}
	return ctx, func() {}
}

// NewFunc creates an unstarted connection for an address. The network is
// the name the function was registered under.
type NewFunc func(network, address string, opts Options) (Conn, error)

//nolint:gochecknoglobals
var (
	transportsMu sync.RWMutex
	// +checklocks:transportsMu
	transports = map[string]NewFunc{
		"tcp":  newTCPConn,
		"tcp4": newTCPConn,
		"tcp6": newTCPConn,
		"unix": newTCPConn,
		"http": newHTTPConn,
	}
)

// Register installs a transport under a network name, replacing any
// previous registration. It allows wiring in custom transports next to
// the built-in ones.
func Register(network string, create NewFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[network] = create
}

// New creates an unstarted connection to address using the transport
// registered for network.
func New(network, address string, opts Options) (Conn, error) {
	transportsMu.RLock()
	create := transports[network]
	transportsMu.RUnlock()
	if create == nil {
		return nil, fmt.Errorf("unsupported network %q", network)
	}
	return create(network, address, opts.withDefaults())
}
