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

package rpcx

import (
	"context"
	"time"

	"github.com/lgphp/rpcx-rs/conn"
	"github.com/lgphp/rpcx-rs/discovery"
)

// DialFunc creates an unstarted connection for a server. The default is
// [conn.New], which routes through the registered transports.
type DialFunc = conn.NewFunc

// ClientOption is an option used to customize the behavior of an XClient
// that is created via NewXClient.
type ClientOption interface {
	applyToClient(*clientOptions)
}

// WithRootContext configures the root context used for any background
// goroutines that an XClient may create, such as the discovery watcher.
// If not specified, [context.Background] is used.
//
// The root context is NOT used on the call paths; those use the contexts
// passed to the individual operations.
func WithRootContext(ctx context.Context) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.rootCtx = ctx
	})
}

// WithRetries configures how many additional attempts the Failtry and
// Failover policies may make after the first failure. If not specified
// or zero, three retries are allowed; a negative value disables
// retrying.
func WithRetries(retries int) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.retries = retries
	})
}

// WithBackupLatency configures how long the Failbackup policy waits for
// the primary server before racing a backup request against it. If not
// specified, 100ms is used.
func WithBackupLatency(latency time.Duration) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.backupLatency = latency
	})
}

// WithConnectTimeout bounds how long establishing a new connection may
// take. If not specified, the transport default of 5s applies.
func WithConnectTimeout(timeout time.Duration) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.connectTimeout = timeout
	})
}

// WithCallTimeout applies a default deadline to calls whose context does
// not already carry one. If not specified, calls are bounded only by
// their context.
func WithCallTimeout(timeout time.Duration) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.callTimeout = timeout
	})
}

// WithCodec configures how argument and reply payloads are encoded on
// the wire. If not specified, [conn.JSONCodec] is used.
func WithCodec(codec conn.Codec) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.codec = codec
	})
}

// WithDialFunc replaces how connections are created, typically to
// substitute fakes in tests or to wrap the built-in transports.
func WithDialFunc(dial DialFunc) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.dial = dial
	})
}

// WithDiscovery attaches a service discovery source. The client watches
// it on a background goroutine and feeds every snapshot to the selector,
// so the candidate set follows the discovered servers. The caller retains
// ownership of the source and closes it after the client.
//
// Without discovery, the candidate set is whatever was last passed to
// [XClient.UpdateServers].
func WithDiscovery(source discovery.Discovery) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.discovery = source
	})
}

type clientOptionFunc func(*clientOptions)

func (f clientOptionFunc) applyToClient(opts *clientOptions) {
	f(opts)
}

type clientOptions struct {
	rootCtx        context.Context //nolint:containedctx // rooted per-client, same as an http.Server's BaseContext
	retries        int
	backupLatency  time.Duration
	connectTimeout time.Duration
	callTimeout    time.Duration
	codec          conn.Codec
	dial           DialFunc
	discovery      discovery.Discovery
}

func (opts *clientOptions) applyDefaults() {
	if opts.rootCtx == nil {
		opts.rootCtx = context.Background()
	}
	if opts.retries == 0 {
		opts.retries = 3
	} else if opts.retries < 0 {
		opts.retries = 0
	}
	if opts.backupLatency <= 0 {
		opts.backupLatency = 100 * time.Millisecond
	}
	if opts.dial == nil {
		opts.dial = conn.New
	}
}

// connOptions projects the client options onto the per-connection
// options handed to the dial function.
func (opts *clientOptions) connOptions() conn.Options {
	return conn.Options{
		ConnectTimeout: opts.connectTimeout,
		CallTimeout:    opts.callTimeout,
		Codec:          opts.codec,
	}
}
