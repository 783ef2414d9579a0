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
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lgphp/rpcx-rs/conn"
	"github.com/lgphp/rpcx-rs/discovery"
	"github.com/lgphp/rpcx-rs/internal"
	"github.com/lgphp/rpcx-rs/selector"
)

// XClient is a client-side dispatcher for RPC calls. Each invocation is
// routed to one server chosen by the selector, over a connection that is
// created at most once per server and then cached. When a call fails,
// the configured FailMode decides whether and where it is retried.
//
// All methods are safe for concurrent use. Use NewXClient to create one;
// the zero value is not usable.
type XClient struct {
	failMode FailMode
	selector selector.Selector
	opts     clientOptions
	clock    internal.Clock

	group   singleflight.Group
	servers atomic.Pointer[[]discovery.Server]
	pump    *serverPump

	mu sync.RWMutex
	// +checklocks:mu
	conns map[string]conn.Conn
	// +checklocks:mu
	closed bool
}

// NewXClient creates a client that dispatches calls under the given fail
// mode, using the selector to choose a server per invocation. A nil
// selector defaults to random selection over the known servers.
func NewXClient(failMode FailMode, sel selector.Selector, options ...ClientOption) *XClient {
	var opts clientOptions
	for _, opt := range options {
		opt.applyToClient(&opts)
	}
	opts.applyDefaults()
	if sel == nil {
		sel = selector.NewRandom()
	}
	client := &XClient{
		failMode: failMode,
		selector: sel,
		opts:     opts,
		clock:    internal.NewRealClock(),
		conns:    map[string]conn.Conn{},
	}
	if opts.discovery != nil {
		client.pump = newServerPump(opts.rootCtx, opts.discovery, client.UpdateServers)
	}
	return client
}

// Call invokes a service method and waits for its reply, retrying per
// the fail mode. When the selector has no server for the request, Call
// returns ErrServerNotFound without attempting anything; that error is
// never retried. Metadata attached to the context with WithMetadata is
// sent with every attempt.
func (c *XClient) Call(ctx context.Context, servicePath, serviceMethod string, args, reply any) error {
	if err := c.usable(); err != nil {
		return err
	}
	key := c.selector.Select(servicePath, serviceMethod, args)
	if key == "" {
		return ErrServerNotFound
	}
	req := &request{
		servicePath:   servicePath,
		serviceMethod: serviceMethod,
		metadata:      MetadataFrom(ctx),
		args:          args,
	}
	return c.dispatch(ctx, req, key, reply)
}

// Go invokes a service method asynchronously under the same fail mode as
// Call. The returned handle's Done channel receives the handle when the
// call completes; a nil done channel is allocated with a buffer of one.
// Selection happens before Go returns, so a request the selector cannot
// place resolves immediately with ErrServerNotFound. Cancelling ctx
// stops any outstanding retries.
func (c *XClient) Go(ctx context.Context, servicePath, serviceMethod string, args, reply any, done chan *conn.Call) *conn.Call {
	if done == nil {
		done = make(chan *conn.Call, 1)
	}
	call := &conn.Call{
		ServicePath:   servicePath,
		ServiceMethod: serviceMethod,
		Metadata:      MetadataFrom(ctx),
		Args:          args,
		Reply:         reply,
		Done:          done,
	}
	if err := c.usable(); err != nil {
		call.Error = err
		deliver(call)
		return call
	}
	key := c.selector.Select(servicePath, serviceMethod, args)
	if key == "" {
		call.Error = ErrServerNotFound
		deliver(call)
		return call
	}
	req := &request{
		servicePath:   servicePath,
		serviceMethod: serviceMethod,
		metadata:      call.Metadata,
		args:          args,
	}
	go func() {
		call.Error = c.dispatch(ctx, req, key, reply)
		deliver(call)
	}()
	return call
}

// deliver resolves an asynchronous call handle without ever blocking:
// the done channel is buffered, and a full buffer means the caller
// abandoned the handle.
func deliver(call *conn.Call) {
	select {
	case call.Done <- call:
	default:
	}
}

// Notify sends a one-way invocation: no reply is read, and no fail mode
// applies. Delivery is at most once, to whichever server the selector
// picks.
func (c *XClient) Notify(ctx context.Context, servicePath, serviceMethod string, args any) error {
	if err := c.usable(); err != nil {
		return err
	}
	key := c.selector.Select(servicePath, serviceMethod, args)
	if key == "" {
		return ErrServerNotFound
	}
	connection, err := c.getConn(ctx, key)
	if err != nil {
		return err
	}
	return connection.Notify(ctx, servicePath, serviceMethod, MetadataFrom(ctx), args)
}

// Fork sends the call to every known server at once and returns the
// first success, cancelling the rest. If every server fails, the error
// that arrived last is returned.
func (c *XClient) Fork(ctx context.Context, servicePath, serviceMethod string, args, reply any) error {
	if err := c.usable(); err != nil {
		return err
	}
	keys := c.serverKeys()
	if len(keys) == 0 {
		return ErrServerNotFound
	}
	req := &request{
		servicePath:   servicePath,
		serviceMethod: serviceMethod,
		metadata:      MetadataFrom(ctx),
		args:          args,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan attemptResult, len(keys))
	for i := range keys {
		key := keys[i]
		go func() {
			shadow := cloneReply(reply)
			err := c.attempt(ctx, req, key, shadow)
			results <- attemptResult{reply: shadow, err: err}
		}()
	}

	var lastErr error
	for i := 0; i < len(keys); i++ {
		select {
		case res := <-results:
			if res.err == nil {
				return settle(reply, res)
			}
			lastErr = res.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// Broadcast sends the call to every known server and succeeds only when
// all of them do. The first failure cancels the calls still in flight
// and is returned. On success the caller's reply holds one server's
// answer.
func (c *XClient) Broadcast(ctx context.Context, servicePath, serviceMethod string, args, reply any) error {
	if err := c.usable(); err != nil {
		return err
	}
	keys := c.serverKeys()
	if len(keys) == 0 {
		return ErrServerNotFound
	}
	req := &request{
		servicePath:   servicePath,
		serviceMethod: serviceMethod,
		metadata:      MetadataFrom(ctx),
		args:          args,
	}

	group, ctx := errgroup.WithContext(ctx)
	replies := make([]any, len(keys))
	for i := range keys {
		i, key := i, keys[i]
		group.Go(func() error {
			replies[i] = cloneReply(reply)
			return c.attempt(ctx, req, key, replies[i])
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	copyReply(reply, replies[0])
	return nil
}

// UpdateServers replaces the candidate server set. The snapshot feeds
// both the selector and the fan-out operations Fork and Broadcast. When
// discovery is attached, its watcher calls this on every change.
func (c *XClient) UpdateServers(servers []discovery.Server) {
	snapshot := make([]discovery.Server, len(servers))
	copy(snapshot, servers)
	c.servers.Store(&snapshot)
	c.selector.UpdateServers(snapshot)
}

func (c *XClient) serverKeys() []string {
	servers := c.servers.Load()
	if servers == nil {
		return nil
	}
	keys := make([]string, len(*servers))
	for i, server := range *servers {
		keys[i] = server.Key
	}
	return keys
}

// Close stops the discovery watcher and closes every cached connection,
// waiting for all of them. Operations issued after Close return
// ErrShutdown. Close never closes a discovery source supplied via
// WithDiscovery and is safe to call more than once.
func (c *XClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conns := c.conns
	c.conns = nil
	c.mu.Unlock()

	if c.pump != nil {
		c.pump.close()
	}

	var group errgroup.Group
	for _, connection := range conns {
		group.Go(connection.Close)
	}
	return group.Wait()
}

func (c *XClient) usable() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrShutdown
	}
	return nil
}
