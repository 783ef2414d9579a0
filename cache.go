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

	"github.com/lgphp/rpcx-rs/conn"
	"github.com/lgphp/rpcx-rs/discovery"
)

// getConn returns the cached connection for a server key, dialing and
// starting one if the key has never been seen. Concurrent callers for
// the same key share a single dial; callers for other keys proceed
// independently. A failed dial is returned to every waiter and nothing
// is cached, so the next call for the key dials again.
func (c *XClient) getConn(ctx context.Context, key string) (conn.Conn, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrShutdown
	}
	if existing, ok := c.conns[key]; ok {
		c.mu.RUnlock()
		return existing, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: another flight may have populated the cache between
		// the fast path above and this closure running.
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrShutdown
		}
		if existing, ok := c.conns[key]; ok {
			c.mu.Unlock()
			return existing, nil
		}
		c.mu.Unlock()

		network, address := discovery.SplitKey(key)
		connection, err := c.opts.dial(network, address, c.opts.connOptions())
		if err != nil {
			return nil, &ConnError{Key: key, Err: err}
		}
		if connection == nil {
			return nil, ErrClientNotFound
		}
		if err := connection.Start(ctx); err != nil {
			_ = connection.Close()
			return nil, &ConnError{Key: key, Err: err}
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = connection.Close()
			return nil, ErrShutdown
		}
		c.conns[key] = connection
		c.mu.Unlock()
		return connection, nil
	})
	if err != nil {
		return nil, err
	}
	connection, ok := result.(conn.Conn)
	if !ok || connection == nil {
		return nil, ErrClientNotFound
	}
	return connection, nil
}

// removeConn evicts a connection from the cache, but only if it is still
// the one cached for the key. Later calls for the key dial afresh.
func (c *XClient) removeConn(key string, connection conn.Conn) {
	c.mu.Lock()
	if cached, ok := c.conns[key]; ok && cached == connection {
		delete(c.conns, key)
	}
	c.mu.Unlock()
}
