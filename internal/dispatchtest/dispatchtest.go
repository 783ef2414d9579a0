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

// Package dispatchtest provides fake connections, dialers, and selectors
// that can be useful when testing dispatch policies without real network
// traffic.
package dispatchtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/lgphp/rpcx-rs/conn"
	"github.com/lgphp/rpcx-rs/discovery"
)

// Handler answers a fake call. Key identifies the server the connection
// was dialed for. The reply is nil for one-way notifications.
type Handler func(ctx context.Context, key, servicePath, serviceMethod string, args, reply any) error

// Invocation records one call or notification observed by a FakeConn.
type Invocation struct {
	ServicePath   string
	ServiceMethod string
	Metadata      conn.Metadata
	Args          any
	OneWay        bool
}

// FakeConn is an implementation of conn.Conn for testing. It performs no
// I/O: every invocation is recorded and then answered by the Handler, or
// succeeds without touching the reply when the Handler is nil.
//
// To create new instances of FakeConn, use a FakeDialer.
type FakeConn struct {
	// Key is the server key the connection was dialed for.
	Key string

	// Handler answers calls and notifications. The dialer installs its
	// own Handler here at creation; tests may replace it before issuing
	// traffic to this connection.
	Handler Handler

	address  string
	startErr error

	mu sync.Mutex
	// +checklocks:mu
	state conn.State
	// +checklocks:mu
	invocations []Invocation
}

// Start implements the conn.Conn interface.
func (c *FakeConn) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != conn.Uninitialized {
		return fmt.Errorf("fake connection for %s started twice", c.Key)
	}
	if c.startErr != nil {
		return c.startErr
	}
	c.state = conn.Started
	return nil
}

// Call implements the conn.Conn interface.
func (c *FakeConn) Call(ctx context.Context, servicePath, serviceMethod string, md conn.Metadata, args, reply any) error {
	if err := c.record(Invocation{
		ServicePath:   servicePath,
		ServiceMethod: serviceMethod,
		Metadata:      md,
		Args:          args,
	}); err != nil {
		return err
	}
	if c.Handler == nil {
		return nil
	}
	return c.Handler(ctx, c.Key, servicePath, serviceMethod, args, reply)
}

// Notify implements the conn.Conn interface.
func (c *FakeConn) Notify(ctx context.Context, servicePath, serviceMethod string, md conn.Metadata, args any) error {
	if err := c.record(Invocation{
		ServicePath:   servicePath,
		ServiceMethod: serviceMethod,
		Metadata:      md,
		Args:          args,
		OneWay:        true,
	}); err != nil {
		return err
	}
	if c.Handler == nil {
		return nil
	}
	return c.Handler(ctx, c.Key, servicePath, serviceMethod, args, nil)
}

// Go implements the conn.Conn interface. The fake completes the call
// synchronously before returning the handle.
func (c *FakeConn) Go(servicePath, serviceMethod string, md conn.Metadata, args, reply any, done chan *conn.Call) *conn.Call {
	if done == nil {
		done = make(chan *conn.Call, 1)
	}
	call := &conn.Call{
		ServicePath:   servicePath,
		ServiceMethod: serviceMethod,
		Metadata:      md,
		Args:          args,
		Reply:         reply,
		Done:          done,
	}
	call.Error = c.Call(context.Background(), servicePath, serviceMethod, md, args, reply)
	select {
	case done <- call:
	default:
	}
	return call
}

// Address implements the conn.Conn interface.
func (c *FakeConn) Address() string {
	return c.address
}

// State implements the conn.Conn interface.
func (c *FakeConn) State() conn.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close implements the conn.Conn interface.
func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = conn.Closed
	return nil
}

// MarkClosed moves the connection to the closed state without going
// through Close, mimicking a transport that died mid-flight.
func (c *FakeConn) MarkClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = conn.Closed
}

// Invocations returns a snapshot of everything the connection has seen,
// oldest first.
func (c *FakeConn) Invocations() []Invocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Invocation(nil), c.invocations...)
}

// CallCount returns how many two-way calls the connection has seen.
func (c *FakeConn) CallCount() int {
	return c.count(false)
}

// NotifyCount returns how many one-way notifications the connection has
// seen.
func (c *FakeConn) NotifyCount() int {
	return c.count(true)
}

func (c *FakeConn) count(oneWay bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, inv := range c.invocations {
		if inv.OneWay == oneWay {
			total++
		}
	}
	return total
}

func (c *FakeConn) record(inv Invocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case conn.Uninitialized:
		return fmt.Errorf("fake connection for %s not started", c.Key)
	case conn.Closed:
		return conn.ErrShutdown
	case conn.Started:
	}
	c.invocations = append(c.invocations, inv)
	return nil
}

// FakeDialer creates FakeConn instances and records every dial. Its Dial
// method matches conn.NewFunc, so the method value can be handed to a
// client as its dial function.
//
// See NewFakeDialer.
type FakeDialer struct {
	// Handler is installed on every connection the dialer creates. It
	// should be set immediately after the dialer is created, before any
	// connections are dialed, to avoid races.
	Handler Handler // +checklocksignore: set before traffic starts.

	// OnDial, when set, is invoked inside every Dial before any
	// bookkeeping. Tests use it to hold dials open and observe sharing.
	// Like Handler, it should be set before any connections are dialed.
	OnDial func(network, address string) // +checklocksignore: set before traffic starts.

	mu sync.Mutex
	// +checklocks:mu
	dials map[string]int
	// +checklocks:mu
	conns map[string][]*FakeConn
	// +checklocks:mu
	dialErrs map[string]error
	// +checklocks:mu
	startErrs map[string]error
	// +checklocks:mu
	lastOpts conn.Options
}

// NewFakeDialer constructs a new FakeDialer.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{
		dials:     map[string]int{},
		conns:     map[string][]*FakeConn{},
		dialErrs:  map[string]error{},
		startErrs: map[string]error{},
	}
}

// Dial implements conn.NewFunc. Dials of a key configured with FailDial
// return that error and create nothing; otherwise a new FakeConn is
// created and remembered.
func (d *FakeDialer) Dial(network, address string, opts conn.Options) (conn.Conn, error) {
	if hook := d.OnDial; hook != nil {
		hook(network, address)
	}
	key := network + "@" + address
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[key]++
	d.lastOpts = opts
	if err := d.dialErrs[key]; err != nil {
		return nil, err
	}
	connection := &FakeConn{
		Key:      key,
		Handler:  d.Handler,
		address:  address,
		startErr: d.startErrs[key],
	}
	d.conns[key] = append(d.conns[key], connection)
	return connection, nil
}

// FailDial makes subsequent dials of the key fail with err. A nil err
// clears the failure.
func (d *FakeDialer) FailDial(key string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.dialErrs, key)
		return
	}
	d.dialErrs[key] = err
}

// FailStart makes connections subsequently dialed for the key fail
// their Start with err. A nil err clears the failure.
func (d *FakeDialer) FailStart(key string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.startErrs, key)
		return
	}
	d.startErrs[key] = err
}

// DialCount returns how many times the key has been dialed, including
// dials that failed.
func (d *FakeDialer) DialCount(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[key]
}

// Conns returns every connection created for the key, oldest first.
func (d *FakeDialer) Conns(key string) []*FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeConn(nil), d.conns[key]...)
}

// Conn returns the most recent connection created for the key, or nil.
func (d *FakeDialer) Conn(key string) *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	created := d.conns[key]
	if len(created) == 0 {
		return nil
	}
	return created[len(created)-1]
}

// LastOptions returns the conn.Options seen by the most recent dial.
func (d *FakeDialer) LastOptions() conn.Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastOpts
}

// CallCount returns the total number of two-way calls observed across
// every connection the dialer has created.
func (d *FakeDialer) CallCount() int {
	total := 0
	for _, connection := range d.allConns() {
		total += connection.CallCount()
	}
	return total
}

// NotifyCount returns the total number of one-way notifications observed
// across every connection the dialer has created.
func (d *FakeDialer) NotifyCount() int {
	total := 0
	for _, connection := range d.allConns() {
		total += connection.NotifyCount()
	}
	return total
}

func (d *FakeDialer) allConns() []*FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	var all []*FakeConn
	for _, created := range d.conns {
		all = append(all, created...)
	}
	return all
}

// FakeSelector is a selector implementation for testing: it hands out
// its keys in rotation and records what it is asked and told.
//
// See NewFakeSelector.
type FakeSelector struct {
	updatesCh chan struct{}

	mu sync.Mutex
	// +checklocks:mu
	keys []string
	// +checklocks:mu
	cursor int
	// +checklocks:mu
	selects int
	// +checklocks:mu
	updates [][]discovery.Server
}

// NewFakeSelector constructs a FakeSelector that rotates over the given
// keys. With a single key every Select returns it; with none, Select
// returns "".
func NewFakeSelector(keys ...string) *FakeSelector {
	return &FakeSelector{
		updatesCh: make(chan struct{}, 1),
		keys:      append([]string(nil), keys...),
	}
}

// Select implements the selector interface.
func (s *FakeSelector) Select(_, _ string, _ any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selects++
	if len(s.keys) == 0 {
		return ""
	}
	key := s.keys[s.cursor%len(s.keys)]
	s.cursor++
	return key
}

// UpdateServers implements the selector interface. The rotation set is
// replaced by the servers' keys, mirroring what real selectors do.
func (s *FakeSelector) UpdateServers(servers []discovery.Server) {
	keys := make([]string, len(servers))
	for i, server := range servers {
		keys[i] = server.Key
	}
	s.mu.Lock()
	s.updates = append(s.updates, append([]discovery.Server(nil), servers...))
	s.keys = keys
	s.cursor = 0
	s.mu.Unlock()

	select {
	case s.updatesCh <- struct{}{}:
	default:
	}
}

// SetKeys replaces the rotation set directly, without recording an
// update.
func (s *FakeSelector) SetKeys(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append([]string(nil), keys...)
	s.cursor = 0
}

// Keys returns the current rotation set.
func (s *FakeSelector) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

// SelectCount returns how many times Select has been called.
func (s *FakeSelector) SelectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selects
}

// Updates returns every server set passed to UpdateServers.
func (s *FakeSelector) Updates() [][]discovery.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]discovery.Server(nil), s.updates...)
}

// AwaitUpdate waits for a concurrent call to UpdateServers. It may
// return immediately if a past call has yet to be acknowledged via a
// call to this method. It returns the rotation set on success, or an
// error if the context is cancelled first.
func (s *FakeSelector) AwaitUpdate(ctx context.Context) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.updatesCh:
		return s.Keys(), nil
	}
}
