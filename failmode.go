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
	"fmt"
	"reflect"

	"github.com/lgphp/rpcx-rs/conn"
)

// FailMode is the policy an XClient applies when an invocation fails.
// The policy governs both Call and Go; one-way notifications bypass it.
type FailMode int

const (
	// Failover retries a failed call on servers that have not been
	// tried yet, reselecting before each retry. If the selector cannot
	// produce an untried server, the last error is returned.
	Failover FailMode = iota
	// Failfast performs exactly one attempt and reports its outcome.
	Failfast
	// Failtry retries a failed call on the same server until it
	// succeeds or the retry budget is spent.
	Failtry
	// Failbackup sends the call to one server and, if no answer has
	// arrived within the backup latency, races a second server against
	// it. The first success wins.
	Failbackup
)

func (m FailMode) String() string {
	switch m {
	case Failover:
		return "failover"
	case Failfast:
		return "failfast"
	case Failtry:
		return "failtry"
	case Failbackup:
		return "failbackup"
	default:
		return fmt.Sprintf("failmode(%d)", int(m))
	}
}

// reselectAttempts bounds how many times a policy asks the selector for
// a server outside the tried set. Rotating strategies produce a fresh
// key within a few probes; strategies that are pure functions of the
// request never will, so the walk gives up instead of spinning.
const reselectAttempts = 8

// request carries one invocation's identity and payload through the
// dispatch policies.
type request struct {
	servicePath   string
	serviceMethod string
	metadata      conn.Metadata
	args          any
}

// dispatch runs one invocation under the client's fail mode. The key is
// the server chosen by the selector for the first attempt.
func (c *XClient) dispatch(ctx context.Context, req *request, key string, reply any) error {
	switch c.failMode {
	case Failover:
		return c.callFailover(ctx, req, key, reply)
	case Failfast:
		return c.attempt(ctx, req, key, reply)
	case Failtry:
		return c.callFailtry(ctx, req, key, reply)
	case Failbackup:
		return c.callFailbackup(ctx, req, key, reply)
	default:
		return fmt.Errorf("unknown fail mode %v", c.failMode)
	}
}

// attempt performs a single invocation against one server key.
func (c *XClient) attempt(ctx context.Context, req *request, key string, reply any) error {
	connection, err := c.getConn(ctx, key)
	if err != nil {
		return err
	}
	err = connection.Call(ctx, req.servicePath, req.serviceMethod, req.metadata, req.args, reply)
	if err != nil && connection.State() == conn.Closed {
		// The transport died under the call; evict so the next call for
		// this key dials afresh.
		c.removeConn(key, connection)
	}
	return err
}

func (c *XClient) callFailtry(ctx context.Context, req *request, key string, reply any) error {
	var lastErr error
	for try := 0; try <= c.opts.retries; try++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		lastErr = c.attempt(ctx, req, key, reply)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *XClient) callFailover(ctx context.Context, req *request, key string, reply any) error {
	tried := map[string]bool{}
	var lastErr error
	for try := 0; try <= c.opts.retries; try++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		if try > 0 {
			key = c.reselect(req, tried)
			if key == "" {
				return lastErr
			}
		}
		tried[key] = true
		lastErr = c.attempt(ctx, req, key, reply)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// callFailbackup issues the call to the chosen server and arms a timer.
// If the server settles before the timer fires, its result, success or
// error, is returned directly. Once the timer fires the call is repeated
// on a second server and the two race; the first success wins and the
// loser is cancelled. When both fail, the error that arrived last is
// returned.
//
// A connection failure on the chosen server leaves nothing in flight to
// shadow, so the call fails over to a backup immediately.
func (c *XClient) callFailbackup(ctx context.Context, req *request, key string, reply any) error {
	primary, err := c.getConn(ctx, key)
	if err != nil {
		backupKey := c.reselect(req, map[string]bool{key: true})
		if backupKey == "" {
			return err
		}
		return c.attempt(ctx, req, backupKey, reply)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan attemptResult, 2)
	go func() {
		shadow := cloneReply(reply)
		callErr := primary.Call(ctx, req.servicePath, req.serviceMethod, req.metadata, req.args, shadow)
		if callErr != nil && primary.State() == conn.Closed {
			c.removeConn(key, primary)
		}
		resultCh <- attemptResult{reply: shadow, err: callErr}
	}()

	timer := c.clock.NewTimer(c.opts.backupLatency)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return settle(reply, res)
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
	}

	backupKey := c.reselect(req, map[string]bool{key: true})
	if backupKey == "" {
		// No second server to race; keep waiting on the first.
		select {
		case res := <-resultCh:
			return settle(reply, res)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		shadow := cloneReply(reply)
		callErr := c.attempt(ctx, req, backupKey, shadow)
		resultCh <- attemptResult{reply: shadow, err: callErr}
	}()

	var lastErr error
	for i := 0; i < 2; i++ {
		select {
		case res := <-resultCh:
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

// reselect asks the selector for a key outside the tried set, or ""
// when it cannot produce one within a bounded number of probes.
func (c *XClient) reselect(req *request, tried map[string]bool) string {
	for i := 0; i < reselectAttempts; i++ {
		key := c.selector.Select(req.servicePath, req.serviceMethod, req.args)
		if key == "" {
			return ""
		}
		if !tried[key] {
			return key
		}
	}
	return ""
}

type attemptResult struct {
	reply any
	err   error
}

// settle copies a winning shadow reply into the caller's reply value and
// propagates the attempt's error.
func settle(reply any, res attemptResult) error {
	if res.err != nil {
		return res.err
	}
	copyReply(reply, res.reply)
	return nil
}

// cloneReply makes a fresh zero value of reply's type so that racing
// attempts never write into the caller's value concurrently. Winners
// are copied back with copyReply.
func cloneReply(reply any) any {
	if reply == nil {
		return nil
	}
	val := reflect.ValueOf(reply)
	if val.Kind() != reflect.Pointer {
		return reply
	}
	return reflect.New(val.Type().Elem()).Interface()
}

func copyReply(dst, src any) {
	if dst == nil || src == nil || dst == src {
		return
	}
	dstVal := reflect.ValueOf(dst)
	srcVal := reflect.ValueOf(src)
	if dstVal.Kind() != reflect.Pointer || srcVal.Kind() != reflect.Pointer {
		return
	}
	if dstVal.Type() != srcVal.Type() {
		return
	}
	dstVal.Elem().Set(srcVal.Elem())
}
