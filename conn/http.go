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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/rpc/v2/json2"
)

// MetadataHeader carries call metadata on HTTP transports, encoded as
// URL query pairs.
const MetadataHeader = "X-RPCX-Meta"

// httpConn speaks JSON-RPC 2.0 over HTTP POST. Unlike the stream
// transports there is no shared wire state; concurrency comes from the
// underlying http.Client.
type httpConn struct {
	address string
	opts    Options

	mu sync.Mutex
	// +checklocks:mu
	state State
	// +checklocks:mu
	client *http.Client
}

func newHTTPConn(_, address string, opts Options) (Conn, error) {
	return &httpConn{address: address, opts: opts}, nil
}

func (c *httpConn) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Started:
		return fmt.Errorf("connection to %s already started", c.address)
	case Closed:
		return ErrShutdown
	case Uninitialized:
	}
	dialer := net.Dialer{Timeout: c.opts.ConnectTimeout}
	c.client = &http.Client{
		Transport: &http.Transport{DialContext: dialer.DialContext},
	}
	c.state = Started
	return nil
}

func (c *httpConn) Call(ctx context.Context, servicePath, serviceMethod string, md Metadata, args, reply any) error {
	ctx, cancel := applyCallTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	resp, err := c.post(ctx, servicePath, serviceMethod, md, args)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status %s", resp.Status)
	}
	if err := json2.DecodeClientResponse(resp.Body, reply); err != nil {
		var serverErr *json2.Error
		if errors.As(err, &serverErr) {
			return ServerError(serverErr.Message)
		}
		return err
	}
	return nil
}

func (c *httpConn) Notify(ctx context.Context, servicePath, serviceMethod string, md Metadata, args any) error {
	ctx, cancel := applyCallTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	resp, err := c.post(ctx, servicePath, serviceMethod, md, args)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status %s", resp.Status)
	}
	return nil
}

func (c *httpConn) Go(servicePath, serviceMethod string, md Metadata, args, reply any, done chan *Call) *Call {
	if done == nil {
		done = make(chan *Call, 1)
	}
	call := &Call{
		ServicePath:   servicePath,
		ServiceMethod: serviceMethod,
		Metadata:      md,
		Args:          args,
		Reply:         reply,
		Done:          done,
	}
	go func() {
		call.Error = c.Call(context.Background(), servicePath, serviceMethod, md, args, reply)
		call.done()
	}()
	return call
}

func (c *httpConn) Address() string {
	return c.address
}

func (c *httpConn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *httpConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Started {
		c.client.CloseIdleConnections()
	}
	c.state = Closed
	return nil
}

func (c *httpConn) post(ctx context.Context, servicePath, serviceMethod string, md Metadata, args any) (*http.Response, error) {
	c.mu.Lock()
	client := c.client
	state := c.state
	c.mu.Unlock()
	switch state {
	case Uninitialized:
		return nil, fmt.Errorf("connection to %s not started", c.address)
	case Closed:
		return nil, ErrShutdown
	case Started:
	}

	body, err := json2.EncodeClientRequest(servicePath+"."+serviceMethod, args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+c.address+"/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(md) > 0 {
		values := make(url.Values, len(md))
		for key, value := range md {
			values.Set(key, value)
		}
		req.Header.Set(MetadataHeader, values.Encode())
	}
	return client.Do(req)
}
