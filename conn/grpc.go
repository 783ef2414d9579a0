// Copyright 2025 The rpcx-rs Authors
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

//go:build grpc

package conn

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpcmetadata "google.golang.org/grpc/metadata"
)

func init() { //nolint:gochecknoinits
	Register("grpc", newGRPCConn)
}

// grpcConn invokes unary gRPC methods as "/servicePath/serviceMethod",
// encoding payloads with the configured Codec instead of protobuf. The
// channel is plaintext; servers requiring TLS need a custom transport.
type grpcConn struct {
	address string
	opts    Options

	mu sync.Mutex
	// +checklocks:mu
	state State
	// +checklocks:mu
	channel *grpc.ClientConn
}

func newGRPCConn(_, address string, opts Options) (Conn, error) {
	return &grpcConn{address: address, opts: opts}, nil
}

func (c *grpcConn) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Started:
		return fmt.Errorf("connection to %s already started", c.address)
	case Closed:
		return ErrShutdown
	case Uninitialized:
	}
	channel, err := grpc.NewClient(c.address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return err
	}
	c.channel = channel
	c.state = Started
	return nil
}

func (c *grpcConn) Call(ctx context.Context, servicePath, serviceMethod string, md Metadata, args, reply any) error {
	channel, err := c.transport()
	if err != nil {
		return err
	}
	ctx, cancel := applyCallTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	if len(md) > 0 {
		ctx = grpcmetadata.NewOutgoingContext(ctx, grpcmetadata.New(md))
	}
	method := "/" + servicePath + "/" + serviceMethod
	return channel.Invoke(ctx, method, args, reply, grpc.ForceCodec(grpcCodec{codec: c.opts.Codec}))
}

func (c *grpcConn) Notify(ctx context.Context, servicePath, serviceMethod string, md Metadata, args any) error {
	// gRPC has no one-way unary calls; the response is discarded instead.
	var discard any
	return c.Call(ctx, servicePath, serviceMethod, md, args, &discard)
}

func (c *grpcConn) Go(servicePath, serviceMethod string, md Metadata, args, reply any, done chan *Call) *Call {
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

func (c *grpcConn) Address() string {
	return c.address
}

func (c *grpcConn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *grpcConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Started {
		c.state = Closed
		return nil
	}
	c.state = Closed
	return c.channel.Close()
}

func (c *grpcConn) transport() (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Uninitialized:
		return nil, fmt.Errorf("connection to %s not started", c.address)
	case Closed:
		return nil, ErrShutdown
	case Started:
	}
	return c.channel, nil
}

// grpcCodec adapts a Codec to the gRPC encoding interface.
type grpcCodec struct {
	codec Codec
}

func (g grpcCodec) Marshal(value any) ([]byte, error) {
	return g.codec.Encode(value)
}

func (g grpcCodec) Unmarshal(data []byte, value any) error {
	return g.codec.Decode(data, value)
}

func (grpcCodec) Name() string {
	return "rpcx"
}
