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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// tcpConn multiplexes calls over a single stream connection. Every
// request frame carries a sequence number; the read loop matches
// response frames back to their pending calls, so responses may arrive
// in any order.
type tcpConn struct {
	network string
	address string
	opts    Options

	seq atomic.Uint64

	// writeMu serializes whole frames onto the wire.
	writeMu sync.Mutex

	mu sync.Mutex
	// +checklocks:mu
	conn net.Conn
	// +checklocks:mu
	pending map[uint64]*Call
	// +checklocks:mu
	state State
}

func newTCPConn(network, address string, opts Options) (Conn, error) {
	return &tcpConn{
		network: network,
		address: address,
		opts:    opts,
		pending: map[uint64]*Call{},
	}, nil
}

func (c *tcpConn) Start(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.opts.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != Uninitialized {
		state := c.state
		c.mu.Unlock()
		_ = netConn.Close()
		if state == Closed {
			return ErrShutdown
		}
		return fmt.Errorf("connection to %s already started", c.address)
	}
	c.conn = netConn
	c.state = Started
	c.mu.Unlock()

	go c.readLoop(netConn)
	return nil
}

func (c *tcpConn) Call(ctx context.Context, servicePath, serviceMethod string, md Metadata, args, reply any) error {
	ctx, cancel := applyCallTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	call := c.Go(servicePath, serviceMethod, md, args, reply, make(chan *Call, 1))
	select {
	case <-ctx.Done():
		if removed := c.removeCall(call.seq); removed != nil {
			// The read loop will discard the late response.
			return ctx.Err()
		}
		// The call completed while we were giving up on it.
		completed := <-call.Done
		return completed.Error
	case completed := <-call.Done:
		return completed.Error
	}
}

func (c *tcpConn) Notify(ctx context.Context, servicePath, serviceMethod string, md Metadata, args any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.usable(); err != nil {
		return err
	}
	payload, err := c.opts.Codec.Encode(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	return c.writeFrame(&frame{
		flags:         flagOneway,
		seq:           c.seq.Add(1),
		servicePath:   servicePath,
		serviceMethod: serviceMethod,
		metadata:      md,
		payload:       payload,
	})
}

func (c *tcpConn) Go(servicePath, serviceMethod string, md Metadata, args, reply any, done chan *Call) *Call {
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
	c.send(call)
	return call
}

func (c *tcpConn) Address() string {
	return c.address
}

func (c *tcpConn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *tcpConn) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	netConn := c.conn
	c.state = Closed
	c.mu.Unlock()
	if netConn != nil {
		// The read loop notices the closed socket and fails any calls
		// still pending.
		return netConn.Close()
	}
	return nil
}

func (c *tcpConn) send(call *Call) {
	payload, err := c.opts.Codec.Encode(call.Args)
	if err != nil {
		call.Error = fmt.Errorf("encode args: %w", err)
		call.done()
		return
	}
	if err := c.register(call); err != nil {
		call.Error = err
		call.done()
		return
	}
	err = c.writeFrame(&frame{
		seq:           call.seq,
		servicePath:   call.ServicePath,
		serviceMethod: call.ServiceMethod,
		metadata:      call.Metadata,
		payload:       payload,
	})
	if err != nil {
		// The read loop may have completed the call concurrently; only
		// fail it if it is still ours.
		if removed := c.removeCall(call.seq); removed != nil {
			removed.Error = err
			removed.done()
		}
	}
}

func (c *tcpConn) register(call *Call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Uninitialized:
		return fmt.Errorf("connection to %s not started", c.address)
	case Closed:
		return ErrShutdown
	case Started:
	}
	call.seq = c.seq.Add(1)
	c.pending[call.seq] = call
	return nil
}

func (c *tcpConn) removeCall(seq uint64) *Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	call := c.pending[seq]
	delete(c.pending, seq)
	return call
}

func (c *tcpConn) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Uninitialized:
		return fmt.Errorf("connection to %s not started", c.address)
	case Closed:
		return ErrShutdown
	case Started:
	}
	return nil
}

func (c *tcpConn) writeFrame(f *frame) error {
	data := f.encode()
	c.mu.Lock()
	netConn := c.conn
	c.mu.Unlock()
	if netConn == nil {
		return ErrShutdown
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := netConn.Write(data)
	return err
}

func (c *tcpConn) readLoop(netConn net.Conn) {
	var err error
	var header [4]byte
	for {
		if _, err = io.ReadFull(netConn, header[:]); err != nil {
			break
		}
		size := binary.BigEndian.Uint32(header[:])
		if size > maxFrameSize {
			err = fmt.Errorf("frame of %d bytes exceeds the %d byte limit", size, maxFrameSize)
			break
		}
		data := make([]byte, size)
		if _, err = io.ReadFull(netConn, data); err != nil {
			break
		}
		var resp *frame
		if resp, err = decodeFrame(data); err != nil {
			break
		}
		c.deliver(resp)
	}
	c.terminate(err)
}

func (c *tcpConn) deliver(resp *frame) {
	if resp.flags&flagResponse == 0 {
		return
	}
	call := c.removeCall(resp.seq)
	if call == nil {
		// Response for a call that was cancelled or timed out.
		return
	}
	switch {
	case resp.flags&flagError != 0:
		call.Error = ServerError(resp.payload)
	case call.Reply != nil:
		if err := c.opts.Codec.Decode(resp.payload, call.Reply); err != nil {
			call.Error = fmt.Errorf("decode reply: %w", err)
		}
	}
	call.done()
}

// terminate marks the connection closed and fails every pending call.
func (c *tcpConn) terminate(err error) {
	if err == nil || errors.Is(err, net.ErrClosed) {
		err = ErrShutdown
	}
	c.mu.Lock()
	c.state = Closed
	calls := c.pending
	c.pending = nil
	netConn := c.conn
	c.mu.Unlock()
	if netConn != nil {
		_ = netConn.Close()
	}
	for _, call := range calls {
		call.Error = err
		call.done()
	}
}

// Wire format, all integers big endian:
//
//	u32 frame length (excluding this field)
//	u8  version
//	u8  flags
//	u64 sequence number
//	u16 service path length, path bytes
//	u16 service method length, method bytes
//	u16 metadata pair count, then per pair u16-prefixed key and value
//	payload (rest of frame)
const (
	frameVersion = 1

	flagResponse = 1 << 0
	flagOneway   = 1 << 1
	flagError    = 1 << 2

	maxFrameSize = 64 << 20
)

type frame struct {
	flags         uint8
	seq           uint64
	servicePath   string
	serviceMethod string
	metadata      Metadata
	payload       []byte
}

func (f *frame) encode() []byte {
	buf := make([]byte, 4, 64+len(f.servicePath)+len(f.serviceMethod)+len(f.payload))
	buf = append(buf, frameVersion, f.flags)
	buf = binary.BigEndian.AppendUint64(buf, f.seq)
	buf = appendString16(buf, f.servicePath)
	buf = appendString16(buf, f.serviceMethod)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(f.metadata)))
	for key, value := range f.metadata {
		buf = appendString16(buf, key)
		buf = appendString16(buf, value)
	}
	buf = append(buf, f.payload...)
	binary.BigEndian.PutUint32(buf[:4], uint32(len(buf)-4))
	return buf
}

func appendString16(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func decodeFrame(data []byte) (*frame, error) {
	r := byteReader{data: data}
	version := r.uint8()
	f := &frame{
		flags:         r.uint8(),
		seq:           r.uint64(),
		servicePath:   r.string16(),
		serviceMethod: r.string16(),
	}
	if count := r.uint16(); count > 0 {
		f.metadata = make(Metadata, count)
		for i := 0; i < int(count); i++ {
			key := r.string16()
			f.metadata[key] = r.string16()
		}
	}
	f.payload = r.rest()
	if r.err != nil {
		return nil, r.err
	}
	if version != frameVersion {
		return nil, fmt.Errorf("unsupported frame version %d", version)
	}
	return f, nil
}

// byteReader walks a frame buffer, latching the first error so decoding
// can read ahead unconditionally.
type byteReader struct {
	data []byte
	off  int
	err  error
}

func (r *byteReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data)-r.off < n {
		r.err = fmt.Errorf("truncated frame: %w", io.ErrUnexpectedEOF)
		return nil
	}
	chunk := r.data[r.off : r.off+n]
	r.off += n
	return chunk
}

func (r *byteReader) uint8() uint8 {
	chunk := r.take(1)
	if chunk == nil {
		return 0
	}
	return chunk[0]
}

func (r *byteReader) uint16() uint16 {
	chunk := r.take(2)
	if chunk == nil {
		return 0
	}
	return binary.BigEndian.Uint16(chunk)
}

func (r *byteReader) uint64() uint64 {
	chunk := r.take(8)
	if chunk == nil {
		return 0
	}
	return binary.BigEndian.Uint64(chunk)
}

func (r *byteReader) string16() string {
	return string(r.take(int(r.uint16())))
}

func (r *byteReader) rest() []byte {
	if r.err != nil {
		return nil
	}
	chunk := r.data[r.off:]
	r.off = len(r.data)
	return chunk
}
