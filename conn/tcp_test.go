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
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type arithArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

type arithReply struct {
	C int `json:"c"`
}

type delayArgs struct {
	Value   int `json:"value"`
	DelayMS int `json:"delayMs"`
}

type delayReply struct {
	Value int `json:"value"`
}

// testServer speaks the client's frame protocol over real TCP sockets.
type testServer struct {
	listener net.Listener

	mu sync.Mutex
	// +checklocks:mu
	notified []*frame
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := &testServer{listener: listener}
	go server.acceptLoop()
	t.Cleanup(func() {
		_ = listener.Close()
	})
	return server
}

func (s *testServer) address() string {
	return s.listener.Addr().String()
}

func (s *testServer) notifiedFrames() []*frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*frame(nil), s.notified...)
}

func (s *testServer) acceptLoop() {
	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.serve(netConn)
	}
}

func (s *testServer) serve(netConn net.Conn) {
	defer netConn.Close()
	var writeMu sync.Mutex
	for {
		req, err := readTestFrame(netConn)
		if err != nil {
			return
		}
		if req.flags&flagOneway != 0 {
			s.mu.Lock()
			s.notified = append(s.notified, req)
			s.mu.Unlock()
			continue
		}
		// Handle each request on its own goroutine so slow calls do not
		// hold up later ones and responses can complete out of order.
		go func() {
			resp := s.handle(netConn, req)
			if resp == nil {
				return
			}
			data := resp.encode()
			writeMu.Lock()
			defer writeMu.Unlock()
			_, _ = netConn.Write(data)
		}()
	}
}

func (s *testServer) handle(netConn net.Conn, req *frame) *frame {
	resp := &frame{flags: flagResponse, seq: req.seq}
	switch req.servicePath + "." + req.serviceMethod {
	case "Arith.Add":
		var args arithArgs
		if err := json.Unmarshal(req.payload, &args); err != nil {
			resp.flags |= flagError
			resp.payload = []byte(err.Error())
			break
		}
		resp.payload, _ = json.Marshal(arithReply{C: args.A + args.B})
	case "Arith.Fail":
		resp.flags |= flagError
		resp.payload = []byte("divide by zero")
	case "Echo.Delay":
		var args delayArgs
		_ = json.Unmarshal(req.payload, &args)
		time.Sleep(time.Duration(args.DelayMS) * time.Millisecond)
		resp.payload, _ = json.Marshal(delayReply{Value: args.Value})
	case "Meta.Get":
		resp.payload, _ = json.Marshal(req.metadata["token"])
	case "Conn.Hang":
		return nil
	case "Conn.Drop":
		_ = netConn.Close()
		return nil
	default:
		resp.flags |= flagError
		resp.payload = []byte("unknown method " + req.servicePath + "." + req.serviceMethod)
	}
	return resp
}

func readTestFrame(r io.Reader) (*frame, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	data := make([]byte, binary.BigEndian.Uint32(header[:]))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return decodeFrame(data)
}

func startedTCPConn(t *testing.T, address string, opts Options) Conn {
	t.Helper()
	tcp, err := New("tcp", address, opts)
	require.NoError(t, err)
	require.Equal(t, Uninitialized, tcp.State())
	require.NoError(t, tcp.Start(context.Background()))
	require.Equal(t, Started, tcp.State())
	t.Cleanup(func() {
		_ = tcp.Close()
	})
	return tcp
}

func TestTCPCall(t *testing.T) {
	t.Parallel()
	server := startTestServer(t)
	tcp := startedTCPConn(t, server.address(), Options{})

	var reply arithReply
	err := tcp.Call(context.Background(), "Arith", "Add", nil, arithArgs{A: 1, B: 2}, &reply)
	require.NoError(t, err)
	assert.Equal(t, 3, reply.C)
}

func TestTCPConcurrentCallsCompleteOutOfOrder(t *testing.T) {
	t.Parallel()
	server := startTestServer(t)
	tcp := startedTCPConn(t, server.address(), Options{})

	// The first call is the slowest; multiplexing lets the later calls
	// overtake it on the shared connection.
	const calls = 5
	var wg sync.WaitGroup
	errs := make([]error, calls)
	replies := make([]delayReply, calls)
	start := time.Now()
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			args := delayArgs{Value: i, DelayMS: (calls - i) * 100}
			errs[i] = tcp.Call(context.Background(), "Echo", "Delay", nil, args, &replies[i])
		}(i)
	}
	wg.Wait()

	for i := 0; i < calls; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, i, replies[i].Value)
	}
	// Sequential execution would need 100+200+...+500 = 1500ms; the
	// multiplexed connection finishes in roughly the slowest call's 500ms.
	assert.Less(t, time.Since(start), 1200*time.Millisecond,
		"calls ran sequentially instead of being multiplexed")
}

func TestTCPServerError(t *testing.T) {
	t.Parallel()
	server := startTestServer(t)
	tcp := startedTCPConn(t, server.address(), Options{})

	err := tcp.Call(context.Background(), "Arith", "Fail", nil, arithArgs{}, &arithReply{})
	var serverErr ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "divide by zero", serverErr.Error())
}

func TestTCPNotify(t *testing.T) {
	t.Parallel()
	server := startTestServer(t)
	tcp := startedTCPConn(t, server.address(), Options{})

	md := Metadata{"source": "test"}
	require.NoError(t, tcp.Notify(context.Background(), "Events", "Ping", md, arithArgs{A: 7}))

	require.Eventually(t, func() bool {
		return len(server.notifiedFrames()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	notified := server.notifiedFrames()[0]
	assert.Equal(t, "Events", notified.servicePath)
	assert.Equal(t, "Ping", notified.serviceMethod)
	assert.Equal(t, Metadata{"source": "test"}, notified.metadata)
	assert.NotZero(t, notified.flags&flagOneway)
}

func TestTCPMetadata(t *testing.T) {
	t.Parallel()
	server := startTestServer(t)
	tcp := startedTCPConn(t, server.address(), Options{})

	var token string
	err := tcp.Call(context.Background(), "Meta", "Get", Metadata{"token": "abc123"}, nil, &token)
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
}

func TestTCPGo(t *testing.T) {
	t.Parallel()
	server := startTestServer(t)
	tcp := startedTCPConn(t, server.address(), Options{})

	var reply arithReply
	call := tcp.Go("Arith", "Add", nil, arithArgs{A: 20, B: 22}, &reply, nil)
	select {
	case completed := <-call.Done:
		require.NoError(t, completed.Error)
		assert.Equal(t, 42, reply.C)
	case <-time.After(5 * time.Second):
		t.Fatal("async call never completed")
	}
}

func TestTCPContextCancellation(t *testing.T) {
	t.Parallel()
	server := startTestServer(t)
	tcp := startedTCPConn(t, server.address(), Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := tcp.Call(ctx, "Conn", "Hang", nil, arithArgs{}, &arithReply{})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Abandoning one call must not poison the connection.
	var reply arithReply
	require.NoError(t, tcp.Call(context.Background(), "Arith", "Add", nil, arithArgs{A: 2, B: 2}, &reply))
	assert.Equal(t, 4, reply.C)
}

func TestTCPCallTimeoutOption(t *testing.T) {
	t.Parallel()
	server := startTestServer(t)
	tcp := startedTCPConn(t, server.address(), Options{CallTimeout: 100 * time.Millisecond})

	err := tcp.Call(context.Background(), "Conn", "Hang", nil, arithArgs{}, &arithReply{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTCPCallAfterClose(t *testing.T) {
	t.Parallel()
	server := startTestServer(t)
	tcp := startedTCPConn(t, server.address(), Options{})

	require.NoError(t, tcp.Close())
	require.Equal(t, Closed, tcp.State())
	err := tcp.Call(context.Background(), "Arith", "Add", nil, arithArgs{A: 1, B: 2}, &arithReply{})
	require.ErrorIs(t, err, ErrShutdown)
	require.NoError(t, tcp.Close(), "close is idempotent")
}

func TestTCPServerDisconnect(t *testing.T) {
	t.Parallel()
	server := startTestServer(t)
	tcp := startedTCPConn(t, server.address(), Options{})

	// The server drops the connection without answering, which must fail
	// the in-flight call and permanently close the client side.
	err := tcp.Call(context.Background(), "Conn", "Drop", nil, arithArgs{}, &arithReply{})
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return tcp.State() == Closed
	}, 5*time.Second, 10*time.Millisecond)
	err = tcp.Call(context.Background(), "Arith", "Add", nil, arithArgs{A: 1, B: 2}, &arithReply{})
	require.ErrorIs(t, err, ErrShutdown)
}

func TestTCPStartConnectionRefused(t *testing.T) {
	t.Parallel()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())

	tcp, err := New("tcp", address, Options{ConnectTimeout: time.Second})
	require.NoError(t, err)
	require.Error(t, tcp.Start(context.Background()))
}

func TestFrameEncodeDecode(t *testing.T) {
	t.Parallel()
	original := &frame{
		flags:         flagResponse | flagError,
		seq:           987654321,
		servicePath:   "Arith",
		serviceMethod: "Add",
		metadata:      Metadata{"token": "abc", "trace": "xyz"},
		payload:       []byte("divide by zero"),
	}
	data := original.encode()
	require.Equal(t, uint32(len(data)-4), binary.BigEndian.Uint32(data[:4]))

	decoded, err := decodeFrame(data[4:])
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	// Truncation at any point is an error, not a crash.
	for i := 1; i < len(data)-4; i++ {
		_, err := decodeFrame(data[4 : 4+i])
		if err == nil {
			// Cutting inside the payload still decodes; the payload is
			// whatever remains.
			continue
		}
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	}
}
