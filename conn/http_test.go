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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jsonRPCRequest struct {
	Version string       `json:"jsonrpc"`
	Method  string       `json:"method"`
	Params  [1]arithArgs `json:"params"`
	ID      uint64       `json:"id"`
}

// jsonRPCServer answers Arith methods over JSON-RPC 2.0 and records the
// metadata header of the last request.
type jsonRPCServer struct {
	server *httptest.Server

	mu sync.Mutex
	// +checklocks:mu
	lastMeta url.Values
	// +checklocks:mu
	requests int
}

func startJSONRPCServer(t *testing.T) *jsonRPCServer {
	t.Helper()
	server := &jsonRPCServer{}
	server.server = httptest.NewServer(http.HandlerFunc(server.handle))
	t.Cleanup(server.server.Close)
	return server
}

func (s *jsonRPCServer) address() string {
	return strings.TrimPrefix(s.server.URL, "http://")
}

func (s *jsonRPCServer) metadata() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMeta
}

func (s *jsonRPCServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *jsonRPCServer) handle(w http.ResponseWriter, r *http.Request) {
	meta, _ := url.ParseQuery(r.Header.Get(MetadataHeader))
	s.mu.Lock()
	s.lastMeta = meta
	s.requests++
	s.mu.Unlock()

	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch req.Method {
	case "Arith.Add":
		result, _ := json.Marshal(arithReply{C: req.Params[0].A + req.Params[0].B})
		fmt.Fprintf(w, `{"jsonrpc":"2.0","result":%s,"id":%d}`, result, req.ID)
	case "Arith.Fail":
		fmt.Fprintf(w, `{"jsonrpc":"2.0","error":{"code":-32000,"message":"divide by zero"},"id":%d}`, req.ID)
	default:
		fmt.Fprintf(w, `{"jsonrpc":"2.0","error":{"code":-32601,"message":"method not found"},"id":%d}`, req.ID)
	}
}

func startedHTTPConn(t *testing.T, address string) Conn {
	t.Helper()
	httpc, err := New("http", address, Options{})
	require.NoError(t, err)
	require.NoError(t, httpc.Start(context.Background()))
	t.Cleanup(func() {
		_ = httpc.Close()
	})
	return httpc
}

func TestHTTPCall(t *testing.T) {
	t.Parallel()
	server := startJSONRPCServer(t)
	httpc := startedHTTPConn(t, server.address())

	var reply arithReply
	err := httpc.Call(context.Background(), "Arith", "Add", Metadata{"token": "abc"}, arithArgs{A: 1, B: 2}, &reply)
	require.NoError(t, err)
	assert.Equal(t, 3, reply.C)
	assert.Equal(t, "abc", server.metadata().Get("token"))
}

func TestHTTPServerError(t *testing.T) {
	t.Parallel()
	server := startJSONRPCServer(t)
	httpc := startedHTTPConn(t, server.address())

	err := httpc.Call(context.Background(), "Arith", "Fail", nil, arithArgs{}, &arithReply{})
	var serverErr ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "divide by zero", serverErr.Error())
}

func TestHTTPNotify(t *testing.T) {
	t.Parallel()
	server := startJSONRPCServer(t)
	httpc := startedHTTPConn(t, server.address())

	require.NoError(t, httpc.Notify(context.Background(), "Arith", "Add", nil, arithArgs{A: 1, B: 1}))
	assert.Equal(t, 1, server.requestCount())
}

func TestHTTPGo(t *testing.T) {
	t.Parallel()
	server := startJSONRPCServer(t)
	httpc := startedHTTPConn(t, server.address())

	var reply arithReply
	call := httpc.Go("Arith", "Add", nil, arithArgs{A: 40, B: 2}, &reply, nil)
	completed := <-call.Done
	require.NoError(t, completed.Error)
	assert.Equal(t, 42, reply.C)
}

func TestHTTPLifecycle(t *testing.T) {
	t.Parallel()
	server := startJSONRPCServer(t)

	httpc, err := New("http", server.address(), Options{})
	require.NoError(t, err)

	// Calls before Start and after Close are both rejected.
	err = httpc.Call(context.Background(), "Arith", "Add", nil, arithArgs{}, &arithReply{})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrShutdown)

	require.NoError(t, httpc.Start(context.Background()))
	require.Equal(t, Started, httpc.State())
	require.NoError(t, httpc.Close())
	require.Equal(t, Closed, httpc.State())
	err = httpc.Call(context.Background(), "Arith", "Add", nil, arithArgs{}, &arithReply{})
	require.ErrorIs(t, err, ErrShutdown)
}
