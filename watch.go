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
	"io"
	"sync/atomic"

	"github.com/lgphp/rpcx-rs/discovery"
)

// serverPump funnels discovery snapshots to the client on one goroutine.
// Receivers must not block, so OnServers only parks the newest snapshot
// and signals; bursts collapse because only the latest set matters.
type serverPump struct {
	update  func([]discovery.Server)
	latest  atomic.Pointer[[]discovery.Server]
	updated chan struct{}
	ctx     context.Context //nolint:containedctx // scopes the pump lifetime
	cancel  context.CancelFunc
	done    chan struct{}
	watcher io.Closer
}

func newServerPump(rootCtx context.Context, source discovery.Discovery, update func([]discovery.Server)) *serverPump {
	ctx, cancel := context.WithCancel(rootCtx)
	pump := &serverPump{
		update:  update,
		updated: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	// The run loop must be started before Watch: sources may deliver
	// the first snapshot synchronously from Watch itself.
	go pump.run()
	pump.watcher = source.Watch(ctx, pump)
	return pump
}

// OnServers implements discovery.Receiver.
func (p *serverPump) OnServers(servers []discovery.Server) {
	p.latest.Store(&servers)
	select {
	case p.updated <- struct{}{}:
	default:
	}
}

// OnError implements discovery.Receiver. Discovery errors are transient:
// sources keep retrying internally, and the selector keeps serving the
// last good snapshot in the meantime.
func (p *serverPump) OnError(error) {}

func (p *serverPump) run() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.updated:
		}
		if servers := p.latest.Load(); servers != nil {
			p.update(*servers)
		}
	}
}

func (p *serverPump) close() {
	p.cancel()
	if p.watcher != nil {
		_ = p.watcher.Close()
	}
	<-p.done
}
