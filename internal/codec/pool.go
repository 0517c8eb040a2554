// Copyright 2024 Andres Morey
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codec

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/chronobase/dataprovider/internal/codec/codecpb"
)

// Pool maintains a connection to every decoder replica behind a target
// and hands out transports round-robin. The replica set comes from a DNS
// host lookup (A/AAAA records) refreshed on a timer rather than a Kubernetes
// informer watching an EndpointSlice, since this service has no cluster
// API to watch.
//
// Pool itself satisfies Transport: Send round-robins across the live
// replicas, and Recv fans in responses from every replica's own Recv
// loop into one channel, since CodecBroker drives a single Transport
// and correlates responses by requestId regardless of which replica
// answered.
type Pool struct {
	dial func(ctx context.Context, addr string) (Transport, error)

	refresh time.Duration
	host    string

	mu         sync.Mutex
	transports []Transport
	next       int
	readers    []context.CancelFunc

	recvCh chan *codecpb.DecodeResponse

	baseCtx    context.Context
	baseCancel context.CancelFunc
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewPool constructs a Pool that re-resolves host (a "name.namespace"
// or plain DNS host) every refresh interval and dials new replicas via
// dial, closing transports for addresses that disappear.
func NewPool(host string, refresh time.Duration, dial func(ctx context.Context, addr string) (Transport, error)) *Pool {
	return &Pool{
		dial:    dial,
		refresh: refresh,
		host:    host,
		recvCh:  make(chan *codecpb.DecodeResponse, 256),
		stopCh:  make(chan struct{}),
	}
}

// Start performs an initial resolve-and-dial pass and begins the
// background refresh loop.
func (p *Pool) Start(ctx context.Context) error {
	p.baseCtx, p.baseCancel = context.WithCancel(ctx)
	if err := p.refreshOnce(p.baseCtx); err != nil {
		return err
	}
	p.wg.Add(1)
	go p.loop(p.baseCtx)
	return nil
}

func (p *Pool) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.refreshOnce(ctx)
		}
	}
}

func (p *Pool) refreshOnce(ctx context.Context) error {
	addrs, err := net.DefaultResolver.LookupHost(ctx, p.host)
	if err != nil {
		return fmt.Errorf("resolve decoder replicas for %s: %w", p.host, err)
	}

	var fresh []Transport
	for _, addr := range addrs {
		t, err := p.dial(ctx, addr)
		if err != nil {
			continue
		}
		fresh = append(fresh, t)
	}
	if len(fresh) == 0 {
		return fmt.Errorf("no reachable decoder replicas for %s", p.host)
	}

	p.mu.Lock()
	stale := p.transports
	staleReaders := p.readers
	p.transports = fresh
	p.next = 0

	readers := make([]context.CancelFunc, 0, len(fresh))
	for _, t := range fresh {
		rctx, cancel := context.WithCancel(ctx)
		readers = append(readers, cancel)
		p.wg.Add(1)
		go p.readLoop(rctx, t)
	}
	p.readers = readers
	p.mu.Unlock()

	for _, cancel := range staleReaders {
		cancel()
	}
	for _, t := range stale {
		t.Close()
	}
	return nil
}

// readLoop forwards one replica's responses into the pool's shared
// recvCh until its transport or context fails.
func (p *Pool) readLoop(ctx context.Context, t Transport) {
	defer p.wg.Done()
	for {
		resp, err := t.Recv(ctx)
		if err != nil {
			return
		}
		select {
		case p.recvCh <- resp:
		case <-ctx.Done():
			return
		}
	}
}

// Acquire returns the next transport in round-robin order.
func (p *Pool) Acquire() (Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.transports) == 0 {
		return nil, fmt.Errorf("codec pool for %s has no live replicas", p.host)
	}
	t := p.transports[p.next%len(p.transports)]
	p.next++
	return t, nil
}

// Send implements Transport by handing req to the next replica in
// round-robin order.
func (p *Pool) Send(ctx context.Context, req *codecpb.DecodeRequest) error {
	t, err := p.Acquire()
	if err != nil {
		return err
	}
	return t.Send(ctx, req)
}

// Recv implements Transport by returning the next response from any
// replica.
func (p *Pool) Recv(ctx context.Context) (*codecpb.DecodeResponse, error) {
	select {
	case resp := <-p.recvCh:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the pool, satisfying Transport.
func (p *Pool) Close() error {
	p.Stop()
	return nil
}

// Stop halts the refresh loop and closes every held transport.
func (p *Pool) Stop() {
	close(p.stopCh)
	if p.baseCancel != nil {
		p.baseCancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.transports {
		t.Close()
	}
	p.transports = nil
}
