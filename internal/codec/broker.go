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
	"sync"
	"sync/atomic"
	"time"

	"github.com/chronobase/dataprovider/internal/apierr"
	"github.com/chronobase/dataprovider/internal/codec/codecpb"
	"github.com/chronobase/dataprovider/internal/metrics"
)

// BrokerConfig holds the broker's tunables: response timeout, the
// maximum number of requests in flight at once, and the sizes of its
// sender and callback worker pools.
type BrokerConfig struct {
	ResponseTimeout  time.Duration
	MaxPending       int
	SenderPoolSize   int
	CallbackPoolSize int
}

type outcome struct {
	resp *codecpb.DecodeResponse
	err  error
}

// PendingRequest is exclusively owned by the Broker until resolved
// exactly once.
type PendingRequest struct {
	id         string
	streamName string
	startTime  time.Time
	result     chan outcome
}

type sendJob struct {
	req *codecpb.DecodeRequest
	pr  *PendingRequest
}

// Broker is the decoder-facing request/response correlator: bounded
// admission control, atomic insert-if-absent/remove-if-equal
// pending-request bookkeeping, independent sender/callback worker
// pools, per-request deadlines.
type Broker struct {
	transport Transport
	metrics   *metrics.Registry
	cfg       BrokerConfig

	pending      sync.Map // requestId -> *PendingRequest
	pendingCount int64

	sendCh     chan *sendJob
	callbackCh chan *codecpb.DecodeResponse

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewBroker(transport Transport, reg *metrics.Registry, cfg BrokerConfig) *Broker {
	return &Broker{
		transport:  transport,
		metrics:    reg,
		cfg:        cfg,
		sendCh:     make(chan *sendJob, cfg.MaxPending),
		callbackCh: make(chan *codecpb.DecodeResponse, cfg.MaxPending),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the sender pool, callback pool and the transport's
// single receive loop. Call Stop to release all goroutines.
func (b *Broker) Start(ctx context.Context) {
	for i := 0; i < max1(b.cfg.SenderPoolSize); i++ {
		b.wg.Add(1)
		go b.senderWorker(ctx)
	}
	for i := 0; i < max1(b.cfg.CallbackPoolSize); i++ {
		b.wg.Add(1)
		go b.callbackWorker()
	}
	b.wg.Add(1)
	go b.recvLoop(ctx)
}

func (b *Broker) Stop() {
	close(b.stopCh)
	b.wg.Wait()
}

// Submit sends req and blocks until it resolves: success, timeout, or
// dispatch failure. Admission control blocks new senders with a ~100ms
// cooperative poll while the pending set is full.
func (b *Broker) Submit(ctx context.Context, req *codecpb.DecodeRequest) (*codecpb.DecodeResponse, error) {
	if err := b.admit(ctx); err != nil {
		return nil, err
	}

	pr := &PendingRequest{
		id:         req.RequestId,
		streamName: req.StreamName,
		startTime:  time.Now(),
		result:     make(chan outcome, 1),
	}

	actual, loaded := b.pending.LoadOrStore(req.RequestId, pr)
	if loaded {
		pr = actual.(*PendingRequest)
	} else {
		atomic.AddInt64(&b.pendingCount, 1)
		b.metrics.CodecPendingRequests.Inc()

		timer := time.AfterFunc(b.cfg.ResponseTimeout, func() {
			b.resolveTimeout(req.RequestId, pr)
		})
		defer timer.Stop()

		select {
		case b.sendCh <- &sendJob{req: req, pr: pr}:
		case <-ctx.Done():
			b.resolveCancelled(req.RequestId, pr)
		}
	}

	select {
	case o := <-pr.result:
		return o.resp, o.err
	case <-ctx.Done():
		return nil, apierr.Wrap(apierr.Cancelled, "codec submit cancelled", ctx.Err())
	}
}

func (b *Broker) admit(ctx context.Context) error {
	if atomic.LoadInt64(&b.pendingCount) < int64(b.cfg.MaxPending) {
		return nil
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return apierr.Wrap(apierr.Cancelled, "codec admission interrupted", ctx.Err())
		case <-b.stopCh:
			return apierr.New(apierr.Cancelled, "codec broker stopped")
		case <-ticker.C:
			if atomic.LoadInt64(&b.pendingCount) < int64(b.cfg.MaxPending) {
				return nil
			}
		}
	}
}

func (b *Broker) senderWorker(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case job := <-b.sendCh:
			if err := b.transport.Send(ctx, job.req); err != nil {
				b.resolveDispatchFail(job.req.RequestId, job.pr, err)
			}
		}
	}
}

func (b *Broker) recvLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}
		resp, err := b.transport.Recv(ctx)
		if err != nil {
			return
		}
		select {
		case b.callbackCh <- resp:
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) callbackWorker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case resp := <-b.callbackCh:
			b.resolveSuccess(resp)
		}
	}
}

// resolveSuccess, resolveTimeout, resolveDispatchFail and
// resolveCancelled each use CompareAndDelete so a request resolves
// exactly once even if a timeout fires concurrently with a late
// response — the identity check prevents a stale timeout from closing a
// slot some other, later request has since reused.
func (b *Broker) resolveSuccess(resp *codecpb.DecodeResponse) {
	v, ok := b.pending.Load(resp.RequestId)
	if !ok {
		return
	}
	pr := v.(*PendingRequest)
	if !b.pending.CompareAndDelete(resp.RequestId, pr) {
		return
	}
	b.finish(pr)
	b.metrics.CodecRequestsTotal.WithLabelValues("success").Inc()
	pr.result <- outcome{resp: resp}
}

func (b *Broker) resolveTimeout(id string, pr *PendingRequest) {
	if !b.pending.CompareAndDelete(id, pr) {
		return
	}
	b.finish(pr)
	b.metrics.CodecRequestsTotal.WithLabelValues("timeout").Inc()
	pr.result <- outcome{err: apierr.New(apierr.CodecTimeout, "codec response timeout for request "+id)}
}

func (b *Broker) resolveDispatchFail(id string, pr *PendingRequest, cause error) {
	if !b.pending.CompareAndDelete(id, pr) {
		return
	}
	b.finish(pr)
	b.metrics.CodecRequestsTotal.WithLabelValues("dispatch_failed").Inc()
	pr.result <- outcome{err: apierr.Wrap(apierr.CodecDispatchFailed, "codec dispatch failed for request "+id, cause)}
}

func (b *Broker) resolveCancelled(id string, pr *PendingRequest) {
	if !b.pending.CompareAndDelete(id, pr) {
		return
	}
	b.finish(pr)
	pr.result <- outcome{err: apierr.New(apierr.Cancelled, "codec dispatch cancelled for request "+id)}
}

func (b *Broker) finish(pr *PendingRequest) {
	atomic.AddInt64(&b.pendingCount, -1)
	b.metrics.CodecPendingRequests.Dec()
	b.metrics.CodecLatency.Observe(time.Since(pr.startTime).Seconds())
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
