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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronobase/dataprovider/internal/apierr"
	"github.com/chronobase/dataprovider/internal/codec/codecpb"
	"github.com/chronobase/dataprovider/internal/metrics"
)

// echoTransport replies to every Send with a DecodeResponse carrying
// the same RequestId and one echoed message, unless configured to drop
// or delay a specific request id.
type echoTransport struct {
	recvCh  chan *codecpb.DecodeResponse
	drop    map[string]bool
	dropAll bool
	sendErr map[string]error
}

func newEchoTransport() *echoTransport {
	return &echoTransport{
		recvCh:  make(chan *codecpb.DecodeResponse, 16),
		drop:    map[string]bool{},
		sendErr: map[string]error{},
	}
}

func (e *echoTransport) Send(ctx context.Context, req *codecpb.DecodeRequest) error {
	if err := e.sendErr[req.RequestId]; err != nil {
		return err
	}
	if e.dropAll || e.drop[req.RequestId] {
		return nil
	}
	e.recvCh <- &codecpb.DecodeResponse{
		RequestId: req.RequestId,
		Messages:  []codecpb.DecodedMessage{{Sequence: 1}},
	}
	return nil
}

func (e *echoTransport) Recv(ctx context.Context) (*codecpb.DecodeResponse, error) {
	select {
	case r := <-e.recvCh:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *echoTransport) Close() error { return nil }

func testBroker(t *testing.T, transport Transport, cfg BrokerConfig) *Broker {
	t.Helper()
	b := NewBroker(transport, metrics.NewUnregistered(), cfg)
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	t.Cleanup(func() {
		cancel()
		b.Stop()
	})
	return b
}

func TestBrokerSubmitSucceeds(t *testing.T) {
	transport := newEchoTransport()
	b := testBroker(t, transport, BrokerConfig{
		ResponseTimeout: time.Second, MaxPending: 10, SenderPoolSize: 2, CallbackPoolSize: 2,
	})

	resp, err := b.Submit(context.Background(), &codecpb.DecodeRequest{RequestId: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.RequestId)
}

func TestBrokerSubmitTimesOut(t *testing.T) {
	transport := newEchoTransport()
	transport.drop["req-timeout"] = true
	b := testBroker(t, transport, BrokerConfig{
		ResponseTimeout: 20 * time.Millisecond, MaxPending: 10, SenderPoolSize: 2, CallbackPoolSize: 2,
	})

	_, err := b.Submit(context.Background(), &codecpb.DecodeRequest{RequestId: "req-timeout"})
	require.Error(t, err)
	assert.Equal(t, apierr.CodecTimeout, apierr.KindOf(err))
}

func TestBrokerSubmitDispatchFails(t *testing.T) {
	transport := newEchoTransport()
	transport.sendErr["req-fail"] = assert.AnError
	b := testBroker(t, transport, BrokerConfig{
		ResponseTimeout: time.Second, MaxPending: 10, SenderPoolSize: 2, CallbackPoolSize: 2,
	})

	_, err := b.Submit(context.Background(), &codecpb.DecodeRequest{RequestId: "req-fail"})
	require.Error(t, err)
	assert.Equal(t, apierr.CodecDispatchFailed, apierr.KindOf(err))
}

func TestBrokerPendingCountNeverExceedsMax(t *testing.T) {
	transport := newEchoTransport()
	b := testBroker(t, transport, BrokerConfig{
		ResponseTimeout: time.Second, MaxPending: 2, SenderPoolSize: 2, CallbackPoolSize: 2,
	})

	for i := 0; i < 5; i++ {
		_, err := b.Submit(context.Background(), &codecpb.DecodeRequest{RequestId: "req"})
		require.NoError(t, err)
		assert.LessOrEqual(t, b.pendingCount, int64(2))
	}
}
