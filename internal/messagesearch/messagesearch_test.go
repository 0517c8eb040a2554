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

package messagesearch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronobase/dataprovider/internal/codec"
	"github.com/chronobase/dataprovider/internal/codec/codecpb"
	"github.com/chronobase/dataprovider/internal/messageextract"
	"github.com/chronobase/dataprovider/internal/metrics"
	"github.com/chronobase/dataprovider/internal/model"
	"github.com/chronobase/dataprovider/internal/sse"
	"github.com/chronobase/dataprovider/internal/store"
)

// echoTransport echoes each request's messages straight back as
// decoded messages, preserving sequence/timestamp/body/type.
type echoTransport struct {
	recvCh chan *codecpb.DecodeResponse
}

func newEchoTransport() *echoTransport {
	return &echoTransport{recvCh: make(chan *codecpb.DecodeResponse, 64)}
}

func (e *echoTransport) Send(ctx context.Context, req *codecpb.DecodeRequest) error {
	msgs := make([]codecpb.DecodedMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = codecpb.DecodedMessage{Sequence: m.Sequence, Timestamp: m.Timestamp, Body: m.Body, Type: m.Type}
	}
	e.recvCh <- &codecpb.DecodeResponse{RequestId: req.RequestId, Messages: msgs}
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

func testConverter(t *testing.T) *codec.Converter {
	t.Helper()
	transport := newEchoTransport()
	b := codec.NewBroker(transport, metrics.NewUnregistered(), codec.BrokerConfig{
		ResponseTimeout: time.Second, MaxPending: 16, SenderPoolSize: 2, CallbackPoolSize: 2,
	})
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	t.Cleanup(func() {
		cancel()
		b.Stop()
	})
	return codec.NewConverter(b)
}

// fakeGateway serves a single batch per stream and nothing for
// messageinit's probes beyond the seeded first message.
type fakeGateway struct {
	batches map[string][]model.Message
	first   map[string]model.MessageId
}

func (g *fakeGateway) GetEvents(ctx context.Context, start, end time.Time, order store.Order) ([]model.EventWrapper, error) {
	panic("not used")
}
func (g *fakeGateway) GetEventsAfterResume(ctx context.Context, resumeId model.ProviderEventId, end time.Time, order store.Order) ([]model.EventWrapper, error) {
	panic("not used")
}
func (g *fakeGateway) GetEventsBeforeResume(ctx context.Context, start time.Time, resumeId model.ProviderEventId, order store.Order) ([]model.EventWrapper, error) {
	panic("not used")
}
func (g *fakeGateway) GetEvent(ctx context.Context, id model.ProviderEventId) (*model.EventWrapper, error) {
	panic("not used")
}

func (g *fakeGateway) GetMessages(ctx context.Context, filter store.MessageFilter) (*model.MessageBatch, error) {
	items := g.batches[filter.Stream.String()]
	if filter.FromId == nil {
		return model.NewMessageBatch(filter.Stream, items)
	}
	out := make([]model.Message, 0, len(items))
	for _, m := range items {
		if filter.Order == store.Ascending && m.Id.Sequence >= filter.FromId.Sequence {
			out = append(out, m)
		}
		if filter.Order == store.Descending && m.Id.Sequence <= filter.FromId.Sequence {
			out = append(out, m)
		}
	}
	return model.NewMessageBatch(filter.Stream, out)
}

func (g *fakeGateway) GetMessage(ctx context.Context, id model.MessageId) (*model.Message, error) {
	panic("not used")
}

func (g *fakeGateway) GetFirstMessageId(ctx context.Context, ts time.Time, stream model.StreamKey, dir model.SearchDirection, relation store.MessageRelation) (*model.MessageId, error) {
	id, ok := g.first[stream.String()]
	if !ok {
		return nil, nil
	}
	idCopy := id
	return &idCopy, nil
}

func (g *fakeGateway) GetFirstMessageSequence(ctx context.Context, stream model.StreamKey, dir model.SearchDirection) (int64, bool, error) {
	panic("not used")
}

func (g *fakeGateway) GetEventIds(ctx context.Context, messageId model.MessageId) ([]model.ProviderEventId, error) {
	panic("not used")
}

func (g *fakeGateway) GetMessageIds(ctx context.Context, eventId model.ProviderEventId) ([]model.MessageId, error) {
	panic("not used")
}

type fakeSink struct {
	messages    []MessagePayload
	lastScanned []time.Time
	streamInfos []sse.StreamInfo
}

func newFakeSink() *fakeSink { return &fakeSink{} }

func (s *fakeSink) WriteMessage(payload any) error {
	s.messages = append(s.messages, payload.(MessagePayload))
	return nil
}

func (s *fakeSink) WriteLastScanned(t time.Time) error {
	s.lastScanned = append(s.lastScanned, t)
	return nil
}

func (s *fakeSink) WriteStreamInfo(info sse.StreamInfo) error {
	s.streamInfos = append(s.streamInfos, info)
	return nil
}

func base() time.Time { return time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC) }

func TestMessageSearchMergesTwoStreamsInTimestampOrder(t *testing.T) {
	streamA := model.StreamKey{Name: "a", Direction: model.DirectionFirst}
	streamB := model.StreamKey{Name: "b", Direction: model.DirectionFirst}

	gw := &fakeGateway{
		batches: map[string][]model.Message{
			streamA.String(): {
				{Id: model.MessageId{Stream: streamA, Sequence: 1, Timestamp: base()}, Body: []byte("a1")},
				{Id: model.MessageId{Stream: streamA, Sequence: 2, Timestamp: base().Add(2 * time.Minute)}, Body: []byte("a2")},
			},
			streamB.String(): {
				{Id: model.MessageId{Stream: streamB, Sequence: 1, Timestamp: base().Add(1 * time.Minute)}, Body: []byte("b1")},
			},
		},
		first: map[string]model.MessageId{
			streamA.String(): {Stream: streamA, Sequence: 1, Timestamp: base()},
			streamB.String(): {Stream: streamB, Sequence: 1, Timestamp: base().Add(1 * time.Minute)},
		},
	}

	converter := testConverter(t)
	e := New(gw, converter, Config{
		Extract:      messageextract.Config{SendEmptyDelay: 20 * time.Millisecond, ChunkSize: 10},
		MergeBuffer:  4,
		EndInclusive: true,
	})

	sink := newFakeSink()
	start := base()
	end := base().Add(10 * time.Minute)
	req := &model.SearchRequest{
		Direction:      model.After,
		StartTimestamp: &start,
		EndTimestamp:   &end,
		Streams:        []model.StreamKey{streamA, streamB},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx, req, sink))

	require.Len(t, sink.messages, 3)
	assert.Equal(t, []byte("a1"), sink.messages[0].Message.Body)
	assert.Equal(t, []byte("b1"), sink.messages[1].Message.Body)
	assert.Equal(t, []byte("a2"), sink.messages[2].Message.Body)
}

func TestMessageSearchAppliesBodyFilter(t *testing.T) {
	streamA := model.StreamKey{Name: "a", Direction: model.DirectionFirst}

	gw := &fakeGateway{
		batches: map[string][]model.Message{
			streamA.String(): {
				{Id: model.MessageId{Stream: streamA, Sequence: 1, Timestamp: base()}, Body: []byte("keep")},
				{Id: model.MessageId{Stream: streamA, Sequence: 2, Timestamp: base().Add(time.Minute)}, Body: []byte("drop")},
			},
		},
		first: map[string]model.MessageId{
			streamA.String(): {Stream: streamA, Sequence: 1, Timestamp: base()},
		},
	}

	converter := testConverter(t)
	e := New(gw, converter, Config{
		Extract:      messageextract.Config{SendEmptyDelay: 20 * time.Millisecond, ChunkSize: 10},
		MergeBuffer:  4,
		EndInclusive: true,
	})

	sink := newFakeSink()
	start := base()
	end := base().Add(10 * time.Minute)
	req := &model.SearchRequest{
		Direction:      model.After,
		StartTimestamp: &start,
		EndTimestamp:   &end,
		Streams:        []model.StreamKey{streamA},
		Filters: []model.FilterSpec{
			{Kind: model.FilterBodyText, Values: []string{"keep"}},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx, req, sink))

	require.Len(t, sink.messages, 1)
	assert.Equal(t, []byte("keep"), sink.messages[0].Message.Body)
}

func TestMessageSearchEnforcesGlobalResultCap(t *testing.T) {
	streamA := model.StreamKey{Name: "a", Direction: model.DirectionFirst}

	gw := &fakeGateway{
		batches: map[string][]model.Message{
			streamA.String(): {
				{Id: model.MessageId{Stream: streamA, Sequence: 1, Timestamp: base()}, Body: []byte("a1")},
				{Id: model.MessageId{Stream: streamA, Sequence: 2, Timestamp: base().Add(time.Minute)}, Body: []byte("a2")},
			},
		},
		first: map[string]model.MessageId{
			streamA.String(): {Stream: streamA, Sequence: 1, Timestamp: base()},
		},
	}

	converter := testConverter(t)
	e := New(gw, converter, Config{
		Extract:      messageextract.Config{SendEmptyDelay: 20 * time.Millisecond, ChunkSize: 10},
		MergeBuffer:  4,
		EndInclusive: true,
	})

	sink := newFakeSink()
	start := base()
	end := base().Add(10 * time.Minute)
	req := &model.SearchRequest{
		Direction:        model.After,
		StartTimestamp:   &start,
		EndTimestamp:     &end,
		Streams:          []model.StreamKey{streamA},
		ResultCountLimit: 1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx, req, sink))

	require.Len(t, sink.messages, 1)
	assert.Equal(t, []byte("a1"), sink.messages[0].Message.Body)
}
