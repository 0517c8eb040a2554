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

package eventsearch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronobase/dataprovider/internal/metrics"
	"github.com/chronobase/dataprovider/internal/model"
	"github.com/chronobase/dataprovider/internal/store"
)

// fakeGateway implements store.Gateway with per-test closures; any method
// not configured panics, which surfaces accidental calls immediately.
type fakeGateway struct {
	getEvents             func(ctx context.Context, start, end time.Time, order store.Order) ([]model.EventWrapper, error)
	getEventsAfterResume  func(ctx context.Context, resumeId model.ProviderEventId, end time.Time, order store.Order) ([]model.EventWrapper, error)
	getEventsBeforeResume func(ctx context.Context, start time.Time, resumeId model.ProviderEventId, order store.Order) ([]model.EventWrapper, error)
	getEvent              func(ctx context.Context, id model.ProviderEventId) (*model.EventWrapper, error)
}

func (g *fakeGateway) GetEvents(ctx context.Context, start, end time.Time, order store.Order) ([]model.EventWrapper, error) {
	if g.getEvents == nil {
		panic("GetEvents not configured")
	}
	return g.getEvents(ctx, start, end, order)
}

func (g *fakeGateway) GetEventsAfterResume(ctx context.Context, resumeId model.ProviderEventId, end time.Time, order store.Order) ([]model.EventWrapper, error) {
	if g.getEventsAfterResume == nil {
		panic("GetEventsAfterResume not configured")
	}
	return g.getEventsAfterResume(ctx, resumeId, end, order)
}

func (g *fakeGateway) GetEventsBeforeResume(ctx context.Context, start time.Time, resumeId model.ProviderEventId, order store.Order) ([]model.EventWrapper, error) {
	if g.getEventsBeforeResume == nil {
		panic("GetEventsBeforeResume not configured")
	}
	return g.getEventsBeforeResume(ctx, start, resumeId, order)
}

func (g *fakeGateway) GetEvent(ctx context.Context, id model.ProviderEventId) (*model.EventWrapper, error) {
	if g.getEvent == nil {
		panic("GetEvent not configured")
	}
	return g.getEvent(ctx, id)
}

func (g *fakeGateway) GetMessages(ctx context.Context, filter store.MessageFilter) (*model.MessageBatch, error) {
	panic("GetMessages not configured")
}

func (g *fakeGateway) GetMessage(ctx context.Context, id model.MessageId) (*model.Message, error) {
	panic("GetMessage not configured")
}

func (g *fakeGateway) GetFirstMessageId(ctx context.Context, ts time.Time, stream model.StreamKey, dir model.SearchDirection, relation store.MessageRelation) (*model.MessageId, error) {
	panic("GetFirstMessageId not configured")
}

func (g *fakeGateway) GetFirstMessageSequence(ctx context.Context, stream model.StreamKey, dir model.SearchDirection) (int64, bool, error) {
	panic("GetFirstMessageSequence not configured")
}

func (g *fakeGateway) GetEventIds(ctx context.Context, messageId model.MessageId) ([]model.ProviderEventId, error) {
	panic("GetEventIds not configured")
}

func (g *fakeGateway) GetMessageIds(ctx context.Context, eventId model.ProviderEventId) ([]model.MessageId, error) {
	panic("GetMessageIds not configured")
}

type fakeSink struct {
	events      []EventPayload
	lastScanned []time.Time
}

func (s *fakeSink) WriteEvent(payload any) error {
	s.events = append(s.events, payload.(EventPayload))
	return nil
}

func (s *fakeSink) WriteLastScanned(t time.Time) error {
	s.lastScanned = append(s.lastScanned, t)
	return nil
}

func day(hour, min int) time.Time {
	return time.Date(2026, 7, 30, hour, min, 0, 0, time.UTC)
}

func singleWrapper(id, parent model.EventId, start time.Time) model.EventWrapper {
	return *model.NewSingleEventWrapper(model.Event{
		Id:       id,
		ParentId: parent,
		Start:    start,
		End:      start,
		Name:     string(id),
	})
}

func TestEngineEmitsEventsInAscendingOrderForAfter(t *testing.T) {
	gw := &fakeGateway{
		getEvents: func(ctx context.Context, start, end time.Time, order store.Order) ([]model.EventWrapper, error) {
			return []model.EventWrapper{
				singleWrapper("a", "root", day(8, 0)),
				singleWrapper("b", "root", day(8, 30)),
				singleWrapper("c", "root", day(9, 0)),
			}, nil
		},
	}
	sink := &fakeSink{}
	e := New(gw, metrics.NewUnregistered(), Config{PipelineBuffer: 2, Gap: 0, SearchDelay: time.Millisecond})

	start := day(8, 0)
	end := day(10, 0)
	req := &model.SearchRequest{
		Direction:      model.After,
		StartTimestamp: &start,
		EndTimestamp:   &end,
	}

	require.NoError(t, e.Run(context.Background(), req, sink))
	require.Len(t, sink.events, 3)
	assert.Equal(t, model.EventId("a"), sink.events[0].Event.Id)
	assert.Equal(t, model.EventId("b"), sink.events[1].Event.Id)
	assert.Equal(t, model.EventId("c"), sink.events[2].Event.Id)
	require.Len(t, sink.lastScanned, 1)
	assert.Equal(t, end, sink.lastScanned[0])
}

func TestEngineResumeTrimDropsResumeEventAndHead(t *testing.T) {
	resumeEvent := model.Event{Id: "b", ParentId: "root", Start: day(8, 30), End: day(8, 30)}
	resumeWrapper := model.NewSingleEventWrapper(resumeEvent)

	gw := &fakeGateway{
		getEvent: func(ctx context.Context, id model.ProviderEventId) (*model.EventWrapper, error) {
			require.Equal(t, model.EventId("b"), id.EventId)
			return resumeWrapper, nil
		},
		getEventsAfterResume: func(ctx context.Context, resumeId model.ProviderEventId, end time.Time, order store.Order) ([]model.EventWrapper, error) {
			assert.Equal(t, model.EventId("b"), resumeId.EventId)
			return []model.EventWrapper{
				singleWrapper("b", "root", day(8, 30)),
				singleWrapper("c", "root", day(9, 0)),
			}, nil
		},
	}
	sink := &fakeSink{}
	e := New(gw, metrics.NewUnregistered(), Config{PipelineBuffer: 2, Gap: 0, SearchDelay: time.Millisecond})

	start := day(8, 0)
	end := day(10, 0)
	req := &model.SearchRequest{
		Direction:      model.After,
		StartTimestamp: &start,
		EndTimestamp:   &end,
		ResumeFromId:   &model.ResumeId{Event: &model.ProviderEventId{EventId: "b"}},
	}

	require.NoError(t, e.Run(context.Background(), req, sink))
	require.Len(t, sink.events, 1)
	assert.Equal(t, model.EventId("c"), sink.events[0].Event.Id)
}

func TestEngineAppliesPerParentCap(t *testing.T) {
	gw := &fakeGateway{
		getEvents: func(ctx context.Context, start, end time.Time, order store.Order) ([]model.EventWrapper, error) {
			return []model.EventWrapper{
				singleWrapper("a", "parent1", day(8, 0)),
				singleWrapper("b", "parent1", day(8, 30)),
			}, nil
		},
	}
	sink := &fakeSink{}
	m := metrics.NewUnregistered()
	e := New(gw, m, Config{PipelineBuffer: 2, Gap: 0, SearchDelay: time.Millisecond})

	start := day(8, 0)
	end := day(10, 0)
	req := &model.SearchRequest{
		Direction:      model.After,
		StartTimestamp: &start,
		EndTimestamp:   &end,
		LimitForParent: 1,
	}

	require.NoError(t, e.Run(context.Background(), req, sink))
	require.Len(t, sink.events, 1)
	assert.Equal(t, model.EventId("a"), sink.events[0].Event.Id)
}

func TestEngineEnforcesGlobalResultCap(t *testing.T) {
	gw := &fakeGateway{
		getEvents: func(ctx context.Context, start, end time.Time, order store.Order) ([]model.EventWrapper, error) {
			return []model.EventWrapper{
				singleWrapper("a", "root", day(8, 0)),
				singleWrapper("b", "root", day(8, 30)),
				singleWrapper("c", "root", day(9, 0)),
			}, nil
		},
	}
	sink := &fakeSink{}
	e := New(gw, metrics.NewUnregistered(), Config{PipelineBuffer: 2, Gap: 0, SearchDelay: time.Millisecond})

	start := day(8, 0)
	end := day(10, 0)
	req := &model.SearchRequest{
		Direction:        model.After,
		StartTimestamp:   &start,
		EndTimestamp:     &end,
		ResultCountLimit: 1,
	}

	require.NoError(t, e.Run(context.Background(), req, sink))
	require.Len(t, sink.events, 1)
	assert.Equal(t, model.EventId("a"), sink.events[0].Event.Id)
}

func TestEngineFetchesSingleBatchWhenParentEventBatchIdSet(t *testing.T) {
	batch, err := model.NewBatchEventWrapper("batch1", "parent1", []model.Event{
		{Id: "x", ParentId: "parent1", Start: day(8, 0), End: day(8, 0)},
		{Id: "y", ParentId: "parent1", Start: day(8, 5), End: day(8, 5)},
	})
	require.NoError(t, err)

	gw := &fakeGateway{
		getEvent: func(ctx context.Context, id model.ProviderEventId) (*model.EventWrapper, error) {
			assert.Equal(t, model.EventId("batch1"), id.BatchId)
			return batch, nil
		},
	}
	sink := &fakeSink{}
	e := New(gw, metrics.NewUnregistered(), Config{PipelineBuffer: 2, Gap: 0, SearchDelay: time.Millisecond})

	start := day(0, 0)
	req := &model.SearchRequest{
		Direction:      model.After,
		StartTimestamp: &start,
		ParentEvent:    &model.ProviderEventId{BatchId: "batch1", EventId: "parent1"},
	}

	require.NoError(t, e.Run(context.Background(), req, sink))
	require.Len(t, sink.events, 2)
	assert.Equal(t, model.EventId("x"), sink.events[0].Event.Id)
	assert.Equal(t, model.EventId("y"), sink.events[1].Event.Id)
	assert.Empty(t, sink.lastScanned)
}

func TestEngineReturnsInvalidRequestWhenResumeEventMissing(t *testing.T) {
	gw := &fakeGateway{
		getEvent: func(ctx context.Context, id model.ProviderEventId) (*model.EventWrapper, error) {
			return nil, nil
		},
	}
	sink := &fakeSink{}
	e := New(gw, metrics.NewUnregistered(), Config{PipelineBuffer: 2, Gap: 0, SearchDelay: time.Millisecond})

	start := day(8, 0)
	req := &model.SearchRequest{
		Direction:      model.After,
		StartTimestamp: &start,
		ResumeFromId:   &model.ResumeId{Event: &model.ProviderEventId{EventId: "missing"}},
	}

	err := e.Run(context.Background(), req, sink)
	require.Error(t, err)
}
