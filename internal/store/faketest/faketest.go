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

// Package faketest provides an in-memory store.Gateway double, following
// the "constructor accepts a fake, tests inject it" shape: code under test
// takes a store.Gateway and tests pass this double in.
package faketest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chronobase/dataprovider/internal/apierr"
	"github.com/chronobase/dataprovider/internal/model"
	"github.com/chronobase/dataprovider/internal/store"
)

// Gateway is a deterministic, in-memory store.Gateway. It is safe for
// concurrent reads once Seed* calls have finished; it is not intended to
// be mutated concurrently with in-flight searches.
type Gateway struct {
	mu sync.RWMutex

	messages map[model.StreamKey][]model.Message // ascending by sequence
	events   []model.EventWrapper                // insertion order

	// failNext, when set, makes the next matching call return this error
	// exactly once, then clears itself — used to exercise the retry
	// decorator and codec/store failure paths deterministically.
	failNext error
}

func New() *Gateway {
	return &Gateway{messages: make(map[model.StreamKey][]model.Message)}
}

// SeedMessages appends messages to a stream's store, keeping ascending
// sequence order. Callers are responsible for sequence contiguity.
func (g *Gateway) SeedMessages(stream model.StreamKey, msgs ...model.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages[stream] = append(g.messages[stream], msgs...)
	sort.Slice(g.messages[stream], func(i, j int) bool {
		return g.messages[stream][i].Id.Sequence < g.messages[stream][j].Id.Sequence
	})
}

// SeedEvents appends event wrappers (single or batch) to the store.
func (g *Gateway) SeedEvents(wrappers ...model.EventWrapper) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, wrappers...)
}

// FailNextCall arms a one-shot error to be returned by the next Gateway
// call of any kind.
func (g *Gateway) FailNextCall(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = err
}

func (g *Gateway) takeFailure() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failNext == nil {
		return nil
	}
	err := g.failNext
	g.failNext = nil
	return err
}

var _ store.Gateway = (*Gateway)(nil)

func (g *Gateway) GetEvents(ctx context.Context, start, end time.Time, order store.Order) ([]model.EventWrapper, error) {
	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []model.EventWrapper
	for _, w := range g.events {
		for _, e := range w.Events() {
			if !e.Start.Before(start) && !e.Start.After(end) {
				out = append(out, w)
				break
			}
		}
	}
	sortWrappersByTime(out, order)
	return out, nil
}

func (g *Gateway) GetEventsAfterResume(ctx context.Context, resumeId model.ProviderEventId, end time.Time, order store.Order) ([]model.EventWrapper, error) {
	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	resumeTs, found := g.eventTimestamp(resumeId)
	if !found {
		return nil, apierr.New(apierr.NotFound, "resume event not found: "+resumeId.String())
	}

	var out []model.EventWrapper
	for _, w := range g.events {
		for _, e := range w.Events() {
			if e.Start.After(resumeTs) && !e.Start.After(end) {
				out = append(out, w)
				break
			}
		}
	}
	sortWrappersByTime(out, order)
	return out, nil
}

func (g *Gateway) GetEventsBeforeResume(ctx context.Context, start time.Time, resumeId model.ProviderEventId, order store.Order) ([]model.EventWrapper, error) {
	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	resumeTs, found := g.eventTimestamp(resumeId)
	if !found {
		return nil, apierr.New(apierr.NotFound, "resume event not found: "+resumeId.String())
	}

	var out []model.EventWrapper
	for _, w := range g.events {
		for _, e := range w.Events() {
			if e.Start.Before(resumeTs) && !e.Start.Before(start) {
				out = append(out, w)
				break
			}
		}
	}
	sortWrappersByTime(out, order)
	return out, nil
}

func (g *Gateway) eventTimestamp(id model.ProviderEventId) (time.Time, bool) {
	for _, w := range g.events {
		if e, ok := w.Lookup(id.EventId); ok {
			return e.Start, true
		}
	}
	return time.Time{}, false
}

func (g *Gateway) GetEvent(ctx context.Context, id model.ProviderEventId) (*model.EventWrapper, error) {
	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, w := range g.events {
		if _, ok := w.Lookup(id.EventId); ok {
			wc := w
			return &wc, nil
		}
	}
	return nil, apierr.New(apierr.NotFound, "event not found: "+id.String())
}

func (g *Gateway) GetMessages(ctx context.Context, filter store.MessageFilter) (*model.MessageBatch, error) {
	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	all := g.messages[filter.Stream]
	var from int64 = -1
	if filter.FromId != nil {
		from = filter.FromId.Sequence
	}

	var selected []model.Message
	if filter.Order == store.Descending {
		for i := len(all) - 1; i >= 0 && len(selected) < filter.Limit; i-- {
			if filter.FromId == nil || all[i].Id.Sequence <= from {
				selected = append([]model.Message{all[i]}, selected...)
			}
		}
	} else {
		for _, m := range all {
			if len(selected) >= filter.Limit {
				break
			}
			if filter.FromId == nil || m.Id.Sequence >= from {
				selected = append(selected, m)
			}
		}
	}

	if len(selected) == 0 {
		return model.NewMessageBatch(filter.Stream, nil)
	}
	return model.NewMessageBatch(filter.Stream, selected)
}

func (g *Gateway) GetMessage(ctx context.Context, id model.MessageId) (*model.Message, error) {
	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, m := range g.messages[id.Stream] {
		if m.Id.Sequence == id.Sequence {
			mc := m
			return &mc, nil
		}
	}
	return nil, apierr.New(apierr.NotFound, "message not found: "+id.String())
}

func (g *Gateway) GetFirstMessageId(ctx context.Context, ts time.Time, stream model.StreamKey, dir model.SearchDirection, relation store.MessageRelation) (*model.MessageId, error) {
	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	all := g.messages[stream]
	switch relation {
	case store.RelationFirstGreaterOrEqual:
		for _, m := range all {
			if !m.Id.Timestamp.Before(ts) {
				id := m.Id
				return &id, nil
			}
		}
	case store.RelationLastLessOrEqual:
		for i := len(all) - 1; i >= 0; i-- {
			if !all[i].Id.Timestamp.After(ts) {
				id := all[i].Id
				return &id, nil
			}
		}
	}
	return nil, nil
}

func (g *Gateway) GetFirstMessageSequence(ctx context.Context, stream model.StreamKey, dir model.SearchDirection) (int64, bool, error) {
	if err := g.takeFailure(); err != nil {
		return 0, false, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	all := g.messages[stream]
	if len(all) == 0 {
		return 0, false, nil
	}
	if dir == model.Before {
		return all[len(all)-1].Id.Sequence, true, nil
	}
	return all[0].Id.Sequence, true, nil
}

func (g *Gateway) GetEventIds(ctx context.Context, messageId model.MessageId) ([]model.ProviderEventId, error) {
	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (g *Gateway) GetMessageIds(ctx context.Context, eventId model.ProviderEventId) ([]model.MessageId, error) {
	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	return nil, nil
}

func sortWrappersByTime(out []model.EventWrapper, order store.Order) {
	sort.SliceStable(out, func(i, j int) bool {
		ti := out[i].Events()[0].Start
		tj := out[j].Events()[0].Start
		if order == store.Descending {
			return ti.After(tj)
		}
		return ti.Before(tj)
	})
}
