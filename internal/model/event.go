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

package model

import (
	"fmt"
	"time"
)

// Event is a single test event. ParentId is empty for a root event.
// AttachedMessageIds/AttachedEventIds are the store's cross-reference
// projection, populated at fetch time so FilterPipeline can evaluate the
// attached-message-id/attached-event-ids predicate kinds without a second
// round trip.
type Event struct {
	Id                 EventId
	ParentId           EventId
	Start              time.Time
	End                time.Time
	Name               string
	Type               string
	Body               []byte
	AttachedMessageIds []string
	AttachedEventIds   []string
}

// EventTreeNode is the metadata-only projection of Event used when the
// request sets metadataOnly.
type EventTreeNode struct {
	Id       EventId
	ParentId EventId
	Start    time.Time
	End      time.Time
	Name     string
	Type     string
}

func (e Event) Node() EventTreeNode {
	return EventTreeNode{Id: e.Id, ParentId: e.ParentId, Start: e.Start, End: e.End, Name: e.Name, Type: e.Type}
}

// EventWrapper is either a Single event or a Batch of events sharing a
// batch id and parent id.
type EventWrapper struct {
	// Single case
	single *Event

	// Batch case
	batchId    EventId
	parentId   EventId
	batchItems []Event
	index      map[EventId]int
}

func NewSingleEventWrapper(e Event) *EventWrapper {
	ev := e
	return &EventWrapper{single: &ev}
}

// NewBatchEventWrapper validates the batch's invariants: shared batchId,
// start<=end, O(1) lookup by id.
func NewBatchEventWrapper(batchId, parentId EventId, events []Event) (*EventWrapper, error) {
	index := make(map[EventId]int, len(events))
	for i, e := range events {
		if e.Start.After(e.End) {
			return nil, fmt.Errorf("event %s has start after end", e.Id)
		}
		if _, dup := index[e.Id]; dup {
			return nil, fmt.Errorf("duplicate event id %s in batch %s", e.Id, batchId)
		}
		index[e.Id] = i
	}
	return &EventWrapper{
		batchId:    batchId,
		parentId:   parentId,
		batchItems: append([]Event(nil), events...),
		index:      index,
	}, nil
}

func (w *EventWrapper) IsBatch() bool { return w.single == nil }

func (w *EventWrapper) BatchId() EventId { return w.batchId }

// Single returns the wrapped event when this is not a batch.
func (w *EventWrapper) Single() (Event, bool) {
	if w.single == nil {
		return Event{}, false
	}
	return *w.single, true
}

// ParentId returns the shared parent id of a batch, or the single event's
// own parent id.
func (w *EventWrapper) ParentId() EventId {
	if w.single != nil {
		return w.single.ParentId
	}
	return w.parentId
}

// Events returns the batch's contained events in storage order, or a
// one-element slice for a single event.
func (w *EventWrapper) Events() []Event {
	if w.single != nil {
		return []Event{*w.single}
	}
	return w.batchItems
}

// Lookup finds an event by id within a batch in O(1); always succeeds for
// a Single wrapper whose id matches.
func (w *EventWrapper) Lookup(id EventId) (Event, bool) {
	if w.single != nil {
		if w.single.Id == id {
			return *w.single, true
		}
		return Event{}, false
	}
	i, ok := w.index[id]
	if !ok {
		return Event{}, false
	}
	return w.batchItems[i], true
}
