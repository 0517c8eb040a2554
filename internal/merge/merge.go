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

// Package merge implements the StreamMerger: a k-way merge of per-stream
// item channels into a single time-ordered flow, using empty ticks to
// advance stalled streams without starving the others.
package merge

import (
	"context"

	"github.com/chronobase/dataprovider/internal/model"
)

// Source is one stream's item channel, as produced by
// internal/messageextract.Extractor.Out or internal/codec's unpacked
// FilteredMessage stream.
type Source struct {
	Stream model.StreamKey
	Items  <-chan model.StreamItem
}

// holder is the merger's per-stream StreamHolder: the current head item
// and whether the source has been exhausted.
type holder struct {
	source  Source
	current model.StreamItem
	ok      bool
	done    bool
}

// Merger drives one or more Sources to produce a single time-ordered
// (min for AFTER, max for BEFORE) flow of non-tick items on Out.
type Merger struct {
	direction model.SearchDirection
	holders   []*holder
	Out       chan model.StreamItem
}

func New(direction model.SearchDirection, sources []Source, bufferSize int) *Merger {
	holders := make([]*holder, len(sources))
	for i, s := range sources {
		holders[i] = &holder{source: s}
	}
	return &Merger{direction: direction, holders: holders, Out: make(chan model.StreamItem, bufferSize)}
}

// Run pops one item from every holder (init), then repeatedly picks the
// minimum/maximum non-tick head, advancing ticks internally, until every
// holder is exhausted or ctx is cancelled.
func (m *Merger) Run(ctx context.Context) error {
	defer close(m.Out)

	for _, h := range m.holders {
		if err := m.pop(ctx, h); err != nil {
			return err
		}
	}

	for {
		if m.allDone() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		idx, isTick := m.pick()
		if idx < 0 {
			return nil
		}

		h := m.holders[idx]
		if !isTick {
			select {
			case m.Out <- h.current:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := m.pop(ctx, h); err != nil {
			return err
		}
	}
}

func (m *Merger) pop(ctx context.Context, h *holder) error {
	if h.done {
		return nil
	}
	select {
	case item, open := <-h.source.Items:
		if !open {
			h.done = true
			h.ok = false
			return nil
		}
		h.current = item
		h.ok = true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Merger) allDone() bool {
	for _, h := range m.holders {
		if !h.done {
			return false
		}
	}
	return true
}

// pick chooses, among live holders, the data item with the minimum
// (AFTER) or maximum (BEFORE) timestamp; if no live holder carries a
// data item, it instead picks the tick holder with the oldest
// LastScannedTime so that stream can advance without starving the
// others. Ties break on (timestamp, streamName, direction, sequence).
func (m *Merger) pick() (int, bool) {
	best := -1
	bestIsTick := true

	for i, h := range m.holders {
		if h.done {
			continue
		}
		if !h.ok {
			continue
		}
		isTick := h.current.IsTick()
		if best < 0 {
			best = i
			bestIsTick = isTick
			continue
		}
		if !isTick && bestIsTick {
			best, bestIsTick = i, false
			continue
		}
		if isTick && !bestIsTick {
			continue
		}
		if m.less(h.current, m.holders[best].current) {
			best = i
			bestIsTick = isTick
		}
	}
	return best, bestIsTick
}

// less reports whether a should be picked before b, given the current
// direction and the deterministic tie-break tuple.
func (m *Merger) less(a, b model.StreamItem) bool {
	ta, tb := a.Timestamp(), b.Timestamp()
	if !ta.Equal(tb) {
		if m.direction == model.After {
			return ta.Before(tb)
		}
		return ta.After(tb)
	}
	if a.Stream.Name != b.Stream.Name {
		return a.Stream.Name < b.Stream.Name
	}
	if a.Stream.Direction != b.Stream.Direction {
		return a.Stream.Direction < b.Stream.Direction
	}
	return sequenceOf(a) < sequenceOf(b)
}

func sequenceOf(it model.StreamItem) int64 {
	switch it.Kind {
	case model.KindRawBatch:
		if it.RawBatch != nil && it.RawBatch.Len() > 0 {
			return it.RawBatch.Last().Id.Sequence
		}
	case model.KindFilteredMessage:
		if it.Filtered != nil {
			return it.Filtered.Message.Id.Sequence
		}
	}
	return 0
}
