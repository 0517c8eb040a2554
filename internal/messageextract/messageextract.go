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

// Package messageextract runs one extractor goroutine per (stream,
// direction), pulling batches from the store, trimming them to the
// request window, and emitting RawBatch/EmptyTick pipeline items.
package messageextract

import (
	"context"
	"time"

	"github.com/chronobase/dataprovider/internal/model"
	"github.com/chronobase/dataprovider/internal/store"
)

// Config holds the extractor's tunables, bound from configuration.
type Config struct {
	SendEmptyDelay time.Duration
	ChunkSize      int
}

// Extractor owns one store iterator exclusively for its (stream,
// direction) and streams RawBatch/EmptyTick items to Out until the
// request window is exhausted or ctx is cancelled.
type Extractor struct {
	gateway store.Gateway
	stream  model.StreamKey
	dir     model.SearchDirection
	cfg     Config

	startId      *model.MessageId
	resumeSeq    *int64
	hasResumed   bool
	startTime    *time.Time
	endTimestamp *time.Time
	endInclusive bool

	Out chan model.StreamItem
}

// New builds an Extractor. startId is the result of messageinit.Locate
// (nil means the stream has no data in range). resumeSeq, when non-nil,
// is the sequence to trim the head by instead of startTimestamp, when the
// resume id had already started advancing this stream.
func New(gateway store.Gateway, stream model.StreamKey, dir model.SearchDirection, cfg Config, startId *model.MessageId, resumeSeq *int64, startTime, endTimestamp *time.Time, endInclusive bool) *Extractor {
	return &Extractor{
		gateway:      gateway,
		stream:       stream,
		dir:          dir,
		cfg:          cfg,
		startId:      startId,
		resumeSeq:    resumeSeq,
		hasResumed:   resumeSeq != nil,
		startTime:    startTime,
		endTimestamp: endTimestamp,
		endInclusive: endInclusive,
		Out:          make(chan model.StreamItem, 1),
	}
}

// Run drives the extractor until the stream is exhausted, ctx is
// cancelled, or a store error occurs (sent as the final item's error via
// the returned error, after which Out is closed). The underlying cursor
// is released on every exit path.
func (x *Extractor) Run(ctx context.Context) error {
	defer close(x.Out)

	if x.startId == nil {
		return x.sendFinalTick(ctx, true)
	}

	order := store.Ascending
	if x.dir == model.Before {
		order = store.Descending
	}

	cursor := x.startId
	lastTick := time.Now()
	first := true

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Since(lastTick) >= x.cfg.SendEmptyDelay {
			if err := x.sendTick(ctx, false, *cursor, cursor.Timestamp); err != nil {
				return err
			}
			lastTick = time.Now()
		}

		batch, err := x.gateway.GetMessages(ctx, store.MessageFilter{
			Stream: x.stream,
			FromId: cursor,
			Limit:  x.cfg.ChunkSize,
			Order:  order,
		})
		if err != nil {
			return err
		}
		if batch.Len() == 0 {
			return x.sendFinalTick(ctx, true)
		}

		items := x.orderedItems(batch)
		if !first {
			// The store's FromId semantics are inclusive; drop the
			// already-emitted cursor record itself before trimming.
			items = dropMatching(items, *cursor)
		}
		if len(items) == 0 {
			next := nextCursor(batch, x.dir)
			if next == nil || sameId(*next, *cursor) {
				return x.sendFinalTick(ctx, true)
			}
			cursor = next
			first = false
			continue
		}
		trimmed := x.trim(items)
		if len(trimmed) > 0 {
			trimmedBatch, err := model.NewMessageBatch(x.stream, sortAscendingBySequence(trimmed))
			if err != nil {
				return err
			}
			last := trimmedBatch.Last()
			if x.dir == model.Before {
				last = trimmedBatch.First()
			}
			if err := x.sendBatch(ctx, trimmedBatch, last.Id, last.Id.Timestamp); err != nil {
				return err
			}
			lastTick = time.Now()
		}

		next := nextCursor(batch, x.dir)
		if next == nil || (cursor != nil && sameId(*next, *cursor)) {
			return x.sendFinalTick(ctx, true)
		}
		if x.pastEnd(next.Timestamp) {
			return x.sendFinalTick(ctx, true)
		}
		cursor = next
		first = false
	}
}

func (x *Extractor) orderedItems(batch *model.MessageBatch) []model.Message {
	if x.dir == model.Before {
		return batch.MessagesReverse()
	}
	return batch.Messages()
}

// trim applies head trim (resume-sequence or startTimestamp) and tail
// trim (endTimestamp).
func (x *Extractor) trim(items []model.Message) []model.Message {
	out := items
	if x.hasResumed && x.resumeSeq != nil {
		filtered := make([]model.Message, 0, len(out))
		for _, m := range out {
			if x.dir == model.After && m.Id.Sequence > *x.resumeSeq {
				filtered = append(filtered, m)
			} else if x.dir == model.Before && m.Id.Sequence < *x.resumeSeq {
				filtered = append(filtered, m)
			}
		}
		out = filtered
	} else if x.startTime != nil {
		if x.dir == model.After {
			out = model.TrimHeadByTimestamp(out, *x.startTime, true)
		} else {
			out = model.TrimTailByTimestamp(out, *x.startTime, true)
		}
	}

	if x.endTimestamp != nil {
		if x.dir == model.After {
			out = model.TrimTailByTimestamp(out, *x.endTimestamp, x.endInclusive)
		} else {
			out = model.TrimHeadByTimestamp(out, *x.endTimestamp, x.endInclusive)
		}
	}
	return out
}

func (x *Extractor) pastEnd(ts time.Time) bool {
	if x.endTimestamp == nil {
		return false
	}
	if x.dir == model.After {
		return ts.After(*x.endTimestamp)
	}
	return ts.Before(*x.endTimestamp)
}

func (x *Extractor) sendBatch(ctx context.Context, batch *model.MessageBatch, lastId model.MessageId, lastTs time.Time) error {
	item := model.StreamItem{
		Kind:            model.KindRawBatch,
		Stream:          x.stream,
		StreamEmpty:     false,
		LastProcessedId: lastId,
		LastScannedTime: lastTs,
		RawBatch:        batch,
	}
	select {
	case x.Out <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (x *Extractor) sendTick(ctx context.Context, empty bool, lastId model.MessageId, lastTs time.Time) error {
	item := model.StreamItem{
		Kind:            model.KindEmptyTick,
		Stream:          x.stream,
		StreamEmpty:     empty,
		LastProcessedId: lastId,
		LastScannedTime: lastTs,
	}
	select {
	case x.Out <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendFinalTick emits the terminal EmptyTick with streamEmpty=true and
// the direction's sentinel timestamp.
func (x *Extractor) sendFinalTick(ctx context.Context, empty bool) error {
	sentinel := farFuture
	if x.dir == model.Before {
		sentinel = farPast
	}
	item := model.StreamItem{
		Kind:            model.KindEmptyTick,
		Stream:          x.stream,
		StreamEmpty:     empty,
		LastScannedTime: sentinel,
	}
	select {
	case x.Out <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	farPast   = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
)

func nextCursor(batch *model.MessageBatch, dir model.SearchDirection) *model.MessageId {
	if batch.Len() == 0 {
		return nil
	}
	if dir == model.Before {
		id := batch.First().Id
		return &id
	}
	id := batch.Last().Id
	return &id
}

func sameId(a, b model.MessageId) bool {
	return a.Stream == b.Stream && a.Sequence == b.Sequence
}

// dropMatching removes the message matching cursor's id from items,
// used to compensate for the store's inclusive FromId semantics.
func dropMatching(items []model.Message, cursor model.MessageId) []model.Message {
	out := make([]model.Message, 0, len(items))
	for _, m := range items {
		if sameId(m.Id, cursor) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func sortAscendingBySequence(items []model.Message) []model.Message {
	out := append([]model.Message(nil), items...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Id.Sequence < out[j-1].Id.Sequence; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
