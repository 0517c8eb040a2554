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

// Package messageinit locates, for a single (stream, direction), the
// first stored message relevant to a search's starting timestamp.
package messageinit

import (
	"context"
	"time"

	"github.com/chronobase/dataprovider/internal/model"
	"github.com/chronobase/dataprovider/internal/store"
)

// Initializer finds the starting MessageId for one stream.
type Initializer struct {
	gateway store.Gateway
}

func New(gateway store.Gateway) *Initializer {
	return &Initializer{gateway: gateway}
}

// Locate walks days up to lookupLimitDays (unbounded if nil, within the
// direction-specific time-limit predicate
// given by endTimestamp), probing both directions on the first day and
// only the request direction afterward, then pick the message nearest
// requestStart once a candidate day yields a hit. Returns nil, nil when
// no message exists within the lookup window.
func (ini *Initializer) Locate(ctx context.Context, streamKey model.StreamKey, requestStart time.Time, dir model.SearchDirection, lookupLimitDays *int, endTimestamp *time.Time) (*model.MessageId, error) {
	day := dayStart(requestStart)
	step := 24 * time.Hour
	if dir == model.Before {
		step = -step
	}

	for i := 0; lookupLimitDays == nil || i < *lookupLimitDays; i++ {
		if endTimestamp != nil && pastTimeLimit(day, dir, *endTimestamp) {
			return nil, nil
		}

		var candidate *model.MessageId
		var err error
		if i == 0 {
			candidate, err = ini.probeFirstDay(ctx, streamKey, requestStart, dir)
		} else {
			candidate, err = ini.probeDay(ctx, streamKey, day, dir)
		}
		if err != nil {
			return nil, err
		}
		if candidate != nil {
			return ini.nearest(ctx, streamKey, *candidate, requestStart, dir)
		}

		day = day.Add(step)
	}
	return nil, nil
}

// probeFirstDay tries BEFORE then AFTER to find any message near
// requestStart on the first day.
func (ini *Initializer) probeFirstDay(ctx context.Context, streamKey model.StreamKey, requestStart time.Time, dir model.SearchDirection) (*model.MessageId, error) {
	before, err := ini.gateway.GetFirstMessageId(ctx, requestStart, streamKey, model.Before, store.RelationLastLessOrEqual)
	if err != nil {
		return nil, err
	}
	if before != nil {
		return before, nil
	}
	return ini.gateway.GetFirstMessageId(ctx, requestStart, streamKey, model.After, store.RelationFirstGreaterOrEqual)
}

func (ini *Initializer) probeDay(ctx context.Context, streamKey model.StreamKey, day time.Time, dir model.SearchDirection) (*model.MessageId, error) {
	if dir == model.After {
		return ini.gateway.GetFirstMessageId(ctx, day, streamKey, model.After, store.RelationFirstGreaterOrEqual)
	}
	return ini.gateway.GetFirstMessageId(ctx, day, streamKey, model.Before, store.RelationLastLessOrEqual)
}

// nearest loads the candidate's batch and picks the nearest message to
// requestStart: AFTER wants the first with
// timestamp >= requestStart (else the last before it); BEFORE wants the
// last with timestamp <= requestStart (else the first after it).
func (ini *Initializer) nearest(ctx context.Context, streamKey model.StreamKey, candidate model.MessageId, requestStart time.Time, dir model.SearchDirection) (*model.MessageId, error) {
	batch, err := ini.gateway.GetMessages(ctx, store.MessageFilter{
		Stream: streamKey,
		FromId: &candidate,
		Limit:  1 << 20,
		Order:  store.Ascending,
	})
	if err != nil {
		return nil, err
	}
	if batch.Len() == 0 {
		id := candidate
		return &id, nil
	}

	msgs := batch.Messages()
	if dir == model.After {
		for _, m := range msgs {
			if !m.Id.Timestamp.Before(requestStart) {
				id := m.Id
				return &id, nil
			}
		}
		id := msgs[len(msgs)-1].Id
		return &id, nil
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].Id.Timestamp.After(requestStart) {
			id := msgs[i].Id
			return &id, nil
		}
	}
	id := msgs[0].Id
	return &id, nil
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// pastTimeLimit reports whether day has crossed endTimestamp for the
// given direction, terminating the bounded scan early.
func pastTimeLimit(day time.Time, dir model.SearchDirection, end time.Time) bool {
	if dir == model.After {
		return day.After(end)
	}
	return day.Before(dayStart(end))
}
