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

package merge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronobase/dataprovider/internal/model"
)

func base() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

func filtered(stream model.StreamKey, seq int64, offset time.Duration) model.StreamItem {
	return model.StreamItem{
		Kind:   model.KindFilteredMessage,
		Stream: stream,
		Filtered: &model.FilteredMessagePayload{
			Message: model.Message{
				Id: model.MessageId{Stream: stream, Sequence: seq, Timestamp: base().Add(offset)},
			},
		},
	}
}

func tick(stream model.StreamKey, scanned time.Time) model.StreamItem {
	return model.StreamItem{Kind: model.KindEmptyTick, Stream: stream, LastScannedTime: scanned}
}

func drain(t *testing.T, ch <-chan model.StreamItem) []model.StreamItem {
	t.Helper()
	var out []model.StreamItem
	for it := range ch {
		out = append(out, it)
	}
	return out
}

func TestMergerOrdersAcrossStreamsAfter(t *testing.T) {
	streamA := model.StreamKey{Name: "a", Direction: model.DirectionFirst}
	streamB := model.StreamKey{Name: "b", Direction: model.DirectionFirst}

	chA := make(chan model.StreamItem, 10)
	chB := make(chan model.StreamItem, 10)
	chA <- filtered(streamA, 1, 0)
	chA <- filtered(streamA, 2, 2*time.Second)
	close(chA)
	chB <- filtered(streamB, 1, time.Second)
	close(chB)

	m := New(model.After, []Source{{Stream: streamA, Items: chA}, {Stream: streamB, Items: chB}}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	out := drain(t, m.Out)
	require.NoError(t, <-errCh)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].Stream.Name)
	assert.Equal(t, "b", out[1].Stream.Name)
	assert.Equal(t, "a", out[2].Stream.Name)
	assert.Equal(t, int64(2), out[2].Filtered.Message.Id.Sequence)
}

func TestMergerOrdersDescendingForBefore(t *testing.T) {
	streamA := model.StreamKey{Name: "a", Direction: model.DirectionFirst}

	chA := make(chan model.StreamItem, 10)
	chA <- filtered(streamA, 2, 2*time.Second)
	chA <- filtered(streamA, 1, 0)
	close(chA)

	m := New(model.Before, []Source{{Stream: streamA, Items: chA}}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	out := drain(t, m.Out)
	require.Len(t, out, 2)
	assert.Equal(t, int64(2), out[0].Filtered.Message.Id.Sequence)
	assert.Equal(t, int64(1), out[1].Filtered.Message.Id.Sequence)
}

func TestMergerDropsTicksFromOutputButAdvancesStalledStream(t *testing.T) {
	streamA := model.StreamKey{Name: "a", Direction: model.DirectionFirst}
	streamB := model.StreamKey{Name: "b", Direction: model.DirectionFirst}

	chA := make(chan model.StreamItem, 10)
	chB := make(chan model.StreamItem, 10)
	// streamA stalls with ticks before finally producing data after streamB's item.
	chA <- tick(streamA, base())
	chA <- tick(streamA, base().Add(time.Second))
	chA <- filtered(streamA, 1, 3*time.Second)
	close(chA)
	chB <- filtered(streamB, 1, 2*time.Second)
	close(chB)

	m := New(model.After, []Source{{Stream: streamA, Items: chA}, {Stream: streamB, Items: chB}}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	out := drain(t, m.Out)
	require.NoError(t, <-errCh)
	require.Len(t, out, 2)
	for _, it := range out {
		assert.False(t, it.IsTick())
	}
	assert.Equal(t, "b", out[0].Stream.Name)
	assert.Equal(t, "a", out[1].Stream.Name)
}

func TestMergerTieBreaksDeterministically(t *testing.T) {
	streamA := model.StreamKey{Name: "a", Direction: model.DirectionFirst}
	streamB := model.StreamKey{Name: "b", Direction: model.DirectionFirst}

	chA := make(chan model.StreamItem, 10)
	chB := make(chan model.StreamItem, 10)
	chA <- filtered(streamA, 1, 0)
	close(chA)
	chB <- filtered(streamB, 1, 0)
	close(chB)

	m := New(model.After, []Source{{Stream: streamB, Items: chB}, {Stream: streamA, Items: chA}}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	out := drain(t, m.Out)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Stream.Name)
	assert.Equal(t, "b", out[1].Stream.Name)
}

func TestMergerStopsOnContextCancel(t *testing.T) {
	streamA := model.StreamKey{Name: "a", Direction: model.DirectionFirst}
	chA := make(chan model.StreamItem) // never closed, never sent

	m := New(model.After, []Source{{Stream: streamA, Items: chA}}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	cancel()
	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
}
