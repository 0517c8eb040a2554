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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stream() StreamKey {
	return StreamKey{Name: "stream-a", Direction: DirectionFirst}
}

func msg(s StreamKey, seq int64, ts time.Time) Message {
	return Message{Id: MessageId{Stream: s, Sequence: seq, Timestamp: ts}}
}

func TestNewMessageBatchRejectsNonContiguousSequence(t *testing.T) {
	s := stream()
	base := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	_, err := NewMessageBatch(s, []Message{
		msg(s, 1, base),
		msg(s, 3, base),
	})
	assert.Error(t, err)
}

func TestNewMessageBatchRejectsNonMonotonicTimestamp(t *testing.T) {
	s := stream()
	base := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	_, err := NewMessageBatch(s, []Message{
		msg(s, 1, base),
		msg(s, 2, base.Add(-time.Second)),
	})
	assert.Error(t, err)
}

func TestNewMessageBatchRejectsForeignStream(t *testing.T) {
	s := stream()
	other := StreamKey{Name: "stream-b", Direction: DirectionFirst}
	base := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	_, err := NewMessageBatch(s, []Message{msg(other, 1, base)})
	assert.Error(t, err)
}

func TestMessageBatchOrdering(t *testing.T) {
	s := stream()
	base := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	b, err := NewMessageBatch(s, []Message{
		msg(s, 1, base),
		msg(s, 2, base.Add(time.Second)),
		msg(s, 3, base.Add(2 * time.Second)),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), b.First().Id.Sequence)
	assert.Equal(t, int64(3), b.Last().Id.Sequence)

	rev := b.MessagesReverse()
	require.Len(t, rev, 3)
	assert.Equal(t, int64(3), rev[0].Id.Sequence)
	assert.Equal(t, int64(1), rev[2].Id.Sequence)
}

func TestMessageBatchTrimHeadBySequence(t *testing.T) {
	s := stream()
	base := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	b, err := NewMessageBatch(s, []Message{
		msg(s, 1, base), msg(s, 2, base), msg(s, 3, base),
	})
	require.NoError(t, err)

	trimmed := b.TrimHeadBySequence(1)
	require.Len(t, trimmed, 2)
	assert.Equal(t, int64(2), trimmed[0].Id.Sequence)
}

func TestTrimHeadAndTailByTimestamp(t *testing.T) {
	s := stream()
	base := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	items := []Message{
		msg(s, 1, base),
		msg(s, 2, base.Add(time.Second)),
		msg(s, 3, base.Add(2 * time.Second)),
	}

	head := TrimHeadByTimestamp(items, base.Add(time.Second), true)
	require.Len(t, head, 2)

	headExclusive := TrimHeadByTimestamp(items, base.Add(time.Second), false)
	require.Len(t, headExclusive, 1)

	tail := TrimTailByTimestamp(items, base.Add(time.Second), true)
	require.Len(t, tail, 2)

	tailExclusive := TrimTailByTimestamp(items, base.Add(time.Second), false)
	require.Len(t, tailExclusive, 1)
}
