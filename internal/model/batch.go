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

// Message is a single stored message payload.
type Message struct {
	Id       MessageId
	Body     []byte
	Type     string
	Metadata map[string]string
}

// MessageBatch is an ordered run of messages sharing a StreamKey. Sequences
// are contiguous and strictly monotonic; timestamps are non-decreasing.
type MessageBatch struct {
	Stream   StreamKey
	items    []Message
}

// NewMessageBatch validates the batch's sequence/stream invariants and
// returns a MessageBatch. Messages must already be sorted ascending by
// sequence.
func NewMessageBatch(stream StreamKey, items []Message) (*MessageBatch, error) {
	for i, m := range items {
		if m.Id.Stream != stream {
			return nil, fmt.Errorf("message %s does not belong to stream %s", m.Id, stream)
		}
		if i > 0 {
			prev := items[i-1]
			if m.Id.Sequence != prev.Id.Sequence+1 {
				return nil, fmt.Errorf("non-contiguous sequence in batch: %d after %d", m.Id.Sequence, prev.Id.Sequence)
			}
			if m.Id.Timestamp.Before(prev.Id.Timestamp) {
				return nil, fmt.Errorf("non-monotonic timestamp in batch at sequence %d", m.Id.Sequence)
			}
		}
	}
	return &MessageBatch{Stream: stream, items: append([]Message(nil), items...)}, nil
}

func (b *MessageBatch) Len() int { return len(b.items) }

func (b *MessageBatch) First() Message { return b.items[0] }

func (b *MessageBatch) Last() Message { return b.items[len(b.items)-1] }

// Messages returns the batch contents ascending by sequence.
func (b *MessageBatch) Messages() []Message {
	return b.items
}

// MessagesReverse returns the batch contents descending by sequence.
func (b *MessageBatch) MessagesReverse() []Message {
	out := make([]Message, len(b.items))
	for i, m := range b.items {
		out[len(b.items)-1-i] = m
	}
	return out
}

// TrimHeadBySequence keeps the messages with sequence > afterSeq (the AFTER
// head trim); it has no BEFORE variant.
func (b *MessageBatch) TrimHeadBySequence(afterSeq int64) []Message {
	out := make([]Message, 0, len(b.items))
	for _, m := range b.items {
		if m.Id.Sequence > afterSeq {
			out = append(out, m)
		}
	}
	return out
}

// TrimHeadByTimestamp keeps messages with timestamp >= start (AFTER) when
// inclusive is true, else strictly after start.
func TrimHeadByTimestamp(items []Message, start time.Time, inclusive bool) []Message {
	out := make([]Message, 0, len(items))
	for _, m := range items {
		if inclusive {
			if !m.Id.Timestamp.Before(start) {
				out = append(out, m)
			}
		} else {
			if m.Id.Timestamp.After(start) {
				out = append(out, m)
			}
		}
	}
	return out
}

// TrimTailByTimestamp keeps messages with timestamp <= end (inclusive) or
// strictly before end.
func TrimTailByTimestamp(items []Message, end time.Time, inclusive bool) []Message {
	out := make([]Message, 0, len(items))
	for _, m := range items {
		if inclusive {
			if !m.Id.Timestamp.After(end) {
				out = append(out, m)
			}
		} else {
			if m.Id.Timestamp.Before(end) {
				out = append(out, m)
			}
		}
	}
	return out
}
