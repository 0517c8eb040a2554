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

import "time"

// StreamItem is the tagged variant flowing through the message pipeline.
// Exactly one of the payload fields is non-nil at a time, selected by
// Kind. Items flow forward once and are never mutated after being sent
// on a channel.
type StreamItemKind int

const (
	KindRawBatch StreamItemKind = iota
	KindCodecRequest
	KindDecodedBatch
	KindFilteredMessage
	KindEmptyTick
)

// StreamItem carries the per-stream bookkeeping every variant needs
// (streamEmpty, lastProcessedId, lastScannedTime) plus one payload.
type StreamItem struct {
	Kind StreamItemKind

	Stream          StreamKey
	StreamEmpty     bool
	LastProcessedId MessageId
	LastScannedTime time.Time

	RawBatch     *MessageBatch
	CodecRequest *CodecRequestPayload
	Decoded      *DecodedBatchPayload
	Filtered     *FilteredMessagePayload
}

// CodecRequestPayload pairs a raw batch with its codec request id. The
// broker itself sends codecpb.DecodeRequest over the codec transport.
type CodecRequestPayload struct {
	RequestId string
	Batch     *MessageBatch
}

// DecodedBatchPayload is what comes back from the codec transport.
type DecodedBatchPayload struct {
	RequestId string
	Messages  []Message
	Failed    bool
	FailKind  string
}

// FilteredMessagePayload is a single decoded message plus filter verdict.
type FilteredMessagePayload struct {
	Message Message
	Passed  bool
}

// Timestamp returns the item's ordering timestamp for the merger: the
// payload's timestamp for data items, or LastScannedTime for ticks.
func (it *StreamItem) Timestamp() time.Time {
	switch it.Kind {
	case KindRawBatch:
		if it.RawBatch != nil && it.RawBatch.Len() > 0 {
			return it.RawBatch.Last().Id.Timestamp
		}
	case KindFilteredMessage:
		if it.Filtered != nil {
			return it.Filtered.Message.Id.Timestamp
		}
	}
	return it.LastScannedTime
}

// IsTick reports whether this item is a heartbeat with no data payload.
func (it *StreamItem) IsTick() bool {
	return it.Kind == KindEmptyTick
}
