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

package codec

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/chronobase/dataprovider/internal/apierr"
	"github.com/chronobase/dataprovider/internal/codec/codecpb"
	"github.com/chronobase/dataprovider/internal/model"
)

// Converter wraps RawBatch items into CodecRequest items, awaits
// DecodedBatch through the Broker, and unpacks into FilteredMessage-bound
// pipeline items, preserving batch framing and per-stream FIFO order.
type Converter struct {
	broker *Broker
}

func NewConverter(broker *Broker) *Converter {
	return &Converter{broker: broker}
}

// Decode converts one RawBatch item into its decoded messages. A codec
// failure (timeout or dispatch-fail) does not abort the search: it
// resolves to a DecodedBatchPayload with Failed=true so the caller can
// emit a diagnostic record instead.
func (c *Converter) Decode(ctx context.Context, item model.StreamItem) (model.StreamItem, error) {
	if item.Kind != model.KindRawBatch || item.RawBatch == nil {
		return item, nil
	}

	reqId := newRequestId()
	req := toWireRequest(reqId, item.Stream, item.RawBatch)

	resp, err := c.broker.Submit(ctx, req)
	if err != nil {
		kind := apierr.KindOf(err)
		if kind == apierr.CodecTimeout || kind == apierr.CodecDispatchFailed {
			return model.StreamItem{
				Kind:            model.KindDecodedBatch,
				Stream:          item.Stream,
				StreamEmpty:     item.StreamEmpty,
				LastProcessedId: item.LastProcessedId,
				LastScannedTime: item.LastScannedTime,
				Decoded: &model.DecodedBatchPayload{
					RequestId: reqId,
					Failed:    true,
					FailKind:  string(kind),
				},
			}, nil
		}
		return model.StreamItem{}, err
	}

	decoded := fromWireResponse(item.Stream, resp)
	return model.StreamItem{
		Kind:            model.KindDecodedBatch,
		Stream:          item.Stream,
		StreamEmpty:     item.StreamEmpty,
		LastProcessedId: item.LastProcessedId,
		LastScannedTime: item.LastScannedTime,
		Decoded:         decoded,
	}, nil
}

// Unpack expands a DecodedBatch item into one FilteredMessage-bound
// item per message, preserving the batch's FIFO order. A failed decode
// unpacks into a single diagnostic message so the stream keeps flowing.
func (c *Converter) Unpack(item model.StreamItem) []model.StreamItem {
	if item.Kind != model.KindDecodedBatch || item.Decoded == nil {
		return nil
	}

	if item.Decoded.Failed {
		diag := model.Message{
			Id:   model.MessageId{Stream: item.Stream, Timestamp: item.LastScannedTime},
			Type: "diagnostic",
			Body: []byte("codec failure: " + item.Decoded.FailKind),
		}
		return []model.StreamItem{{
			Kind:            model.KindFilteredMessage,
			Stream:          item.Stream,
			StreamEmpty:     item.StreamEmpty,
			LastProcessedId: item.LastProcessedId,
			LastScannedTime: item.LastScannedTime,
			Filtered:        &model.FilteredMessagePayload{Message: diag, Passed: true},
		}}
	}

	out := make([]model.StreamItem, 0, len(item.Decoded.Messages))
	for _, m := range item.Decoded.Messages {
		out = append(out, model.StreamItem{
			Kind:            model.KindFilteredMessage,
			Stream:          item.Stream,
			StreamEmpty:     item.StreamEmpty,
			LastProcessedId: item.LastProcessedId,
			LastScannedTime: item.LastScannedTime,
			Filtered:        &model.FilteredMessagePayload{Message: m},
		})
	}
	return out
}

func toWireRequest(reqId string, stream model.StreamKey, batch *model.MessageBatch) *codecpb.DecodeRequest {
	msgs := batch.Messages()
	wire := make([]codecpb.RawMessage, len(msgs))
	for i, m := range msgs {
		wire[i] = codecpb.RawMessage{
			Sequence:  m.Id.Sequence,
			Timestamp: m.Id.Timestamp.UnixNano(),
			Body:      m.Body,
			Type:      m.Type,
		}
	}
	return &codecpb.DecodeRequest{
		RequestId:  reqId,
		StreamName: stream.Name,
		Direction:  string(stream.Direction),
		Messages:   wire,
	}
}

func fromWireResponse(stream model.StreamKey, resp *codecpb.DecodeResponse) *model.DecodedBatchPayload {
	msgs := make([]model.Message, len(resp.Messages))
	for i, m := range resp.Messages {
		msgs[i] = model.Message{
			Id: model.MessageId{
				Stream:    stream,
				Sequence:  m.Sequence,
				Timestamp: time.Unix(0, m.Timestamp).UTC(),
			},
			Body:     m.Body,
			Type:     m.Type,
			Metadata: m.Metadata,
		}
	}
	return &model.DecodedBatchPayload{RequestId: resp.RequestId, Messages: msgs, Failed: resp.Failed}
}

func newRequestId() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
