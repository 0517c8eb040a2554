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

// Package messagesearch orchestrates a multi-stream message search: one
// messageinit.Locate + messageextract.Extractor per requested stream,
// each stream's raw batches decoded
// through the codec and filtered independently to preserve per-stream
// FIFO order, then fanned into a single direction-ordered output via
// internal/merge.
package messagesearch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chronobase/dataprovider/internal/apierr"
	"github.com/chronobase/dataprovider/internal/codec"
	"github.com/chronobase/dataprovider/internal/filter"
	"github.com/chronobase/dataprovider/internal/merge"
	"github.com/chronobase/dataprovider/internal/messageextract"
	"github.com/chronobase/dataprovider/internal/messageinit"
	"github.com/chronobase/dataprovider/internal/model"
	"github.com/chronobase/dataprovider/internal/sse"
	"github.com/chronobase/dataprovider/internal/store"
)

// Config holds the engine's tunables, bound from configuration.
type Config struct {
	Extract          messageextract.Config
	MergeBuffer      int
	EndInclusive     bool
	MaxMessagesLimit int // ceiling on ResultCountLimit; <=0 disables the ceiling
}

// Sink is the subset of internal/sse.Writer the engine drives.
type Sink interface {
	WriteMessage(payload any) error
	WriteLastScanned(t time.Time) error
	WriteStreamInfo(info sse.StreamInfo) error
}

// MessagePayload is what gets marshaled onto the wire for one matched
// message.
type MessagePayload struct {
	Id      model.MessageId `json:"id"`
	Message *model.Message  `json:"message,omitempty"`
}

// Engine runs one message search until every stream is exhausted or ctx
// is cancelled. The request's keepOpen flag is not read: the search ends
// when the extractors reach the end of their streams.
type Engine struct {
	gateway   store.Gateway
	converter *codec.Converter
	cfg       Config
}

func New(gateway store.Gateway, converter *codec.Converter, cfg Config) *Engine {
	return &Engine{gateway: gateway, converter: converter, cfg: cfg}
}

func (e *Engine) Run(ctx context.Context, req *model.SearchRequest, sink Sink) error {
	if err := req.Validate(); err != nil {
		return apierr.Wrap(apierr.InvalidRequest, "invalid search request", err)
	}
	if len(req.Streams) == 0 {
		return apierr.New(apierr.InvalidRequest, "message search requires at least one stream")
	}

	pred, err := filter.Build(req.Filters)
	if err != nil {
		return apierr.Wrap(apierr.InvalidRequest, "invalid filter spec", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	sources := make([]merge.Source, 0, len(req.Streams))
	for _, stream := range req.Streams {
		stream := stream
		startId, resumeSeq, startTime, err := e.resolveStart(gctx, req, stream)
		if err != nil {
			return err
		}

		extractor := messageextract.New(
			e.gateway, stream, req.Direction, e.cfg.Extract,
			startId, resumeSeq, startTime, req.EndTimestamp, e.cfg.EndInclusive,
		)
		filtered := make(chan model.StreamItem, 1)

		g.Go(func() error { return extractor.Run(gctx) })
		g.Go(func() error { return decodeAndFilter(gctx, e.converter, pred, extractor.Out, filtered) })

		sources = append(sources, merge.Source{Stream: stream, Items: filtered})
	}

	merger := merge.New(req.Direction, sources, e.cfg.MergeBuffer)
	g.Go(func() error { return merger.Run(gctx) })

	limit := int64(req.ResultCountLimit)
	if e.cfg.MaxMessagesLimit > 0 {
		if ceiling := int64(e.cfg.MaxMessagesLimit); limit <= 0 || limit > ceiling {
			limit = ceiling
		}
	}
	var emitted int64

	g.Go(func() error {
		for item := range merger.Out {
			if item.Kind != model.KindFilteredMessage || item.Filtered == nil {
				if item.IsTick() {
					if err := sink.WriteStreamInfo(sse.StreamInfo{
						Stream:          item.Stream.String(),
						StreamEmpty:     item.StreamEmpty,
						LastScannedTime: item.LastScannedTime,
					}); err != nil {
						return err
					}
				}
				continue
			}
			msg := item.Filtered.Message
			payload := MessagePayload{Id: msg.Id, Message: &msg}
			if err := sink.WriteMessage(payload); err != nil {
				return err
			}
			if err := sink.WriteLastScanned(item.LastScannedTime); err != nil {
				return err
			}
			emitted++
			if limit > 0 && emitted >= limit {
				cancel()
				return nil
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// resolveStart resolves t0 for one stream: the resume message's own
// timestamp/sequence when the resume
// id addresses this stream, else the request's startTimestamp.
func (e *Engine) resolveStart(ctx context.Context, req *model.SearchRequest, stream model.StreamKey) (*model.MessageId, *int64, *time.Time, error) {
	ini := messageinit.New(e.gateway)

	if req.ResumeFromId != nil && req.ResumeFromId.Message != nil && req.ResumeFromId.Message.Stream == stream {
		resumeTs := req.ResumeFromId.Message.Timestamp
		seq := req.ResumeFromId.Message.Sequence
		startId, err := ini.Locate(ctx, stream, resumeTs, req.Direction, req.LookupLimitDays, req.EndTimestamp)
		if err != nil {
			return nil, nil, nil, err
		}
		return startId, &seq, &resumeTs, nil
	}

	if req.StartTimestamp == nil {
		return nil, nil, nil, apierr.New(apierr.InvalidRequest, "missing startTimestamp")
	}
	startId, err := ini.Locate(ctx, stream, *req.StartTimestamp, req.Direction, req.LookupLimitDays, req.EndTimestamp)
	if err != nil {
		return nil, nil, nil, err
	}
	return startId, nil, req.StartTimestamp, nil
}

// decodeAndFilter drains in, decoding each RawBatch through the codec
// and unpacking it into FilteredMessage items evaluated against pred,
// forwarding EmptyTick items untouched so the merger's heartbeat keeps
// advancing this stream even when nothing passes the filter.
func decodeAndFilter(ctx context.Context, converter *codec.Converter, pred *filter.Pipeline, in <-chan model.StreamItem, out chan<- model.StreamItem) error {
	defer close(out)

	for item := range in {
		if item.Kind == model.KindEmptyTick {
			select {
			case out <- item:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		decoded, err := converter.Decode(ctx, item)
		if err != nil {
			return err
		}

		forwarded := false
		for _, unpacked := range converter.Unpack(decoded) {
			if unpacked.Filtered != nil && !pred.Apply(filter.Element{Message: &unpacked.Filtered.Message}) {
				continue
			}
			select {
			case out <- unpacked:
				forwarded = true
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		// Every message in this batch was filtered out: forward a tick
		// carrying the batch's progress so the merger still advances this
		// stream instead of stalling behind an unseen cursor.
		if !forwarded {
			select {
			case out <- model.StreamItem{
				Kind:            model.KindEmptyTick,
				Stream:          decoded.Stream,
				StreamEmpty:     decoded.StreamEmpty,
				LastProcessedId: decoded.LastProcessedId,
				LastScannedTime: decoded.LastScannedTime,
			}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
