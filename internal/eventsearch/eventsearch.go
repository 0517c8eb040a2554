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

// Package eventsearch implements the EventSearchEngine: interval ->
// store fetch -> wrapper expansion -> resume-trim -> filter ->
// per-parent cap -> global cap -> writer.
package eventsearch

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/chronobase/dataprovider/internal/apierr"
	"github.com/chronobase/dataprovider/internal/filter"
	"github.com/chronobase/dataprovider/internal/interval"
	"github.com/chronobase/dataprovider/internal/metrics"
	"github.com/chronobase/dataprovider/internal/model"
	"github.com/chronobase/dataprovider/internal/store"
)

// Config holds the engine's tunables, bound from configuration.
type Config struct {
	PipelineBuffer int
	Gap            time.Duration
	SearchDelay    time.Duration // poll cadence for keepOpen tailing once caught up
}

// Sink is the subset of internal/sse.Writer the engine drives.
type Sink interface {
	WriteEvent(payload any) error
	WriteLastScanned(t time.Time) error
}

// EventPayload is what gets marshaled onto the wire for one matched
// event: the full Event, or its metadata-only projection when the
// request set metadataOnly.
type EventPayload struct {
	Id    model.ProviderEventId `json:"id"`
	Event *model.Event          `json:"event,omitempty"`
	Node  *model.EventTreeNode  `json:"node,omitempty"`
}

// Engine runs one event search to completion (bounded list) or until ctx
// is cancelled (keepOpen SSE).
type Engine struct {
	gateway store.Gateway
	metrics *metrics.Registry
	cfg     Config
}

func New(gateway store.Gateway, m *metrics.Registry, cfg Config) *Engine {
	return &Engine{gateway: gateway, metrics: m, cfg: cfg}
}

// record is one expanded event plus the identity under which it was
// reached (its own id, and — for batch members — the shared batch id).
type record struct {
	event    model.Event
	id       model.ProviderEventId
	parentId model.EventId
}

// Run drives the full interval/fetch/expand/trim/filter/cap pipeline.
func (e *Engine) Run(ctx context.Context, req *model.SearchRequest, sink Sink) error {
	if err := req.Validate(); err != nil {
		return apierr.Wrap(apierr.InvalidRequest, "invalid search request", err)
	}

	if req.ParentEvent != nil && req.ParentEvent.BatchId != "" {
		return e.runSingleBatch(ctx, req, sink)
	}
	return e.runIntervals(ctx, req, sink)
}

// runSingleBatch implements the "parentEvent.batchId present" branch of
// step 1: fetch exactly that batch, no interval scan.
func (e *Engine) runSingleBatch(ctx context.Context, req *model.SearchRequest, sink Sink) error {
	wrapper, err := e.gateway.GetEvent(ctx, *req.ParentEvent)
	if err != nil {
		return err
	}
	if wrapper == nil {
		return apierr.New(apierr.NotFound, "parent event batch not found")
	}

	recs := expand(*wrapper, req.Direction, req.ParentEvent)
	p := newPipeline(req, e.metrics)
	return p.emitAll(recs, sink)
}

func (e *Engine) runIntervals(ctx context.Context, req *model.SearchRequest, sink Sink) error {
	t0, err := e.initialTimestamp(ctx, req)
	if err != nil {
		return err
	}

	hasEnd := req.EndTimestamp != nil
	var end time.Time
	if hasEnd {
		end = *req.EndTimestamp
	}

	p := newPipeline(req, e.metrics)
	cursor := t0
	resumeId := req.ResumeFromId
	keepOpen := req.KeepOpen && req.EndTimestamp == nil
	if keepOpen && req.Direction == model.After {
		// the first pass of an open-ended AFTER search stops at the
		// current time; later passes tail forward from there.
		end = time.Now().UTC()
		hasEnd = true
	}

	for {
		gen := interval.New(req.Direction, cursor, end, hasEnd, e.cfg.Gap, resumeId)
		drained, lastSeen, err := e.drainGenerator(ctx, req, gen, sink, p)
		if err != nil {
			return err
		}
		if p.globalCapReached() {
			return nil
		}
		if !keepOpen {
			return nil
		}
		if drained && !lastSeen.IsZero() {
			cursor = lastSeen
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.SearchDelay):
		}
		// subsequent passes never re-apply the resume id: it was only
		// valid for the very first interval of the very first pass.
		resumeId = nil
		end = time.Now().UTC()
		hasEnd = true
	}
}

// drainGenerator pulls every interval out of gen, fetching, expanding,
// and feeding the pipeline, using a bounded prefetch buffer so the next
// interval's fetch runs concurrently with the current interval's
// pipeline stages, concurrently prefetched via a bounded buffer.
func (e *Engine) drainGenerator(ctx context.Context, req *model.SearchRequest, gen *interval.Generator, sink Sink, p *pipeline) (bool, time.Time, error) {
	type fetched struct {
		iv   interval.SearchInterval
		recs []record
		err  error
	}

	buf := e.cfg.PipelineBuffer
	if buf <= 0 {
		buf = 1
	}
	ch := make(chan fetched, buf)

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer close(ch)
		for {
			iv, ok := gen.Next()
			if !ok {
				return
			}
			recs, err := e.fetchInterval(fetchCtx, req, iv)
			select {
			case ch <- fetched{iv: iv, recs: recs, err: err}:
			case <-fetchCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var lastSeen time.Time
	drained := true

	for f := range ch {
		if f.err != nil {
			return drained, lastSeen, f.err
		}
		if err := p.emitAll(f.recs, sink); err != nil {
			return drained, lastSeen, err
		}
		if err := sink.WriteLastScanned(f.iv.To); err != nil {
			return drained, lastSeen, err
		}
		lastSeen = f.iv.To
		if p.globalCapReached() {
			drained = false
			return drained, lastSeen, nil
		}

		select {
		case <-ctx.Done():
			return drained, lastSeen, ctx.Err()
		default:
		}
	}
	return drained, lastSeen, nil
}

func (e *Engine) fetchInterval(ctx context.Context, req *model.SearchRequest, iv interval.SearchInterval) ([]record, error) {
	order := store.Ascending
	if req.Direction == model.Before {
		order = store.Descending
	}

	var wrappers []model.EventWrapper
	var err error

	switch {
	case iv.ResumeId != nil && iv.ResumeId.Event != nil && req.Direction == model.After:
		wrappers, err = e.gateway.GetEventsAfterResume(ctx, *iv.ResumeId.Event, iv.To, order)
	case iv.ResumeId != nil && iv.ResumeId.Event != nil && req.Direction == model.Before:
		wrappers, err = e.gateway.GetEventsBeforeResume(ctx, iv.StartWithGap, *iv.ResumeId.Event, order)
	default:
		wrappers, err = e.gateway.GetEvents(ctx, iv.StartWithGap, iv.To, order)
	}
	if err != nil {
		return nil, err
	}

	var recs []record
	for _, w := range wrappers {
		recs = append(recs, expand(w, req.Direction, req.ParentEvent)...)
	}
	return recs, nil
}

// initialTimestamp resolves t0: the resume event's own Start (AFTER) or
// End (BEFORE) timestamp when a resume id is present, else the request's
// startTimestamp.
func (e *Engine) initialTimestamp(ctx context.Context, req *model.SearchRequest) (time.Time, error) {
	if req.ResumeFromId != nil && req.ResumeFromId.Event != nil {
		wrapper, err := e.gateway.GetEvent(ctx, *req.ResumeFromId.Event)
		if err != nil {
			return time.Time{}, err
		}
		if wrapper == nil {
			return time.Time{}, apierr.New(apierr.InvalidRequest, "resume event not found")
		}
		ev, ok := wrapper.Lookup(req.ResumeFromId.Event.EventId)
		if !ok {
			return time.Time{}, apierr.New(apierr.InvalidRequest, "resume event not found in batch")
		}
		if req.Direction == model.After {
			return ev.Start, nil
		}
		return ev.End, nil
	}
	if req.StartTimestamp == nil {
		return time.Time{}, apierr.New(apierr.InvalidRequest, "missing startTimestamp")
	}
	return *req.StartTimestamp, nil
}

// expand unpacks one wrapper: batch -> iterate contained events,
// optionally filtered to parentEventId; single -> include iff
// parentEventId is nil or matches. In-batch order follows direction.
func expand(w model.EventWrapper, dir model.SearchDirection, parentFilter *model.ProviderEventId) []record {
	if single, ok := w.Single(); ok {
		if parentFilter != nil && single.ParentId != parentFilter.EventId {
			return nil
		}
		return []record{{event: single, id: model.ProviderEventId{EventId: single.Id}, parentId: single.ParentId}}
	}

	if parentFilter != nil && w.ParentId() != parentFilter.EventId {
		return nil
	}

	events := append([]model.Event(nil), w.Events()...)
	if dir == model.Before {
		for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
			events[i], events[j] = events[j], events[i]
		}
	}

	out := make([]record, 0, len(events))
	for _, ev := range events {
		out = append(out, record{
			event:    ev,
			id:       model.ProviderEventId{BatchId: w.BatchId(), EventId: ev.Id},
			parentId: w.ParentId(),
		})
	}
	return out
}

const cappedSentinel = int64(math.MaxInt64)

// parentCounter admits children of a parent until limitForParent is
// reached; once capped, also marks the rejected child's own id with the
// sentinel so its descendants are suppressed without ever being counted
// against their own (uncapped) parent bucket.
type parentCounter struct {
	mu     sync.Mutex
	counts map[model.EventId]int64
	limit  int64
	onCap  func()
}

func newParentCounter(limit int64, onCap func()) *parentCounter {
	return &parentCounter{counts: make(map[model.EventId]int64), limit: limit, onCap: onCap}
}

func (pc *parentCounter) admit(parentId, selfId model.EventId) bool {
	if pc.limit <= 0 {
		return true
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()

	c := pc.counts[parentId]
	if c >= pc.limit {
		pc.counts[selfId] = cappedSentinel
		if pc.onCap != nil {
			pc.onCap()
		}
		return false
	}
	pc.counts[parentId] = c + 1
	return true
}

// resumeTrimmer buffers records until the resume id is located, then
// discards everything up to and including it. It is stateful across the
// whole run but only active until the resume id is located
// or conclusively passed; after that every record passes through
// untouched.
type resumeTrimmer struct {
	active       bool
	dir          model.SearchDirection
	startTs      time.Time
	resumeId     model.ProviderEventId
	head         []record
}

func newResumeTrimmer(req *model.SearchRequest) *resumeTrimmer {
	if req.ResumeFromId == nil || req.ResumeFromId.Event == nil || req.StartTimestamp == nil {
		return &resumeTrimmer{active: false}
	}
	return &resumeTrimmer{
		active:   true,
		dir:      req.Direction,
		startTs:  *req.StartTimestamp,
		resumeId: *req.ResumeFromId.Event,
	}
}

// process consumes one record, returning the records (if any) that
// should continue to the filter stage.
func (rt *resumeTrimmer) process(r record) []record {
	if !rt.active {
		return []record{r}
	}

	if providerIdEquals(r.id, rt.resumeId) {
		// resume id found: discard the buffered head (it necessarily
		// precedes the resume id) and never emit the resume id itself.
		rt.head = nil
		rt.active = false
		return nil
	}

	onResumeSide := r.event.Start.Before(rt.startTs) || r.event.Start.Equal(rt.startTs)
	if rt.dir == model.Before {
		onResumeSide = r.event.Start.After(rt.startTs) || r.event.Start.Equal(rt.startTs)
	}
	if onResumeSide {
		rt.head = append(rt.head, r)
		return nil
	}

	// strictly past startTimestamp before the resume id was ever seen:
	// defensive flush (resume event may not be present in range).
	rt.active = false
	out := rt.head
	rt.head = nil
	out = append(out, r)
	return out
}

func providerIdEquals(a, b model.ProviderEventId) bool {
	return a.BatchId == b.BatchId && a.EventId == b.EventId
}

// pipeline bundles the per-run resume-trim/filter/cap/global-cap state
// (steps 3-6), shared across every interval of one search.
type pipeline struct {
	req       *model.SearchRequest
	trimmer   *resumeTrimmer
	predicate *filter.Pipeline
	parentCap *parentCounter
	emitted   int64
	limit     int64
}

func newPipeline(req *model.SearchRequest, m *metrics.Registry) *pipeline {
	pred, err := filter.Build(req.Filters)
	if err != nil {
		pred = &filter.Pipeline{}
	}
	var onCap func()
	if m != nil {
		onCap = func() { m.ParentEventCapped.Inc() }
	}
	return &pipeline{
		req:       req,
		trimmer:   newResumeTrimmer(req),
		predicate: pred,
		parentCap: newParentCounter(int64(req.LimitForParent), onCap),
		limit:     int64(req.ResultCountLimit),
	}
}

func (p *pipeline) globalCapReached() bool {
	return p.limit > 0 && p.emitted >= p.limit
}

func (p *pipeline) emitAll(recs []record, sink Sink) error {
	for _, r := range recs {
		if p.globalCapReached() {
			return nil
		}
		for _, trimmed := range p.trimmer.process(r) {
			if err := p.emitOne(trimmed, sink); err != nil {
				return err
			}
			if p.globalCapReached() {
				return nil
			}
		}
	}
	return nil
}

func (p *pipeline) emitOne(r record, sink Sink) error {
	if !p.predicate.Apply(filter.Element{Event: &r.event}) {
		return nil
	}
	if p.req.StartTimestamp != nil {
		if p.req.Direction == model.After && r.event.Start.Before(*p.req.StartTimestamp) {
			return nil
		}
		if p.req.Direction == model.Before && r.event.Start.After(*p.req.StartTimestamp) {
			return nil
		}
	}
	if !p.parentCap.admit(r.parentId, r.event.Id) {
		return nil
	}

	p.emitted++

	payload := EventPayload{Id: r.id}
	if p.req.MetadataOnly {
		node := r.event.Node()
		payload.Node = &node
	} else {
		ev := r.event
		payload.Event = &ev
	}
	return sink.WriteEvent(payload)
}
