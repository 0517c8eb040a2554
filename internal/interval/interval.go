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

// Package interval generates the lazy, day-tiled sequence of search
// windows consumed by the event search engine. The message stream
// initializer and extractor walk days and store cursors on their own and
// do not use it.
package interval

import (
	"time"

	"github.com/chronobase/dataprovider/internal/model"
)

// SearchInterval is one half-open time window [From, To) to search, at
// most one UTC calendar day wide. StartWithGap is an overlap-widened
// lower bound — max(dayStart(From), From-gap) — that the store fetch
// should use instead of From, to catch records whose start lies just
// before the window but whose end falls inside it. ResumeId is attached
// only to the very first interval a Generator ever yields.
type SearchInterval struct {
	From         time.Time
	To           time.Time
	StartWithGap time.Time
	ResumeId     *model.ResumeId
}

// Generator produces one UTC-day tile per step, reversed order for
// BEFORE, with the first
// window carrying the gap prefix and resume id. Day-crossing is handled
// by the tiling itself — each step never spans more than one calendar
// day — which is what produces the two separate intervals a range that
// straddles UTC midnight needs. A Generator is lazy and restartable only
// from the start — create a new one to restart.
type Generator struct {
	direction model.SearchDirection
	end       time.Time
	hasEnd    bool
	gap       time.Duration
	resumeId  *model.ResumeId

	cursor time.Time
	first  bool
	done   bool
}

// New builds a Generator. t0 is the initial timestamp to start tiling
// from (the resume event's own timestamp when a resume id is present,
// else the request's startTimestamp). hasEnd false means unbounded (the
// ±∞ sentinel).
func New(direction model.SearchDirection, t0, end time.Time, hasEnd bool, gap time.Duration, resumeId *model.ResumeId) *Generator {
	return &Generator{
		direction: direction,
		end:       end,
		hasEnd:    hasEnd,
		gap:       gap,
		resumeId:  resumeId,
		cursor:    t0.UTC(),
		first:     true,
	}
}

// Next yields the next SearchInterval in tiling order, or ok=false once
// the cursor has crossed the terminal timestamp.
func (g *Generator) Next() (SearchInterval, bool) {
	if g.done {
		return SearchInterval{}, false
	}
	if g.direction == model.After {
		return g.nextAfter()
	}
	return g.nextBefore()
}

func (g *Generator) nextAfter() (SearchInterval, bool) {
	a := g.cursor
	if g.hasEnd && !a.Before(g.end) {
		g.done = true
		return SearchInterval{}, false
	}

	b := dayEnd(a)
	if g.hasEnd && b.After(g.end) {
		b = g.end
	}

	iv := g.finish(a, b)
	g.cursor = b
	if g.hasEnd && !b.Before(g.end) {
		g.done = true
	}
	return iv, true
}

func (g *Generator) nextBefore() (SearchInterval, bool) {
	b := g.cursor
	if g.hasEnd && !b.After(g.end) {
		g.done = true
		return SearchInterval{}, false
	}

	a := dayStart(b)
	if a.Equal(b) {
		a = a.AddDate(0, 0, -1)
	}
	if g.hasEnd && a.Before(g.end) {
		a = g.end
	}

	iv := g.finish(a, b)
	g.cursor = a
	if g.hasEnd && !a.After(g.end) {
		g.done = true
	}
	return iv, true
}

// finish attaches the gap prefix and, on the very first window ever
// produced, the resume id.
func (g *Generator) finish(a, b time.Time) SearchInterval {
	iv := SearchInterval{From: a, To: b}

	lo := dayStart(a)
	gapped := a.Add(-g.gap)
	if gapped.Before(lo) {
		gapped = lo
	}
	iv.StartWithGap = gapped

	if g.first {
		iv.ResumeId = g.resumeId
		g.first = false
	}
	return iv
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dayEnd(t time.Time) time.Time {
	return dayStart(t).AddDate(0, 0, 1)
}
