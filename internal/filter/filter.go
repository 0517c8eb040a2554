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

// Package filter implements the FilterPipeline: a closed set of
// predicate kinds, each configured by a {negative, conjunct,
// values} triple, combined into a single boolean apply(element) contract
// evaluated lazily so body materialization can be skipped when no
// configured predicate needs it.
package filter

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/chronobase/dataprovider/internal/model"
)

// Need is a bitmask of lazily-materialized data a predicate requires.
type Need uint8

const (
	NeedNone Need = 0
	NeedBody Need = 1 << iota
)

// Element is the value a predicate is evaluated against: exactly one of
// Event or Message is set, matching what the caller (EventSearchEngine or
// the message pipeline) is filtering.
type Element struct {
	Event   *model.Event
	Message *model.Message
}

// matchFunc evaluates a single filter kind against a single configured
// value; Pipeline combines these with the filter's negative/conjunct
// semantics.
type matchFunc func(value string, el Element) bool

type predicate struct {
	kind     model.FilterKind
	negative bool
	conjunct bool
	values   []string
	needs    Need
	match    matchFunc
}

func (p *predicate) apply(el Element) bool {
	var result bool
	if p.conjunct {
		result = true
		for _, v := range p.values {
			if !p.match(v, el) {
				result = false
				break
			}
		}
	} else {
		result = false
		for _, v := range p.values {
			if p.match(v, el) {
				result = true
				break
			}
		}
	}
	if p.negative {
		result = !result
	}
	return result
}

// Pipeline is the built, ready-to-evaluate predicate tree for one search
// request: every configured FilterSpec ANDed together.
type Pipeline struct {
	predicates []*predicate
}

// Build compiles a request's FilterSpecs into a Pipeline. An empty spec
// list builds a pipeline that matches everything.
func Build(specs []model.FilterSpec) (*Pipeline, error) {
	p := &Pipeline{predicates: make([]*predicate, 0, len(specs))}
	for _, s := range specs {
		m, needs, err := matcherFor(s.Kind)
		if err != nil {
			return nil, err
		}
		if len(s.Values) == 0 {
			return nil, fmt.Errorf("filter %q requires at least one value", s.Kind)
		}
		p.predicates = append(p.predicates, &predicate{
			kind:     s.Kind,
			negative: s.Negative,
			conjunct: s.Conjunct,
			values:   s.Values,
			needs:    needs,
			match:    m,
		})
	}
	return p, nil
}

// Needs returns the union of every predicate's data requirements, so the
// caller can decide once whether to materialize the message/event body
// before evaluating.
func (p *Pipeline) Needs() Need {
	var n Need
	for _, pred := range p.predicates {
		n |= pred.needs
	}
	return n
}

// Apply reports whether el passes every configured predicate. An empty
// pipeline passes everything.
func (p *Pipeline) Apply(el Element) bool {
	for _, pred := range p.predicates {
		if !pred.apply(el) {
			return false
		}
	}
	return true
}

func matcherFor(kind model.FilterKind) (matchFunc, Need, error) {
	switch kind {
	case model.FilterEventText:
		return func(v string, el Element) bool {
			if el.Event == nil {
				return false
			}
			return strings.Contains(el.Event.Name, v) ||
				strings.Contains(el.Event.Type, v) ||
				strings.Contains(string(el.Event.Body), v)
		}, NeedBody, nil

	case model.FilterAttachedMessageId:
		return func(v string, el Element) bool {
			if el.Event == nil {
				return false
			}
			return containsString(el.Event.AttachedMessageIds, v)
		}, NeedNone, nil

	case model.FilterAttachedEventId:
		return func(v string, el Element) bool {
			if el.Message == nil {
				return false
			}
			return el.Message.Metadata["attachedEventId"] == v
		}, NeedNone, nil

	case model.FilterMessageType:
		return func(v string, el Element) bool {
			if el.Message == nil {
				return false
			}
			return el.Message.Type == v
		}, NeedNone, nil

	case model.FilterBodyText:
		return func(v string, el Element) bool {
			if el.Message == nil {
				return false
			}
			return strings.Contains(string(el.Message.Body), v)
		}, NeedBody, nil

	case model.FilterBodyBinary:
		return func(v string, el Element) bool {
			if el.Message == nil {
				return false
			}
			needle, err := hex.DecodeString(v)
			if err != nil {
				return false
			}
			return bytes.Contains(el.Message.Body, needle)
		}, NeedBody, nil

	case model.FilterParentEvent:
		return func(v string, el Element) bool {
			if el.Event == nil {
				return false
			}
			return string(el.Event.ParentId) == v
		}, NeedNone, nil

	case model.FilterAttachedEventIds:
		return func(v string, el Element) bool {
			if el.Event == nil {
				return false
			}
			return containsString(el.Event.AttachedEventIds, v)
		}, NeedNone, nil

	default:
		return nil, NeedNone, fmt.Errorf("unknown filter kind: %q", kind)
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
