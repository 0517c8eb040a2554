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

// FilterKind is the closed set of predicate kinds a search request may
// filter on.
type FilterKind string

const (
	FilterEventText         FilterKind = "event-text"
	FilterAttachedMessageId FilterKind = "attached-message-id"
	FilterAttachedEventId   FilterKind = "attached-event-id"
	FilterMessageType       FilterKind = "message-type"
	FilterBodyText          FilterKind = "body-text"
	FilterBodyBinary        FilterKind = "body-binary"
	FilterParentEvent       FilterKind = "parent-event"
	FilterAttachedEventIds  FilterKind = "attached-event-ids"
)

// FilterSpec is one {name}-negative/{name}-conjunct/{name}-values triple
// from the HTTP query string.
type FilterSpec struct {
	Kind     FilterKind
	Negative bool
	Conjunct bool
	Values   []string
}

// SearchRequest is the validated, direction-normalized representation of
// an incoming search.
type SearchRequest struct {
	Direction        SearchDirection
	StartTimestamp   *time.Time
	EndTimestamp     *time.Time
	ResumeFromId     *ResumeId
	Streams          []StreamKey
	Filters          []FilterSpec
	ParentEvent      *ProviderEventId
	LimitForParent   int
	KeepOpen         bool
	MetadataOnly     bool
	AttachedMessages bool
	LookupLimitDays  *int
	ResultCountLimit int
}

// Validate enforces the request's validation rule: at least one of
// StartTimestamp or ResumeFromId must be present, and direction-consistent
// timestamp ordering.
func (r *SearchRequest) Validate() error {
	if r.StartTimestamp == nil && r.ResumeFromId == nil {
		return fmt.Errorf("search request requires startTimestamp or resumeFromId")
	}
	if r.StartTimestamp != nil && r.EndTimestamp != nil {
		switch r.Direction {
		case After:
			if r.StartTimestamp.After(*r.EndTimestamp) {
				return fmt.Errorf("AFTER search requires startTimestamp <= endTimestamp")
			}
		case Before:
			if r.StartTimestamp.Before(*r.EndTimestamp) {
				return fmt.Errorf("BEFORE search requires startTimestamp >= endTimestamp")
			}
		}
	}
	return nil
}
