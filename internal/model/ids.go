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

// Package model defines the record identifiers, batch/wrapper types and
// pipeline items that flow through the streaming search engine.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Direction identifies one of the two legs of a stream.
type Direction string

const (
	DirectionFirst  Direction = "FIRST"
	DirectionSecond Direction = "SECOND"
)

func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(s) {
	case "FIRST":
		return DirectionFirst, nil
	case "SECOND":
		return DirectionSecond, nil
	default:
		return "", fmt.Errorf("invalid stream direction: %q", s)
	}
}

// SearchDirection is the direction a search scans in.
type SearchDirection string

const (
	After  SearchDirection = "AFTER"
	Before SearchDirection = "BEFORE"
)

// ParseSearchDirection maps the HTTP parameter values ("next"/"previous")
// onto SearchDirection.
func ParseSearchDirection(s string) (SearchDirection, error) {
	switch strings.ToLower(s) {
	case "next", "after", "":
		return After, nil
	case "previous", "before":
		return Before, nil
	default:
		return "", fmt.Errorf("invalid search direction: %q", s)
	}
}

// StreamKey identifies a logical stream.
type StreamKey struct {
	Name      string
	Direction Direction
}

func (k StreamKey) String() string {
	return k.Name + ":" + string(k.Direction)
}

// MessageId identifies a single stored message.
type MessageId struct {
	Stream    StreamKey
	Sequence  int64
	Timestamp time.Time
}

func (id MessageId) String() string {
	return fmt.Sprintf("%s:%d:%s", id.Stream, id.Sequence, id.Timestamp.Format(time.RFC3339Nano))
}

// ParseMessageId parses the wire form "stream:direction:sequence:timestamp".
func ParseMessageId(s string) (MessageId, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 {
		return MessageId{}, fmt.Errorf("invalid message id: %q", s)
	}
	dir, err := ParseDirection(parts[1])
	if err != nil {
		return MessageId{}, err
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return MessageId{}, fmt.Errorf("invalid message id sequence: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[3])
	if err != nil {
		return MessageId{}, fmt.Errorf("invalid message id timestamp: %w", err)
	}
	return MessageId{
		Stream:    StreamKey{Name: parts[0], Direction: dir},
		Sequence:  seq,
		Timestamp: ts,
	}, nil
}

// EventId is an opaque store-assigned identifier for a single test event.
type EventId string

// ProviderEventId addresses an event either standalone or inside a batch.
// BatchId is empty for a standalone event.
type ProviderEventId struct {
	BatchId EventId
	EventId EventId
}

func (id ProviderEventId) String() string {
	if id.BatchId == "" {
		return string(id.EventId)
	}
	return string(id.BatchId) + ">" + string(id.EventId)
}

// ParseProviderEventId parses the wire form produced by String().
func ParseProviderEventId(s string) ProviderEventId {
	if i := strings.IndexByte(s, '>'); i >= 0 {
		return ProviderEventId{BatchId: EventId(s[:i]), EventId: EventId(s[i+1:])}
	}
	return ProviderEventId{EventId: EventId(s)}
}

// ResumeId is either a MessageId or a ProviderEventId, parsed based on the
// search kind the caller is driving (events vs messages).
type ResumeId struct {
	Message *MessageId
	Event   *ProviderEventId
}
