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

// Package store defines the adapter over the backing columnar store and
// a retry decorator. cmd/server always wraps its gateway in the decorator;
// every search endpoint streams over SSE.
package store

import (
	"context"
	"time"

	"github.com/chronobase/dataprovider/internal/model"
)

// Order selects ascending or descending retrieval.
type Order string

const (
	Ascending  Order = "ASC"
	Descending Order = "DESC"
)

// MessageRelation selects how GetFirstMessageId resolves ties/absences.
type MessageRelation string

const (
	RelationFirstGreaterOrEqual MessageRelation = "FIRST_GE"
	RelationLastLessOrEqual     MessageRelation = "LAST_LE"
)

// MessageFilter selects a bounded, ordered slice of one stream's
// messages for MessageExtractor to fetch a batch at a time.
type MessageFilter struct {
	Stream    model.StreamKey
	FromId    *model.MessageId
	Limit     int
	Order     Order
}

// Gateway is the query surface every search engine depends on; a real
// deployment backs it with whatever database holds the messages/events.
//
// GetFirstMessageSequence, GetEventIds, and GetMessageIds round out the
// cross-reference lookups (attached-message/event-id filters, sequence
// lookups for a stream) that a complete store adapter exposes even
// though no search engine in this package calls them directly yet — they
// are part of the gateway's declared contract, exercised by the fakes in
// this package's tests.
type Gateway interface {
	GetEvents(ctx context.Context, start, end time.Time, order Order) ([]model.EventWrapper, error)
	GetEventsAfterResume(ctx context.Context, resumeId model.ProviderEventId, end time.Time, order Order) ([]model.EventWrapper, error)
	GetEventsBeforeResume(ctx context.Context, start time.Time, resumeId model.ProviderEventId, order Order) ([]model.EventWrapper, error)
	GetEvent(ctx context.Context, id model.ProviderEventId) (*model.EventWrapper, error)

	GetMessages(ctx context.Context, filter MessageFilter) (*model.MessageBatch, error)
	GetMessage(ctx context.Context, id model.MessageId) (*model.Message, error)
	GetFirstMessageId(ctx context.Context, ts time.Time, stream model.StreamKey, dir model.SearchDirection, relation MessageRelation) (*model.MessageId, error)
	GetFirstMessageSequence(ctx context.Context, stream model.StreamKey, dir model.SearchDirection) (int64, bool, error)

	GetEventIds(ctx context.Context, messageId model.MessageId) ([]model.ProviderEventId, error)
	GetMessageIds(ctx context.Context, eventId model.ProviderEventId) ([]model.MessageId, error)
}
