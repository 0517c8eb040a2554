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

package store

import (
	"context"
	"time"

	"github.com/chronobase/dataprovider/internal/model"
)

var _ Gateway = (*RetryingGateway)(nil)

func (g *RetryingGateway) GetEvents(ctx context.Context, start, end time.Time, order Order) ([]model.EventWrapper, error) {
	var out []model.EventWrapper
	err := g.call(ctx, func() error {
		var err error
		out, err = g.inner.GetEvents(ctx, start, end, order)
		return err
	})
	return out, err
}

func (g *RetryingGateway) GetEventsAfterResume(ctx context.Context, resumeId model.ProviderEventId, end time.Time, order Order) ([]model.EventWrapper, error) {
	var out []model.EventWrapper
	err := g.call(ctx, func() error {
		var err error
		out, err = g.inner.GetEventsAfterResume(ctx, resumeId, end, order)
		return err
	})
	return out, err
}

func (g *RetryingGateway) GetEventsBeforeResume(ctx context.Context, start time.Time, resumeId model.ProviderEventId, order Order) ([]model.EventWrapper, error) {
	var out []model.EventWrapper
	err := g.call(ctx, func() error {
		var err error
		out, err = g.inner.GetEventsBeforeResume(ctx, start, resumeId, order)
		return err
	})
	return out, err
}

func (g *RetryingGateway) GetEvent(ctx context.Context, id model.ProviderEventId) (*model.EventWrapper, error) {
	var out *model.EventWrapper
	err := g.call(ctx, func() error {
		var err error
		out, err = g.inner.GetEvent(ctx, id)
		return err
	})
	return out, err
}

func (g *RetryingGateway) GetMessages(ctx context.Context, filter MessageFilter) (*model.MessageBatch, error) {
	var out *model.MessageBatch
	err := g.call(ctx, func() error {
		var err error
		out, err = g.inner.GetMessages(ctx, filter)
		return err
	})
	return out, err
}

func (g *RetryingGateway) GetMessage(ctx context.Context, id model.MessageId) (*model.Message, error) {
	var out *model.Message
	err := g.call(ctx, func() error {
		var err error
		out, err = g.inner.GetMessage(ctx, id)
		return err
	})
	return out, err
}

func (g *RetryingGateway) GetFirstMessageId(ctx context.Context, ts time.Time, stream model.StreamKey, dir model.SearchDirection, relation MessageRelation) (*model.MessageId, error) {
	var out *model.MessageId
	err := g.call(ctx, func() error {
		var err error
		out, err = g.inner.GetFirstMessageId(ctx, ts, stream, dir, relation)
		return err
	})
	return out, err
}

func (g *RetryingGateway) GetFirstMessageSequence(ctx context.Context, stream model.StreamKey, dir model.SearchDirection) (int64, bool, error) {
	var seq int64
	var found bool
	err := g.call(ctx, func() error {
		var err error
		seq, found, err = g.inner.GetFirstMessageSequence(ctx, stream, dir)
		return err
	})
	return seq, found, err
}

func (g *RetryingGateway) GetEventIds(ctx context.Context, messageId model.MessageId) ([]model.ProviderEventId, error) {
	var out []model.ProviderEventId
	err := g.call(ctx, func() error {
		var err error
		out, err = g.inner.GetEventIds(ctx, messageId)
		return err
	})
	return out, err
}

func (g *RetryingGateway) GetMessageIds(ctx context.Context, eventId model.ProviderEventId) ([]model.MessageId, error) {
	var out []model.MessageId
	err := g.call(ctx, func() error {
		var err error
		out, err = g.inner.GetMessageIds(ctx, eventId)
		return err
	})
	return out, err
}
