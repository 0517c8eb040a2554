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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleEventWrapper(t *testing.T) {
	e := Event{Id: "evt-1", Name: "step", Start: time.Now(), End: time.Now()}
	w := NewSingleEventWrapper(e)

	assert.False(t, w.IsBatch())
	got, ok := w.Single()
	require.True(t, ok)
	assert.Equal(t, e.Id, got.Id)

	found, ok := w.Lookup("evt-1")
	require.True(t, ok)
	assert.Equal(t, e.Id, found.Id)

	_, ok = w.Lookup("missing")
	assert.False(t, ok)
}

func TestBatchEventWrapper(t *testing.T) {
	base := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{Id: "evt-1", ParentId: "parent-1", Start: base, End: base.Add(time.Second)},
		{Id: "evt-2", ParentId: "parent-1", Start: base.Add(time.Second), End: base.Add(2 * time.Second)},
	}
	w, err := NewBatchEventWrapper("batch-1", "parent-1", events)
	require.NoError(t, err)

	assert.True(t, w.IsBatch())
	assert.Equal(t, EventId("batch-1"), w.BatchId())
	assert.Equal(t, EventId("parent-1"), w.ParentId())
	assert.Len(t, w.Events(), 2)

	found, ok := w.Lookup("evt-2")
	require.True(t, ok)
	assert.Equal(t, events[1].Start, found.Start)

	_, ok = w.Single()
	assert.False(t, ok)
}

func TestBatchEventWrapperRejectsDuplicateId(t *testing.T) {
	base := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{Id: "evt-1", Start: base, End: base},
		{Id: "evt-1", Start: base, End: base},
	}
	_, err := NewBatchEventWrapper("batch-1", "parent-1", events)
	assert.Error(t, err)
}

func TestBatchEventWrapperRejectsInvertedInterval(t *testing.T) {
	base := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{Id: "evt-1", Start: base.Add(time.Second), End: base},
	}
	_, err := NewBatchEventWrapper("batch-1", "parent-1", events)
	assert.Error(t, err)
}
