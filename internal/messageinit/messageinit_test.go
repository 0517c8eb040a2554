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

package messageinit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronobase/dataprovider/internal/model"
	"github.com/chronobase/dataprovider/internal/store/faketest"
)

func seed(g *faketest.Gateway, s model.StreamKey, base time.Time, n int) {
	msgs := make([]model.Message, n)
	for i := 0; i < n; i++ {
		msgs[i] = model.Message{Id: model.MessageId{
			Stream: s, Sequence: int64(i + 1), Timestamp: base.Add(time.Duration(i) * time.Minute),
		}}
	}
	g.SeedMessages(s, msgs...)
}

func TestLocateAfterFindsNearestAtOrAfterStart(t *testing.T) {
	g := faketest.New()
	s := model.StreamKey{Name: "stream-a", Direction: model.DirectionFirst}
	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	seed(g, s, base, 5) // 10:00, 10:01, ... 10:04

	ini := New(g)
	id, err := ini.Locate(context.Background(), s, base.Add(90*time.Second), model.After, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, int64(3), id.Sequence) // 10:02
}

func TestLocateBeforeFindsNearestAtOrBeforeStart(t *testing.T) {
	g := faketest.New()
	s := model.StreamKey{Name: "stream-a", Direction: model.DirectionFirst}
	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	seed(g, s, base, 5)

	ini := New(g)
	id, err := ini.Locate(context.Background(), s, base.Add(90*time.Second), model.Before, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, int64(2), id.Sequence) // 10:01
}

func TestLocateReturnsNilWhenStreamEmpty(t *testing.T) {
	g := faketest.New()
	s := model.StreamKey{Name: "stream-a", Direction: model.DirectionFirst}

	ini := New(g)
	limit := 3
	id, err := ini.Locate(context.Background(), s, time.Now(), model.After, &limit, nil)
	require.NoError(t, err)
	assert.Nil(t, id)
}
