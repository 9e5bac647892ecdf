// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mkr

import (
	"testing"

	"github.com/gorse-io/mkr/base"
	"github.com/gorse-io/mkr/dataset"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

func TestSliceRS(t *testing.T) {
	data := newGridData(4, 3)
	feed := SliceRS(data, 2, 6, DefaultDropout)
	assert.Equal(t, 4, feed.Len())
	assert.Equal(t, data.Users[2:6], feed.Users)
	assert.Equal(t, data.Items[2:6], feed.Items)
	assert.Equal(t, data.Labels[2:6], feed.Labels)
	assert.Equal(t, float32(0.5), feed.Dropout)
	// heads share the item column
	assert.Same(t, &feed.Items[0], &feed.Heads[0])

	// clamp the end
	feed = SliceRS(data, 8, 100, 0.1)
	assert.Equal(t, 4, feed.Len())
	assert.Equal(t, float32(0.1), feed.Dropout)
	// empty batch
	feed = SliceRS(data, 5, 5, 0.5)
	assert.Zero(t, feed.Len())
	feed = SliceRS(data, 20, 30, 0.5)
	assert.Zero(t, feed.Len())
	// invalid window
	assert.Panics(t, func() { SliceRS(data, -1, 2, 0.5) })
	assert.Panics(t, func() { SliceRS(data, 3, 2, 0.5) })
}

func TestSliceKGE(t *testing.T) {
	kg := dataset.NewTriples(0)
	kg.Append(1, 0, 2)
	kg.Append(2, 1, 3)
	kg.Append(3, 0, 4)
	feed := SliceKGE(kg, 1, 3, DefaultDropout)
	assert.Equal(t, 2, feed.Len())
	assert.Equal(t, []int32{2, 3}, feed.Heads)
	assert.Equal(t, []int32{2, 3}, feed.Items)
	assert.Equal(t, []int32{1, 0}, feed.Relations)
	assert.Equal(t, []int32{3, 4}, feed.Tails)
	assert.Same(t, &feed.Items[0], &feed.Heads[0])
	assert.Equal(t, float32(0.5), feed.Dropout)
	assert.Zero(t, SliceKGE(dataset.NewTriples(0), 0, 4, 0.5).Len())
}

func TestBatchExhaustive(t *testing.T) {
	rng := base.NewRandomGenerator(0)
	data := dataset.NewInteractions(0)
	for i := 0; i < 103; i++ {
		data.Append(int32(i), int32(i%7), float32(i%2))
	}
	data.Shuffle(rng)
	for _, batchSize := range []int{1, 10, 103, 200} {
		var users []int32
		for start := 0; start < data.Len(); start += batchSize {
			feed := SliceRS(data, start, start+batchSize, DefaultDropout)
			assert.LessOrEqual(t, feed.Len(), batchSize)
			users = append(users, feed.Users...)
		}
		// every record exactly once
		assert.Equal(t, data.Users, users)
		assert.Len(t, lo.Uniq(users), 103)
	}
}
