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
	"fmt"

	"github.com/gorse-io/mkr/dataset"
)

const DefaultDropout = 0.5

// RSFeed is a batch of the recommendation task. Heads shares the column of
// Items since items and head entities share the index space.
type RSFeed struct {
	Users   []int32
	Items   []int32
	Heads   []int32
	Labels  []float32
	Dropout float32
}

func (f *RSFeed) Len() int {
	return len(f.Users)
}

// KGEFeed is a batch of the knowledge graph task. Items shares the column of
// Heads.
type KGEFeed struct {
	Items     []int32
	Heads     []int32
	Relations []int32
	Tails     []int32
	Dropout   float32
}

func (f *KGEFeed) Len() int {
	return len(f.Heads)
}

// SliceRS returns interactions in [start, end). The end is clamped to the
// length of the dataset.
func SliceRS(data *dataset.Interactions, start, end int, dropout float32) *RSFeed {
	start, end = clamp(start, end, data.Len())
	items := data.Items[start:end]
	return &RSFeed{
		Users:   data.Users[start:end],
		Items:   items,
		Heads:   items,
		Labels:  data.Labels[start:end],
		Dropout: dropout,
	}
}

// SliceKGE returns triples in [start, end). The end is clamped to the length
// of the dataset.
func SliceKGE(kg *dataset.Triples, start, end int, dropout float32) *KGEFeed {
	start, end = clamp(start, end, kg.Len())
	heads := kg.Heads[start:end]
	return &KGEFeed{
		Items:     heads,
		Heads:     heads,
		Relations: kg.Relations[start:end],
		Tails:     kg.Tails[start:end],
		Dropout:   dropout,
	}
}

func clamp(start, end, n int) (int, int) {
	if start < 0 || start > end {
		panic(fmt.Sprintf("invalid batch [%d:%d]", start, end))
	}
	end = min(end, n)
	start = min(start, end)
	return start, end
}
