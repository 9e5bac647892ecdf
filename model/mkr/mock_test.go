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
	"slices"

	"github.com/gorse-io/mkr/base"
	"github.com/gorse-io/mkr/dataset"
)

// mockModel records every call and scores items by a fixed function.
type mockModel struct {
	rsFeeds   []RSFeed
	kgeFeeds  []KGEFeed
	evalFeeds []RSFeed
	tables    EmbeddingTables
	weight    [][]float32
	loss      float32
	score     func(user, item int32) float32
}

func newMockModel(vocab dataset.Vocabulary, dim int) *mockModel {
	rng := base.NewRandomGenerator(0)
	return &mockModel{
		tables: EmbeddingTables{
			User:     rng.NormalMatrix(vocab.NUsers, dim, 0, 1),
			Item:     rng.NormalMatrix(vocab.NItems, dim, 0, 1),
			Entity:   rng.NormalMatrix(vocab.NEntities, dim, 0, 1),
			Relation: rng.NormalMatrix(vocab.NRelations, dim, 0, 1),
		},
		weight: [][]float32{{1, 2}, {3, 4}},
		loss:   0.5,
		score: func(_, item int32) float32 {
			return float32(item)
		},
	}
}

func (m *mockModel) TrainRS(feed *RSFeed) (float32, error) {
	m.rsFeeds = append(m.rsFeeds, RSFeed{
		Users:   slices.Clone(feed.Users),
		Items:   slices.Clone(feed.Items),
		Heads:   slices.Clone(feed.Heads),
		Labels:  slices.Clone(feed.Labels),
		Dropout: feed.Dropout,
	})
	return m.loss, nil
}

func (m *mockModel) TrainKGE(feed *KGEFeed) (float32, error) {
	m.kgeFeeds = append(m.kgeFeeds, KGEFeed{
		Items:     slices.Clone(feed.Items),
		Heads:     slices.Clone(feed.Heads),
		Relations: slices.Clone(feed.Relations),
		Tails:     slices.Clone(feed.Tails),
		Dropout:   feed.Dropout,
	})
	return 1, nil
}

func (m *mockModel) Evaluate(feed *RSFeed) (float32, float32, error) {
	m.evalFeeds = append(m.evalFeeds, RSFeed{
		Users:  slices.Clone(feed.Users),
		Items:  slices.Clone(feed.Items),
		Labels: slices.Clone(feed.Labels),
	})
	return 0.75, 0.5, nil
}

func (m *mockModel) ScoreItems(user int32, items []int32) ([]int32, []float32, error) {
	scores := make([]float32, len(items))
	for i, item := range items {
		scores[i] = m.score(user, item)
	}
	return items, scores, nil
}

func (m *mockModel) GetEmbeddingTables() EmbeddingTables {
	return m.tables
}

func (m *mockModel) SetEmbeddingTables(tables EmbeddingTables) error {
	m.tables = tables
	return nil
}

func (m *mockModel) Parameters() Parameters {
	return Parameters{
		UserEmbedding:     m.tables.User,
		ItemEmbedding:     m.tables.Item,
		EntityEmbedding:   m.tables.Entity,
		RelationEmbedding: m.tables.Relation,
		"weight":          m.weight,
	}
}

// newGridData creates interactions between every user and every item. An
// interaction is positive if user + item is even.
func newGridData(nUsers, nItems int) *dataset.Interactions {
	data := dataset.NewInteractions(nUsers * nItems)
	for u := 0; u < nUsers; u++ {
		for i := 0; i < nItems; i++ {
			data.Append(int32(u), int32(i), float32((u+i+1)%2))
		}
	}
	return data
}
