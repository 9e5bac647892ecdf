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
	"github.com/juju/errors"
)

// Names of embedding variables. They are excluded from checkpoint restore
// since embedding tables are transferred as text matrices.
const (
	UserEmbedding     = "user_emb_matrix"
	ItemEmbedding     = "item_emb_matrix"
	EntityEmbedding   = "entity_emb_matrix"
	RelationEmbedding = "relation_emb_matrix"
)

var EmbeddingNames = []string{UserEmbedding, ItemEmbedding, EntityEmbedding, RelationEmbedding}

// EmbeddingTables are the four embedding tables of a model.
type EmbeddingTables struct {
	User     [][]float32
	Item     [][]float32
	Entity   [][]float32
	Relation [][]float32
}

// Get returns the table of an embedding variable.
func (t *EmbeddingTables) Get(name string) [][]float32 {
	switch name {
	case UserEmbedding:
		return t.User
	case ItemEmbedding:
		return t.Item
	case EntityEmbedding:
		return t.Entity
	case RelationEmbedding:
		return t.Relation
	}
	return nil
}

// Set replaces the table of an embedding variable.
func (t *EmbeddingTables) Set(name string, table [][]float32) {
	switch name {
	case UserEmbedding:
		t.User = table
	case ItemEmbedding:
		t.Item = table
	case EntityEmbedding:
		t.Entity = table
	case RelationEmbedding:
		t.Relation = table
	}
}

// Parameters maps variable names to live parameter matrices. Writing into a
// matrix changes the model.
type Parameters map[string][][]float32

// Model is a joint recommendation and knowledge graph embedding model. The
// trainer drives it one operation at a time.
type Model interface {
	// TrainRS runs one optimization step of the recommendation task.
	TrainRS(feed *RSFeed) (loss float32, err error)
	// TrainKGE runs one optimization step of the knowledge graph task.
	TrainKGE(feed *KGEFeed) (rmse float32, err error)
	// Evaluate scores a whole split without updating parameters.
	Evaluate(feed *RSFeed) (auc, accuracy float32, err error)
	// ScoreItems predicts scores of items for a user.
	ScoreItems(user int32, items []int32) ([]int32, []float32, error)
	GetEmbeddingTables() EmbeddingTables
	SetEmbeddingTables(tables EmbeddingTables) error
	// Parameters returns all parameters including embedding tables.
	Parameters() Parameters
}

// IsConfigurationError returns true if the error is caused by an invalid
// configuration, such as shrinking vocabularies or reusing a version.
func IsConfigurationError(err error) bool {
	return errors.Is(err, errors.NotValid)
}
