// Copyright 2024 gorse Project Authors
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

package dataset

import (
	"slices"

	"github.com/gorse-io/mkr/base"
	"github.com/juju/errors"
	"modernc.org/mathutil"
)

// Interactions are (user, item, label) records stored column-wise.
type Interactions struct {
	Users  []int32
	Items  []int32
	Labels []float32
}

func NewInteractions(capacity int) *Interactions {
	return &Interactions{
		Users:  make([]int32, 0, capacity),
		Items:  make([]int32, 0, capacity),
		Labels: make([]float32, 0, capacity),
	}
}

func (d *Interactions) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Labels)
}

func (d *Interactions) Append(user, item int32, label float32) {
	d.Users = append(d.Users, user)
	d.Items = append(d.Items, item)
	d.Labels = append(d.Labels, label)
}

// Shuffle permutes all three columns together.
func (d *Interactions) Shuffle(rng base.RandomGenerator) {
	rng.Shuffle(d.Len(), func(i, j int) {
		d.Users[i], d.Users[j] = d.Users[j], d.Users[i]
		d.Items[i], d.Items[j] = d.Items[j], d.Items[i]
		d.Labels[i], d.Labels[j] = d.Labels[j], d.Labels[i]
	})
}

// Clone returns a deep copy. A nil receiver is cloned to nil.
func (d *Interactions) Clone() *Interactions {
	if d == nil {
		return nil
	}
	return &Interactions{
		Users:  slices.Clone(d.Users),
		Items:  slices.Clone(d.Items),
		Labels: slices.Clone(d.Labels),
	}
}

// CountPositive returns the number of interactions with label 1.
func (d *Interactions) CountPositive() int {
	count := 0
	for _, label := range d.Labels {
		if label == 1 {
			count++
		}
	}
	return count
}

// Split interactions into train, eval and test sets. Eval and test records are
// sampled without replacement; the relative order of records is kept in every
// subset.
func (d *Interactions) Split(evalRatio, testRatio float32, rng base.RandomGenerator) (train, eval, test *Interactions, err error) {
	if evalRatio < 0 || testRatio < 0 || evalRatio+testRatio >= 1 {
		return nil, nil, nil, errors.NotValidf("split ratios (eval %v, test %v)", evalRatio, testRatio)
	}
	n := d.Len()
	numEval := int(float32(n) * evalRatio)
	numTest := int(float32(n) * testRatio)
	const (
		toTrain = iota
		toEval
		toTest
	)
	assign := make([]int, n)
	perm := rng.Perm(n)
	for _, i := range perm[:numEval] {
		assign[i] = toEval
	}
	for _, i := range perm[numEval : numEval+numTest] {
		assign[i] = toTest
	}
	train = NewInteractions(n - numEval - numTest)
	eval = NewInteractions(numEval)
	test = NewInteractions(numTest)
	for i := 0; i < n; i++ {
		switch assign[i] {
		case toEval:
			eval.Append(d.Users[i], d.Items[i], d.Labels[i])
		case toTest:
			test.Append(d.Users[i], d.Items[i], d.Labels[i])
		default:
			train.Append(d.Users[i], d.Items[i], d.Labels[i])
		}
	}
	return train, eval, test, nil
}

// Triples are knowledge graph (head, relation, tail) records stored column-wise.
type Triples struct {
	Heads     []int32
	Relations []int32
	Tails     []int32
}

func NewTriples(capacity int) *Triples {
	return &Triples{
		Heads:     make([]int32, 0, capacity),
		Relations: make([]int32, 0, capacity),
		Tails:     make([]int32, 0, capacity),
	}
}

func (t *Triples) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Heads)
}

func (t *Triples) Append(head, relation, tail int32) {
	t.Heads = append(t.Heads, head)
	t.Relations = append(t.Relations, relation)
	t.Tails = append(t.Tails, tail)
}

// Clone returns a deep copy. A nil receiver is cloned to nil.
func (t *Triples) Clone() *Triples {
	if t == nil {
		return nil
	}
	return &Triples{
		Heads:     slices.Clone(t.Heads),
		Relations: slices.Clone(t.Relations),
		Tails:     slices.Clone(t.Tails),
	}
}

// Shuffle permutes all three columns together.
func (t *Triples) Shuffle(rng base.RandomGenerator) {
	rng.Shuffle(t.Len(), func(i, j int) {
		t.Heads[i], t.Heads[j] = t.Heads[j], t.Heads[i]
		t.Relations[i], t.Relations[j] = t.Relations[j], t.Relations[i]
		t.Tails[i], t.Tails[j] = t.Tails[j], t.Tails[i]
	})
}

// Vocabulary holds the number of rows of every embedding table.
type Vocabulary struct {
	NUsers     int `json:"n_users"`
	NItems     int `json:"n_items"`
	NEntities  int `json:"n_entities"`
	NRelations int `json:"n_relations"`
}

// Max returns the element-wise maximum of two vocabularies.
func (v Vocabulary) Max(other Vocabulary) Vocabulary {
	return Vocabulary{
		NUsers:     mathutil.Max(v.NUsers, other.NUsers),
		NItems:     mathutil.Max(v.NItems, other.NItems),
		NEntities:  mathutil.Max(v.NEntities, other.NEntities),
		NRelations: mathutil.Max(v.NRelations, other.NRelations),
	}
}

// ComputeVocabulary counts max id + 1 for every kind of id. Items share the
// index space of head entities, so entities cover items as well.
func ComputeVocabulary(interactions *Interactions, triples *Triples) Vocabulary {
	maxUser, maxItem, maxEntity, maxRelation := int32(-1), int32(-1), int32(-1), int32(-1)
	if interactions != nil {
		for i := range interactions.Labels {
			maxUser = mathutil.MaxInt32(maxUser, interactions.Users[i])
			maxItem = mathutil.MaxInt32(maxItem, interactions.Items[i])
		}
	}
	maxEntity = maxItem
	if triples != nil {
		for i := range triples.Heads {
			maxEntity = mathutil.MaxInt32Val(maxEntity, triples.Heads[i], triples.Tails[i])
			maxRelation = mathutil.MaxInt32(maxRelation, triples.Relations[i])
		}
	}
	return Vocabulary{
		NUsers:     int(maxUser) + 1,
		NItems:     int(maxItem) + 1,
		NEntities:  int(maxEntity) + 1,
		NRelations: int(maxRelation) + 1,
	}
}
