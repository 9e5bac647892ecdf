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
	"cmp"
	"slices"
	"sort"

	"github.com/bits-and-blooms/bitset"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/mkr/base"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"modernc.org/sortutil"
)

const DefaultTopKUsers = 100

var DefaultCutoffs = []int{1, 2, 5, 10, 20, 50, 100}

// CTRScore is the click-through rate quality of a split.
type CTRScore struct {
	AUC      float32
	Accuracy float32
}

// TopKScore holds precision, recall and F1 at each cutoff.
type TopKScore struct {
	Cutoffs   []int
	Precision []float32
	Recall    []float32
	F1        []float32
}

type scoredItem struct {
	item  int32
	score float32
}

// SampleUsers returns users present in both histories. At most n users are
// sampled without replacement.
func SampleUsers(train, test map[int32]mapset.Set[int32], n int, rng base.RandomGenerator) []int32 {
	var users sortutil.Int32Slice
	for user := range train {
		if _, exist := test[user]; exist {
			users = append(users, user)
		}
	}
	users.Sort()
	return base.Choose(rng, users, n)
}

// EvaluateTopK ranks items that a user never interacted with in training and
// computes precision, recall and F1 at each cutoff, averaged over users.
// Items are ranked by score descending and then by id ascending. Users without
// test items are skipped. The divisor of precision is always k.
func EvaluateTopK(m Model, users []int32, trainHistory, testHistory map[int32]mapset.Set[int32], nItems int, cutoffs []int) (*TopKScore, error) {
	score := &TopKScore{
		Cutoffs:   slices.Clone(cutoffs),
		Precision: make([]float32, len(cutoffs)),
		Recall:    make([]float32, len(cutoffs)),
		F1:        make([]float32, len(cutoffs)),
	}
	mask := bitset.New(uint(nItems))
	candidates := make([]int32, 0, nItems)
	var nUsers int
	for _, user := range users {
		test, exist := testHistory[user]
		if !exist || test.Cardinality() == 0 {
			continue
		}
		// exclude items in training
		mask.ClearAll()
		if train, exist := trainHistory[user]; exist {
			train.Each(func(item int32) bool {
				if item >= 0 && int(item) < nItems {
					mask.Set(uint(item))
				}
				return false
			})
		}
		candidates = candidates[:0]
		for i := 0; i < nItems; i++ {
			if !mask.Test(uint(i)) {
				candidates = append(candidates, int32(i))
			}
		}
		items, scores, err := m.ScoreItems(user, candidates)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(items) != len(scores) {
			return nil, errors.Errorf("%d items but %d scores for user %d", len(items), len(scores), user)
		}
		ranked := make([]scoredItem, len(items))
		for i := range items {
			ranked[i] = scoredItem{item: items[i], score: scores[i]}
		}
		slices.SortFunc(ranked, func(a, b scoredItem) int {
			if c := cmp.Compare(b.score, a.score); c != 0 {
				return c
			}
			return cmp.Compare(a.item, b.item)
		})
		nUsers++
		for j, k := range cutoffs {
			hits := lo.CountBy(ranked[:min(k, len(ranked))], func(s scoredItem) bool {
				return test.Contains(s.item)
			})
			score.Precision[j] += float32(hits) / float32(k)
			score.Recall[j] += float32(hits) / float32(test.Cardinality())
		}
	}
	if nUsers == 0 {
		return score, nil
	}
	for j := range cutoffs {
		score.Precision[j] /= float32(nUsers)
		score.Recall[j] /= float32(nUsers)
		if p, r := score.Precision[j], score.Recall[j]; p+r > 0 {
			score.F1[j] = 2 * p * r / (p + r)
		}
	}
	return score, nil
}

// AUC is the probability that a positive sample is scored higher than a
// negative sample. Ties count half.
func AUC(posPrediction, negPrediction []float32) float32 {
	if len(posPrediction) == 0 || len(negPrediction) == 0 {
		return 0
	}
	pos := slices.Clone(posPrediction)
	neg := slices.Clone(negPrediction)
	sort.Sort(sortutil.Float32Slice(pos))
	sort.Sort(sortutil.Float32Slice(neg))
	var sum float32
	var nLess, nLessEqual int
	for _, p := range pos {
		for nLess < len(neg) && neg[nLess] < p {
			nLess++
		}
		nLessEqual = max(nLessEqual, nLess)
		for nLessEqual < len(neg) && neg[nLessEqual] <= p {
			nLessEqual++
		}
		sum += float32(nLess) + float32(nLessEqual-nLess)/2
	}
	return sum / float32(len(pos)*len(neg))
}

// Accuracy is the ratio of labels matching predictions rounded at 0.5.
func Accuracy(labels, predictions []float32) float32 {
	if len(labels) == 0 {
		return 0
	}
	var correct float32
	for i, label := range labels {
		if (predictions[i] >= 0.5) == (label >= 0.5) {
			correct++
		}
	}
	return correct / float32(len(labels))
}
