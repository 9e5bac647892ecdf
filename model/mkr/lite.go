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
	"context"
	"slices"

	"github.com/chewxy/math32"
	"github.com/gorse-io/mkr/common/floats"
	"github.com/gorse-io/mkr/common/parallel"
	"github.com/gorse-io/mkr/dataset"
	"github.com/gorse-io/mkr/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Names of parameters other than embedding tables.
const (
	RSWeight  = "rs_weight"
	RSBias    = "rs_bias"
	KGEWeight = "kge_weight"
)

// LiteMKR is a compact multi-task model. The recommendation task predicts
// sigmoid(sum(w * u * v) + b) and the knowledge graph task predicts the tail
// of a triple by r + k * h. An item vector is the sum of its item embedding and
// its entity embedding, so both tasks update the shared entity embedding.
type LiteMKR struct {
	model.BaseModel
	vocab dataset.Vocabulary
	// hyper-parameters
	dim        int
	lrRS       float32
	lrKGE      float32
	l2Weight   float32
	initMean   float32
	initStdDev float32
	nJobs      int
	// parameters
	UserFactor     [][]float32
	ItemFactor     [][]float32
	EntityFactor   [][]float32
	RelationFactor [][]float32
	Weight         [][]float32 // 1 x dim
	Bias           [][]float32 // 1 x 1
	KGWeight       [][]float32 // 1 x dim
}

// NewLiteMKR creates a model for a vocabulary. Parameters are initialized
// from a normal distribution.
func NewLiteMKR(params model.Params, vocab dataset.Vocabulary) *LiteMKR {
	m := &LiteMKR{vocab: vocab}
	m.SetParams(params)
	m.init()
	return m
}

func (m *LiteMKR) SetParams(params model.Params) {
	m.BaseModel.SetParams(params)
	m.dim = m.Params.GetInt(model.Dim, 8)
	m.lrRS = m.Params.GetFloat32(model.LrRS, 0.02)
	m.lrKGE = m.Params.GetFloat32(model.LrKGE, 0.01)
	m.l2Weight = m.Params.GetFloat32(model.L2Weight, 1e-6)
	m.initMean = m.Params.GetFloat32(model.InitMean, 0)
	m.initStdDev = m.Params.GetFloat32(model.InitStdDev, 0.1)
	m.nJobs = m.Params.GetInt(model.NJobs, 1)
}

func (m *LiteMKR) init() {
	m.Reseed()
	rng := m.GetRandomGenerator()
	m.UserFactor = rng.NormalMatrix(m.vocab.NUsers, m.dim, m.initMean, m.initStdDev)
	m.ItemFactor = rng.NormalMatrix(m.vocab.NItems, m.dim, m.initMean, m.initStdDev)
	m.EntityFactor = rng.NormalMatrix(m.vocab.NEntities, m.dim, m.initMean, m.initStdDev)
	m.RelationFactor = rng.NormalMatrix(m.vocab.NRelations, m.dim, m.initMean, m.initStdDev)
	m.Weight = [][]float32{ones(m.dim)}
	m.Bias = [][]float32{{0}}
	m.KGWeight = [][]float32{ones(m.dim)}
}

func (m *LiteMKR) Dim() int {
	return m.dim
}

// itemVector writes the vector of an item to dst.
func (m *LiteMKR) itemVector(item int32, dst []float32) {
	if int(item) < len(m.EntityFactor) {
		floats.AddTo(m.ItemFactor[item], m.EntityFactor[item], dst)
	} else {
		copy(dst, m.ItemFactor[item])
	}
}

// headVector writes the vector of a head entity to dst.
func (m *LiteMKR) headVector(head int32, dst []float32) {
	if int(head) < len(m.ItemFactor) {
		floats.AddTo(m.EntityFactor[head], m.ItemFactor[head], dst)
	} else {
		copy(dst, m.EntityFactor[head])
	}
}

func (m *LiteMKR) logit(userVec, itemVec []float32) float32 {
	product := make([]float32, len(userVec))
	floats.MulTo(userVec, itemVec, product)
	return floats.Dot(m.Weight[0], product) + m.Bias[0][0]
}

func (m *LiteMKR) checkRS(feed *RSFeed) error {
	for i := 0; i < feed.Len(); i++ {
		if feed.Users[i] < 0 || int(feed.Users[i]) >= len(m.UserFactor) {
			return errors.NotValidf("user %d out of vocabulary %d", feed.Users[i], len(m.UserFactor))
		}
		if feed.Items[i] < 0 || int(feed.Items[i]) >= len(m.ItemFactor) {
			return errors.NotValidf("item %d out of vocabulary %d", feed.Items[i], len(m.ItemFactor))
		}
	}
	return nil
}

// TrainRS runs stochastic gradient descent over a batch and returns the mean
// binary cross entropy.
func (m *LiteMKR) TrainRS(feed *RSFeed) (float32, error) {
	if err := m.checkRS(feed); err != nil {
		return 0, errors.Trace(err)
	}
	if feed.Len() == 0 {
		return 0, nil
	}
	rng := m.GetRandomGenerator()
	var (
		sumLoss float32
		mask    = make([]float32, m.dim)
		itemVec = make([]float32, m.dim)
		userVec = make([]float32, m.dim)
		product = make([]float32, m.dim)
		scale   = make([]float32, m.dim)
		gradU   = make([]float32, m.dim)
		gradV   = make([]float32, m.dim)
		gradW   = make([]float32, m.dim)
	)
	for i := 0; i < feed.Len(); i++ {
		user, item, label := feed.Users[i], feed.Items[i], feed.Labels[i]
		// inverted dropout on the interaction
		for d := range mask {
			if rng.Float32() < feed.Dropout {
				mask[d] = 0
			} else {
				mask[d] = 1 / (1 - feed.Dropout)
			}
		}
		copy(userVec, m.UserFactor[user])
		m.itemVector(item, itemVec)
		// product = mask * u * v
		floats.MulTo(userVec, itemVec, product)
		floats.MulTo(product, mask, product)
		p := sigmoid(floats.Dot(m.Weight[0], product) + m.Bias[0][0])
		sumLoss += crossEntropy(label, p)
		g := p - label
		// scale = g * w * mask
		floats.MulTo(m.Weight[0], mask, scale)
		floats.MulConst(scale, g)
		floats.MulTo(scale, itemVec, gradU)
		floats.MulConstAdd(userVec, m.l2Weight, gradU)
		floats.MulTo(scale, userVec, gradV)
		floats.MulConstAdd(itemVec, m.l2Weight, gradV)
		floats.MulConstTo(product, g, gradW)
		floats.MulConstAdd(m.Weight[0], m.l2Weight, gradW)
		floats.MulConstAdd(gradW, -m.lrRS, m.Weight[0])
		m.Bias[0][0] -= m.lrRS * g
		floats.MulConstAdd(gradU, -m.lrRS, m.UserFactor[user])
		floats.MulConstAdd(gradV, -m.lrRS, m.ItemFactor[item])
		if int(item) < len(m.EntityFactor) {
			floats.MulConstAdd(gradV, -m.lrRS, m.EntityFactor[item])
		}
	}
	return sumLoss / float32(feed.Len()), nil
}

// TrainKGE runs stochastic gradient descent over a batch of triples and
// returns the root mean squared error of predicted tails.
func (m *LiteMKR) TrainKGE(feed *KGEFeed) (float32, error) {
	for i := 0; i < feed.Len(); i++ {
		if feed.Heads[i] < 0 || int(feed.Heads[i]) >= len(m.EntityFactor) {
			return 0, errors.NotValidf("head %d out of vocabulary %d", feed.Heads[i], len(m.EntityFactor))
		}
		if feed.Tails[i] < 0 || int(feed.Tails[i]) >= len(m.EntityFactor) {
			return 0, errors.NotValidf("tail %d out of vocabulary %d", feed.Tails[i], len(m.EntityFactor))
		}
		if feed.Relations[i] < 0 || int(feed.Relations[i]) >= len(m.RelationFactor) {
			return 0, errors.NotValidf("relation %d out of vocabulary %d", feed.Relations[i], len(m.RelationFactor))
		}
	}
	if feed.Len() == 0 {
		return 0, nil
	}
	var (
		sumSquare float32
		headVec   = make([]float32, m.dim)
		predicted = make([]float32, m.dim)
		residual  = make([]float32, m.dim)
		gradH     = make([]float32, m.dim)
		gradKW    = make([]float32, m.dim)
	)
	for i := 0; i < feed.Len(); i++ {
		head, relation, tail := feed.Heads[i], feed.Relations[i], feed.Tails[i]
		m.headVector(head, headVec)
		// predicted = k * h + r
		floats.MulTo(m.KGWeight[0], headVec, predicted)
		floats.Add(predicted, m.RelationFactor[relation])
		distance := floats.Euclidean(predicted, m.EntityFactor[tail])
		sumSquare += distance * distance
		floats.SubTo(predicted, m.EntityFactor[tail], residual)
		floats.MulTo(residual, m.KGWeight[0], gradH)
		floats.MulConstAdd(headVec, m.l2Weight, gradH)
		floats.MulTo(residual, headVec, gradKW)
		floats.MulConstAdd(gradKW, -m.lrKGE, m.KGWeight[0])
		floats.MulConstAdd(residual, -m.lrKGE, m.RelationFactor[relation])
		floats.MulConstAdd(residual, m.lrKGE, m.EntityFactor[tail])
		floats.MulConstAdd(gradH, -m.lrKGE, m.EntityFactor[head])
		if int(head) < len(m.ItemFactor) {
			floats.MulConstAdd(gradH, -m.lrKGE, m.ItemFactor[head])
		}
	}
	return math32.Sqrt(sumSquare / float32(feed.Len()*m.dim)), nil
}

// Predict returns the normalized score of a user-item pair.
func (m *LiteMKR) Predict(user, item int32) float32 {
	if user < 0 || int(user) >= len(m.UserFactor) || item < 0 || int(item) >= len(m.ItemFactor) {
		return 0
	}
	itemVec := make([]float32, m.dim)
	m.itemVector(item, itemVec)
	return sigmoid(m.logit(m.UserFactor[user], itemVec))
}

// Evaluate computes AUC and accuracy over a split. Dropout is not applied.
func (m *LiteMKR) Evaluate(feed *RSFeed) (float32, float32, error) {
	if err := m.checkRS(feed); err != nil {
		return 0, 0, errors.Trace(err)
	}
	predictions := make([]float32, feed.Len())
	if err := m.parallelChunks(feed.Len(), func(i int) error {
		predictions[i] = m.Predict(feed.Users[i], feed.Items[i])
		return nil
	}); err != nil {
		return 0, 0, errors.Trace(err)
	}
	var pos, neg []float32
	for i, label := range feed.Labels {
		if label > 0 {
			pos = append(pos, predictions[i])
		} else {
			neg = append(neg, predictions[i])
		}
	}
	return AUC(pos, neg), Accuracy(feed.Labels, predictions), nil
}

// ScoreItems predicts scores of items for a user.
func (m *LiteMKR) ScoreItems(user int32, items []int32) ([]int32, []float32, error) {
	if user < 0 || int(user) >= len(m.UserFactor) {
		return nil, nil, errors.NotValidf("user %d out of vocabulary %d", user, len(m.UserFactor))
	}
	scores := make([]float32, len(items))
	if err := m.parallelChunks(len(items), func(i int) error {
		if items[i] < 0 || int(items[i]) >= len(m.ItemFactor) {
			return errors.NotValidf("item %d out of vocabulary %d", items[i], len(m.ItemFactor))
		}
		scores[i] = m.Predict(user, items[i])
		return nil
	}); err != nil {
		return nil, nil, errors.Trace(err)
	}
	return slices.Clone(items), scores, nil
}

// parallelChunks splits [0, n) into one contiguous chunk per job and runs fn
// over every index.
func (m *LiteMKR) parallelChunks(n int, fn func(i int) error) error {
	chunks := parallel.Split(lo.Range(n), max(m.nJobs, 1))
	return parallel.Parallel(context.Background(), len(chunks), m.nJobs, func(_, c int) error {
		for _, i := range chunks[c] {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *LiteMKR) GetEmbeddingTables() EmbeddingTables {
	return EmbeddingTables{
		User:     cloneMatrix(m.UserFactor),
		Item:     cloneMatrix(m.ItemFactor),
		Entity:   cloneMatrix(m.EntityFactor),
		Relation: cloneMatrix(m.RelationFactor),
	}
}

// SetEmbeddingTables replaces embedding tables. Every table must have as many
// rows as the vocabulary and as many columns as the embedding width.
func (m *LiteMKR) SetEmbeddingTables(tables EmbeddingTables) error {
	for _, name := range EmbeddingNames {
		table := tables.Get(name)
		if size := VocabularySize(m.vocab, name); len(table) != size {
			return errors.NotValidf("%s has %d rows, expect %d", name, len(table), size)
		}
		for i, row := range table {
			if len(row) != m.dim {
				return errors.NotValidf("%s row %d has width %d, expect %d", name, i, len(row), m.dim)
			}
		}
	}
	m.UserFactor = cloneMatrix(tables.User)
	m.ItemFactor = cloneMatrix(tables.Item)
	m.EntityFactor = cloneMatrix(tables.Entity)
	m.RelationFactor = cloneMatrix(tables.Relation)
	return nil
}

func (m *LiteMKR) Parameters() Parameters {
	return Parameters{
		UserEmbedding:     m.UserFactor,
		ItemEmbedding:     m.ItemFactor,
		EntityEmbedding:   m.EntityFactor,
		RelationEmbedding: m.RelationFactor,
		RSWeight:          m.Weight,
		RSBias:            m.Bias,
		KGEWeight:         m.KGWeight,
	}
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

func crossEntropy(label, p float32) float32 {
	const eps = 1e-7
	p = min(max(p, eps), 1-eps)
	return -label*math32.Log(p) - (1-label)*math32.Log(1-p)
}

func ones(n int) []float32 {
	a := make([]float32, n)
	for i := range a {
		a[i] = 1
	}
	return a
}

func cloneMatrix(m [][]float32) [][]float32 {
	return lo.Map(m, func(row []float32, _ int) []float32 {
		return slices.Clone(row)
	})
}
