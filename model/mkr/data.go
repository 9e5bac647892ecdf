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
	"github.com/gorse-io/mkr/base"
	"github.com/gorse-io/mkr/common/log"
	"github.com/gorse-io/mkr/dataset"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Data is everything a training run reads.
type Data struct {
	Train *dataset.Interactions
	Eval  *dataset.Interactions
	Test  *dataset.Interactions
	KG    *dataset.Triples
	Vocab dataset.Vocabulary
}

// PrepareData splits interactions into train, eval and test sets. The
// vocabulary covers all ids in the data and is at least floor.
func PrepareData(interactions *dataset.Interactions, kg *dataset.Triples, floor dataset.Vocabulary,
	evalRatio, testRatio float32, rng base.RandomGenerator) (*Data, error) {
	if interactions == nil {
		interactions = dataset.NewInteractions(0)
	}
	if kg == nil {
		kg = dataset.NewTriples(0)
	}
	train, eval, test, err := interactions.Split(evalRatio, testRatio, rng)
	if err != nil {
		return nil, errors.Trace(err)
	}
	data := &Data{
		Train: train,
		Eval:  eval,
		Test:  test,
		KG:    kg,
		Vocab: dataset.ComputeVocabulary(interactions, kg).Max(floor),
	}
	log.Logger().Info("prepare data",
		zap.Int("n_train", train.Len()), zap.Int("n_train_positive", train.CountPositive()),
		zap.Int("n_eval", eval.Len()), zap.Int("n_test", test.Len()),
		zap.Int("n_triples", kg.Len()), zap.Any("vocabulary", data.Vocab))
	return data, nil
}

// Clone copies the splits so that shuffling the copy keeps the original order.
func (d *Data) Clone() *Data {
	return &Data{
		Train: d.Train.Clone(),
		Eval:  d.Eval.Clone(),
		Test:  d.Test.Clone(),
		KG:    d.KG.Clone(),
		Vocab: d.Vocab,
	}
}
