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
	"sync"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"github.com/gorse-io/mkr/common/log"
	"github.com/gorse-io/mkr/dataset"
	"github.com/gorse-io/mkr/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type ModelCreator func(params model.Params, vocab dataset.Vocabulary) Model

type SearchResult struct {
	Params model.Params
	Score  EpochResult
}

// ModelSearch searches hyper-parameters maximizing AUC on the eval set. Models
// are trained from scratch and never exported.
type ModelSearch struct {
	create ModelCreator
	data   *Data
	config TrainerConfig
	params model.Params

	ctx       context.Context
	bestMutex sync.Mutex
	bestScore float32
	best      *SearchResult
}

// NewModelSearch creates a search. Suggested hyper-parameters overwrite params.
func NewModelSearch(create ModelCreator, data *Data, config TrainerConfig, params model.Params) *ModelSearch {
	config.SkipExport = true
	config.RestoreRequired = false
	return &ModelSearch{
		create: create,
		data:   data,
		config: config,
		params: params,
		ctx:    context.Background(),
	}
}

func (ms *ModelSearch) SuggestParams(trial goptuna.Trial) model.Params {
	return model.Params{
		model.Dim:      int(lo.Must(trial.SuggestDiscreteFloat(string(model.Dim), 4, 32, 4))),
		model.LrRS:     lo.Must(trial.SuggestLogFloat(string(model.LrRS), 0.001, 0.1)),
		model.LrKGE:    lo.Must(trial.SuggestLogFloat(string(model.LrKGE), 0.001, 0.1)),
		model.L2Weight: lo.Must(trial.SuggestLogFloat(string(model.L2Weight), 1e-8, 1e-3)),
	}
}

// Objective trains a model with suggested hyper-parameters and returns the
// eval AUC of the last epoch.
func (ms *ModelSearch) Objective(trial goptuna.Trial) (float64, error) {
	params := ms.params.Overwrite(ms.SuggestParams(trial))
	config := ms.config
	config.Dim = params.GetInt(model.Dim, config.Dim)
	trainer := NewTrainer(ms.create(params, ms.data.Vocab), nil, nil, config)
	result, err := trainer.Fit(ms.ctx, ms.data.Clone())
	if err != nil {
		return 0, errors.Trace(err)
	}
	var score EpochResult
	if len(result.Epochs) > 0 {
		score = result.Epochs[len(result.Epochs)-1]
	}
	log.Logger().Info("search mkr", zap.String("params", params.ToString()), zap.Float32("eval_auc", score.Eval.AUC))

	ms.bestMutex.Lock()
	defer ms.bestMutex.Unlock()
	if ms.best == nil || score.Eval.AUC > ms.bestScore {
		ms.bestScore = score.Eval.AUC
		ms.best = &SearchResult{Params: params, Score: score}
	}
	return float64(score.Eval.AUC), nil
}

// Result returns the best hyper-parameters found so far.
func (ms *ModelSearch) Result() SearchResult {
	ms.bestMutex.Lock()
	defer ms.bestMutex.Unlock()
	if ms.best == nil {
		return SearchResult{}
	}
	return *ms.best
}

// Search runs nTrials trials with the TPE sampler.
func (ms *ModelSearch) Search(ctx context.Context, nTrials int) (SearchResult, error) {
	ms.ctx = ctx
	study, err := goptuna.CreateStudy("mkr",
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMaximize),
		goptuna.StudyOptionSampler(tpe.NewSampler()))
	if err != nil {
		return SearchResult{}, errors.Trace(err)
	}
	if err = study.Optimize(ms.Objective, nTrials); err != nil {
		return SearchResult{}, errors.Trace(err)
	}
	return ms.Result(), nil
}
