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
	"fmt"
	"slices"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/mkr/base"
	"github.com/gorse-io/mkr/common/floats"
	"github.com/gorse-io/mkr/common/log"
	"github.com/gorse-io/mkr/common/monitor"
	"github.com/gorse-io/mkr/config"
	"github.com/gorse-io/mkr/dataset"
	"github.com/gorse-io/mkr/storage/blob"
	"github.com/gorse-io/mkr/storage/meta"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type State int

const (
	ColdStartInit State = iota
	WarmStartInit
	RSEpoch
	KGEEpoch
	Evaluating
	TopKEvaluating
	Exporting
	Done
)

func (s State) String() string {
	switch s {
	case ColdStartInit:
		return "ColdStartInit"
	case WarmStartInit:
		return "WarmStartInit"
	case RSEpoch:
		return "RSEpoch"
	case KGEEpoch:
		return "KGEEpoch"
	case Evaluating:
		return "Evaluating"
	case TopKEvaluating:
		return "TopKEvaluating"
	case Exporting:
		return "Exporting"
	case Done:
		return "Done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// TrainerConfig controls a training run.
type TrainerConfig struct {
	NEpochs     int
	BatchSize   int
	KGEInterval int
	Dropout     float32
	Dim         int
	RandomState int64
	ShowLoss    bool
	ShowTopK    bool
	TopKUsers   int
	TopKCutoffs []int
	// CheckpointDir is both where checkpoints are saved and where the latest
	// one is looked up on start.
	CheckpointDir   string
	RestoreRequired bool
	SkipExport      bool
	// Version of the export. Zero means seconds since epoch at export time.
	Version int64
}

func NewTrainerConfig(cfg *config.Config) TrainerConfig {
	return TrainerConfig{
		NEpochs:         cfg.Train.NEpochs,
		BatchSize:       cfg.Train.BatchSize,
		KGEInterval:     cfg.Train.KGEInterval,
		Dropout:         cfg.Train.Dropout,
		Dim:             cfg.Train.Dim,
		RandomState:     cfg.Train.RandomState,
		ShowLoss:        cfg.Train.ShowLoss,
		ShowTopK:        cfg.Train.ShowTopK,
		TopKUsers:       cfg.Train.TopKUsers,
		TopKCutoffs:     slices.Clone(cfg.Train.TopKCutoffs),
		CheckpointDir:   CleanDir(cfg.Restore.CheckpointDir),
		RestoreRequired: cfg.Restore.Required,
	}
}

func (c *TrainerConfig) Validate() error {
	if c.NEpochs < 0 {
		return errors.NotValidf("n_epochs %d", c.NEpochs)
	}
	if c.BatchSize <= 0 {
		return errors.NotValidf("batch_size %d", c.BatchSize)
	}
	if c.KGEInterval <= 0 {
		return errors.NotValidf("kge_interval %d", c.KGEInterval)
	}
	if c.Dim <= 0 {
		return errors.NotValidf("dim %d", c.Dim)
	}
	if c.Dropout < 0 || c.Dropout > 1 {
		return errors.NotValidf("dropout %v", c.Dropout)
	}
	if c.ShowTopK {
		if c.TopKUsers <= 0 {
			return errors.NotValidf("topk_users %d", c.TopKUsers)
		}
		for _, k := range c.TopKCutoffs {
			if k <= 0 {
				return errors.NotValidf("topk cutoff %d", k)
			}
		}
	}
	return nil
}

// EpochResult is the outcome of an epoch.
type EpochResult struct {
	Epoch      int
	Train      CTRScore
	Eval       CTRScore
	Test       CTRScore
	RSLoss     float32
	KGERMSE    float32
	RSBatches  int
	KGEBatches int
	TopK       *TopKScore `json:",omitempty"`
}

type FitResult struct {
	Epochs          []EpochResult
	WarmStart       bool
	RestoredVersion int64
	// Version of the export, zero if export is skipped.
	Version int64
}

// Trainer alternates optimization of the recommendation task and the
// knowledge graph task.
type Trainer struct {
	model    Model
	store    blob.Store
	exporter *Exporter
	config   TrainerConfig
	rng      base.RandomGenerator
	state    State

	// OnTransition is called after entering a state.
	OnTransition func(state State)
	// OnEpoch is called after an epoch is evaluated.
	OnEpoch func(result EpochResult)
}

// NewTrainer creates a trainer. A trainer without store always starts cold and
// never exports. The registry is optional.
func NewTrainer(m Model, store blob.Store, registry meta.Database, cfg TrainerConfig) *Trainer {
	t := &Trainer{
		model:  m,
		store:  store,
		config: cfg,
		rng:    base.NewRandomGenerator(cfg.RandomState),
	}
	if store != nil {
		t.exporter = NewExporter(store, cfg.CheckpointDir, registry)
	}
	return t
}

func (t *Trainer) State() State {
	return t.state
}

func (t *Trainer) enter(state State) {
	t.state = state
	CurrentState.Set(float64(state))
	log.Logger().Debug("enter state", zap.Stringer("state", state))
	if t.OnTransition != nil {
		t.OnTransition(state)
	}
}

// Fit trains the model for n epochs and exports it.
func (t *Trainer) Fit(ctx context.Context, data *Data) (*FitResult, error) {
	if err := t.config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("fit mkr",
		zap.Int("train_set_size", data.Train.Len()),
		zap.Int("eval_set_size", data.Eval.Len()),
		zap.Int("test_set_size", data.Test.Len()),
		zap.Int("kg_size", data.KG.Len()),
		zap.Any("vocabulary", data.Vocab),
		zap.Int("n_epochs", t.config.NEpochs),
		zap.Int("batch_size", t.config.BatchSize))
	if !t.config.SkipExport && t.exporter != nil && t.config.Version != 0 {
		if err := t.exporter.Check(t.config.Version); err != nil {
			return nil, errors.Trace(err)
		}
	}
	result := &FitResult{}
	var err error
	if result.RestoredVersion, err = t.initialize(data); err != nil {
		return nil, errors.Trace(err)
	}
	result.WarmStart = result.RestoredVersion > 0

	trainHistory := BuildHistory(data.Train, true)
	testHistory := BuildHistory(data.Test, false)
	var users []int32
	if t.config.ShowTopK {
		users = SampleUsers(trainHistory, testHistory, t.config.TopKUsers, t.rng)
	}

	for epoch := 0; epoch < t.config.NEpochs; epoch++ {
		epochResult, err := t.fitEpoch(ctx, epoch, data, users, trainHistory, testHistory)
		if err != nil {
			return nil, errors.Trace(err)
		}
		result.Epochs = append(result.Epochs, *epochResult)
	}

	if !t.config.SkipExport && t.exporter != nil {
		t.enter(Exporting)
		version := t.config.Version
		if version == 0 {
			version = NewVersion()
		}
		var last *EpochResult
		if len(result.Epochs) > 0 {
			last = &result.Epochs[len(result.Epochs)-1]
		}
		if err = t.exporter.Export(t.model, version, last); err != nil {
			return nil, errors.Trace(err)
		}
		result.Version = version
	}
	t.enter(Done)
	return result, nil
}

// Evaluate restores the model and evaluates it once without training.
func (t *Trainer) Evaluate(ctx context.Context, data *Data) (*EpochResult, error) {
	if err := t.config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if _, err := t.initialize(data); err != nil {
		return nil, errors.Trace(err)
	}
	result := &EpochResult{}
	if err := t.evaluate(ctx, data, result); err != nil {
		return nil, errors.Trace(err)
	}
	if t.config.ShowTopK {
		trainHistory := BuildHistory(data.Train, true)
		testHistory := BuildHistory(data.Test, false)
		users := SampleUsers(trainHistory, testHistory, t.config.TopKUsers, t.rng)
		if err := t.evaluateTopK(data, users, trainHistory, testHistory, result); err != nil {
			return nil, errors.Trace(err)
		}
	}
	t.enter(Done)
	return result, nil
}

// initialize restores the model from the latest checkpoint if there is one.
// It returns the restored version or zero for cold start.
func (t *Trainer) initialize(data *Data) (int64, error) {
	if t.store == nil {
		if t.config.RestoreRequired {
			return 0, errors.NotValidf("restore without blob store")
		}
		t.enter(ColdStartInit)
		return 0, nil
	}
	version, err := LatestVersion(t.store, t.config.CheckpointDir)
	if errors.Is(err, errors.NotFound) {
		if t.config.RestoreRequired {
			return 0, errors.NewNotValid(err, "restore required")
		}
		log.Logger().Info("no checkpoint found, start from scratch", zap.String("checkpoint_dir", t.config.CheckpointDir))
		t.enter(ColdStartInit)
		return 0, nil
	} else if err != nil {
		return 0, errors.Trace(err)
	}

	t.enter(WarmStartInit)
	prior, err := LoadEmbeddingTables(t.store)
	if err != nil {
		return 0, errors.Annotatef(err, "load embedding tables of checkpoint %d", version)
	}
	tables, err := LoadWarmStart(prior, data.Vocab, t.config.Dim, t.rng)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if err = t.model.SetEmbeddingTables(tables); err != nil {
		return 0, errors.Trace(err)
	}
	if version, err = RestoreParameters(t.store, t.config.CheckpointDir, t.model.Parameters(), EmbeddingNames...); err != nil {
		return 0, errors.Trace(err)
	}
	log.Logger().Info("restore mkr model", zap.Int64("version", version))
	return version, nil
}

func (t *Trainer) fitEpoch(ctx context.Context, epoch int, data *Data, users []int32,
	trainHistory, testHistory map[int32]mapset.Set[int32]) (result *EpochResult, err error) {
	trainKGE := epoch%t.config.KGEInterval == 0
	nBatches := batchCount(data.Train.Len(), t.config.BatchSize)
	if trainKGE {
		nBatches += batchCount(data.KG.Len(), t.config.BatchSize)
	}
	ctx, span := otel.Tracer("mkr").Start(ctx, "fit epoch", trace.WithAttributes(attribute.Int("epoch", epoch)))
	defer span.End()
	ctx, progress := monitor.Start(ctx, fmt.Sprintf("epoch %d", epoch+1), nBatches)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			progress.Fail(err)
		} else {
			progress.End()
		}
	}()
	result = &EpochResult{Epoch: epoch}

	// recommendation task
	t.enter(RSEpoch)
	data.Train.Shuffle(t.rng)
	var losses []float32
	for start := 0; start < data.Train.Len(); start += t.config.BatchSize {
		if err = ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		loss, err := t.model.TrainRS(SliceRS(data.Train, start, start+t.config.BatchSize, t.config.Dropout))
		if err != nil {
			return nil, errors.Annotatef(err, "train recommendation task at epoch %d", epoch)
		}
		if math32.IsNaN(loss) || math32.IsInf(loss, 0) {
			return nil, errors.Errorf("recommendation loss diverges (%v) at epoch %d", loss, epoch)
		}
		t.logLoss("train recommendation task", epoch, result.RSBatches, loss)
		losses = append(losses, loss)
		result.RSBatches++
		progress.Add(1)
	}
	result.RSLoss = floats.Mean(losses)

	// knowledge graph task
	if trainKGE {
		t.enter(KGEEpoch)
		data.KG.Shuffle(t.rng)
		var rmses []float32
		for start := 0; start < data.KG.Len(); start += t.config.BatchSize {
			if err = ctx.Err(); err != nil {
				return nil, errors.Trace(err)
			}
			rmse, err := t.model.TrainKGE(SliceKGE(data.KG, start, start+t.config.BatchSize, t.config.Dropout))
			if err != nil {
				return nil, errors.Annotatef(err, "train knowledge graph task at epoch %d", epoch)
			}
			if math32.IsNaN(rmse) || math32.IsInf(rmse, 0) {
				return nil, errors.Errorf("knowledge graph rmse diverges (%v) at epoch %d", rmse, epoch)
			}
			t.logLoss("train knowledge graph task", epoch, result.KGEBatches, rmse)
			rmses = append(rmses, rmse)
			result.KGEBatches++
			progress.Add(1)
		}
		result.KGERMSE = floats.Mean(rmses)
	}

	if err = t.evaluate(ctx, data, result); err != nil {
		return nil, errors.Trace(err)
	}
	if t.config.ShowTopK {
		if err = t.evaluateTopK(data, users, trainHistory, testHistory, result); err != nil {
			return nil, errors.Trace(err)
		}
	}

	log.Logger().Info(fmt.Sprintf("fit mkr %v/%v", epoch+1, t.config.NEpochs),
		zap.Float32("rs_loss", result.RSLoss),
		zap.Float32("kge_rmse", result.KGERMSE),
		zap.Float32("train_auc", result.Train.AUC),
		zap.Float32("train_acc", result.Train.Accuracy),
		zap.Float32("eval_auc", result.Eval.AUC),
		zap.Float32("eval_acc", result.Eval.Accuracy),
		zap.Float32("test_auc", result.Test.AUC),
		zap.Float32("test_acc", result.Test.Accuracy))
	span.SetAttributes(
		attribute.Float64("eval_auc", float64(result.Eval.AUC)),
		attribute.Float64("test_auc", float64(result.Test.AUC)))
	recordEpoch(result)
	if t.OnEpoch != nil {
		t.OnEpoch(*result)
	}
	return result, nil
}

func (t *Trainer) evaluate(ctx context.Context, data *Data, result *EpochResult) error {
	t.enter(Evaluating)
	for _, split := range []struct {
		name         string
		interactions *dataset.Interactions
		score        *CTRScore
	}{
		{SplitTrain, data.Train, &result.Train},
		{SplitEval, data.Eval, &result.Eval},
		{SplitTest, data.Test, &result.Test},
	} {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		auc, acc, err := t.model.Evaluate(SliceRS(split.interactions, 0, split.interactions.Len(), t.config.Dropout))
		if err != nil {
			return errors.Annotatef(err, "evaluate %s set", split.name)
		}
		*split.score = CTRScore{AUC: auc, Accuracy: acc}
	}
	return nil
}

func (t *Trainer) evaluateTopK(data *Data, users []int32, trainHistory, testHistory map[int32]mapset.Set[int32], result *EpochResult) error {
	t.enter(TopKEvaluating)
	cutoffs := t.config.TopKCutoffs
	if len(cutoffs) == 0 {
		cutoffs = DefaultCutoffs
	}
	score, err := EvaluateTopK(t.model, users, trainHistory, testHistory, data.Vocab.NItems, cutoffs)
	if err != nil {
		return errors.Annotate(err, "evaluate top-k")
	}
	result.TopK = score
	log.Logger().Info("evaluate top-k",
		zap.Int("n_users", len(users)),
		zap.Ints("cutoffs", score.Cutoffs),
		zap.Float32s("precision", score.Precision),
		zap.Float32s("recall", score.Recall),
		zap.Float32s("f1", score.F1))
	return nil
}

func (t *Trainer) logLoss(msg string, epoch, batch int, loss float32) {
	fields := []zap.Field{zap.Int("epoch", epoch+1), zap.Int("batch", batch+1), zap.Float32("loss", loss)}
	if t.config.ShowLoss {
		log.Logger().Info(msg, fields...)
	} else {
		log.Logger().Debug(msg, fields...)
	}
}

func batchCount(n, batchSize int) int {
	return (n + batchSize - 1) / batchSize
}
