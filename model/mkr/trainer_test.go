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
	"testing"

	"github.com/chewxy/math32"
	appconfig "github.com/gorse-io/mkr/config"
	"github.com/gorse-io/mkr/dataset"
	"github.com/gorse-io/mkr/storage/blob"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig() TrainerConfig {
	return TrainerConfig{
		NEpochs:       1,
		BatchSize:     4,
		KGEInterval:   1,
		Dropout:       DefaultDropout,
		Dim:           2,
		TopKUsers:     DefaultTopKUsers,
		TopKCutoffs:   []int{1, 2},
		CheckpointDir: "restore",
	}
}

// newTestData creates 4 users x 3 items for training and no knowledge graph.
func newTestData() *Data {
	eval := dataset.NewInteractions(0)
	eval.Append(0, 0, 1)
	eval.Append(1, 1, 0)
	test := dataset.NewInteractions(0)
	test.Append(0, 2, 1)
	test.Append(1, 0, 1)
	test.Append(2, 1, 0)
	return &Data{
		Train: newGridData(4, 3),
		Eval:  eval,
		Test:  test,
		KG:    dataset.NewTriples(0),
		Vocab: dataset.Vocabulary{NUsers: 4, NItems: 3, NEntities: 3, NRelations: 1},
	}
}

func recordStates(trainer *Trainer) *[]State {
	var states []State
	trainer.OnTransition = func(state State) {
		states = append(states, state)
	}
	return &states
}

func TestFit(t *testing.T) {
	data := newTestData()
	m := newMockModel(data.Vocab, 2)
	trainer := NewTrainer(m, nil, nil, newTestConfig())
	states := recordStates(trainer)
	var epochs []EpochResult
	trainer.OnEpoch = func(result EpochResult) {
		epochs = append(epochs, result)
	}
	result, err := trainer.Fit(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, []State{ColdStartInit, RSEpoch, KGEEpoch, Evaluating, Done}, *states)
	assert.Equal(t, Done, trainer.State())

	// 12 interactions in 3 batches
	require.Len(t, m.rsFeeds, 3)
	var pairs [][2]int32
	for _, feed := range m.rsFeeds {
		assert.Equal(t, 4, feed.Len())
		assert.Equal(t, feed.Items, feed.Heads)
		assert.Equal(t, float32(0.5), feed.Dropout)
		for i := range feed.Users {
			pairs = append(pairs, [2]int32{feed.Users[i], feed.Items[i]})
		}
	}
	assert.Len(t, lo.Uniq(pairs), 12)
	// empty knowledge graph
	assert.Empty(t, m.kgeFeeds)
	// every split is evaluated once
	require.Len(t, m.evalFeeds, 3)
	assert.Equal(t, 12, m.evalFeeds[0].Len())
	assert.Equal(t, 2, m.evalFeeds[1].Len())
	assert.Equal(t, 3, m.evalFeeds[2].Len())

	require.Len(t, result.Epochs, 1)
	assert.Equal(t, epochs, result.Epochs)
	epoch := result.Epochs[0]
	assert.Equal(t, 3, epoch.RSBatches)
	assert.Zero(t, epoch.KGEBatches)
	assert.Equal(t, float32(0.5), epoch.RSLoss)
	assert.Zero(t, epoch.KGERMSE)
	assert.Equal(t, CTRScore{AUC: 0.75, Accuracy: 0.5}, epoch.Train)
	assert.Equal(t, CTRScore{AUC: 0.75, Accuracy: 0.5}, epoch.Eval)
	assert.Equal(t, CTRScore{AUC: 0.75, Accuracy: 0.5}, epoch.Test)
	assert.Nil(t, epoch.TopK)
	assert.False(t, result.WarmStart)
	assert.Zero(t, result.Version)
}

func TestFitKGEInterval(t *testing.T) {
	data := newTestData()
	for i := int32(0); i < 5; i++ {
		data.KG.Append(i%3, 0, 3+i)
	}
	data.Vocab.NEntities = 8
	m := newMockModel(data.Vocab, 2)
	config := newTestConfig()
	config.NEpochs = 3
	config.KGEInterval = 2
	config.BatchSize = 2
	config.ShowTopK = true
	trainer := NewTrainer(m, nil, nil, config)
	states := recordStates(trainer)
	result, err := trainer.Fit(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, []State{
		ColdStartInit,
		RSEpoch, KGEEpoch, Evaluating, TopKEvaluating,
		RSEpoch, Evaluating, TopKEvaluating,
		RSEpoch, KGEEpoch, Evaluating, TopKEvaluating,
		Done,
	}, *states)

	// 6 batches per epoch
	assert.Len(t, m.rsFeeds, 18)
	// 3 batches in epoch 0 and epoch 2
	require.Len(t, m.kgeFeeds, 6)
	assert.Equal(t, 1, m.kgeFeeds[2].Len())
	var tails []int32
	for _, feed := range m.kgeFeeds[:3] {
		assert.Equal(t, feed.Heads, feed.Items)
		tails = append(tails, feed.Tails...)
	}
	assert.ElementsMatch(t, []int32{3, 4, 5, 6, 7}, tails)

	require.Len(t, result.Epochs, 3)
	assert.Equal(t, 3, result.Epochs[0].KGEBatches)
	assert.Equal(t, float32(1), result.Epochs[0].KGERMSE)
	assert.Zero(t, result.Epochs[1].KGEBatches)
	for _, epoch := range result.Epochs {
		require.NotNil(t, epoch.TopK)
		assert.Equal(t, []int{1, 2}, epoch.TopK.Cutoffs)
	}
}

func TestFitDeterministic(t *testing.T) {
	config := newTestConfig()
	config.NEpochs = 2
	config.RandomState = 42
	data1, data2 := newTestData(), newTestData()
	m1, m2 := newMockModel(data1.Vocab, 2), newMockModel(data2.Vocab, 2)
	_, err := NewTrainer(m1, nil, nil, config).Fit(context.Background(), data1)
	require.NoError(t, err)
	_, err = NewTrainer(m2, nil, nil, config).Fit(context.Background(), data2)
	require.NoError(t, err)
	assert.Equal(t, m1.rsFeeds, m2.rsFeeds)
}

func TestFitDiverge(t *testing.T) {
	for _, loss := range []float32{math32.NaN(), math32.Inf(1)} {
		data := newTestData()
		m := newMockModel(data.Vocab, 2)
		m.loss = loss
		trainer := NewTrainer(m, nil, nil, newTestConfig())
		_, err := trainer.Fit(context.Background(), data)
		assert.Error(t, err)
		assert.Len(t, m.rsFeeds, 1)
		assert.Empty(t, m.evalFeeds)
		assert.Equal(t, RSEpoch, trainer.State())
	}
}

func TestFitInvalidConfig(t *testing.T) {
	data := newTestData()
	for _, modify := range []func(*TrainerConfig){
		func(c *TrainerConfig) { c.BatchSize = 0 },
		func(c *TrainerConfig) { c.KGEInterval = 0 },
		func(c *TrainerConfig) { c.Dim = 0 },
		func(c *TrainerConfig) { c.Dropout = 2 },
		func(c *TrainerConfig) { c.NEpochs = -1 },
		func(c *TrainerConfig) { c.ShowTopK = true; c.TopKCutoffs = []int{0} },
	} {
		config := newTestConfig()
		modify(&config)
		m := newMockModel(data.Vocab, 2)
		_, err := NewTrainer(m, nil, nil, config).Fit(context.Background(), data)
		assert.True(t, IsConfigurationError(err))
		assert.Empty(t, m.rsFeeds)
	}
}

func TestFitCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	data := newTestData()
	m := newMockModel(data.Vocab, 2)
	_, err := NewTrainer(m, nil, nil, newTestConfig()).Fit(ctx, data)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, m.rsFeeds)
}

func TestFitExport(t *testing.T) {
	store := blob.NewPOSIX(t.TempDir())
	data := newTestData()
	m := newMockModel(data.Vocab, 2)
	config := newTestConfig()
	config.Version = 100
	trainer := NewTrainer(m, store, nil, config)
	states := recordStates(trainer)
	result, err := trainer.Fit(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, []State{ColdStartInit, RSEpoch, KGEEpoch, Evaluating, Exporting, Done}, *states)
	assert.Equal(t, int64(100), result.Version)
	names, err := store.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"vocab/user_emb_matrix.txt",
		"vocab/item_emb_matrix.txt",
		"vocab/entity_emb_matrix.txt",
		"vocab/relation_emb_matrix.txt",
		"restore/100/mkr.ckpt",
		"result/100/saved_model.json",
		"result/100/variables/mkr.ckpt",
	}, names)

	// reusing the version fails before training
	m = newMockModel(data.Vocab, 2)
	_, err = NewTrainer(m, store, nil, config).Fit(context.Background(), newTestData())
	assert.True(t, IsConfigurationError(err))
	assert.Empty(t, m.rsFeeds)
}

func TestFitWarmStart(t *testing.T) {
	store := blob.NewPOSIX(t.TempDir())
	config := newTestConfig()
	config.Version = 1
	data := newTestData()
	m1 := newMockModel(data.Vocab, 2)
	_, err := NewTrainer(m1, store, nil, config).Fit(context.Background(), data)
	require.NoError(t, err)

	// more users and entities
	data = newTestData()
	data.Train.Append(5, 2, 1)
	data.Vocab = dataset.Vocabulary{NUsers: 6, NItems: 3, NEntities: 5, NRelations: 1}
	m2 := newMockModel(data.Vocab, 2)
	m2.weight = [][]float32{{0, 0}, {0, 0}}
	config.Version = 2
	trainer := NewTrainer(m2, store, nil, config)
	states := recordStates(trainer)
	result, err := trainer.Fit(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, WarmStartInit, (*states)[0])
	assert.True(t, result.WarmStart)
	assert.Equal(t, int64(1), result.RestoredVersion)
	assert.Len(t, m2.tables.User, 6)
	assert.Equal(t, m1.tables.User, m2.tables.User[:4])
	assert.Len(t, m2.tables.Entity, 5)
	assert.Equal(t, m1.tables.Entity, m2.tables.Entity[:3])
	assert.Equal(t, m1.tables.Item, m2.tables.Item)
	// other parameters come from the checkpoint
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, m2.weight)

	// the latest checkpoint is version 2
	version, err := LatestVersion(store, "restore")
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func TestFitWarmStartShrink(t *testing.T) {
	store := blob.NewPOSIX(t.TempDir())
	config := newTestConfig()
	config.Version = 1
	data := newTestData()
	_, err := NewTrainer(newMockModel(data.Vocab, 2), store, nil, config).Fit(context.Background(), data)
	require.NoError(t, err)

	data.Vocab.NUsers = 3
	m := newMockModel(data.Vocab, 2)
	config.Version = 2
	_, err = NewTrainer(m, store, nil, config).Fit(context.Background(), data)
	assert.True(t, IsConfigurationError(err))
	assert.Empty(t, m.rsFeeds)
}

func TestFitWarmStartUncleanDir(t *testing.T) {
	store := blob.NewPOSIX(t.TempDir())
	config := newTestConfig()
	config.Version = 1
	data := newTestData()
	_, err := NewTrainer(newMockModel(data.Vocab, 2), store, nil, config).Fit(context.Background(), data)
	require.NoError(t, err)

	config.CheckpointDir = "./restore/"
	config.RestoreRequired = true
	config.Version = 2
	trainer := NewTrainer(newMockModel(data.Vocab, 2), store, nil, config)
	states := recordStates(trainer)
	result, err := trainer.Fit(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, WarmStartInit, (*states)[0])
	assert.Equal(t, int64(1), result.RestoredVersion)
	version, err := LatestVersion(store, "restore")
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	cfg := appconfig.GetDefaultConfig()
	cfg.Restore.CheckpointDir = "./restore/"
	assert.Equal(t, "restore", NewTrainerConfig(cfg).CheckpointDir)
}

func TestFitRestoreRequired(t *testing.T) {
	config := newTestConfig()
	config.RestoreRequired = true
	data := newTestData()

	m := newMockModel(data.Vocab, 2)
	_, err := NewTrainer(m, blob.NewPOSIX(t.TempDir()), nil, config).Fit(context.Background(), data)
	assert.True(t, IsConfigurationError(err))
	assert.Empty(t, m.rsFeeds)

	_, err = NewTrainer(m, nil, nil, config).Fit(context.Background(), data)
	assert.True(t, IsConfigurationError(err))
}

func TestEvaluate(t *testing.T) {
	data := newTestData()
	m := newMockModel(data.Vocab, 2)
	config := newTestConfig()
	config.ShowTopK = true
	trainer := NewTrainer(m, nil, nil, config)
	states := recordStates(trainer)
	result, err := trainer.Evaluate(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, []State{ColdStartInit, Evaluating, TopKEvaluating, Done}, *states)
	assert.Empty(t, m.rsFeeds)
	assert.Len(t, m.evalFeeds, 3)
	assert.Equal(t, CTRScore{AUC: 0.75, Accuracy: 0.5}, result.Test)
	require.NotNil(t, result.TopK)
	assert.Len(t, result.TopK.Precision, 2)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ColdStartInit", ColdStartInit.String())
	assert.Equal(t, "TopKEvaluating", TopKEvaluating.String())
	assert.Equal(t, "Done", Done.String())
	assert.Equal(t, "State(42)", State(42).String())
}
