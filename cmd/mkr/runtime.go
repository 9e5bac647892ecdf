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

package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/gorse-io/mkr/base"
	"github.com/gorse-io/mkr/common/log"
	"github.com/gorse-io/mkr/config"
	"github.com/gorse-io/mkr/dataset"
	"github.com/gorse-io/mkr/model"
	"github.com/gorse-io/mkr/model/mkr"
	"github.com/gorse-io/mkr/storage/blob"
	"github.com/gorse-io/mkr/storage/meta"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// loadConfig loads the configuration file and applies command line overrides.
func loadConfig(cmd *cobra.Command) *config.Config {
	otel.SetErrorHandler(log.GetErrorHandler())
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	if cmd.Flags().Changed("show-loss") {
		conf.Train.ShowLoss, _ = cmd.Flags().GetBool("show-loss")
	}
	if cmd.Flags().Changed("show-topk") {
		conf.Train.ShowTopK, _ = cmd.Flags().GetBool("show-topk")
	}
	if cmd.Flags().Changed("restore") {
		conf.Restore.CheckpointDir, _ = cmd.Flags().GetString("restore")
		conf.Restore.Required = true
	}
	if err = conf.Validate(); err != nil {
		log.Logger().Fatal("invalid config", zap.Error(err))
	}
	return conf
}

// openStorage opens the blob store and, if configured, the run registry.
func openStorage(conf *config.Config) (blob.Store, meta.Database) {
	store, err := blob.Open(conf.Storage)
	if err != nil {
		log.Logger().Fatal("failed to open blob store", zap.String("blob_store", conf.Storage.BlobStore), zap.Error(err))
	}
	if conf.Database.MetaStore == "" {
		return store, nil
	}
	registry, err := meta.Open(conf.Database.MetaStore)
	if err != nil {
		log.Logger().Fatal("failed to open meta store", zap.Error(err))
	}
	if err = registry.Init(); err != nil {
		log.Logger().Fatal("failed to init meta store", zap.Error(err))
	}
	return store, registry
}

// loadData loads interactions and the knowledge graph and splits them.
func loadData(conf *config.Config) *mkr.Data {
	interactions, err := dataset.LoadInteractions(conf.Data.RatingsFile, conf.Data.Separator)
	if err != nil {
		log.Logger().Fatal("failed to load ratings", zap.String("ratings_file", conf.Data.RatingsFile), zap.Error(err))
	}
	kg, err := dataset.LoadTriples(conf.Data.KGFile, conf.Data.Separator)
	if err != nil {
		log.Logger().Fatal("failed to load knowledge graph", zap.String("kg_file", conf.Data.KGFile), zap.Error(err))
	}
	floor := dataset.Vocabulary{
		NUsers:     conf.Data.NUsers,
		NItems:     conf.Data.NItems,
		NEntities:  conf.Data.NEntities,
		NRelations: conf.Data.NRelations,
	}
	rng := base.NewRandomGenerator(conf.Train.RandomState)
	data, err := mkr.PrepareData(interactions, kg, floor, conf.Data.EvalRatio, conf.Data.TestRatio, rng)
	if err != nil {
		log.Logger().Fatal("failed to split data", zap.Error(err))
	}
	return data
}

// modelParams converts the train section into hyper-parameters.
func modelParams(conf *config.Config) model.Params {
	return model.Params{
		model.Dim:         conf.Train.Dim,
		model.LrRS:        conf.Train.LrRS,
		model.LrKGE:       conf.Train.LrKGE,
		model.L2Weight:    conf.Train.L2Weight,
		model.RandomState: conf.Train.RandomState,
		model.NJobs:       conf.Train.Jobs,
	}
}

func newModel(params model.Params, vocab dataset.Vocabulary) mkr.Model {
	return mkr.NewLiteMKR(params, vocab)
}

// writeMetrics writes gauges to the metrics file if it is set.
func writeMetrics(cmd *cobra.Command) {
	path, _ := cmd.Flags().GetString("metrics-file")
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		log.Logger().Error("failed to write metrics", zap.String("metrics_file", path), zap.Error(err))
	}
}

// renderTopK prints precision, recall and F1 at every cutoff.
func renderTopK(w io.Writer, score *mkr.TopKScore) error {
	if score == nil {
		return nil
	}
	table := tablewriter.NewWriter(w)
	table.Header("Cutoff", "Precision", "Recall", "F1")
	for i, k := range score.Cutoffs {
		if err := table.Append([]string{
			strconv.Itoa(k),
			fmt.Sprintf("%.4f", score.Precision[i]),
			fmt.Sprintf("%.4f", score.Recall[i]),
			fmt.Sprintf("%.4f", score.F1[i]),
		}); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

// renderScores prints AUC and accuracy of every split.
func renderScores(w io.Writer, result *mkr.EpochResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("Split", "AUC", "Accuracy")
	for _, split := range []struct {
		name  string
		score mkr.CTRScore
	}{
		{mkr.SplitTrain, result.Train},
		{mkr.SplitEval, result.Eval},
		{mkr.SplitTest, result.Test},
	} {
		if err := table.Append([]string{
			split.name,
			fmt.Sprintf("%.4f", split.score.AUC),
			fmt.Sprintf("%.4f", split.score.Accuracy),
		}); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}
