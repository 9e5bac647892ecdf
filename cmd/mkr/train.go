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
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorse-io/mkr/common/log"
	"github.com/gorse-io/mkr/model/mkr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Train the model and export it",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		store, registry := openStorage(conf)
		if registry != nil {
			defer registry.Close()
		}
		data := loadData(conf)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		trainer := mkr.NewTrainer(newModel(modelParams(conf), data.Vocab), store, registry, mkr.NewTrainerConfig(conf))
		trainer.OnEpoch = func(result mkr.EpochResult) {
			if conf.Train.ShowTopK {
				if err := renderTopK(os.Stdout, result.TopK); err != nil {
					log.Logger().Error("failed to render top-k scores", zap.Error(err))
				}
			}
		}
		result, err := trainer.Fit(ctx, data)
		writeMetrics(cmd)
		if err != nil {
			log.Logger().Fatal("failed to train mkr", zap.Error(err))
		}
		if len(result.Epochs) > 0 {
			if err = renderScores(os.Stdout, &result.Epochs[len(result.Epochs)-1]); err != nil {
				log.Logger().Error("failed to render scores", zap.Error(err))
			}
		}
		log.Logger().Info("complete training",
			zap.Int("n_epochs", len(result.Epochs)),
			zap.Bool("warm_start", result.WarmStart),
			zap.Int64("restored_version", result.RestoredVersion),
			zap.Int64("version", result.Version))
	},
}
