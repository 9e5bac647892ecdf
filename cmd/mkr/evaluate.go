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

var evaluateCommand = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate the latest checkpoint without training",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		conf.Restore.Required = true
		store, _ := openStorage(conf)
		data := loadData(conf)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		trainer := mkr.NewTrainer(newModel(modelParams(conf), data.Vocab), store, nil, mkr.NewTrainerConfig(conf))
		result, err := trainer.Evaluate(ctx, data)
		writeMetrics(cmd)
		if err != nil {
			log.Logger().Fatal("failed to evaluate mkr", zap.Error(err))
		}
		if err = renderScores(os.Stdout, result); err != nil {
			log.Logger().Fatal("failed to render scores", zap.Error(err))
		}
		if err = renderTopK(os.Stdout, result.TopK); err != nil {
			log.Logger().Fatal("failed to render top-k scores", zap.Error(err))
		}
	},
}
