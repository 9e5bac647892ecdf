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
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorse-io/mkr/common/log"
	"github.com/gorse-io/mkr/model/mkr"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var tuneCommand = &cobra.Command{
	Use:   "tune",
	Short: "Search hyper-parameters maximizing eval AUC",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		if cmd.Flags().Changed("trials") {
			conf.Tune.NTrials, _ = cmd.Flags().GetInt("trials")
		}
		data := loadData(conf)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		trainerConfig := mkr.NewTrainerConfig(conf)
		if conf.Tune.NEpochs > 0 {
			trainerConfig.NEpochs = conf.Tune.NEpochs
		}
		start := time.Now()
		search := mkr.NewModelSearch(newModel, data, trainerConfig, modelParams(conf))
		result, err := search.Search(ctx, conf.Tune.NTrials)
		writeMetrics(cmd)
		if err != nil {
			log.Logger().Fatal("failed to tune mkr", zap.Error(err))
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Params", "Eval AUC", "Eval Accuracy")
		if err = table.Append([]string{
			result.Params.ToString(),
			fmt.Sprintf("%.4f", result.Score.Eval.AUC),
			fmt.Sprintf("%.4f", result.Score.Eval.Accuracy),
		}); err != nil {
			log.Logger().Fatal("failed to render result", zap.Error(err))
		}
		if err = table.Render(); err != nil {
			log.Logger().Fatal("failed to render result", zap.Error(err))
		}
		log.Logger().Info("complete tuning", zap.Int("n_trials", conf.Tune.NTrials), zap.Duration("elapsed", time.Since(start)))
	},
}

func init() {
	tuneCommand.Flags().Int("trials", 10, "number of trials")
}
