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
	"os"

	"github.com/gorse-io/mkr/cmd/version"
	"github.com/gorse-io/mkr/common/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "mkr",
	Short: "Multi-task training of recommendation and knowledge graph embedding.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show the version of mkr",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.BuildInfo())
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.PersistentFlags().Bool("show-loss", false, "log the loss of every step")
	rootCommand.PersistentFlags().Bool("show-topk", false, "run top-K evaluation after every epoch")
	rootCommand.PersistentFlags().String("restore", "", "checkpoint directory to restore from (a checkpoint must exist)")
	rootCommand.PersistentFlags().String("metrics-file", "", "write metrics in Prometheus text format to the file")
	rootCommand.AddCommand(trainCommand, evaluateCommand, tuneCommand, versionCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Error("failed to execute", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Sync()
}
