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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelSplit  = "split"
	LabelCutoff = "cutoff"
)

const (
	SplitTrain = "train"
	SplitEval  = "eval"
	SplitTest  = "test"
)

var (
	EpochTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mkr",
		Subsystem: "trainer",
		Name:      "epoch_total",
	})
	CurrentState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mkr",
		Subsystem: "trainer",
		Name:      "state",
	})
	RSLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mkr",
		Subsystem: "trainer",
		Name:      "rs_loss",
	})
	KGERMSE = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mkr",
		Subsystem: "trainer",
		Name:      "kge_rmse",
	})
	AUCVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mkr",
		Subsystem: "trainer",
		Name:      "auc",
	}, []string{LabelSplit})
	AccuracyVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mkr",
		Subsystem: "trainer",
		Name:      "accuracy",
	}, []string{LabelSplit})
	PrecisionVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mkr",
		Subsystem: "trainer",
		Name:      "precision",
	}, []string{LabelCutoff})
	RecallVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mkr",
		Subsystem: "trainer",
		Name:      "recall",
	}, []string{LabelCutoff})
	F1Vec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mkr",
		Subsystem: "trainer",
		Name:      "f1",
	}, []string{LabelCutoff})
	ExportVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mkr",
		Subsystem: "trainer",
		Name:      "export_version",
	})
)

func recordEpoch(result *EpochResult) {
	EpochTotal.Set(float64(result.Epoch + 1))
	RSLoss.Set(float64(result.RSLoss))
	KGERMSE.Set(float64(result.KGERMSE))
	for split, score := range map[string]CTRScore{
		SplitTrain: result.Train,
		SplitEval:  result.Eval,
		SplitTest:  result.Test,
	} {
		AUCVec.WithLabelValues(split).Set(float64(score.AUC))
		AccuracyVec.WithLabelValues(split).Set(float64(score.Accuracy))
	}
	if result.TopK != nil {
		for i, k := range result.TopK.Cutoffs {
			cutoff := strconv.Itoa(k)
			PrecisionVec.WithLabelValues(cutoff).Set(float64(result.TopK.Precision[i]))
			RecallVec.WithLabelValues(cutoff).Set(float64(result.TopK.Recall[i]))
			F1Vec.WithLabelValues(cutoff).Set(float64(result.TopK.F1[i]))
		}
	}
}
