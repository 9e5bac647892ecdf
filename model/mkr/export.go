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
	"encoding/json"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/gorse-io/mkr/common/log"
	"github.com/gorse-io/mkr/dataset"
	"github.com/gorse-io/mkr/storage/blob"
	"github.com/gorse-io/mkr/storage/meta"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	ResultDir      = "result"
	SavedModelFile = "saved_model.json"
	VariablesDir   = "variables"
	ServeTag       = "serve"
	SignatureName  = "crt_scores"
	PredictMethod  = "tensorflow/serving/predict"
)

// TensorInfo describes an input or output of a signature. A dimension of -1
// has unknown size.
type TensorInfo struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
}

type SignatureDef struct {
	Inputs     map[string]TensorInfo `json:"inputs"`
	Outputs    map[string]TensorInfo `json:"outputs"`
	MethodName string                `json:"method_name"`
}

// SavedModel is the manifest of a servable export.
type SavedModel struct {
	Version       int64                   `json:"version"`
	Tags          []string                `json:"tags"`
	SignatureDefs map[string]SignatureDef `json:"signature_def"`
	Vocabulary    dataset.Vocabulary      `json:"vocabulary"`
	Variables     string                  `json:"variables"`
}

func NewSavedModel(version int64, tables EmbeddingTables) *SavedModel {
	return &SavedModel{
		Version: version,
		Tags:    []string{ServeTag},
		SignatureDefs: map[string]SignatureDef{
			SignatureName: {
				Inputs: map[string]TensorInfo{
					"user_id":    {Name: "user_indices", DType: "DT_INT32", Shape: []int{-1}},
					"item_id":    {Name: "item_indices", DType: "DT_INT32", Shape: []int{-1}},
					"head_id":    {Name: "head_indices", DType: "DT_INT32", Shape: []int{-1}},
					"is_dropout": {Name: "dropout_param", DType: "DT_FLOAT", Shape: []int{}},
				},
				Outputs: map[string]TensorInfo{
					"ctr_predict": {Name: "scores_normalized", DType: "DT_FLOAT", Shape: []int{-1}},
				},
				MethodName: PredictMethod,
			},
		},
		Vocabulary: dataset.Vocabulary{
			NUsers:     len(tables.User),
			NItems:     len(tables.Item),
			NEntities:  len(tables.Entity),
			NRelations: len(tables.Relation),
		},
		Variables: path.Join(VariablesDir, CheckpointFile),
	}
}

// Exporter persists trained models. Embedding tables go to fixed text
// matrices, parameters go to a versioned checkpoint and a servable bundle.
type Exporter struct {
	store         blob.Store
	checkpointDir string
	registry      meta.Database
}

// NewExporter creates an exporter. The registry is optional.
func NewExporter(store blob.Store, checkpointDir string, registry meta.Database) *Exporter {
	return &Exporter{
		store:         store,
		checkpointDir: checkpointDir,
		registry:      registry,
	}
}

// ExportDir returns the directory of the servable bundle of a version.
func ExportDir(version int64) string {
	return path.Join(ResultDir, strconv.FormatInt(version, 10))
}

// Check returns a configuration error if the version has been exported.
func (e *Exporter) Check(version int64) error {
	for _, dir := range []string{path.Dir(CheckpointPath(e.checkpointDir, version)), ExportDir(version)} {
		names, err := blob.ListPrefix(e.store, dir)
		if err != nil {
			return errors.Trace(err)
		}
		if len(names) > 0 {
			return errors.NotValidf("version %d already exists in %s", version, dir)
		}
	}
	return nil
}

// Export writes the model as the given version. It fails with a
// configuration error if the version exists, before writing anything.
func (e *Exporter) Export(m Model, version int64, score *EpochResult) error {
	if err := e.Check(version); err != nil {
		return errors.Trace(err)
	}
	checkpoint := CheckpointPath(e.checkpointDir, version)
	exportDir := ExportDir(version)

	tables := m.GetEmbeddingTables()
	params := m.Parameters()
	savedModel := NewSavedModel(version, tables)
	prior, err := e.snapshotTables()
	if err != nil {
		return errors.Trace(err)
	}
	var written []string
	write := func(name string, encode func(w io.Writer) error) error {
		written = append(written, name)
		w, _, err := e.store.Create(name)
		if err != nil {
			return errors.Trace(err)
		}
		if err = encode(w); err != nil {
			_ = w.Close()
			return errors.Annotatef(err, "write %s", name)
		}
		return errors.Trace(w.Close())
	}
	writeCheckpoint := func(w io.Writer) error {
		return WriteCheckpoint(w, params)
	}
	err = write(checkpoint, writeCheckpoint)
	if err == nil {
		err = write(path.Join(exportDir, SavedModelFile), func(w io.Writer) error {
			encoder := json.NewEncoder(w)
			encoder.SetIndent("", "  ")
			return encoder.Encode(savedModel)
		})
	}
	if err == nil {
		err = write(path.Join(exportDir, savedModel.Variables), writeCheckpoint)
	}
	if err == nil {
		if err = SaveEmbeddingTables(e.store, tables); err != nil {
			e.restoreTables(prior)
		}
	}
	if err != nil {
		for _, name := range written {
			if removeErr := e.store.Remove(name); removeErr != nil && !errors.Is(removeErr, errors.NotFound) {
				log.Logger().Warn("failed to remove partial export", zap.String("file", name), zap.Error(removeErr))
			}
		}
		return errors.Trace(err)
	}

	if e.registry != nil {
		result := lo.FromPtr(score)
		scoreJSON, err := json.Marshal(result)
		if err != nil {
			return errors.Trace(err)
		}
		if err = e.registry.AddRun(&meta.Run{
			Version:    version,
			Checkpoint: checkpoint,
			Export:     exportDir,
			Score:      string(scoreJSON),
			CreateTime: time.Now(),
		}); err != nil {
			return errors.Trace(err)
		}
		if err = meta.PutModel(e.registry, meta.MKR_MODEL, &meta.Model[EpochResult]{ID: version, Score: result}); err != nil {
			return errors.Trace(err)
		}
	}
	ExportVersion.Set(float64(version))
	log.Logger().Info("export mkr model",
		zap.Int64("version", version),
		zap.String("checkpoint", checkpoint),
		zap.String("export", exportDir))
	return nil
}

// snapshotTables reads the raw text matrices currently in the store. Missing
// matrices are absent from the result.
func (e *Exporter) snapshotTables() (map[string][]byte, error) {
	snapshot := make(map[string][]byte)
	for _, name := range EmbeddingNames {
		r, err := e.store.Open(MatrixPath(name))
		if errors.Is(err, errors.NotFound) {
			continue
		} else if err != nil {
			return nil, errors.Trace(err)
		}
		data, err := io.ReadAll(r)
		_ = r.Close()
		if err != nil {
			return nil, errors.Annotatef(err, "read %s", MatrixPath(name))
		}
		snapshot[name] = data
	}
	return snapshot, nil
}

// restoreTables puts back the text matrices of a snapshot and removes the
// matrices that did not exist before.
func (e *Exporter) restoreTables(snapshot map[string][]byte) {
	for _, name := range EmbeddingNames {
		data, exist := snapshot[name]
		if !exist {
			if err := e.store.Remove(MatrixPath(name)); err != nil && !errors.Is(err, errors.NotFound) {
				log.Logger().Warn("failed to remove partial embedding table", zap.String("file", MatrixPath(name)), zap.Error(err))
			}
			continue
		}
		w, _, err := e.store.Create(MatrixPath(name))
		if err == nil {
			_, err = w.Write(data)
			if closeErr := w.Close(); err == nil {
				err = closeErr
			}
		}
		if err != nil {
			log.Logger().Error("failed to restore embedding table", zap.String("file", MatrixPath(name)), zap.Error(err))
		}
	}
}
