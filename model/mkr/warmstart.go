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
	"path"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/mkr/base"
	"github.com/gorse-io/mkr/common/encoding"
	"github.com/gorse-io/mkr/common/log"
	"github.com/gorse-io/mkr/dataset"
	"github.com/gorse-io/mkr/storage/blob"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const VocabDir = "vocab"

// MatrixPath returns the fixed name of the text matrix of an embedding variable.
func MatrixPath(name string) string {
	return path.Join(VocabDir, name+".txt")
}

// VocabularySize returns the number of rows an embedding variable needs.
func VocabularySize(vocab dataset.Vocabulary, name string) int {
	switch name {
	case UserEmbedding:
		return vocab.NUsers
	case ItemEmbedding:
		return vocab.NItems
	case EntityEmbedding:
		return vocab.NEntities
	case RelationEmbedding:
		return vocab.NRelations
	}
	return 0
}

// GrowTable appends rows drawn from the standard normal distribution until the
// table has newSize rows. Existing rows are kept in place. Shrinking a table
// is rejected.
func GrowTable(name string, prior [][]float32, newSize, width int, rng base.RandomGenerator) ([][]float32, error) {
	if newSize < len(prior) {
		return nil, errors.NotValidf("%s shrinks from %d rows to %d rows", name, len(prior), newSize)
	}
	for i, row := range prior {
		if len(row) != width {
			return nil, errors.NotValidf("%s row %d has width %d, expect %d", name, i, len(row), width)
		}
	}
	if newSize == len(prior) {
		return prior, nil
	}
	grown := make([][]float32, len(prior), newSize)
	copy(grown, prior)
	grown = append(grown, rng.NormalMatrix(newSize-len(prior), width, 0, 1)...)
	return grown, nil
}

// LoadWarmStart grows all four embedding tables to the vocabulary.
func LoadWarmStart(prior EmbeddingTables, vocab dataset.Vocabulary, width int, rng base.RandomGenerator) (EmbeddingTables, error) {
	var grown EmbeddingTables
	for _, name := range EmbeddingNames {
		table, err := GrowTable(name, prior.Get(name), VocabularySize(vocab, name), width, rng)
		if err != nil {
			return EmbeddingTables{}, errors.Trace(err)
		}
		if len(table) > len(prior.Get(name)) {
			log.Logger().Info("grow embedding table", zap.String("name", name),
				zap.Int("prior_size", len(prior.Get(name))), zap.Int("new_size", len(table)))
		}
		grown.Set(name, table)
	}
	return grown, nil
}

// LoadEmbeddingTables reads the four text matrices from the store.
func LoadEmbeddingTables(store blob.Store) (EmbeddingTables, error) {
	var tables EmbeddingTables
	for _, name := range EmbeddingNames {
		r, err := store.Open(MatrixPath(name))
		if err != nil {
			return EmbeddingTables{}, errors.Trace(err)
		}
		table, err := encoding.ReadTextMatrix(r)
		_ = r.Close()
		if err != nil {
			return EmbeddingTables{}, errors.Annotatef(err, "read %s", MatrixPath(name))
		}
		tables.Set(name, table)
	}
	return tables, nil
}

// SaveEmbeddingTables writes the four text matrices to the store, replacing
// previous content.
func SaveEmbeddingTables(store blob.Store, tables EmbeddingTables) error {
	for _, name := range EmbeddingNames {
		w, _, err := store.Create(MatrixPath(name))
		if err != nil {
			return errors.Trace(err)
		}
		if err = encoding.WriteTextMatrix(w, tables.Get(name)); err != nil {
			_ = w.Close()
			return errors.Annotatef(err, "write %s", MatrixPath(name))
		}
		if err = w.Close(); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// RestoreParameters copies parameters from the latest checkpoint under dir into
// params, skipping excluded names. It returns the restored version, or a
// NotFound error if there is no checkpoint.
func RestoreParameters(store blob.Store, dir string, params Parameters, exclude ...string) (int64, error) {
	version, err := LatestVersion(store, dir)
	if err != nil {
		return 0, errors.Trace(err)
	}
	saved, err := LoadCheckpoint(store, CheckpointPath(dir, version))
	if err != nil {
		return 0, errors.Trace(err)
	}
	excluded := mapset.NewThreadUnsafeSet(exclude...)
	for name, dst := range params {
		if excluded.Contains(name) {
			continue
		}
		src, exist := saved[name]
		if !exist {
			return 0, errors.WithType(errors.Errorf("%s not found in checkpoint %d", name, version), ErrCorruptedCheckpoint)
		}
		if len(src) != len(dst) {
			return 0, errors.WithType(errors.Errorf("%s has %d rows in checkpoint %d, expect %d", name, len(src), version, len(dst)), ErrCorruptedCheckpoint)
		}
		for i := range dst {
			if len(src[i]) != len(dst[i]) {
				return 0, errors.WithType(errors.Errorf("%s has width %d in checkpoint %d, expect %d", name, len(src[i]), version, len(dst[i])), ErrCorruptedCheckpoint)
			}
			copy(dst[i], src[i])
		}
	}
	return version, nil
}
