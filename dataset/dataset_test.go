// Copyright 2024 gorse Project Authors
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

package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorse-io/mkr/base"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadInteractions(t *testing.T) {
	data, err := ReadInteractions(strings.NewReader("0\t1\t1\n0\t2\t0\n\n3\t4\t1\n"), DefaultSeparator)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 0, 3}, data.Users)
	assert.Equal(t, []int32{1, 2, 4}, data.Items)
	assert.Equal(t, []float32{1, 0, 1}, data.Labels)
	assert.Equal(t, 3, data.Len())
	assert.Equal(t, 2, data.CountPositive())

	// whitespace separated
	data, err = ReadInteractions(strings.NewReader("1 2 1\n"), "")
	require.NoError(t, err)
	assert.Equal(t, 1, data.Len())

	// malformed lines
	_, err = ReadInteractions(strings.NewReader("0\t1\n"), DefaultSeparator)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = ReadInteractions(strings.NewReader("0\t1\t2\n"), DefaultSeparator)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = ReadInteractions(strings.NewReader("a\t1\t1\n"), DefaultSeparator)
	assert.Error(t, err)
}

func TestLoadInteractions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratings_final.txt")
	require.NoError(t, os.WriteFile(path, []byte("0\t1\t1\n2\t3\t0\n"), 0644))
	data, err := LoadInteractions(path, DefaultSeparator)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 2}, data.Users)
	assert.Equal(t, []int32{1, 3}, data.Items)
	assert.Equal(t, 1, data.CountPositive())

	_, err = LoadInteractions(filepath.Join(t.TempDir(), "missing.txt"), DefaultSeparator)
	assert.Error(t, err)
}

func TestLoadTriples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kg_final.txt")
	require.NoError(t, os.WriteFile(path, []byte("1\t0\t5\n2\t1\t6\n"), 0644))
	kg, err := LoadTriples(path, DefaultSeparator)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, kg.Heads)
	assert.Equal(t, []int32{0, 1}, kg.Relations)
	assert.Equal(t, []int32{5, 6}, kg.Tails)

	_, err = LoadTriples(filepath.Join(t.TempDir(), "missing.txt"), DefaultSeparator)
	assert.Error(t, err)
}

func TestInteractions_Shuffle(t *testing.T) {
	data := NewInteractions(100)
	for i := 0; i < 100; i++ {
		data.Append(int32(i), int32(i+1000), float32(i%2))
	}
	data.Shuffle(base.NewRandomGenerator(0))
	assert.ElementsMatch(t, lo.Range(100), lo.Map(data.Users, func(u int32, _ int) int { return int(u) }))
	for i := range data.Users {
		// columns are permuted together
		assert.Equal(t, data.Users[i]+1000, data.Items[i])
		assert.Equal(t, float32(data.Users[i]%2), data.Labels[i])
	}
}

func TestTriples_Shuffle(t *testing.T) {
	kg := NewTriples(50)
	for i := 0; i < 50; i++ {
		kg.Append(int32(i), int32(i*2), int32(i*3))
	}
	kg.Shuffle(base.NewRandomGenerator(0))
	for i := range kg.Heads {
		assert.Equal(t, kg.Heads[i]*2, kg.Relations[i])
		assert.Equal(t, kg.Heads[i]*3, kg.Tails[i])
	}
}

func TestClone(t *testing.T) {
	data := NewInteractions(0)
	data.Append(1, 2, 1)
	data.Append(3, 4, 0)
	cloned := data.Clone()
	assert.Equal(t, data, cloned)
	cloned.Users[0] = 9
	assert.Equal(t, int32(1), data.Users[0])

	kg := NewTriples(0)
	kg.Append(1, 2, 3)
	clonedKG := kg.Clone()
	assert.Equal(t, kg, clonedKG)
	clonedKG.Tails[0] = 9
	assert.Equal(t, int32(3), kg.Tails[0])

	var nilData *Interactions
	assert.Nil(t, nilData.Clone())
	var nilKG *Triples
	assert.Nil(t, nilKG.Clone())
}

func TestInteractions_Split(t *testing.T) {
	data := NewInteractions(100)
	for i := 0; i < 100; i++ {
		data.Append(int32(i), int32(i), 1)
	}
	train, eval, test, err := data.Split(0.2, 0.2, base.NewRandomGenerator(0))
	require.NoError(t, err)
	assert.Equal(t, 60, train.Len())
	assert.Equal(t, 20, eval.Len())
	assert.Equal(t, 20, test.Len())
	all := append(append(append([]int32{}, train.Users...), eval.Users...), test.Users...)
	assert.ElementsMatch(t, data.Users, all)
	assert.IsIncreasing(t, train.Users)
	assert.IsIncreasing(t, eval.Users)
	assert.IsIncreasing(t, test.Users)

	_, _, _, err = data.Split(0.5, 0.5, base.NewRandomGenerator(0))
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestComputeVocabulary(t *testing.T) {
	data := NewInteractions(0)
	data.Append(3, 7, 1)
	data.Append(1, 2, 0)
	kg := NewTriples(0)
	kg.Append(2, 4, 10)
	vocab := ComputeVocabulary(data, kg)
	assert.Equal(t, Vocabulary{NUsers: 4, NItems: 8, NEntities: 11, NRelations: 5}, vocab)
	assert.Equal(t, Vocabulary{}, ComputeVocabulary(nil, nil))
	assert.Equal(t, Vocabulary{NUsers: 10, NItems: 8, NEntities: 11, NRelations: 5},
		vocab.Max(Vocabulary{NUsers: 10, NItems: 1}))
}
