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

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFloat(t *testing.T) {
	v32, err := ParseFloat[float32]("1.000000000000000000e-01")
	assert.NoError(t, err)
	assert.Equal(t, float32(0.1), v32)
	v64, err := ParseFloat[float64]("0.1")
	assert.NoError(t, err)
	assert.Equal(t, 0.1, v64)
	_, err = ParseFloat[float32]("x")
	assert.Error(t, err)
}

func TestParseInt32(t *testing.T) {
	v, err := ParseInt32("-12")
	assert.NoError(t, err)
	assert.Equal(t, int32(-12), v)
	_, err = ParseInt32("4294967296")
	assert.Error(t, err)
	_, err = ParseInt32("1.5")
	assert.Error(t, err)
}
