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

package model

import (
	"github.com/gorse-io/mkr/base"
)

// BaseModel holds hyper-parameters and the random generator seeded by
// RandomState. Embed it in a model.
type BaseModel struct {
	Params Params
	seed   int64
	rng    base.RandomGenerator
}

// SetParams replaces hyper-parameters and reseeds the random generator.
func (model *BaseModel) SetParams(params Params) {
	model.Params = params
	model.seed = params.GetInt64(RandomState, 0)
	model.Reseed()
}

func (model *BaseModel) GetParams() Params {
	return model.Params
}

// Seed returns the seed of the random generator.
func (model *BaseModel) Seed() int64 {
	return model.seed
}

// Reseed restarts the random generator from the seed, so that initialization
// after Reseed is reproducible.
func (model *BaseModel) Reseed() {
	model.rng = base.NewRandomGenerator(model.seed)
}

func (model *BaseModel) GetRandomGenerator() base.RandomGenerator {
	return model.rng
}
