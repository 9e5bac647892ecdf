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

package meta

import (
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/suite"
)

type baseTestSuite struct {
	suite.Suite
	Database
}

func (suite *baseTestSuite) TestRuns() {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	err := suite.Database.AddRun(&Run{
		Version:    2,
		Checkpoint: "restore/2/mkr.ckpt",
		Export:     "result/2",
		Score:      `{"AUC":0.9}`,
		CreateTime: now,
	})
	suite.NoError(err)
	err = suite.Database.AddRun(&Run{
		Version:    1,
		Checkpoint: "restore/1/mkr.ckpt",
		Export:     "result/1",
		Score:      `{"AUC":0.8}`,
		CreateTime: now,
	})
	suite.NoError(err)
	// Add duplicate version
	err = suite.Database.AddRun(&Run{Version: 1})
	suite.Error(err)
	// List runs
	runs, err := suite.Database.ListRuns()
	suite.NoError(err)
	if suite.Equal(2, len(runs)) {
		suite.Equal(int64(1), runs[0].Version)
		suite.Equal("restore/1/mkr.ckpt", runs[0].Checkpoint)
		suite.Equal("result/1", runs[0].Export)
		suite.Equal(`{"AUC":0.8}`, runs[0].Score)
		suite.True(now.Equal(runs[0].CreateTime))
		suite.Equal(int64(2), runs[1].Version)
	}
}

func (suite *baseTestSuite) TestKeyValues() {
	err := suite.Database.Put("key1", "value1")
	suite.NoError(err)
	err = suite.Database.Put("key2", "value2")
	suite.NoError(err)
	err = suite.Database.Put("key1", "value3")
	suite.NoError(err)

	value, err := suite.Database.Get("key1")
	suite.NoError(err)
	suite.Equal("value3", *value)

	value, err = suite.Database.Get("key2")
	suite.NoError(err)
	suite.Equal("value2", *value)

	// Test non-existing key
	value, err = suite.Database.Get("non-existing-key")
	suite.NoError(err)
	suite.Nil(value)
}

func (suite *baseTestSuite) TestModels() {
	type score struct {
		AUC float32
	}
	_, err := GetModel[score](suite.Database, MKR_MODEL)
	suite.True(errors.Is(err, errors.NotFound))

	err = PutModel(suite.Database, MKR_MODEL, &Model[score]{ID: 1700000000, Score: score{AUC: 0.75}})
	suite.NoError(err)
	m, err := GetModel[score](suite.Database, MKR_MODEL)
	suite.NoError(err)
	suite.Equal(int64(1700000000), m.ID)
	suite.Equal(float32(0.75), m.Score.AUC)
}
