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
	"encoding/json"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/gorse-io/mkr/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
)

// MKR_MODEL is the key of the latest exported model.
const MKR_MODEL = "MKR_MODEL"

type Model[T any] struct {
	ID    int64
	Score T
}

func (m *Model[T]) ToJSON() string {
	return string(lo.Must1(json.Marshal(m)))
}

func (m *Model[T]) FromJSON(data string) error {
	return json.Unmarshal([]byte(data), m)
}

// Run is an exported training run.
type Run struct {
	Version    int64
	Checkpoint string
	Export     string
	Score      string
	CreateTime time.Time
}

type Database interface {
	Close() error
	Init() error
	AddRun(run *Run) error
	ListRuns() ([]*Run, error)
	Put(key, value string) error
	Get(key string) (*string, error)
}

// Open a connection to a database.
func Open(path string) (Database, error) {
	var err error
	if strings.HasPrefix(path, storage.SQLitePrefix) {
		dataSourceName := path[len(storage.SQLitePrefix):]
		// append parameters
		if dataSourceName, err = storage.AppendURLParams(dataSourceName, []lo.Tuple2[string, string]{
			{A: "_pragma", B: "busy_timeout(10000)"},
			{A: "_pragma", B: "journal_mode(wal)"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		// connect to database
		database := new(SQLite)
		if database.db, err = otelsql.Open("sqlite", dataSourceName,
			otelsql.WithAttributes(semconv.DBSystemSqlite),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	}
	return nil, errors.NotSupportedf("database %s", path)
}

// PutModel records the latest exported model under key.
func PutModel[T any](db Database, key string, m *Model[T]) error {
	return errors.Trace(db.Put(key, m.ToJSON()))
}

// GetModel returns the latest exported model under key. It returns a
// NotFound error if nothing was recorded.
func GetModel[T any](db Database, key string) (*Model[T], error) {
	value, err := db.Get(key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if value == nil {
		return nil, errors.NotFoundf("model %s", key)
	}
	var m Model[T]
	if err = m.FromJSON(*value); err != nil {
		return nil, errors.Trace(err)
	}
	return &m, nil
}
