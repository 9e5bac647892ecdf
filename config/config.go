// Copyright 2020 gorse Project Authors
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

package config

import (
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Config is the configuration for the trainer.
type Config struct {
	Data     DataConfig     `mapstructure:"data"`
	Train    TrainConfig    `mapstructure:"train"`
	Restore  RestoreConfig  `mapstructure:"restore"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Tune     TuneConfig     `mapstructure:"tune"`
}

// DataConfig locates interactions and the knowledge graph.
type DataConfig struct {
	RatingsFile string  `mapstructure:"ratings_file" validate:"required"`
	KGFile      string  `mapstructure:"kg_file" validate:"required"`
	Separator   string  `mapstructure:"separator"`
	EvalRatio   float32 `mapstructure:"eval_ratio" validate:"gte=0,lt=1"`
	TestRatio   float32 `mapstructure:"test_ratio" validate:"gte=0,lt=1"`
	// Lower bounds of vocabulary sizes. Tables are never smaller than max id + 1.
	NUsers     int `mapstructure:"n_users" validate:"gte=0"`
	NItems     int `mapstructure:"n_items" validate:"gte=0"`
	NEntities  int `mapstructure:"n_entities" validate:"gte=0"`
	NRelations int `mapstructure:"n_relations" validate:"gte=0"`
}

// TrainConfig controls the training loop.
type TrainConfig struct {
	Dim         int     `mapstructure:"dim" validate:"gt=0"`
	BatchSize   int     `mapstructure:"batch_size" validate:"gt=0"`
	NEpochs     int     `mapstructure:"n_epochs" validate:"gte=0"`
	KGEInterval int     `mapstructure:"kge_interval" validate:"gt=0"`
	Dropout     float32 `mapstructure:"dropout" validate:"gte=0,lte=1"`
	LrRS        float32 `mapstructure:"lr_rs" validate:"gt=0"`
	LrKGE       float32 `mapstructure:"lr_kge" validate:"gt=0"`
	L2Weight    float32 `mapstructure:"l2_weight" validate:"gte=0"`
	RandomState int64   `mapstructure:"random_state"`
	Jobs        int     `mapstructure:"jobs" validate:"gt=0"`
	ShowLoss    bool    `mapstructure:"show_loss"`
	ShowTopK    bool    `mapstructure:"show_topk"`
	TopKUsers   int     `mapstructure:"topk_users" validate:"gt=0"`
	TopKCutoffs []int   `mapstructure:"topk_cutoffs" validate:"required,dive,gt=0"`
}

// RestoreConfig controls warm start.
type RestoreConfig struct {
	CheckpointDir string `mapstructure:"checkpoint_dir" validate:"required"`
	Required      bool   `mapstructure:"required"`
}

// StorageConfig locates the blob store for matrices, checkpoints and exports.
// BlobStore is a local directory or one of s3://bucket/prefix,
// gcs://bucket/prefix and azblob://container/prefix.
type StorageConfig struct {
	BlobStore string          `mapstructure:"blob_store" validate:"required"`
	S3        S3Config        `mapstructure:"s3"`
	GCS       GCSConfig       `mapstructure:"gcs"`
	Azure     AzureBlobConfig `mapstructure:"azure"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
}

type AzureBlobConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	Endpoint         string `mapstructure:"endpoint"`
}

// DatabaseConfig locates the run registry. An empty meta store disables it.
type DatabaseConfig struct {
	MetaStore string `mapstructure:"meta_store" validate:"omitempty,startswith=sqlite://"`
}

// TuneConfig controls hyper-parameter search.
type TuneConfig struct {
	NTrials int `mapstructure:"n_trials" validate:"gt=0"`
	NEpochs int `mapstructure:"n_epochs" validate:"gte=0"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			RatingsFile: "data/ratings_final.txt",
			KGFile:      "data/kg_final.txt",
			Separator:   "\t",
			EvalRatio:   0.2,
			TestRatio:   0.2,
		},
		Train: TrainConfig{
			Dim:         8,
			BatchSize:   4096,
			NEpochs:     20,
			KGEInterval: 3,
			Dropout:     0.5,
			LrRS:        0.02,
			LrKGE:       0.01,
			L2Weight:    1e-6,
			Jobs:        1,
			TopKUsers:   100,
			TopKCutoffs: []int{1, 2, 5, 10, 20, 50, 100},
		},
		Restore: RestoreConfig{
			CheckpointDir: "restore",
		},
		Storage: StorageConfig{
			BlobStore: "./model",
		},
		Tune: TuneConfig{
			NTrials: 10,
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [data]
	v.SetDefault("data.ratings_file", defaultConfig.Data.RatingsFile)
	v.SetDefault("data.kg_file", defaultConfig.Data.KGFile)
	v.SetDefault("data.separator", defaultConfig.Data.Separator)
	v.SetDefault("data.eval_ratio", defaultConfig.Data.EvalRatio)
	v.SetDefault("data.test_ratio", defaultConfig.Data.TestRatio)
	v.SetDefault("data.n_users", defaultConfig.Data.NUsers)
	v.SetDefault("data.n_items", defaultConfig.Data.NItems)
	v.SetDefault("data.n_entities", defaultConfig.Data.NEntities)
	v.SetDefault("data.n_relations", defaultConfig.Data.NRelations)
	// [train]
	v.SetDefault("train.dim", defaultConfig.Train.Dim)
	v.SetDefault("train.batch_size", defaultConfig.Train.BatchSize)
	v.SetDefault("train.n_epochs", defaultConfig.Train.NEpochs)
	v.SetDefault("train.kge_interval", defaultConfig.Train.KGEInterval)
	v.SetDefault("train.dropout", defaultConfig.Train.Dropout)
	v.SetDefault("train.lr_rs", defaultConfig.Train.LrRS)
	v.SetDefault("train.lr_kge", defaultConfig.Train.LrKGE)
	v.SetDefault("train.l2_weight", defaultConfig.Train.L2Weight)
	v.SetDefault("train.random_state", defaultConfig.Train.RandomState)
	v.SetDefault("train.jobs", defaultConfig.Train.Jobs)
	v.SetDefault("train.show_loss", defaultConfig.Train.ShowLoss)
	v.SetDefault("train.show_topk", defaultConfig.Train.ShowTopK)
	v.SetDefault("train.topk_users", defaultConfig.Train.TopKUsers)
	v.SetDefault("train.topk_cutoffs", defaultConfig.Train.TopKCutoffs)
	// [restore]
	v.SetDefault("restore.checkpoint_dir", defaultConfig.Restore.CheckpointDir)
	v.SetDefault("restore.required", defaultConfig.Restore.Required)
	// [storage]
	v.SetDefault("storage.blob_store", defaultConfig.Storage.BlobStore)
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.use_ssl", false)
	v.SetDefault("storage.gcs.credentials_file", "")
	v.SetDefault("storage.azure.connection_string", "")
	v.SetDefault("storage.azure.account_name", "")
	v.SetDefault("storage.azure.account_key", "")
	v.SetDefault("storage.azure.endpoint", "")
	// [database]
	v.SetDefault("database.meta_store", defaultConfig.Database.MetaStore)
	// [tune]
	v.SetDefault("tune.n_trials", defaultConfig.Tune.NTrials)
	v.SetDefault("tune.n_epochs", defaultConfig.Tune.NEpochs)
}

// LoadConfig loads configuration from a TOML or YAML file. Every key can be
// overridden by an environment variable, e.g. MKR_TRAIN_BATCH_SIZE overrides
// train.batch_size. An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	v.SetEnvPrefix("MKR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		// check if file exist
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Trace(err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate checks constraints declared by struct tags.
func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.NewNotValid(err, "invalid config")
	}
	if config.Data.EvalRatio+config.Data.TestRatio >= 1 {
		return errors.NotValidf("eval_ratio + test_ratio (%v)", config.Data.EvalRatio+config.Data.TestRatio)
	}
	return nil
}
