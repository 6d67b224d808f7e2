// Package config resolves the benchmark configuration from defaults, an
// optional YAML file and command-line overrides.
package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/FlavioCFOliveira/neurobench/internal/data"
	"github.com/FlavioCFOliveira/neurobench/internal/models"
	"github.com/FlavioCFOliveira/neurobench/internal/opt"
	"github.com/FlavioCFOliveira/neurobench/internal/trainer"
)

// ErrConfiguration is returned for values outside their allowed set.
var ErrConfiguration = errors.New("config: invalid configuration")

// DataConfig describes the synthetic batches.
type DataConfig struct {
	ImageShape    []int  `yaml:"image_shape" json:"image_shape"`
	SequenceShape int    `yaml:"sequence_shape" json:"sequence_shape"`
	NIteration    int    `yaml:"niteration" json:"niteration"`
	BatchSize     int    `yaml:"batch_size" json:"batch_size"`
	LabelSize     int    `yaml:"label_size" json:"label_size"`
	TargetType    string `yaml:"target_type" json:"target_type"`
}

// TrainerOptions are the trainer switches.
type TrainerOptions struct {
	Mode          string `yaml:"mode" json:"mode"`
	BenchmarkMode bool   `yaml:"benchmark_mode" json:"benchmark_mode"`
	Half          bool   `yaml:"half" json:"half"`
	ParallelLoss  bool   `yaml:"parallel_loss" json:"parallel_loss"`
}

// Config is the fully resolved experiment configuration. It is persisted
// as config.json for every run.
type Config struct {
	DataType         string         `yaml:"data_type" json:"data_type"`
	DataConfig       DataConfig     `yaml:"data_config" json:"data_config"`
	NGPU             int            `yaml:"ngpu" json:"ngpu"`
	Framework        string         `yaml:"framework" json:"framework"`
	DNNArch          string         `yaml:"dnn_arch" json:"dnn_arch"`
	RNNLayers        int            `yaml:"rnn_layers" json:"rnn_layers"`
	OptType          string         `yaml:"opt_type" json:"opt_type"`
	OptConf          opt.Config     `yaml:"opt_conf" json:"opt_conf"`
	TrainerOptions   TrainerOptions `yaml:"trainer_options" json:"trainer_options"`
	TimeOptions      string         `yaml:"time_options" json:"time_options"`
	Progressbar      bool           `yaml:"progressbar" json:"progressbar"`
	Seed             int64          `yaml:"seed" json:"seed"`
	ResultsDir       string         `yaml:"results_dir" json:"results_dir"`
	LogEvery         int            `yaml:"log_every" json:"log_every"`
	FrameworkVersion string         `yaml:"-" json:"framework_version"`
}

// Default returns the stock benchmark: a CNN on 10 batches of ten 3x28x28
// images with 3000 labels, trained on the host with SGD.
func Default() *Config {
	return &Config{
		DataType: string(data.Image),
		DataConfig: DataConfig{
			ImageShape:    []int{3, 28, 28},
			SequenceShape: 28,
			NIteration:    10,
			BatchSize:     10,
			LabelSize:     3000,
			TargetType:    string(data.Index),
		},
		NGPU:      0,
		Framework: string(models.Native),
		DNNArch:   string(models.CNN),
		RNNLayers: 4,
		OptType:   "SGD",
		OptConf:   opt.Config{LR: 0.01, Momentum: 0.9},
		TrainerOptions: TrainerOptions{
			Mode: string(trainer.Train),
		},
		TimeOptions: string(trainer.TimeTotal),
		Progressbar: true,
		ResultsDir:  "results",
		LogEvery:    1,
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path yields the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}

// Overrides captures CLI supplied values. Nil fields are left untouched.
type Overrides struct {
	DataType      *string
	NIteration    *int
	BatchSize     *int
	LabelSize     *int
	TargetType    *string
	NGPU          *int
	Framework     *string
	DNNArch       *string
	OptType       *string
	LR            *float64
	Momentum      *float64
	Mode          *string
	BenchmarkMode *bool
	Half          *bool
	ParallelLoss  *bool
	TimeOptions   *string
	Progressbar   *bool
	Seed          *int64
	ResultsDir    *string
	LogEvery      *int
}

// ApplyOverrides updates c with every non-nil override.
func (c *Config) ApplyOverrides(o Overrides) {
	setString(&c.DataType, o.DataType)
	setInt(&c.DataConfig.NIteration, o.NIteration)
	setInt(&c.DataConfig.BatchSize, o.BatchSize)
	setInt(&c.DataConfig.LabelSize, o.LabelSize)
	setString(&c.DataConfig.TargetType, o.TargetType)
	setInt(&c.NGPU, o.NGPU)
	setString(&c.Framework, o.Framework)
	setString(&c.DNNArch, o.DNNArch)
	setString(&c.OptType, o.OptType)
	if o.LR != nil {
		c.OptConf.LR = *o.LR
	}
	if o.Momentum != nil {
		c.OptConf.Momentum = *o.Momentum
	}
	setString(&c.TrainerOptions.Mode, o.Mode)
	setBool(&c.TrainerOptions.BenchmarkMode, o.BenchmarkMode)
	setBool(&c.TrainerOptions.Half, o.Half)
	setBool(&c.TrainerOptions.ParallelLoss, o.ParallelLoss)
	setString(&c.TimeOptions, o.TimeOptions)
	setBool(&c.Progressbar, o.Progressbar)
	if o.Seed != nil {
		c.Seed = *o.Seed
	}
	setString(&c.ResultsDir, o.ResultsDir)
	setInt(&c.LogEvery, o.LogEvery)
}

func setString(dst, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// Validate verifies the config is runnable. Every failure wraps
// ErrConfiguration.
func (c *Config) Validate() error {
	if c == nil {
		return errors.Wrap(ErrConfiguration, "config is nil")
	}
	if len(c.DataConfig.ImageShape) != 3 {
		return errors.Wrapf(ErrConfiguration, "image_shape must have 3 dimensions (got %v)", c.DataConfig.ImageShape)
	}
	if err := c.Data().Validate(); err != nil {
		return errors.Wrapf(ErrConfiguration, "%v", err)
	}
	if c.NGPU < 0 {
		return errors.Wrapf(ErrConfiguration, "ngpu must be >= 0 (got %d)", c.NGPU)
	}
	if _, err := models.ParseFramework(c.Framework); err != nil {
		return errors.Wrapf(ErrConfiguration, "%v", err)
	}
	if _, err := models.ParseArch(c.DNNArch); err != nil {
		return errors.Wrapf(ErrConfiguration, "%v", err)
	}
	if c.OptType == "" {
		return errors.Wrap(ErrConfiguration, "opt_type must be set")
	}
	if err := c.Trainer().Validate(); err != nil {
		return errors.Wrapf(ErrConfiguration, "%v", err)
	}
	if c.ResultsDir == "" {
		return errors.Wrap(ErrConfiguration, "results_dir must be set")
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 1
	}
	return nil
}

// Data returns the iterator configuration.
func (c *Config) Data() data.Config {
	var shape [3]int
	copy(shape[:], c.DataConfig.ImageShape)
	return data.Config{
		DataType:      data.DataType(c.DataType),
		ImageShape:    shape,
		SequenceShape: c.DataConfig.SequenceShape,
		NIteration:    c.DataConfig.NIteration,
		BatchSize:     c.DataConfig.BatchSize,
		LabelSize:     c.DataConfig.LabelSize,
		TargetType:    data.TargetType(c.DataConfig.TargetType),
		Seed:          c.Seed,
	}
}

// Model returns the model factory options.
func (c *Config) Model() models.Options {
	opts := models.DefaultOptions()
	d := c.Data()
	opts.DataType = d.DataType
	opts.ImageShape = d.ImageShape
	opts.SequenceShape = d.SequenceShape
	opts.LabelSize = d.LabelSize
	opts.RNNLayers = c.RNNLayers
	opts.Seed = c.Seed
	return opts
}

// Trainer returns the trainer options.
func (c *Config) Trainer() trainer.Options {
	opts := trainer.DefaultOptions()
	opts.Mode = trainer.Mode(c.TrainerOptions.Mode)
	opts.BenchmarkMode = c.TrainerOptions.BenchmarkMode
	opts.Half = c.TrainerOptions.Half
	opts.ParallelLoss = c.TrainerOptions.ParallelLoss
	opts.TimeOptions = trainer.TimeOption(c.TimeOptions)
	return opts
}
