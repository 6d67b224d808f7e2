package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/neurobench/internal/data"
	"github.com/FlavioCFOliveira/neurobench/internal/trainer"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	d := cfg.Data()
	require.Equal(t, [3]int{3, 28, 28}, d.ImageShape)
	require.Equal(t, 10, d.NIteration)
	require.Equal(t, 10, d.BatchSize)
	require.Equal(t, 3000, d.LabelSize)
	require.Equal(t, 0, cfg.NGPU)
	require.Equal(t, "SGD", cfg.OptType)
	require.Equal(t, 0.9, cfg.OptConf.Momentum)
	require.Equal(t, trainer.TimeTotal, cfg.Trainer().TimeOptions)
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := writeFile(t, `
data_type: image
data_config:
  image_shape: [1, 4, 28]
  niteration: 3
  batch_size: 2
  label_size: 5
  target_type: one-hot
ngpu: 2
dnn_arch: ResNet
opt_type: Adam
opt_conf:
  lr: 0.001
trainer_options:
  mode: eval
  half: true
  parallel_loss: true
time_options: forward
progressbar: false
seed: 9
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	d := cfg.Data()
	require.Equal(t, [3]int{1, 4, 28}, d.ImageShape)
	require.Equal(t, 3, d.NIteration)
	require.Equal(t, data.OneHot, d.TargetType)
	require.Equal(t, int64(9), d.Seed)
	// keys absent from the file keep their defaults
	require.Equal(t, 28, d.SequenceShape)
	require.Equal(t, "native", cfg.Framework)

	require.Equal(t, 2, cfg.NGPU)
	require.Equal(t, "Adam", cfg.OptType)
	require.Equal(t, 0.001, cfg.OptConf.LR)
	require.False(t, cfg.Progressbar)

	opts := cfg.Trainer()
	require.Equal(t, trainer.Eval, opts.Mode)
	require.True(t, opts.Half)
	require.True(t, opts.ParallelLoss)
	require.Equal(t, trainer.TimeForward, opts.TimeOptions)

	m := cfg.Model()
	require.Equal(t, 5, m.LabelSize)
	require.Equal(t, [3]int{1, 4, 28}, m.ImageShape)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "ngpus: 1\n"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "ngpu: [1\n"))
	require.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.NGPU = 2
	zero := 0
	batch := 32
	half := true
	lr := 0.5
	to := "backward"
	cfg.ApplyOverrides(Overrides{NGPU: &zero, BatchSize: &batch, Half: &half, LR: &lr, TimeOptions: &to})

	require.Equal(t, 0, cfg.NGPU)
	require.Equal(t, 32, cfg.DataConfig.BatchSize)
	require.True(t, cfg.TrainerOptions.Half)
	require.Equal(t, 0.5, cfg.OptConf.LR)
	require.Equal(t, 0.9, cfg.OptConf.Momentum)
	require.Equal(t, "backward", cfg.TimeOptions)
	require.Equal(t, 10, cfg.DataConfig.NIteration)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"data type", func(c *Config) { c.DataType = "audio" }},
		{"image rank", func(c *Config) { c.DataConfig.ImageShape = []int{28, 28} }},
		{"image dim", func(c *Config) { c.DataConfig.ImageShape = []int{3, 0, 28} }},
		{"batch size", func(c *Config) { c.DataConfig.BatchSize = 0 }},
		{"label size", func(c *Config) { c.DataConfig.LabelSize = 0 }},
		{"target type", func(c *Config) { c.DataConfig.TargetType = "soft" }},
		{"ngpu", func(c *Config) { c.NGPU = -1 }},
		{"framework", func(c *Config) { c.Framework = "theano" }},
		{"arch", func(c *Config) { c.DNNArch = "MLP" }},
		{"opt type", func(c *Config) { c.OptType = "" }},
		{"mode", func(c *Config) { c.TrainerOptions.Mode = "test" }},
		{"time options", func(c *Config) { c.TimeOptions = "data" }},
		{"results dir", func(c *Config) { c.ResultsDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrConfiguration)
		})
	}
}

func TestValidateNil(t *testing.T) {
	var cfg *Config
	require.ErrorIs(t, cfg.Validate(), ErrConfiguration)
}
