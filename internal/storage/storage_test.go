package storage

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/neurobench/internal/trainer"
)

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestRunIDsIncrease(t *testing.T) {
	root := filepath.Join(t.TempDir(), "results")
	obs := NewObserver(root)

	first, err := obs.Start(map[string]int{"ngpu": 0})
	require.NoError(t, err)
	require.Equal(t, 1, first.ID)

	// stray entries are ignored
	require.NoError(t, os.Mkdir(filepath.Join(root, "_sources"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "7"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "4"), 0o755))

	second, err := obs.Start(map[string]int{"ngpu": 1})
	require.NoError(t, err)
	require.Equal(t, 5, second.ID)
	require.Equal(t, filepath.Join(root, "5"), second.Dir)
}

func TestCompletedRun(t *testing.T) {
	obs := NewObserver(t.TempDir())
	cfg := map[string]any{"batch_size": 10, "framework_version": "v1"}
	run, err := obs.Start(cfg)
	require.NoError(t, err)

	var gotCfg map[string]any
	readJSON(t, run.Path(ConfigFile), &gotCfg)
	require.Equal(t, "v1", gotCfg["framework_version"])

	var info RunInfo
	readJSON(t, run.Path(RunFile), &info)
	require.Equal(t, StatusRunning, info.Status)
	require.Nil(t, info.StopTime)
	require.NotEmpty(t, info.Host.OS)

	report := trainer.Report{TimeSeries: []float64{0.1, 0.2}, Total: 0.35}
	require.NoError(t, run.Complete(report, trainer.Summarize(report, 10)))

	raw, err := os.ReadFile(run.Path(ResultsFile))
	require.NoError(t, err)
	require.Contains(t, string(raw), "\n    \"time_series\": [")
	var got trainer.Report
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, report, got)

	readJSON(t, run.Path(RunFile), &info)
	require.Equal(t, StatusCompleted, info.Status)
	require.NotNil(t, info.StopTime)
	require.Empty(t, info.Fail)
}

func TestFailedRun(t *testing.T) {
	run, err := NewObserver(t.TempDir()).Start(struct{}{})
	require.NoError(t, err)
	require.NoError(t, run.Fail(errors.New("step 3: bad label")))

	var info RunInfo
	readJSON(t, run.Path(RunFile), &info)
	require.Equal(t, StatusFailed, info.Status)
	require.Equal(t, "step 3: bad label", info.Fail)

	_, err = os.Stat(run.Path(ResultsFile))
	require.True(t, os.IsNotExist(err))
}

func TestStepLogger(t *testing.T) {
	run, err := NewObserver(t.TempDir()).Start(struct{}{})
	require.NoError(t, err)

	var cb trainer.Callback = run.NewStepLogger()
	cb.OnRunBegin(2)
	cb.OnStepEnd(0, 1500*time.Millisecond, 2.5)
	cb.OnStepEnd(1, 250*time.Millisecond, 2.25)
	cb.OnRunEnd(trainer.Report{})

	f, err := os.Open(run.Path(StepsFile))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"step", "seconds", "loss"},
		{"0", "1.500000000", "2.500000"},
		{"1", "0.250000000", "2.250000"},
	}, rows)
}
