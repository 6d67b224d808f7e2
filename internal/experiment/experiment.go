// Package experiment wires a resolved configuration into one benchmark run:
// data, model and trainer, with every run persisted by the storage observer.
package experiment

import (
	"context"
	"io"
	"log"
	"strings"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/neurobench/internal/config"
	"github.com/FlavioCFOliveira/neurobench/internal/data"
	"github.com/FlavioCFOliveira/neurobench/internal/loss"
	"github.com/FlavioCFOliveira/neurobench/internal/models"
	"github.com/FlavioCFOliveira/neurobench/internal/progress"
	"github.com/FlavioCFOliveira/neurobench/internal/storage"
	"github.com/FlavioCFOliveira/neurobench/internal/trainer"
)

// Result describes a completed run.
type Result struct {
	RunID   int
	Dir     string
	Report  trainer.Report
	Summary trainer.Summary
}

// Run executes the benchmark described by cfg. Progress is drawn on
// progressOut when cfg.Progressbar is set. Once the run directory exists,
// any failure is recorded in run.json before it is returned.
func Run(ctx context.Context, cfg *config.Config, progressOut io.Writer) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fw, err := models.ParseFramework(cfg.Framework)
	if err != nil {
		return nil, err
	}
	arch, err := models.ParseArch(cfg.DNNArch)
	if err != nil {
		return nil, err
	}
	if fw == models.Native {
		cfg.FrameworkVersion = models.Version()
	}

	run, err := storage.NewObserver(cfg.ResultsDir).Start(cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("run id=%d dir=%s framework=%s arch=%s ngpu=%d", run.ID, run.Dir, fw, arch, cfg.NGPU)

	res, err := execute(ctx, cfg, fw, arch, run, progressOut)
	if err != nil {
		if ferr := run.Fail(err); ferr != nil {
			log.Printf("run id=%d: record failure: %v", run.ID, ferr)
		}
		return nil, errors.Wrapf(err, "run %d", run.ID)
	}
	if err := complete(run, res); err != nil {
		return nil, err
	}
	return res, nil
}

// complete persists res. If that fails the run is marked failed instead,
// so run.json never stays RUNNING.
func complete(run *storage.Run, res *Result) error {
	err := run.Complete(res.Report, res.Summary)
	if err == nil {
		return nil
	}
	if ferr := run.Fail(err); ferr != nil {
		log.Printf("run id=%d: record failure: %v", run.ID, ferr)
	}
	return errors.Wrapf(err, "run %d", run.ID)
}

func execute(ctx context.Context, cfg *config.Config, fw models.Framework, arch models.Arch, run *storage.Run, progressOut io.Writer) (*Result, error) {
	it, err := data.New(cfg.Data())
	if err != nil {
		return nil, err
	}
	var src data.Source = &contextSource{ctx: ctx, src: it}
	if cfg.Progressbar && progressOut != nil {
		src = progress.Wrap(src, progressOut)
	}

	model, err := models.Build(fw, arch, cfg.Model())
	if err != nil {
		return nil, err
	}
	log.Printf("model arch=%s params=%d", arch, model.NumParams())
	var table strings.Builder
	if err := model.Summary(&table); err != nil {
		return nil, err
	}
	log.Printf("model summary\n%s", table.String())

	tr, err := trainer.New(model, loss.NewCrossEntropy(), cfg.NGPU, cfg.Trainer())
	if err != nil {
		return nil, err
	}
	defer tr.Close()
	log.Printf("trainer execution=%s mode=%s time_options=%s", tr.Execution(), cfg.TrainerOptions.Mode, cfg.TimeOptions)

	if err := tr.SetOptimizer(cfg.OptType, cfg.OptConf); err != nil {
		return nil, err
	}
	tr.AddCallback(trainer.NewLogger(cfg.DataConfig.BatchSize, cfg.LogEvery))
	steps := run.NewStepLogger()
	defer steps.Close()
	tr.AddCallback(steps)

	report, err := tr.Run(src)
	if err != nil {
		return nil, err
	}
	summary := trainer.Summarize(report, cfg.DataConfig.BatchSize)
	log.Printf("summary steps=%d mean_s=%.6f p95_s=%.6f samples_per_sec=%.1f total_s=%.3f",
		summary.Steps, summary.Mean, summary.P95, summary.SamplesPerSec, summary.Total)

	return &Result{RunID: run.ID, Dir: run.Dir, Report: report, Summary: summary}, nil
}

// contextSource stops yielding batches once ctx is done.
type contextSource struct {
	ctx context.Context
	src data.Source
}

func (c *contextSource) Next() (data.Batch, error) {
	if err := c.ctx.Err(); err != nil {
		return data.Batch{}, errors.Wrap(err, "interrupted")
	}
	return c.src.Next()
}

func (c *contextSource) Len() int { return c.src.Len() }
