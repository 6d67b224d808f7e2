package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/FlavioCFOliveira/neurobench/internal/config"
	"github.com/FlavioCFOliveira/neurobench/internal/experiment"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (defaults apply when empty)")
	dataType := flag.String("data-type", "", "Input kind: image or sequence")
	niteration := flag.Int("niteration", 0, "Number of batches")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	labelSize := flag.Int("label-size", 0, "Number of classes")
	targetType := flag.String("target-type", "", "Target encoding: index or one-hot")
	ngpu := flag.Int("ngpu", 0, "Number of devices; 0 runs on the host")
	framework := flag.String("framework", "", "Framework name")
	arch := flag.String("dnn-arch", "", "Network architecture")
	optType := flag.String("opt-type", "", "Optimizer: SGD or Adam")
	lr := flag.Float64("lr", 0, "Learning rate")
	momentum := flag.Float64("momentum", 0, "SGD momentum")
	mode := flag.String("mode", "", "Trainer mode: train or eval")
	benchmark := flag.Bool("benchmark-mode", false, "Autotune convolution algorithms per input shape")
	half := flag.Bool("half", false, "Run devices in float16")
	parallelLoss := flag.Bool("parallel-loss", false, "Compute the loss inside each replica")
	timeOptions := flag.String("time-options", "", "Timed phase: total, forward or backward")
	progressbar := flag.Bool("progressbar", true, "Show a progress bar on stderr")
	seed := flag.Int64("seed", 0, "PRNG seed; 0 seeds from the clock")
	resultsDir := flag.String("results-dir", "", "Directory receiving numbered run dirs")
	logEvery := flag.Int("log-every", 0, "Log every N steps")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Only flags given on the command line override the file.
	var o config.Overrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data-type":
			o.DataType = dataType
		case "niteration":
			o.NIteration = niteration
		case "batch-size":
			o.BatchSize = batchSize
		case "label-size":
			o.LabelSize = labelSize
		case "target-type":
			o.TargetType = targetType
		case "ngpu":
			o.NGPU = ngpu
		case "framework":
			o.Framework = framework
		case "dnn-arch":
			o.DNNArch = arch
		case "opt-type":
			o.OptType = optType
		case "lr":
			o.LR = lr
		case "momentum":
			o.Momentum = momentum
		case "mode":
			o.Mode = mode
		case "benchmark-mode":
			o.BenchmarkMode = benchmark
		case "half":
			o.Half = half
		case "parallel-loss":
			o.ParallelLoss = parallelLoss
		case "time-options":
			o.TimeOptions = timeOptions
		case "progressbar":
			o.Progressbar = progressbar
		case "seed":
			o.Seed = seed
		case "results-dir":
			o.ResultsDir = resultsDir
		case "log-every":
			o.LogEvery = logEvery
		}
	})
	cfg.ApplyOverrides(o)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	log.Printf("config framework=%s dnn_arch=%s ngpu=%d niteration=%d batch_size=%d results_dir=%s",
		cfg.Framework, cfg.DNNArch, cfg.NGPU, cfg.DataConfig.NIteration, cfg.DataConfig.BatchSize, cfg.ResultsDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := experiment.Run(ctx, cfg, os.Stderr)
	if err != nil {
		log.Fatalf("benchmark failed: %v", err)
	}
	log.Printf("run id=%d dir=%s total_s=%.3f", res.RunID, res.Dir, res.Report.Total)
}
