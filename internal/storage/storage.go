// Package storage persists each benchmark run in its own numbered directory
// under a results root.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Run statuses recorded in run.json.
const (
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// File names inside a run directory.
const (
	ConfigFile  = "config.json"
	ResultsFile = "results.json"
	RunFile     = "run.json"
	StepsFile   = "steps.csv"
)

// maxIDAttempts bounds the retries when another process takes the same id.
const maxIDAttempts = 100

// HostInfo describes the machine a run executed on.
type HostInfo struct {
	Hostname  string `json:"hostname"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUs      int    `json:"cpu_count"`
	GoVersion string `json:"go_version"`
}

// RunInfo is the content of run.json.
type RunInfo struct {
	ID        int        `json:"_id"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	StopTime  *time.Time `json:"stop_time,omitempty"`
	Host      HostInfo   `json:"host"`
	Summary   any        `json:"summary,omitempty"`
	Fail      string     `json:"fail_trace,omitempty"`
}

// Observer allocates run directories under Root.
type Observer struct {
	Root string
}

// NewObserver returns an observer rooted at root. The directory is created
// on the first Start.
func NewObserver(root string) *Observer {
	return &Observer{Root: root}
}

// Start allocates the next run id, writes config.json and marks the run as
// running.
func (o *Observer) Start(config any) (*Run, error) {
	if err := os.MkdirAll(o.Root, 0o755); err != nil {
		return nil, errors.Wrap(err, "create results dir")
	}

	var id int
	var dir string
	for attempt := 0; ; attempt++ {
		next, err := nextID(o.Root)
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(o.Root, strconv.Itoa(next))
		err = os.Mkdir(dir, 0o755)
		if err == nil {
			id = next
			break
		}
		if !os.IsExist(err) || attempt == maxIDAttempts {
			return nil, errors.Wrapf(err, "create run dir %s", dir)
		}
	}

	r := &Run{
		ID:  id,
		Dir: dir,
		info: RunInfo{
			ID:        id,
			Status:    StatusRunning,
			StartTime: time.Now().UTC(),
			Host:      hostInfo(),
		},
	}
	if err := writeJSON(filepath.Join(dir, ConfigFile), config); err != nil {
		return nil, err
	}
	if err := r.writeInfo(); err != nil {
		return nil, err
	}
	return r, nil
}

// nextID returns one more than the largest integer directory name in root,
// starting at 1.
func nextID(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, errors.Wrap(err, "list results dir")
	}
	last := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, err := strconv.Atoi(e.Name()); err == nil && n > last {
			last = n
		}
	}
	return last + 1, nil
}

func hostInfo() HostInfo {
	name, _ := os.Hostname()
	return HostInfo{
		Hostname:  name,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		CPUs:      runtime.NumCPU(),
		GoVersion: runtime.Version(),
	}
}

// Run is one allocated run directory.
type Run struct {
	ID  int
	Dir string

	info RunInfo
}

// Info returns the current run.json content.
func (r *Run) Info() RunInfo { return r.info }

// Path joins name to the run directory.
func (r *Run) Path(name string) string { return filepath.Join(r.Dir, name) }

// Complete writes results.json and marks the run completed. summary is
// stored in run.json.
func (r *Run) Complete(results, summary any) error {
	if err := writeJSON(r.Path(ResultsFile), results); err != nil {
		return err
	}
	r.finish(StatusCompleted)
	r.info.Summary = summary
	return r.writeInfo()
}

// Fail marks the run failed. No results are written.
func (r *Run) Fail(cause error) error {
	r.finish(StatusFailed)
	if cause != nil {
		r.info.Fail = cause.Error()
	}
	return r.writeInfo()
}

func (r *Run) finish(status string) {
	stop := time.Now().UTC()
	r.info.Status = status
	r.info.StopTime = &stop
}

func (r *Run) writeInfo() error {
	return writeJSON(r.Path(RunFile), r.info)
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", filepath.Base(path))
	}
	return nil
}
