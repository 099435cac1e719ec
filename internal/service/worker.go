package service

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/bundlesmith/bundlesmith/internal/builder"
	"github.com/bundlesmith/bundlesmith/internal/config"
	"github.com/bundlesmith/bundlesmith/internal/logging"
	"github.com/bundlesmith/bundlesmith/internal/metrics"
	"github.com/bundlesmith/bundlesmith/internal/progress"
	"github.com/bundlesmith/bundlesmith/internal/s3"
)

// BuildState classifies how far a bundle got before it succeeded or failed.
type BuildState int

const (
	BuildStateUnknown BuildState = iota
	BuildStateSuccess
	BuildStateNoInputs
	BuildStateCompileFailed
	BuildStatePostprocessFailed
	BuildStatePushFailed
	BuildStateInternalError
)

func (s BuildState) String() string {
	switch s {
	case BuildStateSuccess:
		return "success"
	case BuildStateNoInputs:
		return "no_inputs"
	case BuildStateCompileFailed:
		return "compile_failed"
	case BuildStatePostprocessFailed:
		return "postprocess_failed"
	case BuildStatePushFailed:
		return "push_failed"
	case BuildStateInternalError:
		return "internal_error"
	}
	return "unknown"
}

// Status is what a finished worker reports for its bundle.
type Status struct {
	State    BuildState
	Message  string
	Artifact string
	Duration time.Duration
}

// BuildWorker is responsible for compiling one bundle and pushing the
// resulting artifact to object storage when one is configured. It is the
// unit of work submitted to the compilation queue.
type BuildWorker struct {
	bundle  *config.Bundle
	builder *builder.Builder
	storage s3.ObjectStorage
	log     *logging.Logger
	bar     *progress.Bar
	status  Status
}

func NewBuildWorker(bundle *config.Bundle, b *builder.Builder, logger *logging.Logger, bar *progress.Bar) *BuildWorker {
	return &BuildWorker{
		bundle:  bundle,
		builder: b,
		log:     logger,
		bar:     bar,
	}
}

func (w *BuildWorker) WithStorage(storage s3.ObjectStorage) *BuildWorker {
	w.storage = storage
	return w
}

func (w *BuildWorker) Status() Status {
	return w.status
}

// Execute runs one bundle build: compile, post-process, then push the
// artifact to object storage.
func (w *BuildWorker) Execute(ctx context.Context) error {
	startTime := time.Now() // Used for timing metric

	defer w.bar.Add(1)

	artifact, err := w.builder.Build(ctx)
	if err != nil {
		w.log.Warnf("failed to build bundle %q: %v", w.bundle.Name, err)
		return w.report(classify(err), startTime, err)
	}

	if w.storage != nil {
		bs, err := os.ReadFile(artifact.Path)
		if err != nil {
			return w.report(BuildStateInternalError, startTime, err)
		}
		revision := w.bundle.Tokens["version"]
		if err := w.storage.Upload(ctx, bytes.NewReader(bs), revision); err != nil {
			w.log.Warnf("failed to push bundle %q: %v", w.bundle.Name, err)
			return w.report(BuildStatePushFailed, startTime, err)
		}
	}

	w.status.Artifact = artifact.Path
	w.log.Debugf("bundle %q built: %s", w.bundle.Name, artifact.Path)
	return w.report(BuildStateSuccess, startTime, nil)
}

func (w *BuildWorker) report(state BuildState, startTime time.Time, err error) error {
	w.status.State = state
	w.status.Duration = time.Since(startTime)
	if err != nil {
		w.status.Message = err.Error()
		metrics.CompileFailed(w.bundle.Name, state.String())
		return err
	}

	metrics.CompileSucceeded(w.bundle.Name, startTime)
	return nil
}
