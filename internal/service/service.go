package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bundlesmith/bundlesmith/internal/builder"
	"github.com/bundlesmith/bundlesmith/internal/compiler"
	"github.com/bundlesmith/bundlesmith/internal/config"
	"github.com/bundlesmith/bundlesmith/internal/logging"
	"github.com/bundlesmith/bundlesmith/internal/metrics"
	"github.com/bundlesmith/bundlesmith/internal/progress"
	"github.com/bundlesmith/bundlesmith/internal/queue"
	"github.com/bundlesmith/bundlesmith/internal/s3"
)

// Runner compiles every configured bundle once, pushing compilation through
// a bounded queue so at most MaxConcurrency compiler processes run at a
// time.
type Runner struct {
	cfg       *config.Root
	runner    compiler.Runner
	outputDir string
	jobs      int
	policy    string
	log       *logging.Logger
	bar       *progress.Bar

	mu       sync.Mutex
	statuses map[string]Status
}

func New(cfg *config.Root) *Runner {
	return &Runner{
		cfg:       cfg,
		outputDir: "dist",
		jobs:      cfg.MaxConcurrency(),
		policy:    cfg.Policy(),
		log:       logging.NewLogger(logging.Config{}),
		statuses:  make(map[string]Status),
	}
}

// WithRunner overrides the compiler runner, used by tests and dry runs.
func (r *Runner) WithRunner(cr compiler.Runner) *Runner {
	r.runner = cr
	return r
}

func (r *Runner) WithOutputDir(dir string) *Runner {
	r.outputDir = dir
	return r
}

// WithJobs overrides the configured concurrency bound.
func (r *Runner) WithJobs(jobs int) *Runner {
	if jobs > 0 {
		r.jobs = jobs
	}
	return r
}

// WithPolicy overrides the configured failure policy.
func (r *Runner) WithPolicy(policy string) *Runner {
	if policy != "" {
		r.policy = policy
	}
	return r
}

func (r *Runner) WithLogger(log *logging.Logger) *Runner {
	r.log = log
	return r
}

func (r *Runner) WithProgress(bar *progress.Bar) *Runner {
	r.bar = bar
	return r
}

// Statuses returns the per-bundle outcome of the last Run.
func (r *Runner) Statuses() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Status, len(r.statuses))
	for k, v := range r.statuses {
		out[k] = v
	}
	return out
}

// Run submits every bundle to the compilation queue in requirement order
// and waits for all of them. Under fail-fast the first failure is returned
// and the rest of the queue is abandoned; under drain-all every bundle runs
// and the errors are joined.
func (r *Runner) Run(ctx context.Context) error {
	bundles, err := r.cfg.TopologicalSortedBundles()
	if err != nil {
		return err
	}

	cr := r.runner
	if cr == nil {
		cr = r.execRunner()
	}

	policy := queue.FailFast
	if r.policy == config.PolicyDrainAll {
		policy = queue.DrainAll
	}
	q := queue.New(r.jobs, queue.WithPolicy(policy))

	type submission struct {
		worker *BuildWorker
		handle *queue.Handle
		name   string
	}

	submissions := make([]submission, 0, len(bundles))
	for _, bundle := range bundles {
		b := builder.New().
			WithBundle(bundle).
			WithCompiler(&r.cfg.Compiler).
			WithDefines(r.cfg.Defines).
			WithTokens(r.cfg.Tokens).
			WithRunner(cr).
			WithOutputDir(r.outputDir).
			WithLogger(r.log)

		worker := NewBuildWorker(bundle, b, r.log, r.bar)
		if !bundle.ObjectStorage.Empty() {
			storage, err := s3.New(ctx, bundle.ObjectStorage)
			if err != nil {
				return fmt.Errorf("bundle %q: %w", bundle.Name, err)
			}
			worker = worker.WithStorage(storage)
		}

		submissions = append(submissions, submission{
			worker: worker,
			handle: q.Submit(worker.Execute),
			name:   bundle.Name,
		})
		metrics.QueueDepth.Set(float64(q.Len()))
		metrics.QueueInFlight.Set(float64(q.InFlight()))
	}

	var (
		errMu sync.Mutex
		errs  []error
	)
	g, waitCtx := errgroup.WithContext(ctx)
	for _, s := range submissions {
		g.Go(func() error {
			err := s.handle.Wait(waitCtx)

			r.mu.Lock()
			r.statuses[s.name] = s.worker.Status()
			r.mu.Unlock()

			if err != nil && !errors.Is(err, queue.ErrAbandoned) {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("bundle %q: %w", s.name, err))
				errMu.Unlock()
			}

			metrics.QueueDepth.Set(float64(q.Len()))
			metrics.QueueInFlight.Set(float64(q.InFlight()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	switch {
	case len(errs) == 0:
		return nil
	case policy == queue.FailFast:
		// One error for the operator, not one per abandoned job.
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

// classify maps a build error to the state it failed in.
func classify(err error) BuildState {
	var noInputs *builder.NoInputsErr
	if errors.As(err, &noInputs) {
		return BuildStateNoInputs
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return BuildStateCompileFailed
	}
	return BuildStatePostprocessFailed
}

func (r *Runner) execRunner() compiler.Runner {
	er := &compiler.ExecRunner{
		Binary:  r.cfg.Compiler.Path,
		Timeout: time.Duration(r.cfg.Compiler.Timeout),
		Log:     r.log.WithName("compiler"),
	}
	if r.cfg.Compiler.IsJar() {
		er.Binary = r.cfg.Compiler.Java()
		er.JarPath = r.cfg.Compiler.Path
	}
	return er
}
