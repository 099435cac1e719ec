package compiler

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/bundlesmith/bundlesmith/internal/logging"
)

// ExecRunner runs the compiler as an external process: either a native
// binary, or a jar started through a JVM when JarPath is set.
type ExecRunner struct {
	Binary  string        // compiler binary, or the JVM when JarPath is set
	JarPath string        // compiler jar, empty for native binaries
	Timeout time.Duration // per-run limit, zero means none
	Log     *logging.Logger
}

func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	argv := inv.Args()
	if r.JarPath != "" {
		argv = append([]string{"-jar", r.JarPath}, argv...)
	}

	if r.Log != nil {
		r.Log.Debugf("exec %s %v", r.Binary, argv)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Binary, argv...)
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return Result{}, &CompileError{
			Entry:       inv.EntryModule,
			Diagnostics: stderr.String(),
			Err:         err,
		}
	}

	return Result{
		Duration:    time.Since(start),
		Diagnostics: stderr.String(),
	}, nil
}
