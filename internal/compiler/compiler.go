package compiler

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Invocation is the flag table for one compiler run. The compiler is an
// opaque external tool: everything it needs travels on the command line.
type Invocation struct {
	EntryModule      string
	Inputs           []string
	Externs          []string
	Defines          map[string]string
	CompilationLevel string
	LanguageIn       string
	LanguageOut      string
	Wrapper          string // output wrapper, must contain the %output% placeholder
	Output           string
	SourceMap        string
	SuppressWarnings []string
	ExtraFlags       []string
}

// Args renders the command line. Map-backed flags are emitted in sorted
// order so the rendered invocation is stable across runs and testable.
func (inv Invocation) Args() []string {
	var args []string

	if inv.CompilationLevel != "" {
		args = append(args, "--compilation_level", inv.CompilationLevel)
	}
	if inv.LanguageIn != "" {
		args = append(args, "--language_in", inv.LanguageIn)
	}
	if inv.LanguageOut != "" {
		args = append(args, "--language_out", inv.LanguageOut)
	}
	if inv.EntryModule != "" {
		args = append(args, "--entry_point", inv.EntryModule)
	}

	for _, name := range slices.Sorted(maps.Keys(inv.Defines)) {
		args = append(args, "--define", name+"="+inv.Defines[name])
	}
	for _, w := range inv.SuppressWarnings {
		args = append(args, "--jscomp_off", w)
	}
	for _, e := range inv.Externs {
		args = append(args, "--externs", e)
	}
	if inv.Wrapper != "" {
		args = append(args, "--output_wrapper", inv.Wrapper)
	}
	if inv.SourceMap != "" {
		args = append(args, "--create_source_map", inv.SourceMap)
	}
	if inv.Output != "" {
		args = append(args, "--js_output_file", inv.Output)
	}

	args = append(args, inv.ExtraFlags...)

	for _, in := range inv.Inputs {
		args = append(args, "--js", in)
	}

	return args
}

// Result reports a successful compiler run.
type Result struct {
	Duration    time.Duration
	Diagnostics string // warnings the compiler emitted on stderr
}

// Runner starts one compiler run and reports back when it finishes. It is
// the injection point for tests and for the dry-run path.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// CompileError carries the compiler's own diagnostics for one failed run.
type CompileError struct {
	Entry       string
	Diagnostics string
	Err         error
}

func (e *CompileError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "compilation of %q failed: %v", e.Entry, e.Err)
	if d := strings.TrimSpace(e.Diagnostics); d != "" {
		b.WriteString("\n")
		for line := range strings.Lines(d) {
			b.WriteString("  ")
			b.WriteString(line)
		}
	}
	return b.String()
}

func (e *CompileError) Unwrap() error {
	return e.Err
}
