package builder

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"strings"
	"time"

	"github.com/bundlesmith/bundlesmith/externs"
	"github.com/bundlesmith/bundlesmith/internal/compiler"
	"github.com/bundlesmith/bundlesmith/internal/config"
	bsm_fs "github.com/bundlesmith/bundlesmith/internal/fs"
	"github.com/bundlesmith/bundlesmith/internal/logging"
	"github.com/bundlesmith/bundlesmith/internal/postprocess"
)

// Builder turns one configured bundle into its final artifact: it collects
// the input files, renders the compiler invocation, runs the compiler, and
// applies the post-processing chain to what the compiler wrote.
type Builder struct {
	bundle    *config.Bundle
	compiler  *config.Compiler
	defines   map[string]string
	tokens    map[string]string
	runner    compiler.Runner
	outputDir string
	log       *logging.Logger
}

func New() *Builder {
	return &Builder{outputDir: "dist"}
}

func (b *Builder) WithBundle(bundle *config.Bundle) *Builder {
	b.bundle = bundle
	return b
}

func (b *Builder) WithCompiler(c *config.Compiler) *Builder {
	b.compiler = c
	return b
}

// WithDefines sets the build-wide defines. Per-bundle defines override them.
func (b *Builder) WithDefines(defines map[string]string) *Builder {
	b.defines = defines
	return b
}

// WithTokens sets the build-wide substitution tokens. Per-bundle tokens
// override them.
func (b *Builder) WithTokens(tokens map[string]string) *Builder {
	b.tokens = tokens
	return b
}

func (b *Builder) WithRunner(r compiler.Runner) *Builder {
	b.runner = r
	return b
}

func (b *Builder) WithOutputDir(dir string) *Builder {
	b.outputDir = dir
	return b
}

func (b *Builder) WithLogger(log *logging.Logger) *Builder {
	b.log = log
	return b
}

// NoInputsErr reports a bundle whose source globs matched nothing.
type NoInputsErr struct {
	Bundle string
}

func (err *NoInputsErr) Error() string {
	return fmt.Sprintf("bundle %q matched no input files", err.Bundle)
}

// Artifact describes the files a successful build produced.
type Artifact struct {
	Path          string
	SourceMapPath string
	Diagnostics   string
	Duration      time.Duration
}

// Inputs enumerates the bundle's input files across all source roots, in
// deterministic order.
func (b *Builder) Inputs() ([]string, error) {
	var inputs []string
	for _, src := range b.bundle.Sources {
		m, err := bsm_fs.NewMatcher(src.IncludedFiles, src.ExcludedFiles)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Path, err)
		}
		files, err := bsm_fs.CollectFiles(src.Path, m)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Path, err)
		}
		inputs = append(inputs, files...)
	}
	return inputs, nil
}

// Invocation renders the full compiler invocation for the bundle. It is
// separate from Build so the dry-run path can print invocations without
// running anything.
func (b *Builder) Invocation() (compiler.Invocation, error) {
	inputs, err := b.Inputs()
	if err != nil {
		return compiler.Invocation{}, err
	}
	if len(inputs) == 0 {
		return compiler.Invocation{}, &NoInputsErr{Bundle: b.bundle.Name}
	}

	externPaths := []string(b.bundle.Externs)
	if b.bundle.BuiltinExterns {
		builtin, err := externs.Write(filepath.Join(b.outputDir, ".externs"))
		if err != nil {
			return compiler.Invocation{}, fmt.Errorf("materialize builtin externs: %w", err)
		}
		externPaths = append(externPaths, builtin...)
	}

	defines := make(map[string]string, len(b.defines)+len(b.bundle.Defines))
	maps.Copy(defines, b.defines)
	maps.Copy(defines, b.bundle.Defines)

	inv := compiler.Invocation{
		EntryModule:      b.bundle.Entry,
		Inputs:           inputs,
		Externs:          externPaths,
		Defines:          defines,
		CompilationLevel: b.compiler.Level(),
		LanguageIn:       b.compiler.LanguageIn,
		LanguageOut:      b.compiler.LanguageOut,
		Wrapper:          b.substituteTokens(b.bundle.Wrapper),
		Output:           b.compiledPath(),
		SuppressWarnings: []string(b.bundle.SuppressWarnings),
		ExtraFlags:       []string(b.compiler.Flags),
	}
	if b.bundle.SourceMap != nil {
		inv.SourceMap = b.compiledPath() + ".map"
	}
	return inv, nil
}

// Build runs the compiler and post-processes its output into the final
// artifact.
func (b *Builder) Build(ctx context.Context) (*Artifact, error) {
	inv, err := b.Invocation()
	if err != nil {
		return nil, err
	}

	res, err := b.runner.Run(ctx, inv)
	if err != nil {
		return nil, err
	}
	if d := strings.TrimSpace(res.Diagnostics); d != "" && b.log != nil {
		b.log.Warnf("compiler warnings for bundle %q:\n%s", b.bundle.Name, d)
	}

	artifact := &Artifact{
		Path:        b.ArtifactPath(),
		Diagnostics: res.Diagnostics,
		Duration:    res.Duration,
	}

	if err := postprocess.Rename(inv.Output, artifact.Path); err != nil {
		return nil, err
	}

	if err := postprocess.SubstituteTokens(artifact.Path, b.mergedTokens()); err != nil {
		return nil, err
	}

	if b.bundle.TrimLicenses {
		if err := postprocess.TrimLicenses(artifact.Path); err != nil {
			return nil, err
		}
	}

	if sm := b.bundle.SourceMap; sm != nil {
		artifact.SourceMapPath = artifact.Path + ".map"
		if err := postprocess.RelocateSourceMap(artifact.Path, inv.SourceMap, artifact.SourceMapPath, sm.SourceRoot); err != nil {
			return nil, err
		}
	}

	return artifact, nil
}

// ArtifactPath is where the final artifact lands, with tokens in the
// configured output name already substituted.
func (b *Builder) ArtifactPath() string {
	return filepath.Join(b.outputDir, b.substituteTokens(b.bundle.Output))
}

// compiledPath is the scratch location the compiler writes to before the
// post-processing chain renames it.
func (b *Builder) compiledPath() string {
	return filepath.Join(b.outputDir, b.bundle.Name+".out.js")
}

func (b *Builder) mergedTokens() map[string]string {
	tokens := make(map[string]string, len(b.tokens)+len(b.bundle.Tokens))
	maps.Copy(tokens, b.tokens)
	maps.Copy(tokens, b.bundle.Tokens)
	return tokens
}

func (b *Builder) substituteTokens(s string) string {
	for name, value := range b.mergedTokens() {
		s = strings.ReplaceAll(s, "%"+name+"%", value)
	}
	return s
}
