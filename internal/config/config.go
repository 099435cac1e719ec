package config

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/goccy/go-yaml"
)

// Internal configuration data structures for bundlesmith.

// DefaultConcurrency bounds the number of compiler processes running at the
// same time unless the configuration overrides it. Each process is a whole
// JVM or native compiler instance, so the default is deliberately small.
const DefaultConcurrency = 4

// Failure policies for the compilation queue.
const (
	PolicyFailFast = "fail-fast"
	PolicyDrainAll = "drain-all"
)

// Metadata contains metadata about the configuration file itself.
type Metadata struct {
	ExportedFrom string `json:"exported_from,omitempty"`
	ExportedAt   string `json:"exported_at,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Root is the top-level configuration structure used by bundlesmith.
type Root struct {
	Metadata      Metadata           `json:"metadata,omitzero"`
	Compiler      Compiler           `json:"compiler,omitzero"`
	Concurrency   int                `json:"concurrency,omitempty" minimum:"1"`
	FailurePolicy string             `json:"failure_policy,omitempty" enum:"fail-fast,drain-all"`
	Defines       map[string]string  `json:"defines,omitempty"`
	Tokens        map[string]string  `json:"tokens,omitempty"`
	Bundles       map[string]*Bundle `json:"bundles,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for the Root
// struct. This lets us define bundles in a more user-friendly way with
// mappings where keys are the bundle names.
func (r *Root) UnmarshalYAML(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawRoot

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw) // Assign the unmarshaled data back to the original struct
	return r.unmarshal(r)
}

func (r *Root) UnmarshalJSON(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalJSON by type aliasing
	var raw rawRoot

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw) // Assign the unmarshaled data back to the original struct
	return r.unmarshal(r)
}

func (*Root) unmarshal(raw *Root) error {
	for name := range raw.Bundles {
		raw.Bundles[name] = cmp.Or(raw.Bundles[name], &Bundle{})
		raw.Bundles[name].Name = name
	}

	switch raw.FailurePolicy {
	case "", PolicyFailFast, PolicyDrainAll:
	default:
		return fmt.Errorf("unknown failure policy %q", raw.FailurePolicy)
	}

	if raw.Concurrency < 0 {
		return fmt.Errorf("concurrency must be positive, got %d", raw.Concurrency)
	}

	return nil
}

// MaxConcurrency returns the configured compilation concurrency bound, or
// the default when unset.
func (r *Root) MaxConcurrency() int {
	return cmp.Or(r.Concurrency, DefaultConcurrency)
}

// Policy returns the configured failure policy, fail-fast when unset.
func (r *Root) Policy() string {
	return cmp.Or(r.FailurePolicy, PolicyFailFast)
}

func (r *Root) SortedBundles() iter.Seq2[int, *Bundle] {
	return iterator(r.Bundles, func(b *Bundle) string { return b.Name })
}

// TopologicalSortedBundles returns bundles ordered by requirements, so that
// a bundle is submitted for compilation after every bundle it requires.
// Cycles are treated as errors. Missing requirements are ignored.
func (r *Root) TopologicalSortedBundles() ([]*Bundle, error) {
	sorter := topologicalSortBundles{
		bundles:    r.Bundles,
		inprogress: make(map[string]struct{}),
		done:       make(map[string]struct{}),
	}

	for _, name := range slices.Sorted(maps.Keys(r.Bundles)) {
		if err := sorter.Visit(r.Bundles[name]); err != nil {
			return nil, err
		}
	}
	return sorter.sorted, nil
}

type topologicalSortBundles struct {
	bundles    map[string]*Bundle
	inprogress map[string]struct{}
	done       map[string]struct{}
	sorted     []*Bundle
}

// CycleErr reports a requirement cycle between bundles.
type CycleErr struct {
	Bundle string
}

func (err *CycleErr) Error() string {
	return fmt.Sprintf("cycle found on bundle %q", err.Bundle)
}

func (s *topologicalSortBundles) Visit(b *Bundle) error {
	if _, ok := s.inprogress[b.Name]; ok {
		return &CycleErr{Bundle: b.Name}
	}
	if _, ok := s.done[b.Name]; ok {
		return nil
	}
	s.inprogress[b.Name] = struct{}{}
	for _, req := range b.Requirements {
		if req.Bundle != nil {
			if other, ok := s.bundles[*req.Bundle]; ok {
				if err := s.Visit(other); err != nil {
					return err
				}
			}
		}
	}
	s.done[b.Name] = struct{}{}
	delete(s.inprogress, b.Name)
	s.sorted = append(s.sorted, b)
	return nil
}

func iterator[V any](m map[string]V, name func(V) string) func(func(int, V) bool) {
	names := make([]string, 0, len(m))
	for _, v := range m {
		names = append(names, name(v))
	}

	sort.Strings(names)

	return func(yield func(int, V) bool) {
		for i, name := range names {
			if !yield(i, m[name]) {
				return
			}
		}
	}
}

func Validate(data []byte) error {
	var config any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	return rootSchema.Validate(config)
}

func ParseFile(filename string) (root *Root, err error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	return Parse(bs)
}

func Parse(bs []byte) (*Root, error) {
	if err := Validate(bs); err != nil {
		return nil, err
	}

	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &root, nil
}

// Compiler points at the external optimizing compiler and carries the flags
// shared by every invocation.
type Compiler struct {
	Path             string    `json:"path"`                        // compiler jar or native binary
	JavaPath         string    `json:"java_path,omitempty"`         // JVM used for jars, "java" when empty
	CompilationLevel string    `json:"compilation_level,omitempty"` // ADVANCED_OPTIMIZATIONS when empty
	LanguageIn       string    `json:"language_in,omitempty"`
	LanguageOut      string    `json:"language_out,omitempty"`
	Flags            StringSet `json:"flags,omitempty"`  // extra flags appended to every invocation
	Timeout          Duration  `json:"timeout,omitzero"` // per-invocation limit, none when zero

	_ struct{} `additionalProperties:"false"`
}

// DefaultCompilationLevel is what production bundles are built with unless
// the configuration says otherwise.
const DefaultCompilationLevel = "ADVANCED_OPTIMIZATIONS"

func (c *Compiler) Level() string {
	return cmp.Or(c.CompilationLevel, DefaultCompilationLevel)
}

// IsJar reports whether the compiler must be started through a JVM.
func (c *Compiler) IsJar() bool {
	return strings.HasSuffix(c.Path, ".jar")
}

func (c *Compiler) Java() string {
	return cmp.Or(c.JavaPath, "java")
}

func (c *Compiler) Equal(other *Compiler) bool {
	return fastEqual(c, other, func(c, other *Compiler) bool {
		return c.Path == other.Path &&
			c.JavaPath == other.JavaPath &&
			c.CompilationLevel == other.CompilationLevel &&
			c.LanguageIn == other.LanguageIn &&
			c.LanguageOut == other.LanguageOut &&
			c.Flags.Equal(other.Flags) &&
			c.Timeout == other.Timeout
	})
}

// Instead of marshaling and unmarshaling as int64 it uses strings, like "5m" or "0.5s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	val, err := time.ParseDuration(str)
	*d = Duration(val)
	return err
}

func (d *Duration) UnmarshalYAML(bs []byte) error {
	var s string
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return err
	}
	val, err := time.ParseDuration(s)
	*d = Duration(val)
	return err
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Bundle defines one production artifact: an entry module compiled from a
// set of source globs, post-processed and optionally published.
type Bundle struct {
	Name             string            `json:"name"`
	Entry            string            `json:"entry"`
	Sources          []SourceRoot      `json:"sources,omitempty"`
	Externs          StringSet         `json:"externs,omitempty"`
	BuiltinExterns   bool              `json:"builtin_externs,omitempty"`
	Defines          map[string]string `json:"defines,omitempty"`
	Tokens           map[string]string `json:"tokens,omitempty"`
	Wrapper          string            `json:"wrapper,omitempty"`
	Output           string            `json:"output"`
	SourceMap        *SourceMap        `json:"source_map,omitempty"`
	TrimLicenses     bool              `json:"trim_licenses,omitempty"`
	SuppressWarnings StringSet         `json:"suppress_warnings,omitempty"`
	Requirements     Requirements      `json:"requirements,omitempty"`
	ObjectStorage    ObjectStorage     `json:"object_storage,omitzero"`

	_ struct{} `additionalProperties:"false"`
}

func (b *Bundle) UnmarshalJSON(bs []byte) error {
	type rawBundle Bundle // avoid recursive calls to UnmarshalJSON by type aliasing
	var raw rawBundle

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode bundle: %w", err)
	}

	*b = Bundle(raw)
	return b.validate()
}

func (b *Bundle) UnmarshalYAML(bs []byte) error {
	type rawBundle Bundle // avoid recursive calls to UnmarshalJSON by type aliasing
	var raw rawBundle

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode bundle: %w", err)
	}

	*b = Bundle(raw)
	return b.validate()
}

func (b *Bundle) validate() error {
	for _, src := range b.Sources {
		if err := src.validate(); err != nil {
			return err
		}
	}

	if b.Wrapper != "" && !strings.Contains(b.Wrapper, "%output%") {
		return fmt.Errorf("wrapper must contain the %%output%% placeholder")
	}

	return b.ObjectStorage.validate()
}

func (b *Bundle) Equal(other *Bundle) bool {
	return fastEqual(b, other, func(b, other *Bundle) bool {
		return b.Name == other.Name &&
			b.Entry == other.Entry &&
			slices.EqualFunc(b.Sources, other.Sources, SourceRoot.Equal) &&
			b.Externs.Equal(other.Externs) &&
			b.BuiltinExterns == other.BuiltinExterns &&
			maps.Equal(b.Defines, other.Defines) &&
			maps.Equal(b.Tokens, other.Tokens) &&
			b.Wrapper == other.Wrapper &&
			b.Output == other.Output &&
			b.SourceMap.Equal(other.SourceMap) &&
			b.TrimLicenses == other.TrimLicenses &&
			b.SuppressWarnings.Equal(other.SuppressWarnings) &&
			b.Requirements.Equal(other.Requirements) &&
			b.ObjectStorage.Equal(&other.ObjectStorage)
	})
}

// SourceRoot names a directory of input files with inclusion and exclusion
// filters on the files loaded from it.
type SourceRoot struct {
	Path          string    `json:"path"`
	IncludedFiles StringSet `json:"included_files,omitempty"`
	ExcludedFiles StringSet `json:"excluded_files,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

func (s SourceRoot) validate() error {
	if s.Path == "" {
		return errors.New("source root path is required")
	}
	for _, pattern := range append(append(StringSet{}, s.IncludedFiles...), s.ExcludedFiles...) {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return fmt.Errorf("failed to compile file pattern %q: %w", pattern, err)
		}
	}
	return nil
}

func (s SourceRoot) Equal(other SourceRoot) bool {
	return s.Path == other.Path &&
		s.IncludedFiles.Equal(other.IncludedFiles) &&
		s.ExcludedFiles.Equal(other.ExcludedFiles)
}

// SourceMap configures source map emission and relocation for a bundle.
type SourceMap struct {
	URL        string `json:"url,omitempty"`         // sourceMappingURL value, map basename when empty
	SourceRoot string `json:"source_root,omitempty"` // sourceRoot patched into the map

	_ struct{} `additionalProperties:"false"`
}

func (s *SourceMap) Equal(other *SourceMap) bool {
	return fastEqual(s, other, func(s, other *SourceMap) bool {
		return s.URL == other.URL && s.SourceRoot == other.SourceRoot
	})
}

// Requirement names another bundle that must be submitted for compilation
// before this one.
type Requirement struct {
	Bundle *string `json:"bundle,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

func (a Requirement) Equal(b Requirement) bool {
	return stringPtrEqual(a.Bundle, b.Bundle)
}

func (a Requirement) Compare(b Requirement) int {
	return stringPtrCompare(a.Bundle, b.Bundle)
}

type Requirements []Requirement

func (a Requirements) Equal(b Requirements) bool {
	if len(a) != len(b) {
		return false
	}
	// Ordering of requirements does not matter, so we sort copies before comparing if
	// the slices have more than one element.
	if len(a) > 1 {
		a = slices.Clone(a)
		slices.SortFunc(a, Requirement.Compare)
	}
	if len(b) > 1 {
		b = slices.Clone(b)
		slices.SortFunc(b, Requirement.Compare)
	}

	return slices.EqualFunc(a, b, Requirement.Equal)
}

type StringSet []string

func (s StringSet) Equal(other StringSet) bool {
	return slices.Equal(s, other)
}

type ObjectStorage struct {
	AmazonS3          *AmazonS3          `json:"aws,omitempty"`
	FileSystemStorage *FileSystemStorage `json:"filesystem,omitempty"`
}

func (o *ObjectStorage) Equal(other *ObjectStorage) bool {
	return fastEqual(o, other, func(o, other *ObjectStorage) bool {
		return o.AmazonS3.Equal(other.AmazonS3) &&
			o.FileSystemStorage.Equal(other.FileSystemStorage)
	})
}

func (o *ObjectStorage) validate() error {
	if err := o.AmazonS3.validate(); err != nil {
		return err
	}
	return o.FileSystemStorage.validate()
}

// Empty reports whether no storage backend is configured.
func (o *ObjectStorage) Empty() bool {
	return o.AmazonS3 == nil && o.FileSystemStorage == nil
}

// AmazonS3 defines the configuration for an Amazon S3-compatible object storage.
type AmazonS3 struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Region string `json:"region,omitempty"` // default credentials chain region when empty
	URL    string `json:"url,omitempty"`    // for test purposes

	_ struct{} `additionalProperties:"false"`
}

func (a *AmazonS3) Equal(other *AmazonS3) bool {
	return fastEqual(a, other, func(a, other *AmazonS3) bool {
		return a.Bucket == other.Bucket &&
			a.Key == other.Key &&
			a.Region == other.Region &&
			a.URL == other.URL
	})
}

func (a *AmazonS3) validate() error {
	if a == nil {
		return nil
	}

	if a.Bucket == "" {
		return errors.New("amazon s3 bucket is required")
	}

	if a.Key == "" {
		return errors.New("amazon s3 key is required")
	}

	return nil
}

// FileSystemStorage defines the configuration for a local filesystem storage.
type FileSystemStorage struct {
	Path string `json:"path"` // Path to the artifact on the local filesystem.

	_ struct{} `additionalProperties:"false"`
}

func (f *FileSystemStorage) Equal(other *FileSystemStorage) bool {
	return fastEqual(f, other, func(f, other *FileSystemStorage) bool {
		return f.Path == other.Path
	})
}

func (f *FileSystemStorage) validate() error {
	if f == nil {
		return nil
	}

	if f.Path == "" {
		return errors.New("filesystem storage path is required")
	}

	return nil
}

func stringPtrEqual(a, b *string) bool {
	return fastEqual(a, b, func(a, b *string) bool { return *a == *b })
}

func stringPtrCompare(a, b *string) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	return strings.Compare(*a, *b)
}

func fastEqual[V any](a, b *V, slowEqual func(a, b *V) bool) bool {
	if a == b {
		return true
	}

	if a == nil || b == nil {
		return false
	}

	return slowEqual(a, b)
}
