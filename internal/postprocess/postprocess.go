package postprocess

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// The compiler's output is not the final artifact: it still needs renaming,
// token substitution, license de-duplication and source map fixups. Each
// step works on files in place so the steps compose in any order the caller
// picks.

// Rename moves a compiled file to its final artifact path, creating parent
// directories as needed.
func Rename(oldpath, newpath string) error {
	if err := os.MkdirAll(filepath.Dir(newpath), 0o755); err != nil {
		return err
	}
	return os.Rename(oldpath, newpath)
}

// SubstituteTokens replaces %name% occurrences in the file with the
// configured values. Unknown tokens are left untouched: the output wrapper
// of the compiler itself uses the same percent syntax.
func SubstituteTokens(path string, tokens map[string]string) error {
	if len(tokens) == 0 {
		return nil
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	content := string(bs)
	for name, value := range tokens {
		content = strings.ReplaceAll(content, "%"+name+"%", value)
	}

	return os.WriteFile(path, []byte(content), 0o644)
}

var blockComment = regexp.MustCompile(`(?s)/\*.*?\*/\n?`)

// isLicense reports whether a block comment is one the compiler preserved
// from an input file: @license and @preserve annotations plus bare
// copyright headers.
func isLicense(block string) bool {
	return strings.Contains(block, "@license") ||
		strings.Contains(block, "@preserve") ||
		strings.Contains(block, "Copyright")
}

// TrimLicenses collapses repeated license comment blocks. The compiler
// concatenates the preserved header of every input file, so large builds end
// up with the same license text hundreds of times; only the first occurrence
// of each distinct block is kept.
func TrimLicenses(path string) error {
	bs, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	seen := map[string]bool{}
	trimmed := blockComment.ReplaceAllStringFunc(string(bs), func(block string) string {
		if !isLicense(block) {
			return block
		}
		key := strings.TrimSpace(block)
		if seen[key] {
			return ""
		}
		seen[key] = true
		return block
	})

	if trimmed == string(bs) {
		return nil
	}
	return os.WriteFile(path, []byte(trimmed), 0o644)
}

var sourceMappingURL = regexp.MustCompile(`(?m)^//# sourceMappingURL=.*$`)

// RelocateSourceMap moves the map emitted by the compiler next to the final
// artifact, points the artifact's sourceMappingURL comment at it, and
// patches the map's "file" (and optional "sourceRoot") fields, which still
// reference the compiler's temporary output name.
func RelocateSourceMap(artifact, mapFrom, mapTo, sourceRoot string) error {
	if mapFrom != mapTo {
		if err := os.MkdirAll(filepath.Dir(mapTo), 0o755); err != nil {
			return err
		}
		if err := os.Rename(mapFrom, mapTo); err != nil {
			return err
		}
	}

	bs, err := os.ReadFile(mapTo)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(bs, &m); err != nil {
		return fmt.Errorf("source map %s: %w", mapTo, err)
	}
	m["file"] = filepath.Base(artifact)
	if sourceRoot != "" {
		m["sourceRoot"] = sourceRoot
	}
	patched, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(mapTo, patched, 0o644); err != nil {
		return err
	}

	content, err := os.ReadFile(artifact)
	if err != nil {
		return err
	}
	comment := "//# sourceMappingURL=" + filepath.Base(mapTo)
	if sourceMappingURL.Match(content) {
		content = sourceMappingURL.ReplaceAll(content, []byte(comment))
	} else {
		if len(content) > 0 && content[len(content)-1] != '\n' {
			content = append(content, '\n')
		}
		content = append(content, []byte(comment+"\n")...)
	}
	return os.WriteFile(artifact, content, 0o644)
}
