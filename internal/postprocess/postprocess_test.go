package postprocess

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	bs, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(bs)
}

func TestRename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "compiled.js")
	dst := filepath.Join(dir, "dist", "app-1.2.3.min.js")
	writeFile(t, src, "var a=1;")

	if err := Rename(src, dst); err != nil {
		t.Fatal(err)
	}

	if got := readFile(t, dst); got != "var a=1;" {
		t.Errorf("content = %q", got)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("source still exists: %v", err)
	}
}

func TestSubstituteTokens(t *testing.T) {
	cases := []struct {
		note   string
		in     string
		tokens map[string]string
		exp    string
	}{
		{
			note:   "simple substitution",
			in:     `var VERSION="%version%";`,
			tokens: map[string]string{"version": "1.2.3"},
			exp:    `var VERSION="1.2.3";`,
		},
		{
			note:   "unknown tokens survive",
			in:     `var V="%version%", W="%output%";`,
			tokens: map[string]string{"version": "1.2.3"},
			exp:    `var V="1.2.3", W="%output%";`,
		},
		{
			note: "no tokens is a no-op",
			in:   `var V="%version%";`,
			exp:  `var V="%version%";`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out.js")
			writeFile(t, path, tc.in)

			if err := SubstituteTokens(path, tc.tokens); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.exp, readFile(t, path)); diff != "" {
				t.Errorf("unexpected content (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTrimLicenses(t *testing.T) {
	license := "/* @license MIT Copyright (c) Example */\n"
	other := "/* @license BSD Copyright (c) Other */\n"

	in := license + "var a=1;\n" +
		license + "var b=2;\n" +
		other + "var c=3;\n" +
		"/* plain comment */\nvar d=4;\n" +
		license + "var e=5;\n"

	exp := license + "var a=1;\n" +
		"var b=2;\n" +
		other + "var c=3;\n" +
		"/* plain comment */\nvar d=4;\n" +
		"var e=5;\n"

	path := filepath.Join(t.TempDir(), "out.js")
	writeFile(t, path, in)

	if err := TrimLicenses(path); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(exp, readFile(t, path)); diff != "" {
		t.Errorf("unexpected content (-want +got):\n%s", diff)
	}
}

func TestRelocateSourceMap(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "dist", "app.min.js")
	mapFrom := filepath.Join(dir, "app.js.map")
	mapTo := filepath.Join(dir, "dist", "app.min.js.map")

	writeFile(t, artifact, "var a=1;\n//# sourceMappingURL=app.js.map\n")
	writeFile(t, mapFrom, `{"version":3,"file":"app.js","sources":["src/a.js"],"mappings":"AAAA"}`)

	if err := RelocateSourceMap(artifact, mapFrom, mapTo, "/src/"); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(mapFrom); !os.IsNotExist(err) {
		t.Errorf("old map still exists: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(readFile(t, mapTo)), &m); err != nil {
		t.Fatal(err)
	}
	if got := m["file"]; got != "app.min.js" {
		t.Errorf(`map file = %v, want "app.min.js"`, got)
	}
	if got := m["sourceRoot"]; got != "/src/" {
		t.Errorf(`map sourceRoot = %v, want "/src/"`, got)
	}

	content := readFile(t, artifact)
	if !strings.Contains(content, "//# sourceMappingURL=app.min.js.map") {
		t.Errorf("artifact does not reference the relocated map:\n%s", content)
	}
	if strings.Contains(content, "sourceMappingURL=app.js.map") {
		t.Errorf("stale sourceMappingURL left behind:\n%s", content)
	}
}

func TestRelocateSourceMapAppendsComment(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "app.min.js")
	mapPath := filepath.Join(dir, "app.min.js.map")

	writeFile(t, artifact, "var a=1;")
	writeFile(t, mapPath, `{"version":3,"file":"app.js","mappings":"AAAA"}`)

	if err := RelocateSourceMap(artifact, mapPath, mapPath, ""); err != nil {
		t.Fatal(err)
	}

	content := readFile(t, artifact)
	if !strings.HasSuffix(content, "//# sourceMappingURL=app.min.js.map\n") {
		t.Errorf("missing appended sourceMappingURL comment:\n%s", content)
	}
}
