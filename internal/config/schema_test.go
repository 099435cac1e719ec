package config

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	ext_config "github.com/bundlesmith/bundlesmith/config"
)

// The embedded schema is a generated artifact: what ReflectSchema emits from
// the structs must agree with what is committed, or a re-run of go:generate
// silently changes validation behavior.
func TestReflectSchemaAgreesWithEmbedded(t *testing.T) {
	bs, err := ReflectSchema()
	if err != nil {
		t.Fatal(err)
	}

	var reflected, embedded map[string]any
	if err := json.Unmarshal(bs, &reflected); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(ext_config.Schema(), &embedded); err != nil {
		t.Fatal(err)
	}

	refProps := properties(t, reflected)
	embProps := properties(t, embedded)

	for name := range embProps {
		if _, ok := refProps[name]; !ok {
			t.Errorf("embedded schema property %q not produced by reflection", name)
		}
	}
	for name := range refProps {
		if _, ok := embProps[name]; !ok {
			t.Errorf("reflected property %q missing from embedded schema", name)
		}
	}

	expEnum := []any{PolicyFailFast, PolicyDrainAll}
	if diff := cmp.Diff(expEnum, enumOf(t, refProps, "failure_policy")); diff != "" {
		t.Errorf("reflected failure_policy enum (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(expEnum, enumOf(t, embProps, "failure_policy")); diff != "" {
		t.Errorf("embedded failure_policy enum (-want +got):\n%s", diff)
	}
}

func properties(t *testing.T, schema map[string]any) map[string]any {
	t.Helper()
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties object: %v", schema)
	}
	return props
}

func enumOf(t *testing.T, props map[string]any, name string) []any {
	t.Helper()
	prop, ok := props[name].(map[string]any)
	if !ok {
		t.Fatalf("property %q missing", name)
	}
	enum, ok := prop["enum"].([]any)
	if !ok {
		t.Fatalf("property %q has no enum: %v", name, prop)
	}
	return enum
}
