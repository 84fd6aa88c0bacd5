// SPDX-License-Identifier: MPL-2.0

package config

import (
	"reflect"
	"strings"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// These tests keep Go struct JSON tags and the CUE schema field names in
// step, so a renamed key fails here instead of being silently ignored.

// extractCUEFields returns the top-level field names of a CUE definition,
// mapped to whether each is optional.
func extractCUEFields(t *testing.T, val cue.Value) map[string]bool {
	t.Helper()

	fields := make(map[string]bool)
	iter, err := val.Fields(cue.Definitions(false), cue.Optional(true))
	if err != nil {
		t.Fatalf("failed to iterate CUE fields: %v", err)
	}
	for iter.Next() {
		sel := iter.Selector()
		if sel.LabelType() != cue.StringLabel {
			continue
		}
		fields[sel.Unquoted()] = iter.IsOptional()
	}
	return fields
}

// extractGoJSONTags returns the JSON names of a struct's exported fields.
func extractGoJSONTags(t *testing.T, typ reflect.Type) map[string]bool {
	t.Helper()

	if typ.Kind() != reflect.Struct {
		t.Fatalf("expected struct type, got %s", typ.Kind())
	}
	fields := make(map[string]bool)
	for i := range typ.NumField() {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		fields[name] = strings.Contains(opts, "omitempty")
	}
	return fields
}

func assertFieldsSync(t *testing.T, structName string, cueFields, goFields map[string]bool) {
	t.Helper()

	for field := range cueFields {
		if _, ok := goFields[field]; !ok {
			t.Errorf("[%s] CUE field %q not found in Go struct (missing JSON tag)", structName, field)
		}
	}
	for field := range goFields {
		if _, ok := cueFields[field]; !ok {
			t.Errorf("[%s] Go JSON tag %q not found in CUE schema (missing CUE field)", structName, field)
		}
	}
}

func lookupDefinition(t *testing.T, defPath string) cue.Value {
	t.Helper()

	schema := cuecontext.New().CompileBytes(configSchema)
	if schema.Err() != nil {
		t.Fatalf("failed to compile CUE schema: %v", schema.Err())
	}
	def := schema.LookupPath(cue.ParsePath(defPath))
	if def.Err() != nil {
		t.Fatalf("failed to lookup CUE definition %s: %v", defPath, def.Err())
	}
	return def
}

func TestExtractCUEFieldsUnquotesLabels(t *testing.T) {
	t.Parallel()

	val := cuecontext.New().CompileString(`#X: {"log-file"?: string, plain: int, _hidden: int}`)
	if val.Err() != nil {
		t.Fatalf("compile: %v", val.Err())
	}
	got := extractCUEFields(t, val.LookupPath(cue.ParsePath("#X")))
	want := map[string]bool{"log-file": true, "plain": false}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("extractCUEFields() = %v, want %v", got, want)
	}
}

func TestServerConfigSchemaSync(t *testing.T) {
	t.Parallel()

	cueFields := extractCUEFields(t, lookupDefinition(t, "#Server"))
	goFields := extractGoJSONTags(t, reflect.TypeFor[ServerConfig]())

	assertFieldsSync(t, "ServerConfig", cueFields, goFields)
}

func TestHookKeysInSchema(t *testing.T) {
	t.Parallel()

	cueFields := extractCUEFields(t, lookupDefinition(t, "#Config"))
	for _, key := range []string{"server", "id", "dependencies", "address", "port", "log-file", "actions", "connect_timeout"} {
		if _, ok := cueFields[key]; !ok {
			t.Errorf("#Config is missing %q", key)
		}
	}
}
