package emit

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/thaodt/hybrid-transpiler/classify"
	"github.com/thaodt/hybrid-transpiler/diag"
	"github.com/thaodt/hybrid-transpiler/surface"
)

func exampleContext(t *testing.T) *Context {
	t.Helper()
	s, err := surface.Load(filepath.Join("..", "testdata", "ffi_example.toml"))
	if err != nil {
		t.Fatalf("loading example surface: %v", err)
	}
	fp, err := surface.Fingerprint(s)
	if err != nil {
		t.Fatalf("fingerprinting: %v", err)
	}
	return &Context{
		Surface:     s,
		Model:       classify.Classify(s, nil),
		Package:     "ffiexample",
		Fingerprint: fp,
		Log:         zap.NewNop(),
	}
}

func contextFor(t *testing.T, doc string) *Context {
	t.Helper()
	s, err := surface.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	fp, err := surface.Fingerprint(s)
	if err != nil {
		t.Fatalf("fingerprinting: %v", err)
	}
	return &Context{
		Surface:     s,
		Model:       classify.Classify(s, nil),
		Package:     "bindings",
		Fingerprint: fp,
		Log:         zap.NewNop(),
	}
}

func fileByPath(t *testing.T, unit *BindingUnit, path string) string {
	t.Helper()
	for _, f := range unit.Files {
		if f.Path == path {
			return string(f.Content)
		}
	}
	t.Fatalf("unit %s has no file %s (have %v)", unit.Target, path, filePaths(unit))
	return ""
}

func filePaths(unit *BindingUnit) []string {
	paths := make([]string, len(unit.Files))
	for i, f := range unit.Files {
		paths[i] = f.Path
	}
	return paths
}

func TestTargets(t *testing.T) {
	got := Targets()
	want := []string{"cheader", "go", "rust"}
	if len(got) != len(want) {
		t.Fatalf("Targets() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Targets() = %v, want %v", got, want)
		}
	}
}

func TestNewUnknownTarget(t *testing.T) {
	if _, err := New("cobol"); err == nil {
		t.Fatal("New(cobol) succeeded, want error")
	}
}

func TestRunUnknownTarget(t *testing.T) {
	ctx := exampleContext(t)
	if _, err := Run(ctx, []string{"rust", "cobol"}); err == nil {
		t.Fatal("Run with unknown target succeeded, want error")
	}
}

func TestRunAllTargets(t *testing.T) {
	ctx := exampleContext(t)
	units, err := Run(ctx, []string{"rust", "go", "cheader"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("units count = %d, want 3", len(units))
	}
	for i, want := range []string{"rust", "go", "cheader"} {
		if units[i].Target != want {
			t.Errorf("unit %d target = %q, want %q", i, units[i].Target, want)
		}
		if len(units[i].Files) == 0 {
			t.Errorf("unit %q emitted no files", units[i].Target)
		}
	}
}

// Re-running emission on the same surface must reproduce every output file
// byte for byte.
func TestRunIdempotent(t *testing.T) {
	ctx := exampleContext(t)
	targets := []string{"rust", "go", "cheader"}

	first, err := Run(ctx, targets)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := Run(ctx, targets)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	for i := range first {
		if len(first[i].Files) != len(second[i].Files) {
			t.Fatalf("target %s file count changed between runs", first[i].Target)
		}
		for j := range first[i].Files {
			a, b := first[i].Files[j], second[i].Files[j]
			if a.Path != b.Path {
				t.Errorf("target %s file %d path changed: %s vs %s", first[i].Target, j, a.Path, b.Path)
			}
			if !bytes.Equal(a.Content, b.Content) {
				t.Errorf("target %s file %s differs between runs", first[i].Target, a.Path)
			}
		}
	}
}

func TestUnmappableNarrowsOutput(t *testing.T) {
	ctx := contextFor(t, `
library = "lib"

[[functions]]
name = "good"
returns = "i32"

[[functions]]
name = "bad"
returns = "MysteryType"
`)

	units, err := Run(ctx, []string{"rust", "go", "cheader"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, unit := range units {
		var found bool
		for _, d := range unit.Diags {
			if d.Kind == diag.UnmappableType && d.Symbol == "bad" {
				found = true
			}
		}
		if !found {
			t.Errorf("target %s: no unmappable-type diag for %q (diags: %v)", unit.Target, "bad", unit.Diags)
		}
		for _, f := range unit.Files {
			if strings.Contains(string(f.Content), "bad(") {
				t.Errorf("target %s emitted skipped declaration in %s", unit.Target, f.Path)
			}
		}
	}
}

func TestCHeader(t *testing.T) {
	ctx := exampleContext(t)
	gen, err := New("cheader")
	if err != nil {
		t.Fatal(err)
	}
	unit, err := gen.Generate(ctx)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	content := fileByPath(t, unit, "ffi_example.h")
	wants := []string{
		"#ifndef FFI_EXAMPLE_BINDINGS_H",
		"#define FFI_EXAMPLE_BINDINGS_H",
		"#include <stdint.h>",
		"extern \"C\" {",
		"typedef struct {\n    float x;\n    float y;\n} Point;",
		"int32_t add(int32_t a, int32_t b);",
		"void increment_array(int32_t* array, size_t length);",
		"Point create_point(float x, float y);",
		"float point_distance(const Point* p);",
		"void* calculator_new(int32_t initial_value);",
		"void calculator_delete(void* calc);",
		"int32_t calculator_get_value(const void* calc);",
	}
	for _, want := range wants {
		if !strings.Contains(content, want) {
			t.Errorf("header missing %q", want)
		}
	}
	if len(unit.Diags) != 0 {
		t.Errorf("diags = %v, want none", unit.Diags)
	}
}

func TestNamingHelpers(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"calculator_get_value", "CalculatorGetValue"},
		{"add", "Add"},
		{"x", "X"},
	}
	for _, tt := range tests {
		if got := goName(tt.in); got != tt.want {
			t.Errorf("goName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := lowerCamel("initial_value"); got != "initialValue" {
		t.Errorf("lowerCamel = %q, want initialValue", got)
	}
	if got := snake("Calculator"); got != "calculator" {
		t.Errorf("snake = %q, want calculator", got)
	}
	if got := methodBare("calculator_get_value", "Calculator"); got != "get_value" {
		t.Errorf("methodBare prefix = %q, want get_value", got)
	}
	if got := methodBare("distance_point", "Point"); got != "distance" {
		t.Errorf("methodBare suffix = %q, want distance", got)
	}
	if got := methodBare("unrelated", "Point"); got != "unrelated" {
		t.Errorf("methodBare passthrough = %q, want unrelated", got)
	}
}

func TestWrapParamsCollapsesSeqPair(t *testing.T) {
	ctx := contextFor(t, `
library = "lib"

[[functions]]
name = "increment_array"
returns = "void"

[[functions.params]]
name = "array"
type = "*mut i32"

[[functions.params]]
name = "length"
type = "usize"

[[functions]]
name = "lookup"
returns = "i32"

[[functions.params]]
name = "table"
type = "*const i32"

[[functions.params]]
name = "key"
type = "i32"
`)

	inc := ctx.Surface.Functions[0]
	params := wrapParams(inc.Params)
	if len(params) != 1 {
		t.Fatalf("params count = %d, want 1 collapsed sequence", len(params))
	}
	if !params[0].Seq || !params[0].Mutable || params[0].Name != "array" {
		t.Errorf("collapsed param = %+v, want mutable seq named array", params[0])
	}
	if params[0].LenType.Kind != surface.KindInt || params[0].LenType.Signed {
		t.Errorf("len type = %v, want unsigned int", params[0].LenType)
	}

	// A pointer followed by a non-length integer must not collapse.
	lookup := ctx.Surface.Functions[1]
	params = wrapParams(lookup.Params)
	if len(params) != 2 || params[0].Seq {
		t.Errorf("lookup params = %+v, want 2 uncollapsed", params)
	}
}

func TestFreeNames(t *testing.T) {
	ctx := contextFor(t, `
library = "lib"

[[functions]]
name = "increment_array"
returns = "void"

[[functions.params]]
name = "array"
type = "*mut i32"

[[functions.params]]
name = "length"
type = "usize"

[[functions]]
name = "add"
returns = "i32"

[[functions.params]]
name = "a"
type = "i32"

[[functions.params]]
name = "b"
type = "i32"

[[functions]]
name = "process_items"
returns = "void"

[[functions.params]]
name = "items"
type = "*const f64"

[[functions.params]]
name = "count"
type = "usize"
`)

	fns := ctx.Surface.Functions

	if got := rustFreeName(fns[0], wrapParams(fns[0].Params)); got != "increment_slice" {
		t.Errorf("rustFreeName(increment_array) = %q, want increment_slice", got)
	}
	if got := rustFreeName(fns[1], wrapParams(fns[1].Params)); got != "add_numbers" {
		t.Errorf("rustFreeName(add) = %q, want add_numbers", got)
	}
	if got := rustFreeName(fns[2], wrapParams(fns[2].Params)); got != "process_items_slice" {
		t.Errorf("rustFreeName(process_items) = %q, want process_items_slice", got)
	}

	if got := goFreeName(fns[0], wrapParams(fns[0].Params)); got != "IncrementSlice" {
		t.Errorf("goFreeName(increment_array) = %q, want IncrementSlice", got)
	}
	if got := goFreeName(fns[1], wrapParams(fns[1].Params)); got != "Add" {
		t.Errorf("goFreeName(add) = %q, want Add", got)
	}
}
