package classify

import (
	"testing"

	"github.com/thaodt/hybrid-transpiler/diag"
	"github.com/thaodt/hybrid-transpiler/surface"
)

func parse(t *testing.T, doc string) *surface.Surface {
	t.Helper()
	s, err := surface.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return s
}

func TestClassifyResource(t *testing.T) {
	s := parse(t, `
library = "lib"
handles = ["Calculator"]

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
name = "calculator_new"
returns = "Calculator"

[[functions.params]]
name = "initial_value"
type = "i32"

[[functions]]
name = "calculator_delete"
returns = "void"

[[functions.params]]
name = "calc"
type = "*mut Calculator"

[[functions]]
name = "calculator_get_value"
returns = "i32"

[[functions.params]]
name = "calc"
type = "*const Calculator"

[[functions]]
name = "calculator_set_value"
returns = "void"

[[functions.params]]
name = "calc"
type = "*mut Calculator"

[[functions.params]]
name = "value"
type = "i32"
`)

	m := Classify(s, nil)

	if len(m.Diags) != 0 {
		t.Fatalf("diags = %v, want none", m.Diags)
	}
	if len(m.Resources) != 1 {
		t.Fatalf("resources count = %d, want 1", len(m.Resources))
	}

	res := m.Resources[0]
	if res.Raw {
		t.Fatal("Calculator degraded to raw, want classified")
	}
	if res.Ctor.Name != "calculator_new" {
		t.Errorf("ctor = %q, want calculator_new", res.Ctor.Name)
	}
	if res.Dtor.Name != "calculator_delete" {
		t.Errorf("dtor = %q, want calculator_delete", res.Dtor.Name)
	}
	if len(res.Methods) != 2 {
		t.Fatalf("methods count = %d, want 2", len(res.Methods))
	}
	if res.Methods[0].Fn.Name != "calculator_get_value" || res.Methods[0].Mutating {
		t.Errorf("method 0 = %q mutating=%v, want read-only calculator_get_value",
			res.Methods[0].Fn.Name, res.Methods[0].Mutating)
	}
	if res.Methods[1].Fn.Name != "calculator_set_value" || !res.Methods[1].Mutating {
		t.Errorf("method 1 = %q mutating=%v, want mutating calculator_set_value",
			res.Methods[1].Fn.Name, res.Methods[1].Mutating)
	}

	if len(m.Free) != 1 || m.Free[0].Name != "add" {
		t.Errorf("free functions = %v, want [add]", m.Free)
	}
}

func TestClassifyAmbiguousDestructors(t *testing.T) {
	s := parse(t, `
library = "lib"
handles = ["Conn"]

[[functions]]
name = "conn_open"
returns = "Conn"

[[functions]]
name = "conn_close"
returns = "void"

[[functions.params]]
name = "c"
type = "Conn"

[[functions]]
name = "conn_shutdown"
returns = "void"

[[functions.params]]
name = "c"
type = "Conn"
`)

	m := Classify(s, nil)

	if len(m.Resources) != 1 || !m.Resources[0].Raw {
		t.Fatal("Conn should degrade to raw with two destructor candidates")
	}
	if len(m.Diags) != 1 {
		t.Fatalf("diags count = %d, want 1", len(m.Diags))
	}
	d := m.Diags[0]
	if d.Kind != diag.AmbiguousLifetime || d.Symbol != "Conn" {
		t.Errorf("diag = %v, want ambiguous-lifetime for Conn", d)
	}
	// The group survives degradation so raw access can still be emitted.
	if len(m.Resources[0].Group) != 3 {
		t.Errorf("group size = %d, want 3", len(m.Resources[0].Group))
	}
}

func TestClassifyMissingDestructor(t *testing.T) {
	s := parse(t, `
library = "lib"
handles = ["Conn"]

[[functions]]
name = "conn_open"
returns = "Conn"
`)

	m := Classify(s, nil)
	if !m.Resources[0].Raw {
		t.Error("Conn should degrade to raw with no destructor")
	}
	if len(m.Diags) != 1 || m.Diags[0].Kind != diag.AmbiguousLifetime {
		t.Errorf("diags = %v, want one ambiguous-lifetime", m.Diags)
	}
}

func TestClassifyShapeBeatsNaming(t *testing.T) {
	// The destructor has no conventional suffix; shape alone must identify it.
	s := parse(t, `
library = "lib"
handles = ["Conn"]

[[functions]]
name = "conn_open"
returns = "Conn"

[[functions]]
name = "conn_finish"
returns = "void"

[[functions.params]]
name = "c"
type = "Conn"
`)

	m := Classify(s, nil)
	res := m.Resources[0]
	if res.Raw {
		t.Fatal("Conn degraded, want classified")
	}
	if res.Dtor.Name != "conn_finish" {
		t.Errorf("dtor = %q, want conn_finish", res.Dtor.Name)
	}
}

func TestClassifyStructBinding(t *testing.T) {
	s := parse(t, `
library = "lib"

[[structs]]
name = "Point"

[[structs.fields]]
name = "x"
type = "f32"

[[structs.fields]]
name = "y"
type = "f32"

[[functions]]
name = "create_point"
returns = "Point"

[[functions.params]]
name = "x"
type = "f32"

[[functions.params]]
name = "y"
type = "f32"

[[functions]]
name = "point_distance"
returns = "f32"

[[functions.params]]
name = "p"
type = "*const Point"
`)

	m := Classify(s, nil)

	if len(m.Structs) != 1 {
		t.Fatalf("structs count = %d, want 1", len(m.Structs))
	}
	sb := m.Structs[0]
	if sb.Ctor == nil || sb.Ctor.Name != "create_point" {
		t.Fatalf("struct ctor = %v, want create_point", sb.Ctor)
	}
	if len(sb.Methods) != 1 || sb.Methods[0].Name != "point_distance" {
		t.Errorf("struct methods = %v, want [point_distance]", sb.Methods)
	}
	if len(m.Free) != 0 {
		t.Errorf("free functions = %v, want none", m.Free)
	}
}

func TestClassifyStructMutatorStaysFree(t *testing.T) {
	// A function taking *mut Point is not a value-type method; it stays free.
	s := parse(t, `
library = "lib"

[[structs]]
name = "Point"

[[structs.fields]]
name = "x"
type = "f32"

[[functions]]
name = "point_scale"
returns = "void"

[[functions.params]]
name = "p"
type = "*mut Point"

[[functions.params]]
name = "factor"
type = "f32"
`)

	m := Classify(s, nil)
	if len(m.Free) != 1 || m.Free[0].Name != "point_scale" {
		t.Errorf("free functions = %v, want [point_scale]", m.Free)
	}
	if len(m.Structs[0].Methods) != 0 {
		t.Errorf("struct methods = %v, want none", m.Structs[0].Methods)
	}
}

func TestMatchesDeletionName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"calculator_delete", true},
		{"conn_free", true},
		{"pool_destroy", true},
		{"file_close", true},
		{"conn_finish", false},
		{"delete_all", false},
	}
	for _, tt := range tests {
		if got := matchesDeletionName(tt.name); got != tt.want {
			t.Errorf("matchesDeletionName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
