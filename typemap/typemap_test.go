package typemap

import (
	"errors"
	"testing"

	"github.com/thaodt/hybrid-transpiler/surface"
)

func testSurface(t *testing.T) *surface.Surface {
	t.Helper()
	s, err := surface.Parse([]byte(`
library = "lib"
handles = ["Conn"]

[[structs]]
name = "Point"

[[structs.fields]]
name = "x"
type = "f32"

[[structs.fields]]
name = "y"
type = "f32"

[[structs]]
name = "Broken"

[[structs.fields]]
name = "inner"
type = "Mystery"
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return s
}

func typ(t *testing.T, spec string, s *surface.Surface) surface.Type {
	t.Helper()
	doc := `
library = "lib"
handles = ["Conn"]

[[structs]]
name = "Point"

[[structs]]
name = "Broken"

[[functions]]
name = "probe"
returns = "` + spec + `"
`
	parsed, err := surface.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed for %q: %v", spec, err)
	}
	return parsed.Functions[0].Returns
}

func identity(tag string) string { return tag }

func TestRust(t *testing.T) {
	s := testSurface(t)
	tests := []struct {
		spec string
		want string
	}{
		{"void", "()"},
		{"i8", "i8"},
		{"u16", "u16"},
		{"i32", "i32"},
		{"u64", "u64"},
		{"usize", "usize"},
		{"isize", "isize"},
		{"f32", "f32"},
		{"f64", "f64"},
		{"Conn", "*mut c_void"},
		{"*mut Conn", "*mut c_void"},
		{"*const Conn", "*const c_void"},
		{"*mut i32", "*mut i32"},
		{"*const Point", "*const Point"},
		{"Point", "Point"},
	}
	for _, tt := range tests {
		got, err := Rust(typ(t, tt.spec, s), s)
		if err != nil {
			t.Errorf("Rust(%q) failed: %v", tt.spec, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Rust(%q) = %q, want %q", tt.spec, got, tt.want)
		}
	}
}

func TestGo(t *testing.T) {
	s := testSurface(t)
	tests := []struct {
		spec string
		want string
	}{
		{"i8", "int8"},
		{"u32", "uint32"},
		{"i64", "int64"},
		{"usize", "uint64"},
		{"f32", "float32"},
		{"f64", "float64"},
		{"Conn", "ConnHandle"},
		{"*mut Conn", "ConnHandle"},
		{"*const Point", "*Point"},
		{"*mut i32", "uintptr"},
		{"Point", "Point"},
	}
	for _, tt := range tests {
		got, err := Go(typ(t, tt.spec, s), s, identity)
		if err != nil {
			t.Errorf("Go(%q) failed: %v", tt.spec, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Go(%q) = %q, want %q", tt.spec, got, tt.want)
		}
	}
}

func TestGoFFI(t *testing.T) {
	s := testSurface(t)
	tests := []struct {
		spec string
		want string
	}{
		{"void", "&ffi.TypeVoid"},
		{"i32", "&ffi.TypeSint32"},
		{"u8", "&ffi.TypeUint8"},
		{"u64", "&ffi.TypeUint64"},
		{"f32", "&ffi.TypeFloat"},
		{"f64", "&ffi.TypeDouble"},
		{"Conn", "&ffi.TypePointer"},
		{"*mut i32", "&ffi.TypePointer"},
		{"*const Point", "&ffi.TypePointer"},
		{"Point", "&FFITypePoint"},
	}
	for _, tt := range tests {
		got, err := GoFFI(typ(t, tt.spec, s), s, identity)
		if err != nil {
			t.Errorf("GoFFI(%q) failed: %v", tt.spec, err)
			continue
		}
		if got != tt.want {
			t.Errorf("GoFFI(%q) = %q, want %q", tt.spec, got, tt.want)
		}
	}
}

func TestC(t *testing.T) {
	s := testSurface(t)
	tests := []struct {
		spec string
		want string
	}{
		{"void", "void"},
		{"i32", "int32_t"},
		{"u8", "uint8_t"},
		{"usize", "size_t"},
		{"isize", "intptr_t"},
		{"f32", "float"},
		{"f64", "double"},
		{"Conn", "void*"},
		{"*const Conn", "const void*"},
		{"*mut i32", "int32_t*"},
		{"*const Point", "const Point*"},
		{"Point", "Point"},
	}
	for _, tt := range tests {
		got, err := C(typ(t, tt.spec, s), s)
		if err != nil {
			t.Errorf("C(%q) failed: %v", tt.spec, err)
			continue
		}
		if got != tt.want {
			t.Errorf("C(%q) = %q, want %q", tt.spec, got, tt.want)
		}
	}
}

func TestUnmappable(t *testing.T) {
	s := testSurface(t)

	unresolved := surface.Type{Kind: surface.KindUnresolved, Tag: "Mystery"}
	if _, err := Rust(unresolved, s); !errors.Is(err, ErrUnmappable) {
		t.Errorf("Rust(unresolved) = %v, want ErrUnmappable", err)
	}
	if _, err := Go(unresolved, s, identity); !errors.Is(err, ErrUnmappable) {
		t.Errorf("Go(unresolved) = %v, want ErrUnmappable", err)
	}
	if _, err := C(unresolved, s); !errors.Is(err, ErrUnmappable) {
		t.Errorf("C(unresolved) = %v, want ErrUnmappable", err)
	}

	// A struct with an unresolvable field must fail as a whole.
	broken := surface.Type{Kind: surface.KindStruct, Tag: "Broken"}
	if _, err := Rust(broken, s); !errors.Is(err, ErrUnmappable) {
		t.Errorf("Rust(Broken) = %v, want ErrUnmappable", err)
	}

	undeclared := surface.Type{Kind: surface.KindStruct, Tag: "Ghost"}
	if _, err := Go(undeclared, s, identity); !errors.Is(err, ErrUnmappable) {
		t.Errorf("Go(Ghost) = %v, want ErrUnmappable", err)
	}
}
