// Package typemap converts native types to target-language spellings. Every
// mapping preserves width and signedness exactly; nothing is widened or
// narrowed. Mapping failure is reported to the caller, which skips the
// owning declaration rather than aborting the run.
package typemap

import (
	"errors"
	"fmt"

	"github.com/thaodt/hybrid-transpiler/surface"
)

// ErrUnmappable marks a native type with no target representation.
var ErrUnmappable = errors.New("no target representation")

func unmappable(t surface.Type) error {
	return fmt.Errorf("%w for %s", ErrUnmappable, t)
}

// rustInts is keyed by width in bytes.
var rustInts = map[int][2]string{
	1: {"u8", "i8"},
	2: {"u16", "i16"},
	4: {"u32", "i32"},
	8: {"u64", "i64"},
}

// Rust maps a native type to its Rust FFI spelling. Opaque handles map to
// raw c_void pointers; consumers only ever see them behind a wrapper.
func Rust(t surface.Type, s *surface.Surface) (string, error) {
	switch t.Kind {
	case surface.KindVoid:
		return "()", nil
	case surface.KindInt:
		if t.PointerSized {
			if t.Signed {
				return "isize", nil
			}
			return "usize", nil
		}
		pair, ok := rustInts[t.Width]
		if !ok {
			return "", unmappable(t)
		}
		if t.Signed {
			return pair[1], nil
		}
		return pair[0], nil
	case surface.KindFloat:
		switch t.Width {
		case 4:
			return "f32", nil
		case 8:
			return "f64", nil
		}
		return "", unmappable(t)
	case surface.KindOpaque:
		return "*mut c_void", nil
	case surface.KindPointer:
		if t.Elem.Kind == surface.KindOpaque {
			if t.Mutable {
				return "*mut c_void", nil
			}
			return "*const c_void", nil
		}
		// A pointer maps to a raw address regardless of pointee layout,
		// so struct pointees are spelled without field validation.
		var elem string
		if t.Elem.Kind == surface.KindStruct {
			elem = t.Elem.Tag
		} else {
			var err error
			elem, err = Rust(*t.Elem, s)
			if err != nil {
				return "", err
			}
		}
		if t.Mutable {
			return "*mut " + elem, nil
		}
		return "*const " + elem, nil
	case surface.KindStruct:
		if err := checkStruct(t.Tag, s, func(ft surface.Type) error {
			_, err := Rust(ft, s)
			return err
		}); err != nil {
			return "", err
		}
		return t.Tag, nil
	}
	return "", unmappable(t)
}

var goInts = map[int][2]string{
	1: {"uint8", "int8"},
	2: {"uint16", "int16"},
	4: {"uint32", "int32"},
	8: {"uint64", "int64"},
}

// Go maps a native type to the Go type used in wrapper signatures.
// goName renames native tags to exported Go identifiers; the emitter
// supplies its naming scheme so mapper and emitter stay consistent.
func Go(t surface.Type, s *surface.Surface, goName func(string) string) (string, error) {
	switch t.Kind {
	case surface.KindVoid:
		return "", nil
	case surface.KindInt:
		pair, ok := goInts[t.Width]
		if !ok {
			return "", unmappable(t)
		}
		if t.Signed {
			return pair[1], nil
		}
		return pair[0], nil
	case surface.KindFloat:
		switch t.Width {
		case 4:
			return "float32", nil
		case 8:
			return "float64", nil
		}
		return "", unmappable(t)
	case surface.KindOpaque:
		return goName(t.Tag) + "Handle", nil
	case surface.KindPointer:
		if t.Elem.Kind == surface.KindOpaque {
			return goName(t.Elem.Tag) + "Handle", nil
		}
		if t.Elem.Kind == surface.KindStruct {
			return "*" + goName(t.Elem.Tag), nil
		}
		if _, err := Go(*t.Elem, s, goName); err != nil {
			return "", err
		}
		return "uintptr", nil
	case surface.KindStruct:
		if err := checkStruct(t.Tag, s, func(ft surface.Type) error {
			_, err := Go(ft, s, goName)
			return err
		}); err != nil {
			return "", err
		}
		return goName(t.Tag), nil
	}
	return "", unmappable(t)
}

// GoFFI maps a native type to the ffi.Type expression used when preparing
// the call interface at load time.
func GoFFI(t surface.Type, s *surface.Surface, goName func(string) string) (string, error) {
	switch t.Kind {
	case surface.KindVoid:
		return "&ffi.TypeVoid", nil
	case surface.KindInt:
		sign := "Uint"
		if t.Signed {
			sign = "Sint"
		}
		switch t.Width {
		case 1, 2, 4, 8:
			return fmt.Sprintf("&ffi.Type%s%d", sign, t.Width*8), nil
		}
		return "", unmappable(t)
	case surface.KindFloat:
		switch t.Width {
		case 4:
			return "&ffi.TypeFloat", nil
		case 8:
			return "&ffi.TypeDouble", nil
		}
		return "", unmappable(t)
	case surface.KindOpaque, surface.KindPointer:
		return "&ffi.TypePointer", nil
	case surface.KindStruct:
		if err := checkStruct(t.Tag, s, func(ft surface.Type) error {
			_, err := GoFFI(ft, s, goName)
			return err
		}); err != nil {
			return "", err
		}
		return "&FFIType" + goName(t.Tag), nil
	}
	return "", unmappable(t)
}

// C maps a native type back to its C spelling for header emission.
func C(t surface.Type, s *surface.Surface) (string, error) {
	switch t.Kind {
	case surface.KindVoid:
		return "void", nil
	case surface.KindInt:
		if t.PointerSized {
			if t.Signed {
				return "intptr_t", nil
			}
			return "size_t", nil
		}
		switch t.Width {
		case 1, 2, 4, 8:
			if t.Signed {
				return fmt.Sprintf("int%d_t", t.Width*8), nil
			}
			return fmt.Sprintf("uint%d_t", t.Width*8), nil
		}
		return "", unmappable(t)
	case surface.KindFloat:
		switch t.Width {
		case 4:
			return "float", nil
		case 8:
			return "double", nil
		}
		return "", unmappable(t)
	case surface.KindOpaque:
		return "void*", nil
	case surface.KindPointer:
		if t.Elem.Kind == surface.KindOpaque {
			if t.Mutable {
				return "void*", nil
			}
			return "const void*", nil
		}
		var elem string
		if t.Elem.Kind == surface.KindStruct {
			elem = t.Elem.Tag
		} else {
			var err error
			elem, err = C(*t.Elem, s)
			if err != nil {
				return "", err
			}
		}
		if t.Mutable {
			return elem + "*", nil
		}
		return "const " + elem + "*", nil
	case surface.KindStruct:
		if err := checkStruct(t.Tag, s, func(ft surface.Type) error {
			_, err := C(ft, s)
			return err
		}); err != nil {
			return "", err
		}
		return t.Tag, nil
	}
	return "", unmappable(t)
}

// checkStruct verifies every field of the named struct maps under the
// target's rules, so layout-compatible by-value marshalling is sound.
func checkStruct(tag string, s *surface.Surface, mapField func(surface.Type) error) error {
	st, ok := s.StructByName(tag)
	if !ok {
		return fmt.Errorf("%w: undeclared struct %q", ErrUnmappable, tag)
	}
	for _, f := range st.Fields {
		if err := mapField(f.Type); err != nil {
			return fmt.Errorf("field %s.%s: %w", tag, f.Name, err)
		}
	}
	return nil
}
