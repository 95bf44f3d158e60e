// Package surface holds the in-memory model of a native C-ABI surface:
// the functions, plain-data structs, and opaque handle tags that bindings
// are generated for. The model is read-only once loaded.
package surface

import "fmt"

// Kind discriminates the Type variant.
type Kind int

const (
	KindVoid Kind = iota
	KindInt
	KindFloat
	KindPointer
	KindOpaque
	KindStruct
	// KindUnresolved marks a name the loader could not bind to a declared
	// struct or handle. It survives loading so the whole run is not aborted;
	// the type mapper rejects it and the owning declaration is skipped.
	KindUnresolved
)

// Type is a tagged variant describing one native type.
type Type struct {
	Kind    Kind
	Width   int  // bytes, for Int and Float
	Signed  bool // for Int
	// PointerSized marks size_t-like integers. The width is fixed to the
	// 64-bit ABI this generator targets, but targets with a native
	// pointer-sized spelling (usize, size_t) keep that spelling.
	PointerSized bool
	Elem         *Type  // for Pointer
	Mutable      bool   // for Pointer
	Tag          string // for Opaque, Struct and Unresolved
}

// Void is the canonical void type.
var Void = Type{Kind: KindVoid}

func (t Type) IsVoid() bool { return t.Kind == KindVoid }

// IsHandle reports whether t is an opaque handle, either directly or
// through one level of pointer. Both spellings are the same ABI value.
func (t Type) IsHandle() bool {
	if t.Kind == KindOpaque {
		return true
	}
	return t.Kind == KindPointer && t.Elem != nil && t.Elem.Kind == KindOpaque
}

// HandleTag returns the opaque tag for handle types, "" otherwise.
func (t Type) HandleTag() string {
	if t.Kind == KindOpaque {
		return t.Tag
	}
	if t.Kind == KindPointer && t.Elem != nil && t.Elem.Kind == KindOpaque {
		return t.Elem.Tag
	}
	return ""
}

// HandleMutable reports whether a handle type grants write access to the
// underlying resource. A handle passed by value or by mutable pointer does;
// only a const pointer spelling is read-only.
func (t Type) HandleMutable() bool {
	if t.Kind == KindPointer && t.Elem != nil && t.Elem.Kind == KindOpaque {
		return t.Mutable
	}
	return t.Kind == KindOpaque
}

func (t Type) String() string {
	switch t.Kind {
	case KindVoid:
		return "void"
	case KindInt:
		if t.PointerSized {
			if t.Signed {
				return "isize"
			}
			return "usize"
		}
		sign := "i"
		if !t.Signed {
			sign = "u"
		}
		return fmt.Sprintf("%s%d", sign, t.Width*8)
	case KindFloat:
		return fmt.Sprintf("f%d", t.Width*8)
	case KindPointer:
		if t.Mutable {
			return "*mut " + t.Elem.String()
		}
		return "*const " + t.Elem.String()
	case KindOpaque, KindStruct, KindUnresolved:
		return t.Tag
	}
	return "?"
}

// Param is one function parameter.
type Param struct {
	Name string
	Type Type
}

// Function is one exported native entry point. Name matches the native
// symbol exactly; it is the binding contract with the compiled artifact.
type Function struct {
	Name    string
	Params  []Param
	Returns Type
}

// HasParams reports whether the function takes any arguments.
func (f Function) HasParams() bool { return len(f.Params) > 0 }

// Field is one plain-struct field.
type Field struct {
	Name string
	Type Type
}

// Struct is a plain-old-data struct passed across the boundary by value.
type Struct struct {
	Name   string
	Fields []Field
}

// Check is one declared verification case: call a function with literal
// arguments and compare the result. Recv holds constructor arguments when
// the called function is an instance method on a value type. Literals are
// target-neutral; each emitter spells them in its own syntax.
type Check struct {
	Name   string
	Call   string
	Recv   []string
	Args   []string
	Expect string
}

// ScenarioStep is one method call inside a lifecycle scenario.
type ScenarioStep struct {
	Call   string
	Args   []string
	Expect string
}

// Scenario exercises a resource class end to end: construct, run the steps
// in order, then destroy. Emitters use it to generate the lifetime
// regression check.
type Scenario struct {
	Handle    string
	Construct []string
	Steps     []ScenarioStep
}

// Surface is the complete extracted ABI surface for one native library.
// Declaration order is preserved from the input; emission follows it.
type Surface struct {
	Library   string
	Handles   []string
	Structs   []Struct
	Functions []Function
	Checks    []Check
	Scenarios []Scenario
}

// StructByName returns the named struct declaration, if present.
func (s *Surface) StructByName(name string) (Struct, bool) {
	for _, st := range s.Structs {
		if st.Name == name {
			return st, true
		}
	}
	return Struct{}, false
}

// HasHandle reports whether tag is a declared opaque handle.
func (s *Surface) HasHandle(tag string) bool {
	for _, h := range s.Handles {
		if h == tag {
			return true
		}
	}
	return false
}
