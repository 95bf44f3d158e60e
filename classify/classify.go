// Package classify partitions a flat native surface into resource classes,
// value-type struct bindings, and free functions. Classification is purely
// structural: naming conventions are recorded as confidence notes but never
// decide the outcome.
package classify

import (
	"strings"

	"go.uber.org/zap"

	"github.com/thaodt/hybrid-transpiler/diag"
	"github.com/thaodt/hybrid-transpiler/surface"
)

// Method is one resource-class member function. Mutating methods require
// exclusive access to the wrapped handle; read-only methods do not.
type Method struct {
	Fn       surface.Function
	Mutating bool
}

// Resource is a synthesized resource class: one opaque tag with its
// constructor, destructor, and methods. When Raw is set the lifetime could
// not be classified and only raw access is emitted for the group.
type Resource struct {
	Tag     string
	Ctor    surface.Function
	Dtor    surface.Function
	Methods []Method
	Raw     bool
	Group   []surface.Function // every group member, declaration order
}

// StructBinding attaches a value-type struct's associated functions to the
// struct itself: a by-value constructor and read-only instance methods.
type StructBinding struct {
	Struct  surface.Struct
	Ctor    *surface.Function
	Methods []surface.Function
}

// Model is the classified surface, ready for emission.
type Model struct {
	Surface   *surface.Surface
	Free      []surface.Function
	Structs   []StructBinding
	Resources []Resource
	Diags     []diag.Diagnostic
}

// deletionSuffixes are the naming conventions recognized as destructor
// hints. A hint is logged, never required.
var deletionSuffixes = []string{"_delete", "_free", "_destroy", "_close"}

func matchesDeletionName(name string) bool {
	for _, suf := range deletionSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

// Classify partitions the surface's functions. The surface is read-only;
// the returned model is read-only once Classify returns.
func Classify(s *surface.Surface, log *zap.Logger) *Model {
	if log == nil {
		log = zap.NewNop()
	}

	m := &Model{Surface: s}
	claimed := make(map[string]bool)

	for _, tag := range s.Handles {
		res := classifyTag(s, tag, m, log)
		for _, fn := range res.Group {
			claimed[fn.Name] = true
		}
		m.Resources = append(m.Resources, res)
	}

	// Value-type bindings: associate by-value constructors and read-only
	// reference methods with their struct, symmetric to the handle pattern.
	structOf := make(map[string]int)
	for i, st := range s.Structs {
		m.Structs = append(m.Structs, StructBinding{Struct: st})
		structOf[st.Name] = i
	}

	for _, fn := range s.Functions {
		if claimed[fn.Name] {
			continue
		}
		if tag, ok := structCtor(fn); ok {
			if i, found := structOf[tag]; found && m.Structs[i].Ctor == nil {
				fnCopy := fn
				m.Structs[i].Ctor = &fnCopy
				claimed[fn.Name] = true
				continue
			}
		}
		if tag, ok := structMethod(fn); ok {
			if i, found := structOf[tag]; found {
				m.Structs[i].Methods = append(m.Structs[i].Methods, fn)
				claimed[fn.Name] = true
				continue
			}
		}
	}

	for _, fn := range s.Functions {
		if !claimed[fn.Name] {
			m.Free = append(m.Free, fn)
		}
	}

	return m
}

// classifyTag groups and classifies every function keyed by one opaque tag.
func classifyTag(s *surface.Surface, tag string, m *Model, log *zap.Logger) Resource {
	res := Resource{Tag: tag}

	var ctors, dtors []surface.Function
	for _, fn := range s.Functions {
		if !inGroup(fn, tag) {
			continue
		}
		res.Group = append(res.Group, fn)

		switch {
		case isCtor(fn, tag):
			ctors = append(ctors, fn)
		case isDtor(fn, tag):
			dtors = append(dtors, fn)
		}
	}

	if len(ctors) != 1 || len(dtors) != 1 {
		res.Raw = true
		m.Diags = append(m.Diags, diag.Ambiguous(tag,
			"%d constructor and %d destructor candidates (%s); need exactly one of each",
			len(ctors), len(dtors), names(ctors, dtors)))
		log.Warn("handle tag degraded to raw emission",
			zap.String("tag", tag),
			zap.Int("ctors", len(ctors)),
			zap.Int("dtors", len(dtors)))
		return res
	}

	res.Ctor = ctors[0]
	res.Dtor = dtors[0]

	if !matchesDeletionName(res.Dtor.Name) {
		log.Debug("destructor identified by shape alone",
			zap.String("tag", tag),
			zap.String("function", res.Dtor.Name))
	}

	for _, fn := range res.Group {
		if fn.Name == res.Ctor.Name || fn.Name == res.Dtor.Name {
			continue
		}
		res.Methods = append(res.Methods, Method{
			Fn:       fn,
			Mutating: fn.Params[0].Type.HandleMutable(),
		})
	}

	return res
}

// inGroup reports whether fn belongs to tag's group: it either takes the
// handle as first parameter or produces the handle without consuming one.
func inGroup(fn surface.Function, tag string) bool {
	if len(fn.Params) > 0 && fn.Params[0].Type.HandleTag() == tag {
		return true
	}
	return fn.Returns.HandleTag() == tag && !takesHandle(fn, tag)
}

func takesHandle(fn surface.Function, tag string) bool {
	for _, p := range fn.Params {
		if p.Type.HandleTag() == tag {
			return true
		}
	}
	return false
}

// isCtor: returns the handle, consumes none.
func isCtor(fn surface.Function, tag string) bool {
	return fn.Returns.HandleTag() == tag && !takesHandle(fn, tag)
}

// isDtor: consumes the handle, returns nothing, takes nothing else.
func isDtor(fn surface.Function, tag string) bool {
	return len(fn.Params) == 1 &&
		fn.Params[0].Type.HandleTag() == tag &&
		fn.Returns.IsVoid()
}

// structCtor: returns struct S by value while taking no S-typed parameter.
func structCtor(fn surface.Function) (string, bool) {
	if fn.Returns.Kind != surface.KindStruct {
		return "", false
	}
	tag := fn.Returns.Tag
	for _, p := range fn.Params {
		if refersToStruct(p.Type, tag) {
			return "", false
		}
	}
	return tag, true
}

// structMethod: first parameter is a read-only reference to a struct.
func structMethod(fn surface.Function) (string, bool) {
	if len(fn.Params) == 0 {
		return "", false
	}
	t := fn.Params[0].Type
	if t.Kind == surface.KindPointer && !t.Mutable && t.Elem.Kind == surface.KindStruct {
		return t.Elem.Tag, true
	}
	return "", false
}

func refersToStruct(t surface.Type, tag string) bool {
	if t.Kind == surface.KindStruct && t.Tag == tag {
		return true
	}
	return t.Kind == surface.KindPointer && refersToStruct(*t.Elem, tag)
}

func names(ctors, dtors []surface.Function) string {
	var all []string
	for _, fn := range ctors {
		all = append(all, "ctor "+fn.Name)
	}
	for _, fn := range dtors {
		all = append(all, "dtor "+fn.Name)
	}
	if len(all) == 0 {
		return "none"
	}
	return strings.Join(all, ", ")
}
