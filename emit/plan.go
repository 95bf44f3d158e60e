package emit

import (
	"strings"
	"unicode"

	"github.com/thaodt/hybrid-transpiler/classify"
	"github.com/thaodt/hybrid-transpiler/surface"
)

// lengthNames are the parameter names recognized as the length half of a
// pointer+length pair.
var lengthNames = map[string]bool{
	"len":    true,
	"length": true,
	"count":  true,
	"size":   true,
	"n":      true,
}

// wrapParam is one parameter of a safe wrapper's signature. A Seq param
// stands for a collapsed pointer+length pair: the wrapper takes a single
// bounded sequence and derives both raw arguments from it, so the two can
// never be supplied inconsistently.
type wrapParam struct {
	Name    string
	Type    surface.Type
	Seq     bool
	Elem    surface.Type
	LenType surface.Type
	Mutable bool
}

// wrapParams computes the wrapper-level parameter list for a function,
// collapsing each pointer+length pair into one sequence parameter.
func wrapParams(params []surface.Param) []wrapParam {
	var out []wrapParam
	for i := 0; i < len(params); i++ {
		p := params[i]
		if i+1 < len(params) && isSeqPair(p, params[i+1]) {
			out = append(out, wrapParam{
				Name:    p.Name,
				Type:    p.Type,
				Seq:     true,
				Elem:    *p.Type.Elem,
				LenType: params[i+1].Type,
				Mutable: p.Type.Mutable,
			})
			i++
			continue
		}
		out = append(out, wrapParam{Name: p.Name, Type: p.Type})
	}
	return out
}

// isSeqPair: a pointer to plain data immediately followed by an unsigned
// integer named like a length.
func isSeqPair(ptr, length surface.Param) bool {
	t := ptr.Type
	if t.Kind != surface.KindPointer || t.Elem.Kind == surface.KindOpaque {
		return false
	}
	lt := length.Type
	return lt.Kind == surface.KindInt && !lt.Signed && lengthNames[length.Name]
}

func hasSeq(params []wrapParam) bool {
	for _, p := range params {
		if p.Seq {
			return true
		}
	}
	return false
}

// goName converts a native snake_case symbol to an exported Go identifier.
func goName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool { return r == '_' })
	var b strings.Builder
	for _, part := range parts {
		r := []rune(part)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

func lowerCamel(name string) string {
	n := goName(name)
	if n == "" {
		return ""
	}
	r := []rune(n)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// snake converts a PascalCase tag to snake_case, matching the native
// surface's symbol convention ("Calculator" -> "calculator").
func snake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// methodBare strips the owning tag from a member function's symbol name:
// "calculator_get_value" -> "get_value", "point_distance" -> "distance".
func methodBare(fnName, tag string) string {
	st := snake(tag)
	if rest, ok := strings.CutPrefix(fnName, st+"_"); ok && rest != "" {
		return rest
	}
	if rest, ok := strings.CutSuffix(fnName, "_"+st); ok && rest != "" {
		return rest
	}
	return fnName
}

// rustFreeName names the safe Rust wrapper of a free function. The raw
// extern declaration keeps the native symbol, so the wrapper needs a
// distinct name: collapsed-sequence wrappers swap "array" for "slice",
// all-scalar wrappers get a "_numbers" suffix, everything else a "safe_"
// prefix.
func rustFreeName(fn surface.Function, params []wrapParam) string {
	if hasSeq(params) {
		if strings.Contains(fn.Name, "array") {
			return strings.ReplaceAll(fn.Name, "array", "slice")
		}
		return fn.Name + "_slice"
	}
	allScalar := true
	for _, p := range params {
		if p.Type.Kind != surface.KindInt && p.Type.Kind != surface.KindFloat {
			allScalar = false
			break
		}
	}
	if allScalar && len(params) > 0 {
		return fn.Name + "_numbers"
	}
	return "safe_" + fn.Name
}

// goFreeName names the exported Go wrapper of a free function. Go wrappers
// are PascalCase so they never collide with the raw layer; only the
// sequence rename applies.
func goFreeName(fn surface.Function, params []wrapParam) string {
	name := fn.Name
	if hasSeq(params) && strings.Contains(name, "array") {
		name = strings.ReplaceAll(name, "array", "slice")
	}
	return goName(name)
}

// checkKind discriminates what a declared verification case exercises.
type checkKind int

const (
	checkFree checkKind = iota
	checkStructCtor
	checkStructMethod
	checkResourceMethod
)

// checkPlan is one resolved verification case.
type checkPlan struct {
	Check surface.Check
	Kind  checkKind
	Fn    surface.Function
	// Struct binding for struct checks, resource for handle checks.
	Struct   *classify.StructBinding
	Resource *classify.Resource
}

// planChecks resolves each declared check against the classified model.
// Checks whose target was skipped or degraded resolve to nothing and are
// dropped; the corresponding diagnostic already explains why.
func planChecks(m *classify.Model) []checkPlan {
	var plans []checkPlan

nextCheck:
	for _, c := range m.Surface.Checks {
		for _, fn := range m.Free {
			if fn.Name == c.Call {
				plans = append(plans, checkPlan{Check: c, Kind: checkFree, Fn: fn})
				continue nextCheck
			}
		}
		for i := range m.Structs {
			sb := &m.Structs[i]
			if sb.Ctor != nil && sb.Ctor.Name == c.Call {
				plans = append(plans, checkPlan{Check: c, Kind: checkStructCtor, Fn: *sb.Ctor, Struct: sb})
				continue nextCheck
			}
			for _, fn := range sb.Methods {
				if fn.Name == c.Call {
					plans = append(plans, checkPlan{Check: c, Kind: checkStructMethod, Fn: fn, Struct: sb})
					continue nextCheck
				}
			}
		}
		for i := range m.Resources {
			res := &m.Resources[i]
			if res.Raw {
				continue
			}
			for _, meth := range res.Methods {
				if meth.Fn.Name == c.Call {
					plans = append(plans, checkPlan{Check: c, Kind: checkResourceMethod, Fn: meth.Fn, Resource: res})
					continue nextCheck
				}
			}
		}
	}

	return plans
}

// scenarioFor returns the classified resource a scenario exercises, or nil
// when the tag degraded to raw emission.
func scenarioFor(m *classify.Model, sc surface.Scenario) *classify.Resource {
	for i := range m.Resources {
		if m.Resources[i].Tag == sc.Handle && !m.Resources[i].Raw {
			return &m.Resources[i]
		}
	}
	return nil
}

// methodByCall finds a resource method by native symbol name.
func methodByCall(res *classify.Resource, call string) (classify.Method, bool) {
	for _, meth := range res.Methods {
		if meth.Fn.Name == call {
			return meth, true
		}
	}
	return classify.Method{}, false
}
