package emit

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/thaodt/hybrid-transpiler/classify"
	"github.com/thaodt/hybrid-transpiler/diag"
	"github.com/thaodt/hybrid-transpiler/surface"
	"github.com/thaodt/hybrid-transpiler/typemap"
)

func init() {
	Register("rust", func() Generator { return &RustGenerator{} })
}

// RustGenerator emits a single Rust module: a #[link] extern block
// reproducing the raw ABI, #[repr(C)] value types, move-only ownership
// wrappers with Drop-bound destruction, and an embedded test module.
type RustGenerator struct{}

func (g *RustGenerator) Name() string { return "rust" }

func (g *RustGenerator) Generate(ctx *Context) (*BindingUnit, error) {
	r := &rustEmit{ctx: ctx, log: ctx.Log.Named("rust")}
	content := r.emit()

	unit := &BindingUnit{
		Target: "rust",
		Files: []*OutputFile{
			{Path: ctx.Surface.Library + ".rs", Content: []byte(content)},
		},
		Diags: r.diags,
	}
	return unit, nil
}

type rustEmit struct {
	ctx   *Context
	log   *zap.Logger
	buf   strings.Builder
	diags []diag.Diagnostic

	// skipped tracks functions whose raw declaration could not be mapped;
	// no wrapper may reference them.
	skipped map[string]bool
	// degraded tracks resource tags that fell back to raw access in this
	// unit on top of what classification already degraded.
	degraded map[string]bool
	// structSkipped tracks structs whose layout could not be mapped.
	structSkipped map[string]bool

	testNames map[string]int
}

func (r *rustEmit) emit() string {
	r.skipped = make(map[string]bool)
	r.degraded = make(map[string]bool)
	r.structSkipped = make(map[string]bool)
	r.testNames = make(map[string]int)

	s := r.ctx.Surface

	// Mapping failures and degraded tags are discovered up front: the extern
	// block needs to know which declarations stay raw-only so it can export
	// them directly.
	for _, fn := range s.Functions {
		r.fnMappable(fn)
	}
	for _, res := range r.ctx.Model.Resources {
		if res.Raw {
			continue
		}
		if r.skipped[res.Ctor.Name] || r.skipped[res.Dtor.Name] {
			r.degraded[res.Tag] = true
			r.diags = append(r.diags, diag.Unmappable(res.Tag, "constructor or destructor unmappable; tag degraded to raw access"))
		}
	}

	fmt.Fprintf(&r.buf, "// @generated by hybrid-transpiler for library %q; surface %s.\n", s.Library, shortFingerprint(r.ctx.Fingerprint))
	r.buf.WriteString("// Do not edit; regenerate from the surface description instead.\n\n")

	if len(s.Handles) > 0 {
		r.buf.WriteString("use std::ffi::c_void;\n\n")
	}

	r.emitStructs()
	r.emitExtern()
	r.emitConstructionError()
	r.emitStructImpls()
	r.emitResources()
	r.emitFreeWrappers()
	r.emitTests()

	return r.buf.String()
}

// fnMappable reports whether every type in the signature has a Rust
// representation, recording a diagnostic when not.
func (r *rustEmit) fnMappable(fn surface.Function) bool {
	s := r.ctx.Surface
	if _, err := typemap.Rust(fn.Returns, s); err != nil {
		r.skip(fn, err)
		return false
	}
	for _, p := range fn.Params {
		if _, err := typemap.Rust(p.Type, s); err != nil {
			r.skip(fn, err)
			return false
		}
	}
	return true
}

func (r *rustEmit) skip(fn surface.Function, err error) {
	if r.skipped[fn.Name] {
		return
	}
	r.skipped[fn.Name] = true
	r.diags = append(r.diags, diag.Unmappable(fn.Name, "%v; declaration skipped", err))
	r.log.Warn("skipping declaration", zap.String("function", fn.Name), zap.Error(err))
}

func (r *rustEmit) emitStructs() {
	s := r.ctx.Surface
	for _, st := range s.Structs {
		bad := false
		for _, f := range st.Fields {
			if _, err := typemap.Rust(f.Type, s); err != nil {
				r.structSkipped[st.Name] = true
				r.diags = append(r.diags, diag.Unmappable(st.Name, "field %s: %v", f.Name, err))
				bad = true
				break
			}
		}
		if bad {
			continue
		}

		r.buf.WriteString("#[repr(C)]\n")
		r.buf.WriteString("#[derive(Debug, Clone, Copy)]\n")
		fmt.Fprintf(&r.buf, "pub struct %s {\n", st.Name)
		for _, f := range st.Fields {
			ft, _ := typemap.Rust(f.Type, s)
			fmt.Fprintf(&r.buf, "    pub %s: %s,\n", f.Name, ft)
		}
		r.buf.WriteString("}\n\n")
	}
}

func (r *rustEmit) emitExtern() {
	s := r.ctx.Surface
	rawAccess := r.rawAccessNames()

	fmt.Fprintf(&r.buf, "#[link(name = %q)]\n", s.Library)
	r.buf.WriteString("extern \"C\" {\n")
	for _, fn := range s.Functions {
		if !r.fnMappable(fn) {
			continue
		}
		var params []string
		for _, p := range fn.Params {
			pt, _ := typemap.Rust(p.Type, s)
			params = append(params, fmt.Sprintf("%s: %s", p.Name, pt))
		}
		// Declarations in a raw-only handle group are the consumer's only
		// way to reach the symbols, so they are exported directly.
		vis := "    fn "
		if rawAccess[fn.Name] {
			vis = "    pub fn "
		}
		sig := fmt.Sprintf("%s%s(%s)", vis, fn.Name, strings.Join(params, ", "))
		if !fn.Returns.IsVoid() {
			rt, _ := typemap.Rust(fn.Returns, s)
			sig += " -> " + rt
		}
		r.buf.WriteString(sig + ";\n")
	}
	r.buf.WriteString("}\n\n")
}

// rawAccessNames collects the functions of every handle group that stays
// raw-only, either because classification degraded the tag or because its
// constructor or destructor has no Rust representation.
func (r *rustEmit) rawAccessNames() map[string]bool {
	names := make(map[string]bool)
	for _, res := range r.ctx.Model.Resources {
		if !res.Raw && !r.degraded[res.Tag] {
			continue
		}
		for _, fn := range res.Group {
			names[fn.Name] = true
		}
	}
	return names
}

func (r *rustEmit) emitConstructionError() {
	needed := false
	for _, res := range r.ctx.Model.Resources {
		if !res.Raw && !r.skipped[res.Ctor.Name] {
			needed = true
			break
		}
	}
	if !needed {
		return
	}

	r.buf.WriteString("/// Returned when a native constructor signals failure with a null handle.\n")
	r.buf.WriteString("#[derive(Debug, Clone, Copy, PartialEq, Eq)]\n")
	r.buf.WriteString("pub struct ConstructionError {\n")
	r.buf.WriteString("    pub symbol: &'static str,\n")
	r.buf.WriteString("}\n\n")
	r.buf.WriteString("impl std::fmt::Display for ConstructionError {\n")
	r.buf.WriteString("    fn fmt(&self, f: &mut std::fmt::Formatter<'_>) -> std::fmt::Result {\n")
	r.buf.WriteString("        write!(f, \"{} returned a null handle\", self.symbol)\n")
	r.buf.WriteString("    }\n")
	r.buf.WriteString("}\n\n")
	r.buf.WriteString("impl std::error::Error for ConstructionError {}\n\n")
}

func (r *rustEmit) emitStructImpls() {
	s := r.ctx.Surface
	for _, sb := range r.ctx.Model.Structs {
		if r.structSkipped[sb.Struct.Name] {
			continue
		}
		ctor := sb.Ctor
		if ctor != nil && (r.skipped[ctor.Name] || !r.fnMappable(*ctor)) {
			ctor = nil
		}
		var methods []surface.Function
		for _, fn := range sb.Methods {
			if !r.skipped[fn.Name] && r.fnMappable(fn) {
				methods = append(methods, fn)
			}
		}
		if ctor == nil && len(methods) == 0 {
			continue
		}

		fmt.Fprintf(&r.buf, "impl %s {\n", sb.Struct.Name)
		if ctor != nil {
			var params, args []string
			for _, p := range ctor.Params {
				pt, _ := typemap.Rust(p.Type, s)
				params = append(params, fmt.Sprintf("%s: %s", p.Name, pt))
				args = append(args, p.Name)
			}
			fmt.Fprintf(&r.buf, "    pub fn new(%s) -> Self {\n", strings.Join(params, ", "))
			fmt.Fprintf(&r.buf, "        unsafe { %s(%s) }\n", ctor.Name, strings.Join(args, ", "))
			r.buf.WriteString("    }\n")
		}
		first := ctor == nil
		for _, fn := range methods {
			if !first {
				r.buf.WriteString("\n")
			}
			first = false
			r.emitStructMethod(sb.Struct, fn)
		}
		r.buf.WriteString("}\n\n")
	}
}

func (r *rustEmit) emitStructMethod(st surface.Struct, fn surface.Function) {
	s := r.ctx.Surface
	name := methodBare(fn.Name, st.Name)

	var params []string
	args := []string{fmt.Sprintf("self as *const %s", st.Name)}
	for _, p := range fn.Params[1:] {
		pt, _ := typemap.Rust(p.Type, s)
		params = append(params, fmt.Sprintf("%s: %s", p.Name, pt))
		args = append(args, p.Name)
	}

	sig := fmt.Sprintf("    pub fn %s(&self", name)
	if len(params) > 0 {
		sig += ", " + strings.Join(params, ", ")
	}
	sig += ")"
	if !fn.Returns.IsVoid() {
		rt, _ := typemap.Rust(fn.Returns, s)
		sig += " -> " + rt
	}
	r.buf.WriteString(sig + " {\n")
	fmt.Fprintf(&r.buf, "        unsafe { %s(%s) }\n", fn.Name, strings.Join(args, ", "))
	r.buf.WriteString("    }\n")
}

func (r *rustEmit) emitResources() {
	for _, res := range r.ctx.Model.Resources {
		if res.Raw || r.degraded[res.Tag] {
			fmt.Fprintf(&r.buf, "// Handle tag %q has no classified lifetime; its extern declarations\n", res.Tag)
			r.buf.WriteString("// above are exported as-is and the caller manages the handle lifetime.\n\n")
			continue
		}
		r.emitResource(res)
	}
}

func (r *rustEmit) emitResource(res classify.Resource) {
	s := r.ctx.Surface

	fmt.Fprintf(&r.buf, "/// Owns one native %s handle. Move-only: the handle is released\n", res.Tag)
	fmt.Fprintf(&r.buf, "/// exactly once when the wrapper goes out of scope.\n")
	fmt.Fprintf(&r.buf, "pub struct %s {\n", res.Tag)
	r.buf.WriteString("    ptr: *mut c_void,\n")
	r.buf.WriteString("}\n\n")

	fmt.Fprintf(&r.buf, "impl %s {\n", res.Tag)

	var params, args []string
	for _, p := range res.Ctor.Params {
		pt, _ := typemap.Rust(p.Type, s)
		params = append(params, fmt.Sprintf("%s: %s", p.Name, pt))
		args = append(args, p.Name)
	}
	fmt.Fprintf(&r.buf, "    pub fn new(%s) -> Result<Self, ConstructionError> {\n", strings.Join(params, ", "))
	fmt.Fprintf(&r.buf, "        let ptr = unsafe { %s(%s) };\n", res.Ctor.Name, strings.Join(args, ", "))
	r.buf.WriteString("        if ptr.is_null() {\n")
	fmt.Fprintf(&r.buf, "            return Err(ConstructionError { symbol: %q });\n", res.Ctor.Name)
	r.buf.WriteString("        }\n")
	fmt.Fprintf(&r.buf, "        Ok(%s { ptr })\n", res.Tag)
	r.buf.WriteString("    }\n")

	for _, meth := range res.Methods {
		if r.skipped[meth.Fn.Name] || !r.fnMappable(meth.Fn) {
			continue
		}
		r.buf.WriteString("\n")
		r.emitResourceMethod(res, meth)
	}
	r.buf.WriteString("}\n\n")

	fmt.Fprintf(&r.buf, "impl Drop for %s {\n", res.Tag)
	r.buf.WriteString("    fn drop(&mut self) {\n")
	r.buf.WriteString("        unsafe {\n")
	fmt.Fprintf(&r.buf, "            %s(self.ptr);\n", res.Dtor.Name)
	r.buf.WriteString("        }\n")
	r.buf.WriteString("    }\n")
	r.buf.WriteString("}\n\n")
}

func (r *rustEmit) emitResourceMethod(res classify.Resource, meth classify.Method) {
	s := r.ctx.Surface
	name := methodBare(meth.Fn.Name, res.Tag)

	recv := "&self"
	if meth.Mutating {
		recv = "&mut self"
	}

	var params []string
	args := []string{"self.ptr"}
	for _, p := range meth.Fn.Params[1:] {
		pt, _ := typemap.Rust(p.Type, s)
		params = append(params, fmt.Sprintf("%s: %s", p.Name, pt))
		args = append(args, p.Name)
	}

	sig := fmt.Sprintf("    pub fn %s(%s", name, recv)
	if len(params) > 0 {
		sig += ", " + strings.Join(params, ", ")
	}
	sig += ")"
	if !meth.Fn.Returns.IsVoid() {
		rt, _ := typemap.Rust(meth.Fn.Returns, s)
		sig += " -> " + rt
	}
	r.buf.WriteString(sig + " {\n")
	fmt.Fprintf(&r.buf, "        unsafe { %s(%s) }\n", meth.Fn.Name, strings.Join(args, ", "))
	r.buf.WriteString("    }\n")
}

func (r *rustEmit) emitFreeWrappers() {
	s := r.ctx.Surface
	for _, fn := range r.ctx.Model.Free {
		if r.skipped[fn.Name] || !r.fnMappable(fn) {
			continue
		}
		params := wrapParams(fn.Params)
		name := rustFreeName(fn, params)

		var sigParams, callArgs []string
		for _, p := range params {
			if p.Seq {
				et, _ := typemap.Rust(p.Elem, s)
				if p.Mutable {
					sigParams = append(sigParams, fmt.Sprintf("%s: &mut [%s]", p.Name, et))
					callArgs = append(callArgs, p.Name+".as_mut_ptr()", p.Name+".len()")
				} else {
					sigParams = append(sigParams, fmt.Sprintf("%s: &[%s]", p.Name, et))
					callArgs = append(callArgs, p.Name+".as_ptr()", p.Name+".len()")
				}
				continue
			}
			pt, _ := typemap.Rust(p.Type, s)
			sigParams = append(sigParams, fmt.Sprintf("%s: %s", p.Name, pt))
			callArgs = append(callArgs, p.Name)
		}

		fmt.Fprintf(&r.buf, "/// Safe wrapper for `%s`.\n", fn.Name)
		sig := fmt.Sprintf("pub fn %s(%s)", name, strings.Join(sigParams, ", "))
		if !fn.Returns.IsVoid() {
			rt, _ := typemap.Rust(fn.Returns, s)
			sig += " -> " + rt
		}
		r.buf.WriteString(sig + " {\n")
		if hasSeq(params) {
			r.buf.WriteString("    unsafe {\n")
			fmt.Fprintf(&r.buf, "        %s(%s);\n", fn.Name, strings.Join(callArgs, ", "))
			r.buf.WriteString("    }\n")
		} else {
			fmt.Fprintf(&r.buf, "    unsafe { %s(%s) }\n", fn.Name, strings.Join(callArgs, ", "))
		}
		r.buf.WriteString("}\n\n")
	}
}

func (r *rustEmit) testName(base string) string {
	name := "test_" + base
	r.testNames[name]++
	if n := r.testNames[name]; n > 1 {
		return fmt.Sprintf("%s_%d", name, n)
	}
	return name
}

func (r *rustEmit) emitTests() {
	plans := planChecks(r.ctx.Model)
	var scenarios []surface.Scenario
	for _, sc := range r.ctx.Surface.Scenarios {
		if res := scenarioFor(r.ctx.Model, sc); res != nil && !r.degraded[res.Tag] {
			scenarios = append(scenarios, sc)
		}
	}
	if len(plans) == 0 && len(scenarios) == 0 {
		return
	}

	r.buf.WriteString("#[cfg(test)]\n")
	r.buf.WriteString("mod tests {\n")
	r.buf.WriteString("    use super::*;\n")

	for _, plan := range plans {
		if r.skipped[plan.Fn.Name] {
			continue
		}
		if plan.Resource != nil && r.degraded[plan.Resource.Tag] {
			continue
		}
		r.buf.WriteString("\n")
		r.emitCheck(plan)
	}

	for _, sc := range scenarios {
		r.buf.WriteString("\n")
		r.emitScenario(sc)
	}

	r.buf.WriteString("}\n")
}

func (r *rustEmit) emitCheck(plan checkPlan) {
	c := plan.Check

	r.buf.WriteString("    #[test]\n")
	fmt.Fprintf(&r.buf, "    fn %s() {\n", r.testName(c.Name))

	switch plan.Kind {
	case checkFree:
		r.emitFreeCheck(plan)
	case checkStructCtor:
		r.emitStructCtorCheck(plan)
	case checkStructMethod:
		fmt.Fprintf(&r.buf, "        let v = %s::new(%s);\n", plan.Struct.Struct.Name, rustArgs(c.Recv))
		call := fmt.Sprintf("v.%s(%s)", methodBare(plan.Fn.Name, plan.Struct.Struct.Name), rustArgs(c.Args))
		r.emitExpect(call, c.Expect)
	case checkResourceMethod:
		meth, _ := methodByCall(plan.Resource, c.Call)
		binding := "let v"
		if meth.Mutating {
			binding = "let mut v"
		}
		fmt.Fprintf(&r.buf, "        %s = %s::new(%s).expect(\"construction failed\");\n",
			binding, plan.Resource.Tag, rustArgs(c.Recv))
		call := fmt.Sprintf("v.%s(%s)", methodBare(plan.Fn.Name, plan.Resource.Tag), rustArgs(c.Args))
		r.emitExpect(call, c.Expect)
	}

	r.buf.WriteString("    }\n")
}

func (r *rustEmit) emitFreeCheck(plan checkPlan) {
	c := plan.Check
	params := wrapParams(plan.Fn.Params)
	name := rustFreeName(plan.Fn, params)

	// Sequence parameters bind to a local vec so mutation is observable.
	var callArgs []string
	var seqLocal string
	argIdx := 0
	for _, p := range params {
		if argIdx >= len(c.Args) {
			break
		}
		lit := c.Args[argIdx]
		argIdx++
		if p.Seq {
			seqLocal = p.Name
			binding := "let"
			if p.Mutable {
				binding = "let mut"
			}
			fmt.Fprintf(&r.buf, "        %s %s = %s;\n", binding, p.Name, rustLiteral(lit))
			if p.Mutable {
				callArgs = append(callArgs, "&mut "+p.Name)
			} else {
				callArgs = append(callArgs, "&"+p.Name)
			}
			continue
		}
		callArgs = append(callArgs, lit)
	}

	call := fmt.Sprintf("%s(%s)", name, strings.Join(callArgs, ", "))
	if seqLocal != "" {
		fmt.Fprintf(&r.buf, "        %s;\n", call)
		if c.Expect != "" {
			fmt.Fprintf(&r.buf, "        assert_eq!(%s, %s);\n", seqLocal, rustLiteral(c.Expect))
		}
		return
	}
	r.emitExpect(call, c.Expect)
}

// emitStructCtorCheck verifies the round-trip property: fields read back
// the values the constructor was given, matched positionally.
func (r *rustEmit) emitStructCtorCheck(plan checkPlan) {
	c := plan.Check
	st := plan.Struct.Struct

	fmt.Fprintf(&r.buf, "        let v = %s::new(%s);\n", st.Name, rustArgs(c.Args))
	for i, f := range st.Fields {
		if i >= len(c.Args) {
			break
		}
		fmt.Fprintf(&r.buf, "        assert_eq!(v.%s, %s);\n", f.Name, c.Args[i])
	}
}

func (r *rustEmit) emitScenario(sc surface.Scenario) {
	res := scenarioFor(r.ctx.Model, sc)

	mutating := false
	for _, step := range sc.Steps {
		if meth, ok := methodByCall(res, step.Call); ok && meth.Mutating {
			mutating = true
			break
		}
	}

	r.buf.WriteString("    #[test]\n")
	fmt.Fprintf(&r.buf, "    fn %s() {\n", r.testName(snake(res.Tag)+"_lifecycle"))
	binding := "let v"
	if mutating {
		binding = "let mut v"
	}
	fmt.Fprintf(&r.buf, "        %s = %s::new(%s).expect(\"construction failed\");\n",
		binding, res.Tag, rustArgs(sc.Construct))

	for _, step := range sc.Steps {
		call := fmt.Sprintf("v.%s(%s)", methodBare(step.Call, res.Tag), rustArgs(step.Args))
		if step.Expect != "" {
			fmt.Fprintf(&r.buf, "        assert_eq!(%s, %s);\n", call, step.Expect)
		} else {
			fmt.Fprintf(&r.buf, "        %s;\n", call)
		}
	}

	// Explicit early drop: the destructor must run exactly once here and
	// never again at end of scope.
	r.buf.WriteString("        drop(v);\n")
	r.buf.WriteString("    }\n")
}

func (r *rustEmit) emitExpect(call, expect string) {
	if expect == "" {
		fmt.Fprintf(&r.buf, "        %s;\n", call)
		return
	}
	fmt.Fprintf(&r.buf, "        assert_eq!(%s, %s);\n", call, expect)
}

// rustLiteral spells a target-neutral literal in Rust; bracketed sequences
// become vec! macros.
func rustLiteral(lit string) string {
	lit = strings.TrimSpace(lit)
	if strings.HasPrefix(lit, "[") && strings.HasSuffix(lit, "]") {
		inner := strings.TrimSuffix(strings.TrimPrefix(lit, "["), "]")
		parts := splitLiterals(inner)
		return "vec![" + strings.Join(parts, ", ") + "]"
	}
	return lit
}

func rustArgs(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = rustLiteral(a)
	}
	return strings.Join(out, ", ")
}

func splitLiterals(inner string) []string {
	var parts []string
	for _, p := range strings.Split(inner, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
