package emit

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"
	"golang.org/x/tools/imports"

	"github.com/thaodt/hybrid-transpiler/classify"
	"github.com/thaodt/hybrid-transpiler/diag"
	"github.com/thaodt/hybrid-transpiler/surface"
	"github.com/thaodt/hybrid-transpiler/typemap"
)

func init() {
	Register("go", func() Generator { return &GoGenerator{} })
}

// GoGenerator emits a Go package over the jupiterrider/ffi loader: a raw
// layer that prepares and calls each native symbol exactly as declared,
// and a safe layer of exported wrappers, value types, and mutex-guarded
// resource owners. Emitted sources are passed through the imports
// formatter so output is always gofmt-clean.
type GoGenerator struct{}

func (g *GoGenerator) Name() string { return "go" }

func (g *GoGenerator) Generate(ctx *Context) (*BindingUnit, error) {
	e := &goEmit{ctx: ctx, log: ctx.Log.Named("go")}
	files, err := e.emit()
	if err != nil {
		return nil, err
	}
	return &BindingUnit{Target: "go", Files: files, Diags: e.diags}, nil
}

type goEmit struct {
	ctx   *Context
	log   *zap.Logger
	diags []diag.Diagnostic

	skipped       map[string]bool
	structSkipped map[string]bool
	degraded      map[string]bool
}

func (e *goEmit) emit() ([]*OutputFile, error) {
	e.skipped = make(map[string]bool)
	e.structSkipped = make(map[string]bool)
	e.degraded = make(map[string]bool)

	// Mapping failures are discovered up front so every file agrees on
	// what was skipped.
	for _, fn := range e.ctx.Surface.Functions {
		e.checkMappable(fn)
	}
	for _, st := range e.ctx.Surface.Structs {
		for _, f := range st.Fields {
			if _, err := typemap.Go(f.Type, e.ctx.Surface, goName); err != nil {
				e.structSkipped[st.Name] = true
				e.diags = append(e.diags, diag.Unmappable(st.Name, "field %s: %v", f.Name, err))
				break
			}
		}
	}
	for _, res := range e.ctx.Model.Resources {
		if res.Raw {
			continue
		}
		if e.skipped[res.Ctor.Name] || e.skipped[res.Dtor.Name] {
			e.degraded[res.Tag] = true
			e.diags = append(e.diags, diag.Unmappable(res.Tag, "constructor or destructor unmappable; tag degraded to raw access"))
		}
	}

	var files []*OutputFile

	loader, err := e.loaderFile()
	if err != nil {
		return nil, fmt.Errorf("generating loader: %w", err)
	}
	files = append(files, loader)

	types, err := e.typesFile()
	if err != nil {
		return nil, fmt.Errorf("generating types: %w", err)
	}
	if types != nil {
		files = append(files, types)
	}

	funcs, err := e.functionsFile()
	if err != nil {
		return nil, fmt.Errorf("generating functions: %w", err)
	}
	files = append(files, funcs)

	tests, err := e.testFile()
	if err != nil {
		return nil, fmt.Errorf("generating harness: %w", err)
	}
	if tests != nil {
		files = append(files, tests)
	}

	return files, nil
}

func (e *goEmit) checkMappable(fn surface.Function) {
	s := e.ctx.Surface
	report := func(err error) {
		if e.skipped[fn.Name] {
			return
		}
		e.skipped[fn.Name] = true
		e.diags = append(e.diags, diag.Unmappable(fn.Name, "%v; declaration skipped", err))
		e.log.Warn("skipping declaration", zap.String("function", fn.Name), zap.Error(err))
	}

	if _, err := typemap.Go(fn.Returns, s, goName); err != nil {
		report(err)
		return
	}
	if _, err := typemap.GoFFI(fn.Returns, s, goName); err != nil {
		report(err)
		return
	}
	for _, p := range fn.Params {
		if _, err := typemap.Go(p.Type, s, goName); err != nil {
			report(err)
			return
		}
		if _, err := typemap.GoFFI(p.Type, s, goName); err != nil {
			report(err)
			return
		}
	}
}

func (e *goEmit) header() string {
	return fmt.Sprintf("// Code generated by hybrid-transpiler for library %q; surface %s. DO NOT EDIT.\n\n",
		e.ctx.Surface.Library, shortFingerprint(e.ctx.Fingerprint))
}

func (e *goEmit) format(path string, src []byte) (*OutputFile, error) {
	out, err := imports.Process(path, src, nil)
	if err != nil {
		return nil, fmt.Errorf("formatting %s: %w", path, err)
	}
	return &OutputFile{Path: path, Content: out}, nil
}

var loaderTmpl = template.Must(template.New("loader").Parse(`package {{.Package}}

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/jupiterrider/ffi"
)

var lib ffi.Lib

// Load opens the native library and prepares every declared symbol.
func Load(path string) error {
	var err error
	lib, err = ffi.Load(getLibraryPath(path))
	if err != nil {
		return fmt.Errorf("failed to load library: %w", err)
	}

	if err := loadFuncs(); err != nil {
		return err
	}

	return nil
}

func getLibraryPath(basePath string) string {
	var filename string
	switch runtime.GOOS {
	case "linux", "freebsd":
		filename = "lib{{.LibName}}.so"
	case "darwin":
		filename = "lib{{.LibName}}.dylib"
	case "windows":
		filename = "{{.LibName}}.dll"
	default:
		filename = "lib{{.LibName}}.so"
	}
	return filepath.Join(basePath, filename)
}
`))

func (e *goEmit) loaderFile() (*OutputFile, error) {
	var buf bytes.Buffer
	buf.WriteString(e.header())
	err := loaderTmpl.Execute(&buf, map[string]string{
		"Package": e.ctx.Package,
		"LibName": e.ctx.Surface.Library,
	})
	if err != nil {
		return nil, err
	}
	return e.format("loader.go", buf.Bytes())
}

// typesFile emits the value types, their layout descriptors and methods,
// and the resource-owner wrappers.
func (e *goEmit) typesFile() (*OutputFile, error) {
	s := e.ctx.Surface
	if len(s.Structs) == 0 && len(s.Handles) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	buf.WriteString(e.header())
	fmt.Fprintf(&buf, "package %s\n\n", e.ctx.Package)
	buf.WriteString("import (\n\t\"errors\"\n\t\"fmt\"\n\t\"runtime\"\n\t\"sync\"\n\n\t\"github.com/jupiterrider/ffi\"\n)\n\n")

	needsCtorErr := false
	for _, res := range e.ctx.Model.Resources {
		if !res.Raw && !e.degraded[res.Tag] {
			needsCtorErr = true
		}
	}
	if needsCtorErr {
		buf.WriteString("// ErrConstructionFailed reports a native constructor returning a null handle.\n")
		buf.WriteString("var ErrConstructionFailed = errors.New(\"native constructor returned a null handle\")\n\n")
	}

	for _, st := range s.Structs {
		if e.structSkipped[st.Name] {
			continue
		}
		fmt.Fprintf(&buf, "// %s mirrors the native %s layout and crosses the boundary by value.\n", goName(st.Name), st.Name)
		fmt.Fprintf(&buf, "type %s struct {\n", goName(st.Name))
		for _, f := range st.Fields {
			ft, _ := typemap.Go(f.Type, s, goName)
			fmt.Fprintf(&buf, "\t%s %s\n", goName(f.Name), ft)
		}
		buf.WriteString("}\n\n")

		fmt.Fprintf(&buf, "var FFIType%s = ffi.NewType(\n", goName(st.Name))
		for _, f := range st.Fields {
			ffiType, _ := typemap.GoFFI(f.Type, s, goName)
			fmt.Fprintf(&buf, "\t%s,\n", ffiType)
		}
		buf.WriteString(")\n\n")
	}

	for _, sb := range e.ctx.Model.Structs {
		if e.structSkipped[sb.Struct.Name] {
			continue
		}
		e.emitStructFuncs(&buf, sb)
	}

	for _, res := range e.ctx.Model.Resources {
		fmt.Fprintf(&buf, "// %sHandle is the raw native handle for %s. It is only usable as\n", goName(res.Tag), res.Tag)
		buf.WriteString("// an opaque token passed back into native calls.\n")
		fmt.Fprintf(&buf, "type %sHandle uintptr\n\n", goName(res.Tag))

		if res.Raw || e.degraded[res.Tag] {
			fmt.Fprintf(&buf, "// %s has no classified lifetime; only raw access is generated\n", res.Tag)
			buf.WriteString("// and the caller is responsible for releasing the handle.\n\n")
			continue
		}
		e.emitResource(&buf, res)
	}

	return e.format("types.go", buf.Bytes())
}

func (e *goEmit) emitStructFuncs(buf *bytes.Buffer, sb classify.StructBinding) {
	s := e.ctx.Surface
	stName := goName(sb.Struct.Name)

	if ctor := sb.Ctor; ctor != nil && !e.skipped[ctor.Name] {
		var params, args []string
		for _, p := range ctor.Params {
			pt, _ := typemap.Go(p.Type, s, goName)
			params = append(params, fmt.Sprintf("%s %s", lowerCamel(p.Name), pt))
			args = append(args, lowerCamel(p.Name))
		}
		fmt.Fprintf(buf, "// New%s wraps %s.\n", stName, ctor.Name)
		fmt.Fprintf(buf, "func New%s(%s) %s {\n", stName, strings.Join(params, ", "), stName)
		fmt.Fprintf(buf, "\treturn raw%s(%s)\n", goName(ctor.Name), strings.Join(args, ", "))
		buf.WriteString("}\n\n")
	}

	for _, fn := range sb.Methods {
		if e.skipped[fn.Name] {
			continue
		}
		name := goName(methodBare(fn.Name, sb.Struct.Name))
		var params, args []string
		args = append(args, "v")
		for _, p := range fn.Params[1:] {
			pt, _ := typemap.Go(p.Type, s, goName)
			params = append(params, fmt.Sprintf("%s %s", lowerCamel(p.Name), pt))
			args = append(args, lowerCamel(p.Name))
		}
		ret := ""
		if !fn.Returns.IsVoid() {
			rt, _ := typemap.Go(fn.Returns, s, goName)
			ret = " " + rt
		}
		fmt.Fprintf(buf, "// %s wraps %s.\n", name, fn.Name)
		fmt.Fprintf(buf, "func (v *%s) %s(%s)%s {\n", stName, name, strings.Join(params, ", "), ret)
		call := fmt.Sprintf("raw%s(%s)", goName(fn.Name), strings.Join(args, ", "))
		if fn.Returns.IsVoid() {
			fmt.Fprintf(buf, "\t%s\n", call)
		} else {
			fmt.Fprintf(buf, "\treturn %s\n", call)
		}
		buf.WriteString("}\n\n")
	}
}

func (e *goEmit) emitResource(buf *bytes.Buffer, res classify.Resource) {
	s := e.ctx.Surface
	tag := goName(res.Tag)

	fmt.Fprintf(buf, "// %s owns exactly one native %s handle. Instances must not be\n", tag, res.Tag)
	buf.WriteString("// copied; the mutex serializes access and the destructor runs exactly\n")
	buf.WriteString("// once, on Close or as a finalizer backstop.\n")
	fmt.Fprintf(buf, "type %s struct {\n", tag)
	buf.WriteString("\tmu     sync.Mutex\n")
	fmt.Fprintf(buf, "\thandle %sHandle\n", tag)
	buf.WriteString("\tclosed bool\n")
	buf.WriteString("}\n\n")

	var params, args []string
	for _, p := range res.Ctor.Params {
		pt, _ := typemap.Go(p.Type, s, goName)
		params = append(params, fmt.Sprintf("%s %s", lowerCamel(p.Name), pt))
		args = append(args, lowerCamel(p.Name))
	}
	fmt.Fprintf(buf, "// New%s wraps %s and fails if the native constructor\n", tag, res.Ctor.Name)
	buf.WriteString("// signals failure.\n")
	fmt.Fprintf(buf, "func New%s(%s) (*%s, error) {\n", tag, strings.Join(params, ", "), tag)
	fmt.Fprintf(buf, "\th := raw%s(%s)\n", goName(res.Ctor.Name), strings.Join(args, ", "))
	buf.WriteString("\tif h == 0 {\n")
	fmt.Fprintf(buf, "\t\treturn nil, fmt.Errorf(\"%s: %%w\", ErrConstructionFailed)\n", res.Ctor.Name)
	buf.WriteString("\t}\n")
	fmt.Fprintf(buf, "\tv := &%s{handle: h}\n", tag)
	fmt.Fprintf(buf, "\truntime.SetFinalizer(v, (*%s).Close)\n", tag)
	buf.WriteString("\treturn v, nil\n")
	buf.WriteString("}\n\n")

	fmt.Fprintf(buf, "// Close releases the native handle via %s. Safe to call\n", res.Dtor.Name)
	buf.WriteString("// more than once; the destructor runs at most once.\n")
	fmt.Fprintf(buf, "func (v *%s) Close() {\n", tag)
	buf.WriteString("\tv.mu.Lock()\n")
	buf.WriteString("\tdefer v.mu.Unlock()\n")
	buf.WriteString("\tif v.closed {\n\t\treturn\n\t}\n")
	buf.WriteString("\tv.closed = true\n")
	buf.WriteString("\truntime.SetFinalizer(v, nil)\n")
	fmt.Fprintf(buf, "\traw%s(v.handle)\n", goName(res.Dtor.Name))
	buf.WriteString("}\n\n")

	for _, meth := range res.Methods {
		if e.skipped[meth.Fn.Name] {
			continue
		}
		e.emitResourceMethod(buf, res, meth)
	}
}

func (e *goEmit) emitResourceMethod(buf *bytes.Buffer, res classify.Resource, meth classify.Method) {
	s := e.ctx.Surface
	tag := goName(res.Tag)
	name := goName(methodBare(meth.Fn.Name, res.Tag))

	var params, args []string
	args = append(args, "v.handle")
	for _, p := range meth.Fn.Params[1:] {
		pt, _ := typemap.Go(p.Type, s, goName)
		params = append(params, fmt.Sprintf("%s %s", lowerCamel(p.Name), pt))
		args = append(args, lowerCamel(p.Name))
	}
	ret := ""
	if !meth.Fn.Returns.IsVoid() {
		rt, _ := typemap.Go(meth.Fn.Returns, s, goName)
		ret = " " + rt
	}

	fmt.Fprintf(buf, "// %s wraps %s.\n", name, meth.Fn.Name)
	fmt.Fprintf(buf, "func (v *%s) %s(%s)%s {\n", tag, name, strings.Join(params, ", "), ret)
	buf.WriteString("\tv.mu.Lock()\n")
	buf.WriteString("\tdefer v.mu.Unlock()\n")
	call := fmt.Sprintf("raw%s(%s)", goName(meth.Fn.Name), strings.Join(args, ", "))
	if meth.Fn.Returns.IsVoid() {
		fmt.Fprintf(buf, "\t%s\n", call)
	} else {
		fmt.Fprintf(buf, "\treturn %s\n", call)
	}
	buf.WriteString("}\n\n")
}

// functionsFile emits the prepared call interfaces, the raw call layer,
// and the safe free-function wrappers.
func (e *goEmit) functionsFile() (*OutputFile, error) {
	s := e.ctx.Surface

	var buf bytes.Buffer
	buf.WriteString(e.header())
	fmt.Fprintf(&buf, "package %s\n\n", e.ctx.Package)
	buf.WriteString("import (\n\t\"fmt\"\n\t\"unsafe\"\n\n\t\"github.com/jupiterrider/ffi\"\n)\n\n")

	buf.WriteString("var (\n")
	for _, fn := range s.Functions {
		if e.skipped[fn.Name] {
			continue
		}
		fmt.Fprintf(&buf, "\t%sFunc ffi.Fun\n", lowerCamel(fn.Name))
	}
	buf.WriteString(")\n\n")

	buf.WriteString("func loadFuncs() error {\n\tvar err error\n\n")
	for _, fn := range s.Functions {
		if e.skipped[fn.Name] {
			continue
		}
		retFFI, _ := typemap.GoFFI(fn.Returns, s, goName)
		specs := []string{fmt.Sprintf("%q", fn.Name), retFFI}
		for _, p := range fn.Params {
			pFFI, _ := typemap.GoFFI(p.Type, s, goName)
			specs = append(specs, pFFI)
		}
		fmt.Fprintf(&buf, "\tif %sFunc, err = lib.Prep(%s); err != nil {\n", lowerCamel(fn.Name), strings.Join(specs, ", "))
		fmt.Fprintf(&buf, "\t\treturn fmt.Errorf(\"%s: %%w\", err)\n", fn.Name)
		buf.WriteString("\t}\n\n")
	}
	buf.WriteString("\treturn nil\n}\n\n")

	for _, fn := range s.Functions {
		if e.skipped[fn.Name] {
			continue
		}
		e.emitRawCall(&buf, fn)
	}

	for _, fn := range e.ctx.Model.Free {
		if e.skipped[fn.Name] {
			continue
		}
		e.emitFreeWrapper(&buf, fn)
	}

	for _, res := range e.ctx.Model.Resources {
		if !res.Raw && !e.degraded[res.Tag] {
			continue
		}
		for _, fn := range res.Group {
			if e.skipped[fn.Name] {
				continue
			}
			e.emitRawGroupWrapper(&buf, res, fn)
		}
	}

	return e.format("functions.go", buf.Bytes())
}

// emitRawGroupWrapper exports raw access to one member of a handle group
// that has no classified lifetime. The signature mirrors the native one; the
// caller is responsible for releasing the handle.
func (e *goEmit) emitRawGroupWrapper(buf *bytes.Buffer, res classify.Resource, fn surface.Function) {
	s := e.ctx.Surface

	var params, args []string
	for _, p := range fn.Params {
		pt, _ := typemap.Go(p.Type, s, goName)
		params = append(params, fmt.Sprintf("%s %s", lowerCamel(p.Name), pt))
		args = append(args, lowerCamel(p.Name))
	}
	ret := ""
	if !fn.Returns.IsVoid() {
		rt, _ := typemap.Go(fn.Returns, s, goName)
		ret = " " + rt
	}

	fmt.Fprintf(buf, "// %s exposes %s for the %s handle group, which has no\n", goName(fn.Name), fn.Name, res.Tag)
	buf.WriteString("// classified lifetime; the caller manages the handle.\n")
	fmt.Fprintf(buf, "func %s(%s)%s {\n", goName(fn.Name), strings.Join(params, ", "), ret)
	call := fmt.Sprintf("raw%s(%s)", goName(fn.Name), strings.Join(args, ", "))
	if fn.Returns.IsVoid() {
		fmt.Fprintf(buf, "\t%s\n", call)
	} else {
		fmt.Fprintf(buf, "\treturn %s\n", call)
	}
	buf.WriteString("}\n\n")
}

// smallIntReturn: the call interface returns integers narrower than a
// register through an ffi.Arg.
func smallIntReturn(t surface.Type) bool {
	return t.Kind == surface.KindInt && t.Width <= 4
}

func (e *goEmit) emitRawCall(buf *bytes.Buffer, fn surface.Function) {
	s := e.ctx.Surface

	var params []string
	for _, p := range fn.Params {
		pt, _ := typemap.Go(p.Type, s, goName)
		params = append(params, fmt.Sprintf("%s %s", lowerCamel(p.Name), pt))
	}

	retGo, _ := typemap.Go(fn.Returns, s, goName)
	sig := fmt.Sprintf("func raw%s(%s)", goName(fn.Name), strings.Join(params, ", "))
	if !fn.Returns.IsVoid() {
		sig += " " + retGo
	}
	buf.WriteString(sig + " {\n")

	callArgs := []string{"nil"}
	if !fn.Returns.IsVoid() {
		if smallIntReturn(fn.Returns) {
			buf.WriteString("\tvar result ffi.Arg\n")
		} else {
			fmt.Fprintf(buf, "\tvar result %s\n", retGo)
		}
		callArgs[0] = "unsafe.Pointer(&result)"
	}
	for _, p := range fn.Params {
		name := lowerCamel(p.Name)
		if p.Type.Kind == surface.KindStruct {
			callArgs = append(callArgs, "&"+name)
		} else {
			callArgs = append(callArgs, fmt.Sprintf("unsafe.Pointer(&%s)", name))
		}
	}
	fmt.Fprintf(buf, "\t%sFunc.Call(%s)\n", lowerCamel(fn.Name), strings.Join(callArgs, ", "))
	if !fn.Returns.IsVoid() {
		if smallIntReturn(fn.Returns) {
			fmt.Fprintf(buf, "\treturn %s(result)\n", retGo)
		} else {
			buf.WriteString("\treturn result\n")
		}
	}
	buf.WriteString("}\n\n")
}

func (e *goEmit) emitFreeWrapper(buf *bytes.Buffer, fn surface.Function) {
	s := e.ctx.Surface
	params := wrapParams(fn.Params)
	name := goFreeName(fn, params)

	var sigParams, callArgs, seqNames []string
	for _, p := range params {
		pname := lowerCamel(p.Name)
		if p.Seq {
			et, _ := typemap.Go(p.Elem, s, goName)
			sigParams = append(sigParams, fmt.Sprintf("%s []%s", pname, et))
			lt, _ := typemap.Go(p.LenType, s, goName)
			callArgs = append(callArgs, pname+"Ptr", fmt.Sprintf("%s(len(%s))", lt, pname))
			seqNames = append(seqNames, pname)
			continue
		}
		pt, _ := typemap.Go(p.Type, s, goName)
		sigParams = append(sigParams, fmt.Sprintf("%s %s", pname, pt))
		callArgs = append(callArgs, pname)
	}

	ret := ""
	if !fn.Returns.IsVoid() {
		rt, _ := typemap.Go(fn.Returns, s, goName)
		ret = " " + rt
	}

	fmt.Fprintf(buf, "// %s wraps %s", name, fn.Name)
	if len(seqNames) > 0 {
		buf.WriteString(", deriving the native pointer and length\n// from the slice so the two can never disagree")
	}
	buf.WriteString(".\n")
	fmt.Fprintf(buf, "func %s(%s)%s {\n", name, strings.Join(sigParams, ", "), ret)
	for _, sn := range seqNames {
		fmt.Fprintf(buf, "\tvar %sPtr uintptr\n", sn)
		fmt.Fprintf(buf, "\tif len(%s) > 0 {\n\t\t%sPtr = uintptr(unsafe.Pointer(&%s[0]))\n\t}\n", sn, sn, sn)
	}
	call := fmt.Sprintf("raw%s(%s)", goName(fn.Name), strings.Join(callArgs, ", "))
	if fn.Returns.IsVoid() {
		fmt.Fprintf(buf, "\t%s\n", call)
	} else {
		fmt.Fprintf(buf, "\treturn %s\n", call)
	}
	buf.WriteString("}\n\n")
}
