package emit

import (
	"fmt"
	"strings"

	"github.com/thaodt/hybrid-transpiler/diag"
	"github.com/thaodt/hybrid-transpiler/surface"
	"github.com/thaodt/hybrid-transpiler/typemap"
)

func init() {
	Register("cheader", func() Generator { return &CHeaderGenerator{} })
}

// CHeaderGenerator emits a C header declaring the surface, for consumers
// that bind against the artifact from C or need a cgo preamble.
type CHeaderGenerator struct{}

func (g *CHeaderGenerator) Name() string { return "cheader" }

func (g *CHeaderGenerator) Generate(ctx *Context) (*BindingUnit, error) {
	s := ctx.Surface
	var buf strings.Builder
	var diags []diag.Diagnostic

	guard := libEnvVar(s.Library)
	guard = strings.TrimSuffix(guard, "_LIB_DIR") + "_BINDINGS_H"

	fmt.Fprintf(&buf, "/* @generated by hybrid-transpiler for library %q; surface %s. */\n\n", s.Library, shortFingerprint(ctx.Fingerprint))
	fmt.Fprintf(&buf, "#ifndef %s\n#define %s\n\n", guard, guard)
	buf.WriteString("#include <stdint.h>\n#include <stddef.h>\n\n")
	buf.WriteString("#ifdef __cplusplus\nextern \"C\" {\n#endif\n\n")

	for _, tag := range s.Handles {
		fmt.Fprintf(&buf, "/* %s is an opaque handle; only the functions below may touch it. */\n", tag)
	}
	if len(s.Handles) > 0 {
		buf.WriteString("\n")
	}

	for _, st := range s.Structs {
		fields := make([]string, 0, len(st.Fields))
		bad := false
		for _, f := range st.Fields {
			ft, err := typemap.C(f.Type, s)
			if err != nil {
				diags = append(diags, diag.Unmappable(st.Name, "field %s: %v", f.Name, err))
				bad = true
				break
			}
			fields = append(fields, fmt.Sprintf("    %s %s;", ft, f.Name))
		}
		if bad {
			continue
		}
		buf.WriteString("typedef struct {\n")
		buf.WriteString(strings.Join(fields, "\n"))
		fmt.Fprintf(&buf, "\n} %s;\n\n", st.Name)
	}

	for _, fn := range s.Functions {
		decl, err := cDecl(fn, s)
		if err != nil {
			diags = append(diags, diag.Unmappable(fn.Name, "%v; declaration skipped", err))
			continue
		}
		buf.WriteString(decl + "\n")
	}

	buf.WriteString("\n#ifdef __cplusplus\n}\n#endif\n\n")
	fmt.Fprintf(&buf, "#endif /* %s */\n", guard)

	return &BindingUnit{
		Target: "cheader",
		Files: []*OutputFile{
			{Path: s.Library + ".h", Content: []byte(buf.String())},
		},
		Diags: diags,
	}, nil
}

func cDecl(fn surface.Function, s *surface.Surface) (string, error) {
	ret, err := typemap.C(fn.Returns, s)
	if err != nil {
		return "", err
	}
	params := make([]string, 0, len(fn.Params))
	for _, p := range fn.Params {
		pt, err := typemap.C(p.Type, s)
		if err != nil {
			return "", err
		}
		params = append(params, fmt.Sprintf("%s %s", pt, p.Name))
	}
	if len(params) == 0 {
		return fmt.Sprintf("%s %s(void);", ret, fn.Name), nil
	}
	return fmt.Sprintf("%s %s(%s);", ret, fn.Name, strings.Join(params, ", ")), nil
}
