package emit

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/thaodt/hybrid-transpiler/surface"
	"github.com/thaodt/hybrid-transpiler/typemap"
)

// testFile emits the package's verification harness: one test per declared
// check plus a lifecycle test per scenario. The native library location
// comes from an environment variable so the harness runs wherever the
// compiled artifact lives.
func (e *goEmit) testFile() (*OutputFile, error) {
	plans := planChecks(e.ctx.Model)
	var scenarios []surface.Scenario
	for _, sc := range e.ctx.Surface.Scenarios {
		if res := scenarioFor(e.ctx.Model, sc); res != nil && !e.degraded[res.Tag] {
			scenarios = append(scenarios, sc)
		}
	}
	if len(plans) == 0 && len(scenarios) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	buf.WriteString(e.header())
	fmt.Fprintf(&buf, "package %s\n\n", e.ctx.Package)
	buf.WriteString("import (\n\t\"fmt\"\n\t\"os\"\n\t\"testing\"\n)\n\n")

	envVar := libEnvVar(e.ctx.Surface.Library)
	fmt.Fprintf(&buf, "// TestMain loads the native library from %s (default \".\").\n", envVar)
	buf.WriteString("func TestMain(m *testing.M) {\n")
	fmt.Fprintf(&buf, "\tdir := os.Getenv(%q)\n", envVar)
	buf.WriteString("\tif dir == \"\" {\n\t\tdir = \".\"\n\t}\n")
	buf.WriteString("\tif err := Load(dir); err != nil {\n")
	buf.WriteString("\t\tfmt.Fprintln(os.Stderr, \"load:\", err)\n")
	buf.WriteString("\t\tos.Exit(1)\n")
	buf.WriteString("\t}\n")
	buf.WriteString("\tos.Exit(m.Run())\n")
	buf.WriteString("}\n\n")

	used := make(map[string]int)
	testName := func(base string) string {
		name := "Test" + goName(base)
		used[name]++
		if n := used[name]; n > 1 {
			return fmt.Sprintf("%s%d", name, n)
		}
		return name
	}

	for _, plan := range plans {
		if e.skipped[plan.Fn.Name] {
			continue
		}
		if plan.Resource != nil && e.degraded[plan.Resource.Tag] {
			continue
		}
		e.emitGoCheck(&buf, plan, testName(plan.Check.Name))
	}

	for _, sc := range scenarios {
		res := scenarioFor(e.ctx.Model, sc)
		e.emitGoScenario(&buf, sc, testName(snake(res.Tag)+"_lifecycle"))
	}

	return e.format("bindings_test.go", buf.Bytes())
}

func (e *goEmit) emitGoCheck(buf *bytes.Buffer, plan checkPlan, testName string) {
	c := plan.Check

	fmt.Fprintf(buf, "func %s(t *testing.T) {\n", testName)
	switch plan.Kind {
	case checkFree:
		e.emitGoFreeCheck(buf, plan)
	case checkStructCtor:
		st := plan.Struct.Struct
		fmt.Fprintf(buf, "\tv := New%s(%s)\n", goName(st.Name), e.goArgs(c.Args))
		for i, f := range st.Fields {
			if i >= len(c.Args) {
				break
			}
			fmt.Fprintf(buf, "\tif v.%s != %s {\n", goName(f.Name), c.Args[i])
			fmt.Fprintf(buf, "\t\tt.Errorf(\"%s = %%v, want %s\", v.%s)\n", goName(f.Name), c.Args[i], goName(f.Name))
			buf.WriteString("\t}\n")
		}
	case checkStructMethod:
		st := plan.Struct.Struct
		fmt.Fprintf(buf, "\tv := New%s(%s)\n", goName(st.Name), e.goArgs(c.Recv))
		call := fmt.Sprintf("v.%s(%s)", goName(methodBare(plan.Fn.Name, st.Name)), e.goArgs(c.Args))
		emitGoExpect(buf, call, c.Expect)
	case checkResourceMethod:
		tag := goName(plan.Resource.Tag)
		fmt.Fprintf(buf, "\tv, err := New%s(%s)\n", tag, e.goArgs(c.Recv))
		buf.WriteString("\tif err != nil {\n\t\tt.Fatalf(\"construction failed: %v\", err)\n\t}\n")
		buf.WriteString("\tdefer v.Close()\n")
		call := fmt.Sprintf("v.%s(%s)", goName(methodBare(plan.Fn.Name, plan.Resource.Tag)), e.goArgs(c.Args))
		emitGoExpect(buf, call, c.Expect)
	}
	buf.WriteString("}\n\n")
}

func (e *goEmit) emitGoFreeCheck(buf *bytes.Buffer, plan checkPlan) {
	c := plan.Check
	params := wrapParams(plan.Fn.Params)
	name := goFreeName(plan.Fn, params)

	var callArgs []string
	seqLocal := ""
	seqExpect := ""
	argIdx := 0
	for _, p := range params {
		if argIdx >= len(c.Args) {
			break
		}
		lit := c.Args[argIdx]
		argIdx++
		if p.Seq {
			seqLocal = lowerCamel(p.Name)
			fmt.Fprintf(buf, "\t%s := %s\n", seqLocal, e.goLiteral(lit, p.Elem))
			callArgs = append(callArgs, seqLocal)
			seqExpect = c.Expect
			continue
		}
		callArgs = append(callArgs, lit)
	}

	call := fmt.Sprintf("%s(%s)", name, strings.Join(callArgs, ", "))
	if seqLocal != "" {
		fmt.Fprintf(buf, "\t%s\n", call)
		if seqExpect != "" {
			var elem surface.Type
			for _, p := range params {
				if p.Seq {
					elem = p.Elem
				}
			}
			fmt.Fprintf(buf, "\twant := %s\n", e.goLiteral(seqExpect, elem))
			buf.WriteString("\tfor i := range want {\n")
			fmt.Fprintf(buf, "\t\tif %s[i] != want[i] {\n", seqLocal)
			fmt.Fprintf(buf, "\t\t\tt.Fatalf(\"element %%d = %%v, want %%v\", i, %s[i], want[i])\n", seqLocal)
			buf.WriteString("\t\t}\n\t}\n")
		}
		return
	}
	emitGoExpect(buf, call, c.Expect)
}

func (e *goEmit) emitGoScenario(buf *bytes.Buffer, sc surface.Scenario, testName string) {
	res := scenarioFor(e.ctx.Model, sc)
	tag := goName(res.Tag)

	fmt.Fprintf(buf, "func %s(t *testing.T) {\n", testName)
	fmt.Fprintf(buf, "\tv, err := New%s(%s)\n", tag, e.goArgs(sc.Construct))
	buf.WriteString("\tif err != nil {\n\t\tt.Fatalf(\"construction failed: %v\", err)\n\t}\n")

	for _, step := range sc.Steps {
		call := fmt.Sprintf("v.%s(%s)", goName(methodBare(step.Call, res.Tag)), e.goArgs(step.Args))
		emitGoExpect(buf, call, step.Expect)
	}

	buf.WriteString("\tv.Close()\n")
	buf.WriteString("\tv.Close() // second close must not run the destructor again\n")
	buf.WriteString("}\n\n")
}

func emitGoExpect(buf *bytes.Buffer, call, expect string) {
	if expect == "" {
		fmt.Fprintf(buf, "\t%s\n", call)
		return
	}
	fmt.Fprintf(buf, "\tif got := %s; got != %s {\n", call, expect)
	fmt.Fprintf(buf, "\t\tt.Fatalf(\"%s = %%v, want %s\", got)\n", call, expect)
	buf.WriteString("\t}\n")
}

// goLiteral spells a target-neutral literal in Go; bracketed sequences
// become slice literals of the element type.
func (e *goEmit) goLiteral(lit string, elem surface.Type) string {
	lit = strings.TrimSpace(lit)
	if strings.HasPrefix(lit, "[") && strings.HasSuffix(lit, "]") {
		et, _ := typemap.Go(elem, e.ctx.Surface, goName)
		inner := strings.TrimSuffix(strings.TrimPrefix(lit, "["), "]")
		return fmt.Sprintf("[]%s{%s}", et, strings.Join(splitLiterals(inner), ", "))
	}
	return lit
}

func (e *goEmit) goArgs(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.TrimSpace(a)
	}
	return strings.Join(out, ", ")
}

// libEnvVar derives the harness environment variable from the library
// name: "ffi_example" -> "FFI_EXAMPLE_LIB_DIR".
func libEnvVar(lib string) string {
	up := strings.ToUpper(lib)
	var b strings.Builder
	for _, r := range up {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String() + "_LIB_DIR"
}
