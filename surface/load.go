package surface

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// surfaceDoc mirrors the TOML surface description produced by the native
// extractor. It is decoded and immediately resolved into a Surface.
type surfaceDoc struct {
	Library   string        `toml:"library"`
	Handles   []string      `toml:"handles"`
	Structs   []structDoc   `toml:"structs"`
	Functions []funcDoc     `toml:"functions"`
	Checks    []checkDoc    `toml:"checks"`
	Scenarios []scenarioDoc `toml:"scenarios"`
}

type checkDoc struct {
	Name   string   `toml:"name"`
	Call   string   `toml:"call"`
	Recv   []string `toml:"recv"`
	Args   []string `toml:"args"`
	Expect string   `toml:"expect"`
}

type scenarioDoc struct {
	Handle    string    `toml:"handle"`
	Construct []string  `toml:"construct"`
	Steps     []stepDoc `toml:"steps"`
}

type stepDoc struct {
	Call   string   `toml:"call"`
	Args   []string `toml:"args"`
	Expect string   `toml:"expect"`
}

type structDoc struct {
	Name   string     `toml:"name"`
	Fields []paramDoc `toml:"fields"`
}

type funcDoc struct {
	Name    string     `toml:"name"`
	Params  []paramDoc `toml:"params"`
	Returns string     `toml:"returns"`
}

type paramDoc struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

// Load reads and validates a surface description file.
func Load(path string) (*Surface, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a TOML surface description and resolves every type string
// against the declared structs and handle tags.
func Parse(data []byte) (*Surface, error) {
	var doc surfaceDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing surface description: %w", err)
	}
	if doc.Library == "" {
		return nil, fmt.Errorf("surface description has no library name")
	}

	s := &Surface{
		Library: doc.Library,
		Handles: doc.Handles,
	}

	for _, sd := range doc.Structs {
		st := Struct{Name: sd.Name}
		for _, fd := range sd.Fields {
			st.Fields = append(st.Fields, Field{
				Name: fd.Name,
				Type: parseType(fd.Type, doc),
			})
		}
		s.Structs = append(s.Structs, st)
	}

	for _, fd := range doc.Functions {
		fn := Function{
			Name:    fd.Name,
			Returns: parseType(fd.Returns, doc),
		}
		for _, pd := range fd.Params {
			fn.Params = append(fn.Params, Param{
				Name: pd.Name,
				Type: parseType(pd.Type, doc),
			})
		}
		s.Functions = append(s.Functions, fn)
	}

	for _, cd := range doc.Checks {
		name := cd.Name
		if name == "" {
			name = cd.Call
		}
		s.Checks = append(s.Checks, Check{
			Name:   name,
			Call:   cd.Call,
			Recv:   cd.Recv,
			Args:   cd.Args,
			Expect: cd.Expect,
		})
	}

	for _, sd := range doc.Scenarios {
		sc := Scenario{Handle: sd.Handle, Construct: sd.Construct}
		for _, step := range sd.Steps {
			sc.Steps = append(sc.Steps, ScenarioStep{
				Call:   step.Call,
				Args:   step.Args,
				Expect: step.Expect,
			})
		}
		s.Scenarios = append(s.Scenarios, sc)
	}

	if err := validate(s); err != nil {
		return nil, err
	}

	return s, nil
}

// numericTypes maps type-string spellings to exact-width numeric types.
// usize follows the 64-bit native ABI this generator targets.
var numericTypes = map[string]Type{
	"bool":  {Kind: KindInt, Width: 1, Signed: false},
	"i8":    {Kind: KindInt, Width: 1, Signed: true},
	"i16":   {Kind: KindInt, Width: 2, Signed: true},
	"i32":   {Kind: KindInt, Width: 4, Signed: true},
	"i64":   {Kind: KindInt, Width: 8, Signed: true},
	"u8":    {Kind: KindInt, Width: 1, Signed: false},
	"u16":   {Kind: KindInt, Width: 2, Signed: false},
	"u32":   {Kind: KindInt, Width: 4, Signed: false},
	"u64":   {Kind: KindInt, Width: 8, Signed: false},
	"usize": {Kind: KindInt, Width: 8, Signed: false, PointerSized: true},
	"isize": {Kind: KindInt, Width: 8, Signed: true, PointerSized: true},
	"f32":   {Kind: KindFloat, Width: 4},
	"f64":   {Kind: KindFloat, Width: 8},
}

func parseType(spec string, doc surfaceDoc) Type {
	spec = strings.TrimSpace(spec)

	switch {
	case spec == "" || spec == "void":
		return Void
	case strings.HasPrefix(spec, "*mut "):
		elem := parseType(strings.TrimPrefix(spec, "*mut "), doc)
		return Type{Kind: KindPointer, Elem: &elem, Mutable: true}
	case strings.HasPrefix(spec, "*const "):
		elem := parseType(strings.TrimPrefix(spec, "*const "), doc)
		return Type{Kind: KindPointer, Elem: &elem}
	}

	if t, ok := numericTypes[spec]; ok {
		return t
	}

	for _, h := range doc.Handles {
		if h == spec {
			return Type{Kind: KindOpaque, Tag: spec}
		}
	}
	for _, sd := range doc.Structs {
		if sd.Name == spec {
			return Type{Kind: KindStruct, Tag: spec}
		}
	}

	return Type{Kind: KindUnresolved, Tag: spec}
}

// validate enforces the native-convention assumptions the generator depends
// on: globally unique function names, disjoint struct/handle tags, and no
// function that both mutates a struct through a pointer and returns a new
// value of the same struct (ambiguous ownership of the result).
func validate(s *Surface) error {
	names := make(map[string]bool, len(s.Functions))
	for _, fn := range s.Functions {
		if names[fn.Name] {
			return fmt.Errorf("duplicate function name %q", fn.Name)
		}
		names[fn.Name] = true
	}

	tags := make(map[string]bool, len(s.Structs)+len(s.Handles))
	for _, st := range s.Structs {
		if tags[st.Name] {
			return fmt.Errorf("duplicate struct name %q", st.Name)
		}
		tags[st.Name] = true
	}
	for _, h := range s.Handles {
		if tags[h] {
			return fmt.Errorf("handle tag %q collides with another declaration", h)
		}
		tags[h] = true
	}

	for _, c := range s.Checks {
		if !names[c.Call] {
			return fmt.Errorf("check %q calls undeclared function %q", c.Name, c.Call)
		}
	}
	for _, sc := range s.Scenarios {
		if !s.HasHandle(sc.Handle) {
			return fmt.Errorf("scenario references undeclared handle %q", sc.Handle)
		}
		for _, step := range sc.Steps {
			if !names[step.Call] {
				return fmt.Errorf("scenario for %q calls undeclared function %q", sc.Handle, step.Call)
			}
		}
	}

	for _, fn := range s.Functions {
		if fn.Returns.Kind != KindStruct {
			continue
		}
		for _, p := range fn.Params {
			t := p.Type
			if t.Kind == KindPointer && t.Mutable && t.Elem.Kind == KindStruct && t.Elem.Tag == fn.Returns.Tag {
				return fmt.Errorf("function %q mutates struct %q by pointer and returns it by value", fn.Name, fn.Returns.Tag)
			}
		}
	}

	return nil
}
