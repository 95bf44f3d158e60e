// Package emit turns a classified surface model into per-target binding
// units. Backends register themselves by target name; each emission run is
// independent and reads only shared immutable state, so requested targets
// run concurrently.
package emit

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/thaodt/hybrid-transpiler/classify"
	"github.com/thaodt/hybrid-transpiler/diag"
	"github.com/thaodt/hybrid-transpiler/surface"
)

// Context carries the read-only inputs of one emission run.
type Context struct {
	Surface     *surface.Surface
	Model       *classify.Model
	Package     string // package name for the Go target
	Fingerprint string // canonical surface digest, stamped into headers
	Log         *zap.Logger
}

// OutputFile is one emitted source file.
type OutputFile struct {
	Path    string
	Content []byte
}

// BindingUnit is the complete emission result for one target language:
// raw declarations, safe wrappers, and the verification harness, split
// across the target's files, plus the skips and degrades recorded while
// producing them.
type BindingUnit struct {
	Target string
	Files  []*OutputFile
	Diags  []diag.Diagnostic
}

// Generator is one target-language backend.
type Generator interface {
	Name() string
	Generate(ctx *Context) (*BindingUnit, error)
}

var registry = map[string]func() Generator{}

// Register adds a backend factory under a target name. Called from backend
// init functions.
func Register(name string, factory func() Generator) {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("emit: duplicate generator %q", name))
	}
	registry[name] = factory
}

// New returns a fresh backend for the named target.
func New(name string) (Generator, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown target %q (have %v)", name, Targets())
	}
	return factory(), nil
}

// Targets lists the registered target names, sorted.
func Targets() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run emits one BindingUnit per requested target. Units are produced
// concurrently; the context is never written after Run starts.
func Run(ctx *Context, targets []string) ([]*BindingUnit, error) {
	if ctx.Log == nil {
		ctx.Log = zap.NewNop()
	}

	gens := make([]Generator, len(targets))
	for i, name := range targets {
		gen, err := New(name)
		if err != nil {
			return nil, err
		}
		gens[i] = gen
	}

	units := make([]*BindingUnit, len(targets))
	errs := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, gen := range gens {
		wg.Add(1)
		go func(i int, gen Generator) {
			defer wg.Done()
			unit, err := gen.Generate(ctx)
			if err != nil {
				errs[i] = fmt.Errorf("target %s: %w", gen.Name(), err)
				return
			}
			units[i] = unit
		}(i, gen)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return units, nil
}
