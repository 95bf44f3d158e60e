// Package diag carries the generation-time diagnostics that narrow a run's
// output without aborting it, and the report that enumerates them afterward.
package diag

import "fmt"

// Kind classifies a diagnostic.
type Kind int

const (
	// UnmappableType: a native type has no target representation. The owning
	// declaration is skipped and the run continues.
	UnmappableType Kind = iota
	// AmbiguousLifetime: a handle tag has zero or multiple destructor
	// candidates (or not exactly one constructor). The tag degrades to
	// raw/unsafe emission and the run continues.
	AmbiguousLifetime
)

func (k Kind) String() string {
	switch k {
	case UnmappableType:
		return "unmappable-type"
	case AmbiguousLifetime:
		return "ambiguous-lifetime"
	}
	return "unknown"
}

// Diagnostic records one skip or degrade.
type Diagnostic struct {
	Kind   Kind
	Symbol string // function name or handle tag
	Detail string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.Kind, d.Symbol, d.Detail)
}

// Unmappable builds an UnmappableType diagnostic for a declaration.
func Unmappable(symbol, format string, args ...any) Diagnostic {
	return Diagnostic{Kind: UnmappableType, Symbol: symbol, Detail: fmt.Sprintf(format, args...)}
}

// Ambiguous builds an AmbiguousLifetime diagnostic for a handle tag.
func Ambiguous(tag, format string, args ...any) Diagnostic {
	return Diagnostic{Kind: AmbiguousLifetime, Symbol: tag, Detail: fmt.Sprintf(format, args...)}
}

// TargetReport collects one emission run's outcome for a single target.
type TargetReport struct {
	Target      string
	Files       []string
	Diagnostics []Diagnostic
}

// Report summarizes a whole generation run so a human can extend the type
// mapping or fix the native naming convention declaration by declaration.
type Report struct {
	Fingerprint string
	Targets     []TargetReport
}

// Degraded reports whether any target recorded a skip or degrade.
func (r *Report) Degraded() bool {
	for _, t := range r.Targets {
		if len(t.Diagnostics) > 0 {
			return true
		}
	}
	return false
}
