package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/thaodt/hybrid-transpiler/classify"
	"github.com/thaodt/hybrid-transpiler/diag"
	"github.com/thaodt/hybrid-transpiler/emit"
	"github.com/thaodt/hybrid-transpiler/surface"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	targetStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#87CEEB"))

	fileStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFB86C"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func main() {
	surfacePath := flag.String("surface", "", "Path to surface description TOML")
	outputDir := flag.String("output", ".", "Output directory for generated files")
	targetList := flag.String("targets", "rust,go", "Comma-separated targets to emit")
	packageName := flag.String("package", "", "Go package name (default: derived from library)")
	libName := flag.String("lib", "", "Override the library name (e.g. 'mylib' for libmylib.so)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *surfacePath == "" {
		fmt.Fprintln(os.Stderr, "error: -surface flag is required")
		flag.Usage()
		os.Exit(1)
	}

	log := zap.NewNop()
	if *verbose {
		var err error
		log, err = zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
			os.Exit(1)
		}
	}
	defer log.Sync()

	s, err := surface.Load(*surfacePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("error loading surface: %v", err)))
		os.Exit(1)
	}
	if *libName != "" {
		s.Library = *libName
	}

	fp, err := surface.Fingerprint(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("error fingerprinting surface: %v", err)))
		os.Exit(1)
	}

	if *packageName == "" {
		*packageName = strings.ReplaceAll(s.Library, "_", "")
	}

	model := classify.Classify(s, log)

	ctx := &emit.Context{
		Surface:     s,
		Model:       model,
		Package:     *packageName,
		Fingerprint: fp,
		Log:         log,
	}

	targets := strings.Split(*targetList, ",")
	for i := range targets {
		targets[i] = strings.TrimSpace(targets[i])
	}

	units, err := emit.Run(ctx, targets)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("error generating code: %v", err)))
		os.Exit(1)
	}

	report := &diag.Report{Fingerprint: fp}
	for _, unit := range units {
		tr := diag.TargetReport{Target: unit.Target}
		tr.Diagnostics = append(tr.Diagnostics, model.Diags...)
		tr.Diagnostics = append(tr.Diagnostics, unit.Diags...)
		for _, file := range unit.Files {
			dir := filepath.Join(*outputDir, unit.Target)
			if err := os.MkdirAll(dir, 0755); err != nil {
				fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("error creating output directory: %v", err)))
				os.Exit(1)
			}
			path := filepath.Join(dir, file.Path)
			if err := os.WriteFile(path, file.Content, 0644); err != nil {
				fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("error writing %s: %v", file.Path, err)))
				os.Exit(1)
			}
			tr.Files = append(tr.Files, path)
		}
		report.Targets = append(report.Targets, tr)
	}

	printReport(report, s.Library)
}

func printReport(r *diag.Report, library string) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("bindings for %s", library)))
	fmt.Println(dimStyle.Render("surface " + r.Fingerprint[:12]))

	for _, t := range r.Targets {
		fmt.Println()
		fmt.Println(targetStyle.Render(t.Target))
		for _, path := range t.Files {
			fmt.Println(fileStyle.Render("  " + path))
		}
		for _, d := range t.Diagnostics {
			fmt.Println(warnStyle.Render("  ! " + d.String()))
		}
	}

	if r.Degraded() {
		fmt.Println()
		fmt.Println(warnStyle.Render("output narrowed; see diagnostics above"))
	}
}
