package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/marcohefti/copyconf/internal/config"
	"github.com/marcohefti/copyconf/internal/logging"
	"github.com/marcohefti/copyconf/internal/scenario"
	"github.com/mattn/go-isatty"
)

type Runner struct {
	Version string
	Now     func() time.Time
	Stdout  io.Writer
	Stderr  io.Writer
}

func (r Runner) Run(args []string) int {
	if r.Stdout == nil {
		r.Stdout = os.Stdout
	}
	if r.Stderr == nil {
		r.Stderr = os.Stderr
	}
	if r.Now == nil {
		r.Now = time.Now
	}

	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printRootHelp(r.Stdout)
		return 0
	}

	switch args[0] {
	case "run":
		return r.runRun(args[1:])
	case "matrix":
		return r.runMatrix(args[1:])
	case "report":
		return r.runReport(args[1:])
	case "doctor":
		return r.runDoctor(args[1:])
	case "version":
		fmt.Fprintf(r.Stdout, "%s\n", r.Version)
		return 0
	default:
		fmt.Fprintf(r.Stderr, "%s: unknown command %q\n", codeUsage, args[0])
		printRootHelp(r.Stderr)
		return 2
	}
}

func (r Runner) runMatrix(args []string) int {
	fs := flag.NewFlagSet("matrix", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	matrixPath := fs.String("matrix", "", "matrix file (.yaml or .json); default is built in")
	jsonOut := fs.Bool("json", false, "print JSON output")
	help := fs.Bool("help", false, "show help")

	if err := fs.Parse(args); err != nil {
		return r.failUsage("matrix: invalid flags")
	}
	if *help {
		printMatrixHelp(r.Stdout)
		return 0
	}
	m, err := loadMatrix(*matrixPath)
	if err != nil {
		return r.failUsage("matrix: " + err.Error())
	}
	if *jsonOut {
		return r.writeJSON(m)
	}
	for _, s := range m.Scenarios {
		note := ""
		switch {
		case s.Skip != "":
			note = "skip: " + s.Skip
		case s.Probe:
			note = "probe"
		}
		fmt.Fprintf(r.Stdout, "%-24s %-9s %-6s %-7s %s\n", s.ID, s.Method, s.Source, s.Format, note)
	}
	return 0
}

func loadMatrix(path string) (scenario.Matrix, error) {
	if path == "" {
		return scenario.Default(), nil
	}
	return scenario.ParseFile(path)
}

// loadConfig reads the environment and layers flag overrides on top.
func loadConfig(o config.Overrides) (config.Harness, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Harness{}, err
	}
	return cfg.Apply(o)
}

func (r Runner) logger(cfg config.Harness) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(r.Stderr, level, format), nil
}

// colorFor reports whether diffs written to w should carry ANSI colors.
func colorFor(enabled bool, w io.Writer) bool {
	if !enabled {
		return false
	}
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func (r Runner) writeJSON(v any) int {
	enc := json.NewEncoder(r.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(r.Stderr, "%s: failed to encode json\n", codeIO)
		return 1
	}
	return 0
}

func (r Runner) failUsage(msg string) int {
	fmt.Fprintf(r.Stderr, "%s: %s\n", codeUsage, msg)
	return 2
}

func (r Runner) fail(code, msg string) int {
	fmt.Fprintf(r.Stderr, "%s: %s\n", code, msg)
	return 1
}

func printRootHelp(w io.Writer) {
	fmt.Fprint(w, `copyconf: conformance checks for the client's \copy command

Usage:
  copyconf run [--matrix <file>] [--only <id,...>] [--jobs <n>] [--out <results.jsonl>] [--json]
  copyconf matrix [--matrix <file>] [--json]
  copyconf report [--json] <results.jsonl>
  copyconf doctor [--json]

Commands:
  run       Prepare the fixture and run every scenario against the client.
  matrix    List the scenarios that run would execute.
  report    Summarize a results file written by run --out.
  doctor    Check that the client, database, pty and scratch dir are usable.
  version   Print version.

Environment:
  COPYCONF_CLIENT, COPYCONF_CLIENT_ARGS, COPYCONF_WAIT_TIMEOUT, COPYCONF_SCRATCH_ROOT,
  COPYCONF_MATRIX, COPYCONF_LOG_LEVEL, COPYCONF_LOG_FORMAT, COPYCONF_COLOR,
  PGDATABASE (else USER) for the prompt, plus the client's own PG* variables.
`)
}

func printMatrixHelp(w io.Writer) {
	fmt.Fprint(w, `Usage:
  copyconf matrix [--matrix <file>] [--json]
`)
}
