package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/marcohefti/copyconf/internal/client"
	"github.com/marcohefti/copyconf/internal/config"
	"github.com/marcohefti/copyconf/internal/fixture"
	"github.com/marcohefti/copyconf/internal/ids"
	"github.com/marcohefti/copyconf/internal/runner"
	"github.com/marcohefti/copyconf/internal/scenario"
	"github.com/marcohefti/copyconf/internal/store"
	"github.com/marcohefti/copyconf/internal/verify"
)

// runRecord is one line of the --out results file.
type runRecord struct {
	RunID string `json:"runId"`
	scenario.Result
}

type runReport struct {
	RunID     string            `json:"runId"`
	Version   string            `json:"version"`
	Client    string            `json:"client"`
	Config    string            `json:"configSource"`
	StartedAt string            `json:"startedAt"`
	Summary   scenario.Summary  `json:"summary"`
	Results   []scenario.Result `json:"results"`
}

func (r Runner) runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	matrixPath := fs.String("matrix", "", "matrix file (.yaml or .json); default is built in")
	only := fs.String("only", "", "comma-separated scenario ids to run")
	jobs := fs.Int("jobs", 1, "scenarios to run in parallel")
	out := fs.String("out", "", "append one JSON line per scenario result to this file")
	summaryPath := fs.String("summary", "", "write the run report JSON to this file")
	clientBin := fs.String("client", "", "client binary (overrides COPYCONF_CLIENT)")
	timeout := fs.Duration("timeout", 0, "interactive wait timeout (overrides COPYCONF_WAIT_TIMEOUT)")
	scratch := fs.String("scratch", "", "parent directory for the scratch dir")
	logLevel := fs.String("log-level", "", "debug|info|warn|error")
	logFormat := fs.String("log-format", "", "text|json")
	noColor := fs.Bool("no-color", false, "disable colored diffs")
	transcripts := fs.Bool("transcripts", false, "mirror interactive client output to stderr")
	jsonOut := fs.Bool("json", false, "print JSON output")
	help := fs.Bool("help", false, "show help")

	if err := fs.Parse(args); err != nil {
		return r.failUsage("run: invalid flags")
	}
	if *help {
		printRunHelp(r.Stdout)
		return 0
	}
	if fs.NArg() > 0 {
		printRunHelp(r.Stderr)
		return r.failUsage("run: unexpected arguments")
	}
	if *jobs < 1 {
		return r.failUsage("run: --jobs must be >= 1")
	}

	cfg, err := loadConfig(config.Overrides{
		Client:      *clientBin,
		WaitTimeout: *timeout,
		ScratchRoot: *scratch,
		Matrix:      *matrixPath,
		LogLevel:    *logLevel,
		LogFormat:   *logFormat,
		NoColor:     *noColor,
	})
	if err != nil {
		return r.failUsage("run: " + err.Error())
	}
	log, err := r.logger(cfg)
	if err != nil {
		return r.failUsage("run: " + err.Error())
	}
	m, err := loadMatrix(cfg.Matrix)
	if err != nil {
		return r.failUsage("run: " + err.Error())
	}
	m, err = m.Filter(splitList(*only))
	if err != nil {
		return r.failUsage("run: " + err.Error())
	}
	prompt, err := cfg.Prompt()
	if err != nil {
		return r.fail(codeSetup, err.Error())
	}

	started := r.Now()
	runID, err := ids.NewRunID(started)
	if err != nil {
		return r.fail(codeIO, err.Error())
	}
	log = log.With("runId", runID)
	log.Info("run start", "client", cfg.Client, "scenarios", len(m.Scenarios), "jobs", *jobs, "config", cfg.Source)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.Client{
		Program:  cfg.Client,
		BaseArgs: cfg.ClientArgs,
		Runner:   runner.Runner{Logger: log},
	}
	v := verify.Verifier{Color: colorFor(cfg.Color, r.Stderr)}

	fx, err := fixture.Setup(ctx, fixture.Options{
		Client:      c,
		ScratchRoot: cfg.ScratchRoot,
		Verifier:    v,
		Logger:      log,
	})
	if err != nil {
		return r.fail(codeSetup, err.Error())
	}
	defer func() {
		if err := fx.Close(); err != nil {
			log.Warn("fixture cleanup", "dir", fx.Dir, "err", err)
		}
	}()

	env := scenario.Env{
		Client:   c,
		Fixture:  fx,
		Verifier: v,
		Prompt:   prompt,
		Timeout:  cfg.WaitTimeout,
		Logger:   log,
	}
	if *transcripts {
		env.Mirror = r.Stderr
	}

	var writeErr error
	results := scenario.RunAll(ctx, env, m.Scenarios, *jobs, func(res scenario.Result) {
		if *out != "" {
			if err := store.AppendJSONL(*out, runRecord{RunID: runID, Result: res}); err != nil && writeErr == nil {
				writeErr = err
			}
		}
		if !*jsonOut {
			r.printResult(res)
		}
	})
	sum := scenario.Summarize(results)
	log.Info("run finished", "passed", sum.Passed, "failed", sum.Failed, "skipped", sum.Skipped,
		"duration", time.Since(started).Round(time.Millisecond))

	report := runReport{
		RunID:     runID,
		Version:   r.Version,
		Client:    cfg.Client,
		Config:    cfg.Source,
		StartedAt: started.UTC().Format(time.RFC3339),
		Summary:   sum,
		Results:   results,
	}
	if *summaryPath != "" {
		if err := store.WriteJSONAtomic(*summaryPath, report); err != nil && writeErr == nil {
			writeErr = err
		}
	}
	if writeErr != nil {
		return r.fail(codeIO, writeErr.Error())
	}

	if *jsonOut {
		if code := r.writeJSON(report); code != 0 {
			return code
		}
	} else {
		printSummary(r.Stdout, sum)
	}
	if !sum.OK() {
		return r.fail(codeFailed, fmt.Sprintf("%d of %d scenarios failed: %s", sum.Failed, sum.Total, strings.Join(sum.Failing, ", ")))
	}
	return 0
}

func (r Runner) printResult(res scenario.Result) {
	switch res.Status {
	case scenario.StatusPassed:
		fmt.Fprintf(r.Stdout, "PASS  %-24s %dms\n", res.Scenario, res.DurationMs)
	case scenario.StatusSkipped:
		fmt.Fprintf(r.Stdout, "SKIP  %-24s %s\n", res.Scenario, res.Reason)
	default:
		fmt.Fprintf(r.Stdout, "FAIL  %-24s %s: %s\n", res.Scenario, res.Step, res.Reason)
		if res.Transcript != "" {
			fmt.Fprintf(r.Stderr, "--- transcript %s ---\n%s\n--- end transcript ---\n", res.Scenario, res.Transcript)
		}
	}
}

func printSummary(w io.Writer, sum scenario.Summary) {
	fmt.Fprintf(w, "%d passed, %d failed, %d skipped\n", sum.Passed, sum.Failed, sum.Skipped)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printRunHelp(w io.Writer) {
	fmt.Fprint(w, `Usage:
  copyconf run [--matrix <file>] [--only <id,...>] [--jobs 1] [--out <results.jsonl>] [--summary <report.json>]
               [--client psql] [--timeout 1s] [--scratch <dir>] [--log-level info] [--log-format text]
               [--no-color] [--transcripts] [--json]
`)
}
