package cli

import (
	"flag"
	"fmt"
	"io"

	"github.com/marcohefti/copyconf/internal/scenario"
	"github.com/marcohefti/copyconf/internal/store"
)

type reportOutput struct {
	Runs    []string         `json:"runs"`
	Summary scenario.Summary `json:"summary"`
}

func (r Runner) runReport(args []string) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	jsonOut := fs.Bool("json", false, "print JSON output")
	help := fs.Bool("help", false, "show help")

	if err := fs.Parse(args); err != nil {
		return r.failUsage("report: invalid flags")
	}
	if *help {
		printReportHelp(r.Stdout)
		return 0
	}
	if fs.NArg() != 1 {
		printReportHelp(r.Stderr)
		return r.failUsage("report: expected one results file")
	}

	recs, err := store.ReadJSONL[runRecord](fs.Arg(0))
	if err != nil {
		return r.fail(codeIO, err.Error())
	}
	out := reportOutput{Runs: []string{}}
	results := make([]scenario.Result, 0, len(recs))
	seen := map[string]bool{}
	for _, rec := range recs {
		if !seen[rec.RunID] {
			seen[rec.RunID] = true
			out.Runs = append(out.Runs, rec.RunID)
		}
		results = append(results, rec.Result)
	}
	out.Summary = scenario.Summarize(results)

	if *jsonOut {
		if code := r.writeJSON(out); code != 0 {
			return code
		}
	} else {
		for _, res := range results {
			r.printResult(res)
		}
		printSummary(r.Stdout, out.Summary)
	}
	if !out.Summary.OK() {
		return r.fail(codeFailed, fmt.Sprintf("%d of %d scenarios failed", out.Summary.Failed, out.Summary.Total))
	}
	return 0
}

func printReportHelp(w io.Writer) {
	fmt.Fprint(w, `Usage:
  copyconf report [--json] <results.jsonl>
`)
}
