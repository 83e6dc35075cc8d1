package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/marcohefti/copyconf/internal/client"
	"github.com/marcohefti/copyconf/internal/config"
	"github.com/marcohefti/copyconf/internal/doctor"
	"github.com/marcohefti/copyconf/internal/runner"
)

func (r Runner) runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	clientBin := fs.String("client", "", "client binary (overrides COPYCONF_CLIENT)")
	jsonOut := fs.Bool("json", false, "print JSON output")
	help := fs.Bool("help", false, "show help")

	if err := fs.Parse(args); err != nil {
		return r.failUsage("doctor: invalid flags")
	}
	if *help {
		printDoctorHelp(r.Stdout)
		return 0
	}
	cfg, err := loadConfig(config.Overrides{Client: *clientBin})
	if err != nil {
		return r.failUsage("doctor: " + err.Error())
	}
	log, err := r.logger(cfg)
	if err != nil {
		return r.failUsage("doctor: " + err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res := doctor.Run(ctx, cfg, client.Client{
		Program:  cfg.Client,
		BaseArgs: cfg.ClientArgs,
		Runner:   runner.Runner{Logger: log},
	})

	if *jsonOut {
		if code := r.writeJSON(res); code != 0 {
			return code
		}
	} else {
		for _, c := range res.Checks {
			mark := "ok"
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Fprintf(r.Stdout, "%-4s  %-14s %s\n", mark, c.ID, c.Message)
		}
	}
	if !res.OK {
		return r.fail(codeSetup, res.FirstFailure())
	}
	return 0
}

func printDoctorHelp(w io.Writer) {
	fmt.Fprint(w, `Usage:
  copyconf doctor [--client psql] [--json]
`)
}
