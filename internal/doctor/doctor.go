// Package doctor checks that the environment can run the scenario matrix.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/creack/pty"
	"github.com/marcohefti/copyconf/internal/client"
	"github.com/marcohefti/copyconf/internal/config"
)

type Check struct {
	ID      string `json:"id"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type Result struct {
	OK     bool    `json:"ok"`
	Client string  `json:"client"`
	Checks []Check `json:"checks"`
}

func (r *Result) add(c Check) {
	if !c.OK {
		r.OK = false
	}
	r.Checks = append(r.Checks, c)
}

// FirstFailure describes the first failed check, or "" when all passed.
func (r Result) FirstFailure() string {
	for _, c := range r.Checks {
		if !c.OK {
			return c.ID + ": " + c.Message
		}
	}
	return ""
}

func Run(ctx context.Context, cfg config.Harness, c client.Client) Result {
	res := Result{OK: true, Client: cfg.Client}

	binaryOK := false
	if p, err := exec.LookPath(cfg.Client); err != nil {
		res.add(Check{ID: "client_binary", OK: false, Message: err.Error()})
	} else {
		binaryOK = true
		res.add(Check{ID: "client_binary", OK: true, Message: p})
	}

	if prompt, err := cfg.Prompt(); err != nil {
		res.add(Check{ID: "prompt", OK: false, Message: err.Error()})
	} else {
		res.add(Check{ID: "prompt", OK: true, Message: prompt})
	}

	// Write access: the fixture lives in a fresh directory under the scratch root.
	if dir, err := os.MkdirTemp(cfg.ScratchRoot, "copyconf-doctor-"); err != nil {
		res.add(Check{ID: "scratch_write", OK: false, Message: err.Error()})
	} else {
		_ = os.RemoveAll(dir)
		res.add(Check{ID: "scratch_write", OK: true})
	}

	if ptmx, tty, err := pty.Open(); err != nil {
		res.add(Check{ID: "pty", OK: false, Message: err.Error()})
	} else {
		_ = tty.Close()
		_ = ptmx.Close()
		res.add(Check{ID: "pty", OK: true})
	}

	if !binaryOK {
		res.add(Check{ID: "database", OK: false, Message: "skipped: client binary missing"})
		return res
	}
	inv, err := c.Exec(ctx, "SELECT 1;")
	switch {
	case err != nil:
		res.add(Check{ID: "database", OK: false, Message: err.Error()})
	case !inv.Success():
		res.add(Check{ID: "database", OK: false, Message: fmt.Sprintf("exit %d: %s", inv.ExitCode, strings.TrimSpace(string(inv.Stderr)))})
	default:
		res.add(Check{ID: "database", OK: true})
	}
	return res
}
