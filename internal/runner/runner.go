// Package runner executes one-shot client invocations and captures their output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/marcohefti/copyconf/internal/logging"
	"github.com/marcohefti/copyconf/internal/redact"
)

// Command is one program invocation. No stdin is attached.
type Command struct {
	Program string
	Args    []string
	// Env is appended to the inherited environment.
	Env []string
	Dir string
}

// CommandLine renders the command for humans (not shell-safe). Passwords in
// connection strings are masked.
func (c Command) CommandLine() string {
	line := c.Program
	if len(c.Args) > 0 {
		line += " " + strings.Join(c.Args, " ")
	}
	out, _ := redact.Text(line)
	return out
}

// Invocation is the captured result of a finished command.
type Invocation struct {
	Command  Command
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

func (i Invocation) Success() bool { return i.ExitCode == 0 }

// Runner runs commands synchronously.
type Runner struct {
	Logger *slog.Logger
}

// Run blocks until the command exits. A non-zero exit is not an error: it is logged and
// surfaced through ExitCode so output assertions decide pass/fail. Errors are reserved
// for commands that could not be started.
func (r Runner) Run(ctx context.Context, c Command) (Invocation, error) {
	if strings.TrimSpace(c.Program) == "" {
		return Invocation{}, errors.New("missing program")
	}

	cmd := exec.CommandContext(ctx, c.Program, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}

	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Invocation{}, err
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return Invocation{}, err
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Invocation{}, err
	}

	var outBuf, errBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&outBuf, outPipe)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&errBuf, errPipe)
	}()
	// Pipes must be drained before Wait closes them.
	wg.Wait()
	waitErr := cmd.Wait()

	exitCode := 0
	if waitErr != nil {
		var ee *exec.ExitError
		if !errors.As(waitErr, &ee) {
			return Invocation{}, waitErr
		}
		exitCode = ee.ExitCode()
	}

	inv := Invocation{
		Command:  c,
		Stdout:   outBuf.Bytes(),
		Stderr:   errBuf.Bytes(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}
	if !inv.Success() {
		r.logFailure(inv)
	}
	return inv, nil
}

func (r Runner) logFailure(inv Invocation) {
	attrs := []any{
		"command", inv.Command.CommandLine(),
		"exitCode", inv.ExitCode,
	}
	if len(inv.Stdout) > 0 {
		attrs = append(attrs, "stdout", string(inv.Stdout))
	}
	if len(inv.Stderr) > 0 {
		attrs = append(attrs, "stderr", string(inv.Stderr))
	}
	logging.OrDefault(r.Logger).Warn("command failed", attrs...)
}
