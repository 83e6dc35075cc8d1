package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/marcohefti/copyconf/internal/client"
	"github.com/marcohefti/copyconf/internal/expect"
	"github.com/marcohefti/copyconf/internal/fixture"
	"github.com/marcohefti/copyconf/internal/ids"
	"github.com/marcohefti/copyconf/internal/logging"
	"github.com/marcohefti/copyconf/internal/session"
	"github.com/marcohefti/copyconf/internal/store"
	"github.com/marcohefti/copyconf/internal/verify"
)

// Steps a scenario reports failures against.
const (
	StepCreate   = "create"
	StepTransfer = "transfer"
	StepSession  = "session"
	StepReadback = "readback"
	StepDrop     = "drop"
	// StepPanic marks a panic outside any client step.
	StepPanic = "panic"
)

// Env is what every scenario shares. Fixture is read-only.
type Env struct {
	Client   client.Client
	Fixture  *fixture.Fixture
	Verifier verify.Verifier
	// Prompt is the interactive command prompt, e.g. "mydb=#".
	Prompt string
	// Timeout bounds each interactive wait; zero means session.DefaultTimeout.
	Timeout time.Duration
	// WorkDir holds scripts and session transcripts. Empty means the fixture directory.
	WorkDir string
	// Mirror, when set, also receives every byte of interactive output.
	Mirror io.Writer
	Logger *slog.Logger
}

type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result is one scenario outcome, stored as a JSONL record.
type Result struct {
	Scenario   string    `json:"scenario"`
	Method     Method    `json:"method"`
	Source     Source    `json:"source"`
	Format     string    `json:"format"`
	Probe      bool      `json:"probe,omitempty"`
	Table      string    `json:"table,omitempty"`
	Status     Status    `json:"status"`
	Step       string    `json:"step,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`

	Err error `json:"-"`
}

// TranscriptError is an interactive failure with everything the client printed.
type TranscriptError struct {
	Step       string
	Err        error
	Transcript []byte
}

func (e *TranscriptError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Step, e.Err)
	b.WriteString("\n--- transcript ---\n")
	b.WriteString(verify.Decode(e.Transcript))
	if len(e.Transcript) > 0 && e.Transcript[len(e.Transcript)-1] != '\n' {
		b.WriteString("\n")
	}
	b.WriteString("--- end transcript ---")
	return b.String()
}

func (e *TranscriptError) Unwrap() error { return e.Err }

// StepError is a failed step of a non-interactive exchange.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

// Run executes one scenario: create a uniquely named table, transfer the fixture
// data, read it back, drop the table. The drop runs whenever the create succeeded,
// including after a panic. A panic never escapes Run; it fails the scenario.
func Run(ctx context.Context, env Env, sc Scenario) (res Result) {
	res = Result{
		Scenario:  sc.ID,
		Method:    sc.Method,
		Source:    sc.Source,
		Format:    string(sc.Format),
		Probe:     sc.Probe,
		StartedAt: time.Now().UTC(),
	}
	defer func() {
		if p := recover(); p != nil {
			res.Status = StatusFailed
			if res.Step == "" {
				res.Step = StepPanic
			}
			res.Err = fmt.Errorf("panic: %v", p)
			res.Reason = res.Err.Error()
			res.DurationMs = time.Since(res.StartedAt).Milliseconds()
		}
	}()
	log := logging.OrDefault(env.Logger).With("scenario", sc.ID)
	if sc.Skip != "" {
		res.Status = StatusSkipped
		res.Reason = sc.Skip
		log.Info("scenario skipped", "reason", sc.Skip)
		return res
	}

	x := &execution{
		env:   env,
		sc:    sc,
		table: ids.NewTableName(),
		chk:   expect.Checker{Verifier: env.Verifier},
		log:   log,
	}
	res.Table = x.table
	log.Info("scenario start", "table", x.table)

	err := x.run(ctx)
	res.DurationMs = time.Since(res.StartedAt).Milliseconds()
	if err == nil {
		res.Status = StatusPassed
		log.Info("scenario passed", "table", x.table, "durationMs", res.DurationMs)
		return res
	}

	res.Status = StatusFailed
	res.Err = err
	res.Reason = err.Error()
	var te *TranscriptError
	var se *StepError
	switch {
	case errors.As(err, &te):
		res.Step = te.Step
		res.Reason = te.Err.Error()
		res.Transcript = verify.Decode(te.Transcript)
	case errors.As(err, &se):
		res.Step = se.Step
		res.Reason = se.Err.Error()
	}
	log.Error("scenario failed", "table", x.table, "step", res.Step, "err", res.Reason)
	return res
}

type execution struct {
	env   Env
	sc    Scenario
	table string
	chk   expect.Checker
	log   *slog.Logger
	// step is the step in progress, reported if it panics.
	step string
}

func (x *execution) run(ctx context.Context) (err error) {
	if x.env.Fixture == nil {
		return errors.New("no fixture")
	}
	x.step = StepCreate
	if err := x.exec(ctx, StepCreate, client.CreateTable(x.table), expect.StepCreateTable); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			err = &StepError{Step: x.step, Err: fmt.Errorf("panic: %v", p)}
		}
		derr := x.exec(ctx, StepDrop, client.DropTable(x.table), expect.StepDropTable)
		if err == nil {
			err = derr
		} else if derr != nil {
			x.log.Warn("drop after failure", "table", x.table, "err", derr)
		}
	}()

	x.step = StepTransfer
	err = x.transfer(ctx)
	if err == nil && !x.sc.Probe {
		x.step = StepReadback
		err = x.exec(ctx, StepReadback, client.SelectAll(x.table), expect.StepResultSet)
	}
	return err
}

func (x *execution) exec(ctx context.Context, step, command string, want expect.Step) error {
	inv, err := x.env.Client.Exec(ctx, command)
	if err == nil {
		err = x.chk.Invocation(inv, want)
	}
	if err != nil {
		return &StepError{Step: step, Err: err}
	}
	return nil
}

func (x *execution) workDir() string {
	if x.env.WorkDir != "" {
		return x.env.WorkDir
	}
	return x.env.Fixture.Dir
}

func (x *execution) transfer(ctx context.Context) error {
	path, err := x.env.Fixture.Path(x.sc.Format)
	if err != nil {
		return &StepError{Step: StepTransfer, Err: err}
	}

	switch x.sc.Method {
	case MethodCommand:
		return x.exec(ctx, StepTransfer, client.CopyFrom(x.table, path, x.sc.Format), expect.StepCopyTwo)

	case MethodScript:
		data, err := os.ReadFile(path)
		if err != nil {
			return &StepError{Step: StepTransfer, Err: err}
		}
		script := filepath.Join(x.workDir(), x.table+".sql")
		if err := store.WriteScript(script, client.CopyFrom(x.table, "stdin", x.sc.Format), data); err != nil {
			return &StepError{Step: StepTransfer, Err: err}
		}
		defer func() { _ = os.Remove(script) }()
		inv, err := x.env.Client.ExecFile(ctx, script)
		if err == nil {
			err = x.chk.Invocation(inv, expect.StepCopyTwo)
		}
		if err != nil {
			return &StepError{Step: StepTransfer, Err: err}
		}
		return nil

	case MethodTerminal, MethodPiped:
		data, err := os.ReadFile(path)
		if err != nil {
			return &StepError{Step: StepSession, Err: err}
		}
		return x.converse(data)

	default:
		return &StepError{Step: StepTransfer, Err: fmt.Errorf("unsupported method %q", x.sc.Method)}
	}
}

func (x *execution) converse(data []byte) error {
	mode := session.ModePTY
	if x.sc.Method == MethodPiped {
		mode = session.ModePipe
	}
	opts := x.env.Client.Interactive(mode)
	opts.Timeout = x.env.Timeout
	opts.Log = x.env.Mirror
	opts.LogPath = filepath.Join(x.workDir(), x.sc.ID+"-"+x.table+".log")
	defer func() { _ = os.Remove(opts.LogPath) }()

	s, err := session.Open(opts)
	if err != nil {
		return &StepError{Step: StepSession, Err: err}
	}
	acts := conversation(x.sc, x.table, x.env.Prompt, data)
	done, err := play(s, acts)
	cerr := s.Close()
	if err == nil && cerr != nil {
		err = fmt.Errorf("close: %w", cerr)
	}
	if err != nil {
		transcript, _ := s.Transcript()
		return &TranscriptError{Step: StepSession, Err: err, Transcript: transcript}
	}
	x.log.Debug("conversation finished", "actions", done)
	return nil
}

// RunAll runs scenarios with up to jobs in parallel and returns results in input
// order. Tables are uniquely named, so parallel scenarios do not interfere.
// onResult, when set, is called once per result as it completes.
func RunAll(ctx context.Context, env Env, scenarios []Scenario, jobs int, onResult func(Result)) []Result {
	if jobs <= 0 {
		jobs = 1
	}
	results := make([]Result, len(scenarios))
	sem := make(chan struct{}, jobs)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i, sc := range scenarios {
		if ctx.Err() != nil {
			results[i] = Result{Scenario: sc.ID, Method: sc.Method, Source: sc.Source, Format: string(sc.Format),
				Status: StatusSkipped, Reason: "canceled", StartedAt: time.Now().UTC()}
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, sc Scenario) {
			defer wg.Done()
			defer func() { <-sem }()
			r := Run(ctx, env, sc)
			results[i] = r
			if onResult != nil {
				mu.Lock()
				onResult(r)
				mu.Unlock()
			}
		}(i, sc)
	}
	wg.Wait()
	return results
}

// Summary counts results by status.
type Summary struct {
	Total   int      `json:"total"`
	Passed  int      `json:"passed"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
	Failing []string `json:"failing,omitempty"`
}

func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		s.Total++
		switch r.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
			s.Failing = append(s.Failing, r.Scenario)
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

func (s Summary) OK() bool { return s.Failed == 0 }
