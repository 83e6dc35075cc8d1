//go:build unix

package scenario

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marcohefti/copyconf/internal/client"
	"github.com/marcohefti/copyconf/internal/fakeclient"
	"github.com/marcohefti/copyconf/internal/fixture"
	"github.com/marcohefti/copyconf/internal/logging"
	"github.com/marcohefti/copyconf/internal/verify"
)

func TestScenarioHelperProcess(t *testing.T) {
	fakeclient.RunIfHelper()
}

func newEnv(t *testing.T) Env {
	t.Helper()
	env, _ := newEnvWithState(t)
	return env
}

// newEnvWithState also returns the fake database directory (one <table>.json per table).
func newEnvWithState(t *testing.T) (Env, string) {
	t.Helper()
	state := t.TempDir()
	prog, base, env := fakeclient.Helper("TestScenarioHelperProcess", state, "scenariodb")
	c := client.Client{Program: prog, BaseArgs: base, Env: env}
	fx, err := fixture.Setup(context.Background(), fixture.Options{
		Client:      c,
		ScratchRoot: t.TempDir(),
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("fixture.Setup: %v", err)
	}
	t.Cleanup(func() { _ = fx.Close() })
	return Env{
		Client:   c,
		Fixture:  fx,
		Verifier: verify.Verifier{},
		Prompt:   "scenariodb=#",
		Timeout:  5 * time.Second,
		Logger:   logging.Discard(),
	}, state
}

func TestRunAll_DefaultMatrixAgainstFake(t *testing.T) {
	env := newEnv(t)
	m := Default()

	var seen int
	results := RunAll(context.Background(), env, m.Scenarios, 3, func(Result) { seen++ })
	if seen != len(m.Scenarios) {
		t.Fatalf("onResult called %d times, want %d", seen, len(m.Scenarios))
	}
	for i, r := range results {
		if r.Scenario != m.Scenarios[i].ID {
			t.Fatalf("result %d out of order: %s", i, r.Scenario)
		}
		want := StatusPassed
		if m.Scenarios[i].Skip != "" {
			want = StatusSkipped
		}
		if r.Status != want {
			t.Fatalf("%s: status %s (step %s): %v\n%s", r.Scenario, r.Status, r.Step, r.Err, r.Transcript)
		}
	}
	sum := Summarize(results)
	if !sum.OK() || sum.Total != 15 || sum.Skipped != 1 || sum.Passed != 14 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	// Every scenario dropped its table; only fixture files remain in the scratch dir.
	entries, err := os.ReadDir(env.Fixture.Dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 3 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only the three fixture files, got %v", names)
	}
}

func TestRun_CSVEndOfDataFromDeviceFailsWithTranscript(t *testing.T) {
	env := newEnv(t)
	// csv read from the device takes the end-of-data line as a value.
	if err := os.WriteFile(env.Fixture.CSVPath, []byte("1,2\n3,4\n\\.\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sc, _ := Default().Lookup("terminal-tty-csv")
	r := Run(context.Background(), env, sc)
	if r.Status != StatusFailed || r.Step != StepSession {
		t.Fatalf("expected session failure, got %s/%s: %v", r.Status, r.Step, r.Err)
	}
	var te *TranscriptError
	if !errors.As(r.Err, &te) {
		t.Fatalf("expected TranscriptError, got %T", r.Err)
	}
	if !strings.Contains(r.Transcript, "ERROR:") || !strings.Contains(te.Error(), "--- transcript ---") {
		t.Fatalf("transcript should show the client error:\n%s", r.Transcript)
	}
}

func TestRun_TextEndOfDataFromDeviceIsAccepted(t *testing.T) {
	env := newEnv(t)
	sc, _ := Default().Lookup("terminal-tty-text")
	if r := Run(context.Background(), env, sc); r.Status != StatusPassed {
		t.Fatalf("expected pass, got %s/%s: %v\n%s", r.Status, r.Step, r.Err, r.Transcript)
	}
}

func TestRun_WrongRowCountIsTransferFailure(t *testing.T) {
	env := newEnv(t)
	if err := os.WriteFile(env.Fixture.TextPath, []byte("1\t2\n3\t4\n5\t6\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sc, _ := Default().Lookup("command-file-text")
	r := Run(context.Background(), env, sc)
	if r.Status != StatusFailed || r.Step != StepTransfer {
		t.Fatalf("expected transfer failure, got %s/%s: %v", r.Status, r.Step, r.Err)
	}
	var me *verify.MismatchError
	if !errors.As(r.Err, &me) || !strings.Contains(me.Diff, "COPY 3") {
		t.Fatalf("expected mismatch naming COPY 3, got %v", r.Err)
	}
}

func TestRun_PromptMismatchTimesOut(t *testing.T) {
	env := newEnv(t)
	env.Prompt = "otherdb=#"
	env.Timeout = 2 * time.Second
	sc, _ := Default().Lookup("terminal-stdin-text")
	start := time.Now()
	r := Run(context.Background(), env, sc)
	if r.Status != StatusFailed || r.Step != StepSession {
		t.Fatalf("expected session failure, got %s/%s: %v", r.Status, r.Step, r.Err)
	}
	if !strings.Contains(r.Transcript, "scenariodb=#") {
		t.Fatalf("transcript should hold the real prompt: %q", r.Transcript)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("timeout not bounded: %s", time.Since(start))
	}
}

func TestRun_Skipped(t *testing.T) {
	r := Run(context.Background(), Env{Logger: logging.Discard()}, Scenario{ID: "x", Skip: "not today"})
	if r.Status != StatusSkipped || r.Reason != "not today" || r.Table != "" {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestRunAll_CanceledContextSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := RunAll(ctx, Env{Logger: logging.Discard()}, Default().Scenarios[:2], 1, nil)
	for _, r := range results {
		if r.Status != StatusSkipped || r.Reason != "canceled" {
			t.Fatalf("unexpected result: %+v", r)
		}
	}
}

// panicWriter blows up the first time a mismatch diff is echoed to it.
type panicWriter struct{}

func (panicWriter) Write([]byte) (int, error) { panic("diff sink blew up") }

// panicHandler is a slog handler that panics on one message.
type panicHandler struct{ msg string }

func (h panicHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h panicHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Message == h.msg {
		panic("logger blew up on " + h.msg)
	}
	return nil
}
func (h panicHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h panicHandler) WithGroup(string) slog.Handler      { return h }

func TestRun_PanicAfterCreateStillDropsTable(t *testing.T) {
	env, state := newEnvWithState(t)
	if err := os.WriteFile(env.Fixture.TextPath, []byte("1\t2\n3\t4\n5\t6\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	env.Verifier.Out = panicWriter{}
	sc, _ := Default().Lookup("command-file-text")

	r := Run(context.Background(), env, sc)
	if r.Status != StatusFailed || r.Step != StepTransfer {
		t.Fatalf("expected transfer failure, got %s/%s: %v", r.Status, r.Step, r.Err)
	}
	if !strings.Contains(r.Reason, "panic: diff sink blew up") {
		t.Fatalf("reason should carry the panic: %q", r.Reason)
	}
	left, err := filepath.Glob(filepath.Join(state, "*.json"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("expected the scenario table dropped, found %v", left)
	}
}

func TestRunAll_PanickingScenariosLetFixtureCleanup(t *testing.T) {
	env := newEnv(t)
	env.Logger = slog.New(panicHandler{msg: "scenario start"})
	dir := env.Fixture.Dir

	results := func() []Result {
		defer func() { _ = env.Fixture.Close() }()
		return RunAll(context.Background(), env, Default().Scenarios[:3], 2, nil)
	}()

	for _, r := range results {
		if r.Status != StatusFailed || r.Step != StepPanic || !strings.Contains(r.Reason, "logger blew up") {
			t.Fatalf("unexpected result: %+v", r)
		}
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected fixture dir removed, stat err=%v", err)
	}
}
