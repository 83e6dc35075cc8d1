//go:build unix

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marcohefti/copyconf/internal/fakeclient"
	"github.com/marcohefti/copyconf/internal/scenario"
	"github.com/marcohefti/copyconf/internal/store"
)

func TestCLIHelperProcess(t *testing.T) {
	fakeclient.RunIfHelper()
}

func newRunner() (Runner, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return Runner{
		Version: "0.0.0-dev",
		Now:     func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) },
		Stdout:  &stdout,
		Stderr:  &stderr,
	}, &stdout, &stderr
}

// useFakeClient points the harness at this test binary acting as the client.
func useFakeClient(t *testing.T) {
	t.Helper()
	prog, base, env := fakeclient.Helper("TestCLIHelperProcess", t.TempDir(), "clidb")
	t.Setenv("COPYCONF_CLIENT", prog)
	t.Setenv("COPYCONF_CLIENT_ARGS", strings.Join(base, " "))
	t.Setenv("COPYCONF_WAIT_TIMEOUT", "5s")
	t.Setenv("COPYCONF_SCRATCH_ROOT", t.TempDir())
	t.Setenv("COPYCONF_LOG_LEVEL", "error")
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		t.Setenv(k, v)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	r, _, stderr := newRunner()
	if code := r.Run([]string{"frobnicate"}); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.HasPrefix(stderr.String(), "COPYCONF_E_USAGE: unknown command") {
		t.Fatalf("unexpected stderr: %q", stderr.String())
	}
}

func TestRun_Version(t *testing.T) {
	r, stdout, _ := newRunner()
	if code := r.Run([]string{"version"}); code != 0 || stdout.String() != "0.0.0-dev\n" {
		t.Fatalf("unexpected version output: %d %q", code, stdout.String())
	}
}

func TestMatrix_JSON(t *testing.T) {
	r, stdout, stderr := newRunner()
	if code := r.Run([]string{"matrix", "--json"}); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	var m scenario.Matrix
	if err := json.Unmarshal(stdout.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(m.Scenarios) != 15 {
		t.Fatalf("expected 15 scenarios, got %d", len(m.Scenarios))
	}
}

func TestMatrix_TextMarksProbeAndSkip(t *testing.T) {
	r, stdout, _ := newRunner()
	if code := r.Run([]string{"matrix"}); code != 0 {
		t.Fatalf("exit %d", code)
	}
	out := stdout.String()
	if !strings.Contains(out, "terminal-tty-binary") || !strings.Contains(out, "probe") || !strings.Contains(out, "skip: ") {
		t.Fatalf("unexpected listing:\n%s", out)
	}
}

func TestMatrix_BadFileIsUsageError(t *testing.T) {
	p := filepath.Join(t.TempDir(), "m.yaml")
	if err := os.WriteFile(p, []byte("version: 9\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, _, stderr := newRunner()
	if code := r.Run([]string{"matrix", "--matrix", p}); code != 2 || !strings.Contains(stderr.String(), "COPYCONF_E_USAGE") {
		t.Fatalf("expected usage error, got %d %q", code, stderr.String())
	}
}

func TestRunCommand_RejectsBadJobs(t *testing.T) {
	r, _, stderr := newRunner()
	if code := r.Run([]string{"run", "--jobs", "0"}); code != 2 || !strings.Contains(stderr.String(), "--jobs") {
		t.Fatalf("expected usage error, got %d %q", code, stderr.String())
	}
}

func TestRunCommand_UnknownScenario(t *testing.T) {
	useFakeClient(t)
	r, _, stderr := newRunner()
	if code := r.Run([]string{"run", "--only", "nope"}); code != 2 || !strings.Contains(stderr.String(), `unknown scenario "nope"`) {
		t.Fatalf("expected usage error, got %d %q", code, stderr.String())
	}
}

func TestRunCommand_SetupFailure(t *testing.T) {
	useFakeClient(t)
	t.Setenv("COPYCONF_CLIENT", "/nonexistent/copyconf-client")
	r, _, stderr := newRunner()
	if code := r.Run([]string{"run"}); code != 1 || !strings.HasPrefix(stderr.String(), "COPYCONF_E_SETUP: fixture create") {
		t.Fatalf("expected setup error, got %d %q", code, stderr.String())
	}
}

func TestRunCommand_FullMatrixWritesResults(t *testing.T) {
	useFakeClient(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "results.jsonl")
	summary := filepath.Join(dir, "report.json")

	r, stdout, stderr := newRunner()
	code := r.Run([]string{"run", "--jobs", "4", "--out", out, "--summary", summary, "--json"})
	if code != 0 {
		t.Fatalf("exit %d\nstdout:\n%s\nstderr:\n%s", code, stdout.String(), stderr.String())
	}

	var rep runReport
	if err := json.Unmarshal(stdout.Bytes(), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Summary.Passed != 14 || rep.Summary.Skipped != 1 || rep.Summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", rep.Summary)
	}
	if !strings.HasPrefix(rep.RunID, "20261016-090000Z-") || rep.Config != "env" {
		t.Fatalf("unexpected report header: %+v", rep)
	}

	recs, err := store.ReadJSONL[runRecord](out)
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if len(recs) != 15 || recs[0].RunID != rep.RunID {
		t.Fatalf("unexpected records: %d", len(recs))
	}
	if _, err := os.Stat(summary); err != nil {
		t.Fatalf("summary not written: %v", err)
	}

	r2, stdout2, stderr2 := newRunner()
	if code := r2.Run([]string{"report", out}); code != 0 {
		t.Fatalf("report exit %d: %s", code, stderr2.String())
	}
	if !strings.Contains(stdout2.String(), "14 passed, 0 failed, 1 skipped") {
		t.Fatalf("unexpected report output:\n%s", stdout2.String())
	}
}

func TestRunCommand_FailureExitsNonZero(t *testing.T) {
	useFakeClient(t)
	r, stdout, stderr := newRunner()
	// No client answers within a nanosecond, so the first wait times out.
	code := r.Run([]string{"run", "--only", "command-file-text,terminal-stdin-text", "--timeout", "1ns", "--no-color"})
	if code != 1 || !strings.Contains(stderr.String(), "COPYCONF_E_FAILED: 1 of 2 scenarios failed: terminal-stdin-text") {
		t.Fatalf("expected failure exit, got %d %q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "PASS  command-file-text") || !strings.Contains(stdout.String(), "FAIL  terminal-stdin-text") {
		t.Fatalf("unexpected output:\n%s", stdout.String())
	}
}

func TestReport_MissingFile(t *testing.T) {
	r, _, stderr := newRunner()
	if code := r.Run([]string{"report", filepath.Join(t.TempDir(), "none.jsonl")}); code != 1 || !strings.HasPrefix(stderr.String(), "COPYCONF_E_IO") {
		t.Fatalf("expected io error, got %d %q", code, stderr.String())
	}
}

func TestReport_CountsFailures(t *testing.T) {
	p := filepath.Join(t.TempDir(), "r.jsonl")
	for _, rec := range []runRecord{
		{RunID: "a", Result: scenario.Result{Scenario: "command-file-text", Status: scenario.StatusPassed}},
		{RunID: "b", Result: scenario.Result{Scenario: "terminal-tty-csv", Status: scenario.StatusFailed, Step: "session", Reason: "timeout"}},
	} {
		if err := store.AppendJSONL(p, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	r, stdout, stderr := newRunner()
	if code := r.Run([]string{"report", "--json", p}); code != 1 || !strings.HasPrefix(stderr.String(), "COPYCONF_E_FAILED") {
		t.Fatalf("expected failure exit, got %d %q", code, stderr.String())
	}
	var out reportOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Runs) != 2 || out.Summary.Failed != 1 || out.Summary.Failing[0] != "terminal-tty-csv" {
		t.Fatalf("unexpected report: %+v", out)
	}
}

func TestDoctor_FakeClient(t *testing.T) {
	useFakeClient(t)
	r, stdout, stderr := newRunner()
	if code := r.Run([]string{"doctor", "--json"}); code != 0 {
		t.Fatalf("exit %d: %s\n%s", code, stderr.String(), stdout.String())
	}
	if !strings.Contains(stdout.String(), `"ok": true`) || !strings.Contains(stdout.String(), "clidb=#") {
		t.Fatalf("unexpected doctor output:\n%s", stdout.String())
	}
}

func TestDoctor_MissingClient(t *testing.T) {
	useFakeClient(t)
	r, stdout, stderr := newRunner()
	if code := r.Run([]string{"doctor", "--client", "/nonexistent/copyconf-client"}); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stdout.String(), "FAIL  client_binary") || !strings.HasPrefix(stderr.String(), "COPYCONF_E_SETUP: client_binary") {
		t.Fatalf("unexpected output:\n%s\n%s", stdout.String(), stderr.String())
	}
}
