package fixture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/marcohefti/copyconf/internal/client"
	"github.com/marcohefti/copyconf/internal/expect"
	"github.com/marcohefti/copyconf/internal/fakeclient"
	"github.com/marcohefti/copyconf/internal/logging"
)

func TestFixtureHelperProcess(t *testing.T) {
	fakeclient.RunIfHelper()
}

func fakeClient(t *testing.T) client.Client {
	t.Helper()
	prog, base, env := fakeclient.Helper("TestFixtureHelperProcess", t.TempDir(), "fixturedb")
	return client.Client{Program: prog, BaseArgs: base, Env: env}
}

func TestSetup_WritesAllFormats(t *testing.T) {
	root := t.TempDir()
	fx, err := Setup(context.Background(), Options{Client: fakeClient(t), ScratchRoot: root, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() { _ = fx.Close() }()

	text, err := os.ReadFile(fx.TextPath)
	if err != nil || string(text) != "1\t2\n3\t4\n" {
		t.Fatalf("text fixture: %q, %v", text, err)
	}
	csv, err := os.ReadFile(fx.CSVPath)
	if err != nil || string(csv) != "1,2\n3,4\n" {
		t.Fatalf("csv fixture: %q, %v", csv, err)
	}
	bin, err := os.ReadFile(fx.BinaryPath)
	if err != nil || !bytes.HasPrefix(bin, []byte("PGCOPY\n\xff\r\n\x00")) {
		t.Fatalf("binary fixture: %q, %v", bin, err)
	}

	for _, f := range client.Formats() {
		p, err := fx.Path(f)
		if err != nil || p == "" {
			t.Fatalf("Path(%s): %q, %v", f, p, err)
		}
	}
	if _, err := fx.Path("xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}

	if err := fx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(fx.Dir); !os.IsNotExist(err) {
		t.Fatalf("expected scratch dir removed, stat err=%v", err)
	}
}

func TestSetup_FailureNamesStepAndCleansUp(t *testing.T) {
	c := fakeClient(t)
	// An unknown program cannot start at all.
	c.Program = "/nonexistent/copyconf-client"
	root := t.TempDir()
	_, err := Setup(context.Background(), Options{Client: c, ScratchRoot: root, Logger: logging.Discard()})
	var se *SetupError
	if !errors.As(err, &se) || se.Step != "create" {
		t.Fatalf("expected create SetupError, got %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Fatalf("expected scratch root empty, got %d entries", len(entries))
	}
}

func TestSetup_FailureAfterCreateDropsTable(t *testing.T) {
	state := t.TempDir()
	prog, base, env := fakeclient.Helper("TestFixtureHelperProcess", state, "fixturedb")
	c := client.Client{Program: prog, BaseArgs: base, Env: append(env, fakeclient.FailEnv+"=(format csv)")}
	root := t.TempDir()

	_, err := Setup(context.Background(), Options{Client: c, ScratchRoot: root, Logger: logging.Discard()})
	var se *SetupError
	if !errors.As(err, &se) || se.Step != "export csv" {
		t.Fatalf("expected export csv SetupError, got %v", err)
	}
	left, _ := filepath.Glob(filepath.Join(state, "*.json"))
	if len(left) != 0 {
		t.Fatalf("expected the reference table dropped, found %v", left)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Fatalf("expected scratch root empty, got %d entries", len(entries))
	}
}

func TestSetup_OutputMismatchIsFailure(t *testing.T) {
	c := fakeClient(t)
	// Point the fake at a state path that is a file, so every statement errors.
	state := t.TempDir() + "/state-file"
	if err := os.WriteFile(state, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.Env = append(c.Env, fakeclient.StateEnv+"="+state)
	_, err := Setup(context.Background(), Options{Client: c, ScratchRoot: t.TempDir(), Logger: logging.Discard()})
	var f *expect.Failure
	if !errors.As(err, &f) || f.Step != expect.StepCreateTable {
		t.Fatalf("expected create transcript failure, got %v", err)
	}
}

func TestShared_SetsUpOnce(t *testing.T) {
	s := NewShared(Options{Client: fakeClient(t), ScratchRoot: t.TempDir(), Logger: logging.Discard()})
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		dirs = map[string]bool{}
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fx, err := s.Get(context.Background())
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			mu.Lock()
			dirs[fx.Dir] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(dirs) != 1 {
		t.Fatalf("expected one fixture, got %d", len(dirs))
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.Get(context.Background()); err != nil {
		// Get after Close returns the already-built fixture value; its files are gone.
		t.Fatalf("Get after Close: %v", err)
	}
}

func TestShared_CloseBeforeGet(t *testing.T) {
	s := NewShared(Options{Client: fakeClient(t), ScratchRoot: t.TempDir(), Logger: logging.Discard()})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Get(context.Background()); err == nil {
		t.Fatalf("expected error from Get after Close")
	}
}
