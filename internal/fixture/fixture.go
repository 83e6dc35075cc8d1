// Package fixture prepares the reference data files every scenario imports.
//
// Setup creates a scratch directory and a uniquely named table holding the two
// reference rows, exports the table once per format, then drops it. Only the files
// outlive Setup; scenarios create their own tables.
package fixture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/marcohefti/copyconf/internal/client"
	"github.com/marcohefti/copyconf/internal/expect"
	"github.com/marcohefti/copyconf/internal/ids"
	"github.com/marcohefti/copyconf/internal/logging"
	"github.com/marcohefti/copyconf/internal/verify"
)

type Options struct {
	Client client.Client
	// ScratchRoot is the parent of the scratch directory. Empty means os.TempDir.
	ScratchRoot string
	Verifier    verify.Verifier
	Logger      *slog.Logger
}

// Fixture is the prepared environment. Its files are read-only for scenarios.
type Fixture struct {
	Dir        string
	TextPath   string
	CSVPath    string
	BinaryPath string
}

// SetupError names the preparation step that failed.
type SetupError struct {
	Step string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("fixture %s: %v", e.Step, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Setup builds the fixture. On failure the scratch directory is removed.
func Setup(ctx context.Context, opts Options) (*Fixture, error) {
	log := logging.OrDefault(opts.Logger)

	dir, err := os.MkdirTemp(opts.ScratchRoot, "copyconf-")
	if err != nil {
		return nil, &SetupError{Step: "scratch", Err: err}
	}
	table := ids.NewTableName()
	base := filepath.Join(dir, table)
	fx := &Fixture{
		Dir:        dir,
		TextPath:   base + ".text",
		CSVPath:    base + ".csv",
		BinaryPath: base + ".binary",
	}
	log.Debug("fixture setup", "dir", dir, "table", table)

	chk := expect.Checker{Verifier: opts.Verifier}
	steps := []struct {
		name    string
		command string
		step    expect.Step
	}{
		{"create", client.CreateTable(table), expect.StepCreateTable},
		{"insert", client.InsertReferenceRows(table), expect.StepInsertTwo},
		{"export text", client.CopyTo(table, fx.TextPath, client.FormatText), expect.StepCopyTwo},
		{"export binary", client.CopyTo(table, fx.BinaryPath, client.FormatBinary), expect.StepCopyTwo},
		{"export csv", client.CopyTo(table, fx.CSVPath, client.FormatCSV), expect.StepCopyTwo},
		{"drop", client.DropTable(table), expect.StepDropTable},
	}
	for i, s := range steps {
		inv, err := opts.Client.Exec(ctx, s.command)
		if err == nil {
			err = chk.Invocation(inv, s.step)
		}
		if err != nil {
			if i > 0 && s.name != "drop" {
				dropAfterFailure(ctx, opts.Client, table, log)
			}
			_ = os.RemoveAll(dir)
			return nil, &SetupError{Step: s.name, Err: err}
		}
	}
	log.Info("fixture ready", "dir", dir)
	return fx, nil
}

// dropAfterFailure removes the reference table once create succeeded. Its outcome
// only gets logged; the step that failed is what Setup reports.
func dropAfterFailure(ctx context.Context, c client.Client, table string, log *slog.Logger) {
	inv, err := c.Exec(ctx, client.DropTable(table))
	if err == nil && !inv.Success() {
		err = fmt.Errorf("exit status %d: %s", inv.ExitCode, strings.TrimSpace(string(inv.Stderr)))
	}
	if err != nil {
		log.Warn("fixture table left behind", "table", table, "err", err)
	}
}

// Path returns the data file for format f.
func (f *Fixture) Path(format client.Format) (string, error) {
	switch format {
	case client.FormatText:
		return f.TextPath, nil
	case client.FormatCSV:
		return f.CSVPath, nil
	case client.FormatBinary:
		return f.BinaryPath, nil
	default:
		return "", fmt.Errorf("unknown format %q", format)
	}
}

// Close removes the scratch directory.
func (f *Fixture) Close() error {
	if f == nil || f.Dir == "" {
		return nil
	}
	return os.RemoveAll(f.Dir)
}

// Shared runs Setup at most once and hands the same Fixture to every caller, including
// concurrent ones. A failed setup is remembered and returned to all callers.
type Shared struct {
	opts Options

	once sync.Once
	fx   *Fixture
	err  error

	mu     sync.Mutex
	closed bool
}

func NewShared(opts Options) *Shared {
	return &Shared{opts: opts}
}

func (s *Shared) Get(ctx context.Context) (*Fixture, error) {
	s.once.Do(func() {
		s.fx, s.err = Setup(ctx, s.opts)
	})
	return s.fx, s.err
}

// Close tears down the fixture if it was set up. Later calls are no-ops.
func (s *Shared) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	// Consume the once so a late Get cannot set up after teardown.
	s.once.Do(func() { s.err = fmt.Errorf("fixture closed") })
	return s.fx.Close()
}
