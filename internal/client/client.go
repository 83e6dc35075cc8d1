// Package client builds invocations of the database client under test.
package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/marcohefti/copyconf/internal/ids"
	"github.com/marcohefti/copyconf/internal/runner"
	"github.com/marcohefti/copyconf/internal/session"
)

// Client knows how to call the client binary. BaseArgs are placed before any
// per-call arguments (connection flags, or a re-exec prefix for fakes).
type Client struct {
	Program  string
	BaseArgs []string
	Env      []string
	Runner   runner.Runner
}

func (c Client) command(args ...string) runner.Command {
	all := make([]string, 0, len(c.BaseArgs)+len(args))
	all = append(all, c.BaseArgs...)
	all = append(all, args...)
	return runner.Command{Program: c.Program, Args: all, Env: c.Env}
}

// Exec runs one command string (`-c`).
func (c Client) Exec(ctx context.Context, command string) (runner.Invocation, error) {
	return c.Runner.Run(ctx, c.command("-c", command))
}

// ExecFile runs a script file (`-f`).
func (c Client) ExecFile(ctx context.Context, path string) (runner.Invocation, error) {
	return c.Runner.Run(ctx, c.command("-f", path))
}

// Interactive returns session options that start the client with no command, so it
// reads from its terminal (or pipe).
func (c Client) Interactive(mode session.Mode) session.Options {
	argv := make([]string, 0, 1+len(c.BaseArgs))
	argv = append(argv, c.Program)
	argv = append(argv, c.BaseArgs...)
	return session.Options{Argv: argv, Env: c.Env, Mode: mode}
}

// Format is an encoding understood by the bulk-transfer command.
type Format string

const (
	FormatText   Format = "text"
	FormatCSV    Format = "csv"
	FormatBinary Format = "binary"
)

func (f Format) Valid() bool {
	switch f {
	case FormatText, FormatCSV, FormatBinary:
		return true
	default:
		return false
	}
}

// Formats lists every encoding in matrix order.
func Formats() []Format {
	return []Format{FormatText, FormatCSV, FormatBinary}
}

// CreateTable is the fixed two-column layout every scenario transfers into.
func CreateTable(table string) string {
	return fmt.Sprintf("CREATE TABLE %s (c1 int8, c2 int8);", ids.QuoteIdent(table))
}

func InsertReferenceRows(table string) string {
	return fmt.Sprintf("INSERT INTO %s (c1, c2) VALUES (1, 2), (3, 4);", ids.QuoteIdent(table))
}

func SelectAll(table string) string {
	return fmt.Sprintf("SELECT * FROM %s;", ids.QuoteIdent(table))
}

func DropTable(table string) string {
	return fmt.Sprintf("DROP TABLE %s;", ids.QuoteIdent(table))
}

// CopyTo exports table to a file path in format f.
func CopyTo(table, path string, f Format) string {
	return fmt.Sprintf(`\copy %s to '%s' (format %s);`, ids.QuoteIdent(table), quoteLiteral(path), f)
}

// CopyFrom imports into table from source, which is a file path, "stdin" or a device
// such as /dev/tty. Text is the client default and is written without options.
func CopyFrom(table, source string, f Format) string {
	var src string
	if source == "stdin" {
		src = "stdin"
	} else {
		src = "'" + quoteLiteral(source) + "'"
	}
	cmd := fmt.Sprintf(`\copy %s from %s`, ids.QuoteIdent(table), src)
	switch f {
	case FormatCSV:
		cmd += " (format csv)"
	case FormatBinary:
		cmd += " with (format binary)"
	}
	return cmd
}

func quoteLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
