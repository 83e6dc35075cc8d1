// Package fakeclient is a hermetic stand-in for the database client. It implements the
// handful of statements and bulk-transfer commands the conformance matrix issues, with
// the same output texts, prompts and exit behaviour, so the harness can be tested
// without a database server.
package fakeclient

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
)

const (
	// HelperEnv marks a re-executed test binary that should act as the fake client.
	HelperEnv = "GO_WANT_FAKE_CLIENT"
	// StateEnv points at the directory holding the fake database.
	StateEnv = "FAKE_CLIENT_STATE"
	// FailEnv makes every statement containing its value fail with a permission error.
	FailEnv = "FAKE_CLIENT_FAIL"

	copyIntro     = "Enter data to be copied followed by a newline.\n"
	copyEndDevice = "End with an EOF signal.\n"
	copyEndStdin  = "End with a backslash and a period on a line by itself, or an EOF signal.\n"
	copyPrompt    = ">> "
	deviceSource  = "/dev/tty"
)

var (
	reCreate = regexp.MustCompile(`^CREATE TABLE "([^"]+)" \(c1 int8, c2 int8\);?$`)
	reInsert = regexp.MustCompile(`^INSERT INTO "([^"]+)" \(c1, c2\) VALUES (.+?);?$`)
	reTuple  = regexp.MustCompile(`\((-?\d+), (-?\d+)\)`)
	reSelect = regexp.MustCompile(`^SELECT \* FROM "([^"]+)";?$`)
	reProbe  = regexp.MustCompile(`^SELECT 1;?$`)
	reDrop   = regexp.MustCompile(`^DROP TABLE "([^"]+)";?$`)
	reCopy   = regexp.MustCompile(`^\\copy "([^"]+)" (to|from) (stdin|'((?:[^']|'')*)')(?: with)?(?: \(format (text|csv|binary)\))?;?$`)
)

// IsHelper reports whether this process was started as the fake client.
func IsHelper() bool {
	return os.Getenv(HelperEnv) == "1"
}

// RunIfHelper turns the current process into the fake client and exits when IsHelper.
// Arguments after "--" are the client arguments.
func RunIfHelper() {
	if !IsHelper() {
		return
	}
	args := os.Args[1:]
	for i, a := range os.Args {
		if a == "--" {
			args = os.Args[i+1:]
			break
		}
	}
	os.Exit(Main(args, os.Stdin, os.Stdout, os.Stderr))
}

// Helper returns the program, leading arguments and environment that re-execute the
// running test binary as the fake client via the test named helperTest.
func Helper(helperTest, stateDir, database string) (program string, baseArgs []string, env []string) {
	return os.Args[0],
		[]string{"-test.run=^" + helperTest + "$", "--"},
		[]string{HelperEnv + "=1", StateEnv + "=" + stateDir, "PGDATABASE=" + database}
}

// Main runs the fake client and returns its exit code.
func Main(args []string, stdin *os.File, stdout, stderr io.Writer) int {
	c := &fake{
		db:     tables{dir: os.Getenv(StateEnv)},
		out:    stdout,
		errOut: stderr,
	}
	if c.db.dir == "" {
		fmt.Fprintf(stderr, "fake client: %s is not set\n", StateEnv)
		return 2
	}

	switch {
	case len(args) == 2 && args[0] == "-c":
		c.in = bufio.NewReader(strings.NewReader(""))
		if !c.exec(args[1]) {
			return 1
		}
		return 0
	case len(args) == 2 && args[0] == "-f":
		f, err := os.Open(args[1])
		if err != nil {
			fmt.Fprintf(stderr, "fake client: %s: %v\n", args[1], err)
			return 1
		}
		defer func() { _ = f.Close() }()
		c.in = bufio.NewReader(f)
		return c.loop()
	case len(args) == 0:
		c.in = bufio.NewReader(stdin)
		c.tty = isatty.IsTerminal(stdin.Fd())
		c.prompt = databaseName() + "=# "
		return c.loop()
	default:
		fmt.Fprintf(stderr, "fake client: unsupported arguments %q\n", args)
		return 2
	}
}

func databaseName() string {
	if db := os.Getenv("PGDATABASE"); db != "" {
		return db
	}
	return os.Getenv("USER")
}

type fake struct {
	db     tables
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
	tty    bool
	prompt string
}

func (c *fake) loop() int {
	for {
		if c.tty {
			fmt.Fprint(c.out, c.prompt)
		}
		line, err := c.in.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if err != nil && line == "" {
			if c.tty {
				fmt.Fprint(c.out, "\n")
			}
			return 0
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == `\q` {
			return 0
		}
		c.exec(line)
	}
}

func (c *fake) fail(format string, args ...any) bool {
	fmt.Fprintf(c.errOut, "ERROR:  "+format+"\n", args...)
	return false
}

func (c *fake) exec(line string) bool {
	if deny := os.Getenv(FailEnv); deny != "" && strings.Contains(line, deny) {
		return c.fail("permission denied")
	}
	if m := reCreate.FindStringSubmatch(line); m != nil {
		if err := c.db.create(m[1]); err != nil {
			return c.fail("%v", err)
		}
		fmt.Fprint(c.out, "CREATE TABLE\n")
		return true
	}
	if m := reInsert.FindStringSubmatch(line); m != nil {
		var rows []Row
		for _, t := range reTuple.FindAllStringSubmatch(m[2], -1) {
			a, _ := strconv.ParseInt(t[1], 10, 64)
			b, _ := strconv.ParseInt(t[2], 10, 64)
			rows = append(rows, Row{a, b})
		}
		if err := c.db.insert(m[1], rows); err != nil {
			return c.fail("%v", err)
		}
		fmt.Fprintf(c.out, "INSERT 0 %d\n", len(rows))
		return true
	}
	if reProbe.MatchString(line) {
		fmt.Fprint(c.out, " ?column? \n----------\n        1\n(1 row)\n\n")
		return true
	}
	if m := reSelect.FindStringSubmatch(line); m != nil {
		rows, err := c.db.rows(m[1])
		if err != nil {
			return c.fail("%v", err)
		}
		fmt.Fprint(c.out, renderAligned([]string{"c1", "c2"}, rows))
		return true
	}
	if m := reDrop.FindStringSubmatch(line); m != nil {
		if err := c.db.drop(m[1]); err != nil {
			return c.fail("%v", err)
		}
		fmt.Fprint(c.out, "DROP TABLE\n")
		return true
	}
	if m := reCopy.FindStringSubmatch(line); m != nil {
		format := m[5]
		if format == "" {
			format = "text"
		}
		source := strings.ReplaceAll(m[4], "''", "'")
		if m[3] == "stdin" {
			source = "stdin"
		}
		if m[2] == "to" {
			return c.copyTo(m[1], source, format)
		}
		return c.copyFrom(m[1], source, format)
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return c.fail("syntax error at end of input")
	}
	return c.fail("syntax error at or near %q", fields[0])
}

func (c *fake) copyTo(table, path, format string) bool {
	rows, err := c.db.rows(table)
	if err != nil {
		return c.fail("%v", err)
	}
	var b []byte
	switch format {
	case "csv":
		b = EncodeCSV(rows)
	case "binary":
		b = EncodeBinary(rows)
	default:
		b = EncodeText(rows)
	}
	if path == "stdin" {
		return c.fail("COPY TO stdin is not supported")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return c.fail("%v", err)
	}
	fmt.Fprintf(c.out, "COPY %d\n", len(rows))
	return true
}

func (c *fake) copyFrom(table, source, format string) bool {
	if _, err := c.db.rows(table); err != nil {
		return c.fail("%v", err)
	}

	var (
		rows []Row
		err  error
	)
	switch source {
	case "stdin":
		rows, err = c.readStream(c.in, format, c.tty, true)
	case deviceSource:
		tty, oerr := os.OpenFile(deviceSource, os.O_RDWR, 0)
		if oerr != nil {
			return c.fail("could not open %s: %v", deviceSource, oerr)
		}
		rows, err = c.readStream(bufio.NewReader(tty), format, true, false)
		_ = tty.Close()
	default:
		raw, rerr := os.ReadFile(source)
		if rerr != nil {
			return c.fail("could not open file %q for reading: %v", source, rerr)
		}
		rows, err = c.readStream(bufio.NewReader(bytes.NewReader(raw)), format, false, false)
	}
	if err != nil {
		return c.fail("%v", err)
	}
	if err := c.db.insert(table, rows); err != nil {
		return c.fail("%v", err)
	}
	fmt.Fprintf(c.out, "COPY %d\n", len(rows))
	return true
}

// readStream collects copy data. When the client itself owns the stream (stdin), a
// `\.` line ends the data. Devices and files are read to EOF, so there `\.` reaches
// the format parser: text treats it as end-of-data, csv rejects it as a value.
func (c *fake) readStream(r *bufio.Reader, format string, interactive, clientTerminates bool) ([]Row, error) {
	if interactive {
		fmt.Fprint(c.out, copyIntro)
		if clientTerminates {
			fmt.Fprint(c.out, copyEndStdin)
		} else {
			fmt.Fprint(c.out, copyEndDevice)
		}
	}
	if format == "binary" {
		if interactive {
			fmt.Fprint(c.out, copyPrompt)
		}
		return DecodeBinary(r)
	}

	sep := "\t"
	if format == "csv" {
		sep = ","
	}
	var (
		rows     []Row
		firstErr error
		ended    bool
	)
	for {
		if interactive {
			fmt.Fprint(c.out, copyPrompt)
		}
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" && err != nil {
			break
		}
		switch {
		case line == `\.` && clientTerminates:
			return rows, firstErr
		case line == `\.` && format == "text":
			ended = true
		case ended || line == "":
		default:
			row, perr := parseDelimited(line, sep)
			if perr != nil && firstErr == nil {
				firstErr = perr
			}
			rows = append(rows, row)
		}
		if err != nil {
			break
		}
	}
	if interactive {
		fmt.Fprint(c.out, "\n")
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return rows, nil
}
