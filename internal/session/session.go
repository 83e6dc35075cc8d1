// Package session drives an interactive child process: it spawns the child on a
// pseudo-terminal (or plain pipes), mirrors everything the child prints to an optional
// transcript, and lets the caller send input and block until literal patterns show up
// in the output stream.
//
// A Session is owned by one goroutine. Waits consume output in stream order: once a
// pattern matched, the bytes up to and including it are gone for later waits.
//
// Every blocking call is bounded by the session timeout: waits, ExpectExit, and sends
// on pipes or terminals that accept a write deadline. A send that cannot complete in
// time fails with ErrTimeout.
package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// DefaultTimeout bounds every wait unless SetTimeout says otherwise.
const DefaultTimeout = time.Second

// exitDrainGrace is how long a wait keeps reading after the child exited, for output
// that was still in flight. A forked grandchild can hold the output open past that.
var exitDrainGrace = 100 * time.Millisecond

const (
	hangupGrace = 200 * time.Millisecond
	closeGrace  = 2 * time.Second
)

type Mode int

const (
	// ModePTY attaches the child to a pseudo-terminal; it sees a real tty on
	// stdin/stdout/stderr and has it as controlling terminal.
	ModePTY Mode = iota
	// ModePipe gives the child a stdin pipe and one shared stdout+stderr pipe.
	ModePipe
)

func (m Mode) String() string {
	switch m {
	case ModePTY:
		return "pty"
	case ModePipe:
		return "pipe"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

type State int

const (
	StateRunning State = iota
	// StateExited: the child was observed gone during a wait or send.
	StateExited
	// StateTerminated: ExpectExit succeeded or Close ran.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Options struct {
	Argv []string
	// Env is appended to the inherited environment.
	Env  []string
	Dir  string
	Mode Mode
	// Timeout for waits; zero means DefaultTimeout.
	Timeout time.Duration
	// Log receives a copy of every byte read from the child, as it arrives.
	Log io.Writer
	// LogPath, when set, is created and used as transcript file (in addition to Log).
	LogPath string
	// Rows/Cols size the pty; zero means 24x80.
	Rows, Cols uint16
}

type Session struct {
	cmd  *exec.Cmd
	mode Mode

	in  io.WriteCloser
	out io.ReadCloser

	log     io.Writer
	logFile *os.File
	logPath string

	mu       sync.Mutex
	state    State
	timeout  time.Duration
	buf      []byte
	consumed int
	eof      bool
	exited   bool
	readErr  error
	changed  chan struct{}

	readerDone chan struct{}
	exitDone   chan struct{}
	exitErr    error

	closeOnce sync.Once
}

// Open spawns opts.Argv and starts mirroring its output.
func Open(opts Options) (*Session, error) {
	if len(opts.Argv) == 0 || opts.Argv[0] == "" {
		return nil, &Error{Kind: ErrorStart, Op: "open", Underlying: errors.New("missing argv")}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}

	s := &Session{
		cmd:        cmd,
		mode:       opts.Mode,
		timeout:    opts.Timeout,
		changed:    make(chan struct{}),
		readerDone: make(chan struct{}),
		exitDone:   make(chan struct{}),
		logPath:    opts.LogPath,
	}

	if opts.LogPath != "" {
		f, err := os.OpenFile(opts.LogPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, &Error{Kind: ErrorStart, Op: "open", Underlying: err}
		}
		s.logFile = f
	}
	switch {
	case opts.Log != nil && s.logFile != nil:
		s.log = io.MultiWriter(s.logFile, opts.Log)
	case opts.Log != nil:
		s.log = opts.Log
	case s.logFile != nil:
		s.log = s.logFile
	}

	var err error
	switch opts.Mode {
	case ModePTY:
		err = s.startPTY(opts)
	case ModePipe:
		err = s.startPipe()
	default:
		err = fmt.Errorf("unknown mode %d", int(opts.Mode))
	}
	if err != nil {
		if s.logFile != nil {
			_ = s.logFile.Close()
		}
		return nil, &Error{Kind: ErrorStart, Op: "open", Underlying: err}
	}

	go s.readLoop()
	go func() {
		s.exitErr = s.cmd.Wait()
		close(s.exitDone)
	}()
	return s, nil
}

func (s *Session) startPTY(opts Options) error {
	size := &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols}
	if size.Rows == 0 {
		size.Rows = 24
	}
	if size.Cols == 0 {
		size.Cols = 80
	}
	ptmx, err := pty.StartWithSize(s.cmd, size)
	if err != nil {
		return err
	}
	s.in = ptmx
	s.out = ptmx
	return nil
}

func (s *Session) startPipe() error {
	preparePipe(s.cmd)
	// Plain os.Pipe ends (not StdinPipe) so sends can carry a write deadline.
	ir, iw, err := os.Pipe()
	if err != nil {
		return err
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		_ = ir.Close()
		_ = iw.Close()
		return err
	}
	s.cmd.Stdin = ir
	s.cmd.Stdout = pw
	s.cmd.Stderr = pw
	if err := s.cmd.Start(); err != nil {
		for _, f := range []*os.File{ir, iw, pr, pw} {
			_ = f.Close()
		}
		return err
	}
	// The child holds its own copies; ours must go so EOF arrives when it exits.
	_ = ir.Close()
	_ = pw.Close()
	s.in = iw
	s.out = pr
	return nil
}

func (s *Session) readLoop() {
	defer close(s.readerDone)
	b := make([]byte, 4096)
	for {
		n, err := s.out.Read(b)
		if n > 0 {
			// Transcript first: it must hold bytes no wait has looked at yet.
			if s.log != nil {
				_, _ = s.log.Write(b[:n])
			}
			s.mu.Lock()
			s.buf = append(s.buf, b[:n]...)
			s.notifyLocked()
			s.mu.Unlock()
		}
		if err != nil {
			s.mu.Lock()
			s.eof = true
			if !isEndOfStream(err) {
				s.readErr = err
			}
			s.notifyLocked()
			s.mu.Unlock()
			return
		}
	}
}

// isEndOfStream treats the Linux pty EIO (slave side gone) like EOF.
func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)
}

func (s *Session) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) Mode() Mode { return s.mode }

func (s *Session) Pid() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Alive reports whether the child process is still running.
func (s *Session) Alive() bool {
	select {
	case <-s.exitDone:
		return false
	default:
		return true
	}
}

// SetTimeout changes the bound for all later waits. It must be positive.
func (s *Session) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("timeout must be > 0 (got %s)", d)
	}
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
	return nil
}

func (s *Session) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// Transcript returns the transcript file contents. It requires Options.LogPath.
func (s *Session) Transcript() ([]byte, error) {
	if s.logPath == "" {
		return nil, errors.New("session has no transcript file")
	}
	if s.logFile != nil {
		_ = s.logFile.Sync()
	}
	return os.ReadFile(s.logPath)
}

// Close terminates the child if it is still running and releases the terminal.
// It is safe to call more than once and after ExpectExit.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateTerminated
		s.mu.Unlock()

		if s.Alive() {
			_ = hangup(s.cmd)
			select {
			case <-s.exitDone:
			case <-time.After(hangupGrace):
				if kerr := killGroup(s.cmd); kerr != nil {
					err = kerr
				}
			}
		}
		select {
		case <-s.exitDone:
		case <-time.After(closeGrace):
			if err == nil {
				err = errors.New("child did not exit after kill")
			}
		}
		// Whatever the child forked into its group goes too.
		_ = killGroup(s.cmd)

		if s.mode == ModePipe {
			_ = s.in.Close()
		}
		select {
		case <-s.readerDone:
		case <-time.After(exitDrainGrace):
		}
		_ = s.out.Close()
		if s.logFile != nil {
			_ = s.logFile.Close()
		}
	})
	return err
}
