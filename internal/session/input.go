package session

import (
	"errors"
	"io"
	"os"
	"syscall"
	"time"
)

// eot is VEOF in canonical terminal mode: at the start of a line the reader sees EOF.
const eot = "\x04"

// SendLine writes text plus a newline to the child's input.
func (s *Session) SendLine(text string) error {
	return s.write("send", []byte(text+"\n"))
}

// WriteRaw writes b as-is (control characters, payloads without terminator).
func (s *Session) WriteRaw(b []byte) error {
	return s.write("write", b)
}

// CloseInput signals end of input: the pipe is closed in pipe mode, an EOT is sent on a
// pty.
func (s *Session) CloseInput() error {
	if s.mode == ModePTY {
		return s.write("close input", []byte(eot))
	}
	if err := s.checkRunning("close input"); err != nil {
		return err
	}
	if err := s.in.Close(); err != nil {
		return &Error{Kind: ErrorIO, Op: "close input", Underlying: err}
	}
	return nil
}

// deadliner is implemented by *os.File; SetWriteDeadline fails on files the runtime
// poller does not manage, and those writes stay unbounded.
type deadliner interface {
	SetWriteDeadline(t time.Time) error
}

func (s *Session) write(op string, b []byte) error {
	if err := s.checkRunning(op); err != nil {
		return err
	}
	timeout := s.Timeout()
	if d, ok := s.in.(deadliner); ok && d.SetWriteDeadline(time.Now().Add(timeout)) == nil {
		defer func() { _ = d.SetWriteDeadline(time.Time{}) }()
	}
	if _, err := s.in.Write(b); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return &Error{Kind: ErrorTimeout, Op: op, Timeout: timeout, Underlying: err}
		}
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, syscall.EPIPE) || !s.Alive() {
			s.markExited()
			return &Error{Kind: ErrorExited, Op: op, Underlying: err}
		}
		return &Error{Kind: ErrorIO, Op: op, Underlying: err}
	}
	return nil
}

func (s *Session) checkRunning(op string) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StateRunning {
		return &Error{Kind: ErrorNotRunning, Op: op}
	}
	if !s.Alive() {
		s.markExited()
		return &Error{Kind: ErrorExited, Op: op}
	}
	return nil
}

func (s *Session) markExited() {
	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateExited
	}
	s.exited = true
	s.mu.Unlock()
}
