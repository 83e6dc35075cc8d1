package session

import (
	"bytes"
	"errors"
	"time"
)

type OutcomeKind string

const (
	OutcomeMatched  OutcomeKind = "matched"
	OutcomeTimedOut OutcomeKind = "timed_out"
	OutcomeExited   OutcomeKind = "exited"
)

// Outcome describes how a wait ended. Only OutcomeMatched comes with a nil error.
type Outcome struct {
	Kind OutcomeKind
	// Pattern is the pattern that matched (or the first one waited for).
	Pattern string
	// Index of Pattern in the ExpectAny argument list.
	Index int
	// Pos is the stream offset of the match start, counted from the first byte read.
	Pos int
	// Before holds the output consumed ahead of the match.
	Before string
}

// Expect blocks until pattern appears in the unconsumed output, the timeout elapses,
// or the child exits, whichever comes first.
func (s *Session) Expect(pattern string) (Outcome, error) {
	return s.ExpectAny(pattern)
}

// ExpectAny waits for whichever pattern occurs earliest in the stream. Ties go to the
// pattern listed first.
func (s *Session) ExpectAny(patterns ...string) (Outcome, error) {
	if len(patterns) == 0 {
		return Outcome{}, &Error{Kind: ErrorIO, Op: "expect", Underlying: errors.New("no patterns")}
	}
	label := patterns[0]

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return Outcome{}, &Error{Kind: ErrorNotRunning, Op: "expect", Pattern: label}
	}
	timeout := s.timeout
	s.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	exitCh := s.exitDone
	// A late match still wins over the deadline.
	timedOut := func() (Outcome, error) {
		s.mu.Lock()
		out, ok := s.matchLocked(patterns)
		s.mu.Unlock()
		if ok {
			return out, nil
		}
		return Outcome{Kind: OutcomeTimedOut, Pattern: label, Index: -1},
			&Error{Kind: ErrorTimeout, Op: "expect", Pattern: label, Timeout: timeout}
	}

	for {
		s.mu.Lock()
		if out, ok := s.matchLocked(patterns); ok {
			s.mu.Unlock()
			return out, nil
		}
		if s.eof || s.exited {
			s.state = StateExited
			readErr := s.readErr
			s.mu.Unlock()
			return Outcome{Kind: OutcomeExited, Pattern: label, Index: -1},
				&Error{Kind: ErrorExited, Op: "expect", Pattern: label, Underlying: readErr}
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-exitCh:
			exitCh = nil
			// Let in-flight output land before declaring the exit, within the bound.
			drain := time.NewTimer(exitDrainGrace)
			select {
			case <-s.readerDone:
			case <-drain.C:
			case <-deadline.C:
				drain.Stop()
				return timedOut()
			}
			drain.Stop()
			s.mu.Lock()
			s.exited = true
			s.mu.Unlock()
		case <-deadline.C:
			return timedOut()
		}
	}
}

// matchLocked finds the earliest pattern occurrence and consumes through its end.
func (s *Session) matchLocked(patterns []string) (Outcome, bool) {
	best, bestPos := -1, -1
	for i, p := range patterns {
		pos := bytes.Index(s.buf, []byte(p))
		if pos < 0 {
			continue
		}
		if best < 0 || pos < bestPos {
			best, bestPos = i, pos
		}
	}
	if best < 0 {
		return Outcome{}, false
	}
	end := bestPos + len(patterns[best])
	out := Outcome{
		Kind:    OutcomeMatched,
		Pattern: patterns[best],
		Index:   best,
		Pos:     s.consumed + bestPos,
		Before:  string(s.buf[:bestPos]),
	}
	s.buf = append([]byte(nil), s.buf[end:]...)
	s.consumed += end
	return out, true
}

// ExpectExit waits, within the timeout, for the child to exit and its output to be
// drained, and returns the exit code. Afterwards the session accepts no more sends or
// waits.
func (s *Session) ExpectExit() (int, error) {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return 0, &Error{Kind: ErrorNotRunning, Op: "expect exit"}
	}
	timeout := s.timeout
	s.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case <-s.exitDone:
	case <-deadline.C:
		return 0, &Error{Kind: ErrorTimeout, Op: "expect exit", Timeout: timeout}
	}
	select {
	case <-s.readerDone:
	case <-deadline.C:
		return 0, &Error{Kind: ErrorTimeout, Op: "expect exit", Timeout: timeout}
	}

	s.mu.Lock()
	s.state = StateTerminated
	s.mu.Unlock()
	return exitCode(s.exitErr), nil
}

// Pending returns the output read but not yet consumed by a wait.
func (s *Session) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee interface{ ExitCode() int }
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
