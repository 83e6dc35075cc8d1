package scenario

import (
	"fmt"
	"strings"

	"github.com/marcohefti/copyconf/internal/client"
	"github.com/marcohefti/copyconf/internal/session"
)

// Markers printed by the client during an interactive copy.
const (
	markerIntro      = "Enter data to be copied followed by a newline."
	markerEOFSignal  = "an EOF signal."
	markerDataPrompt = ">>"
	markerError      = "ERROR:"
	markerCopied     = "COPY 2"
	endOfData        = `\.`
	endOfTransmit    = "\x04"
)

type actionKind int

const (
	actSendLine actionKind = iota
	actWriteRaw
	actExpect
	actCloseInput
	actExpectExit
)

type action struct {
	kind actionKind
	text string
	raw  []byte
}

func sendLine(s string) action { return action{kind: actSendLine, text: s} }
func writeRaw(b []byte) action { return action{kind: actWriteRaw, raw: b} }
func await(p string) action    { return action{kind: actExpect, text: p} }

func (a action) String() string {
	switch a.kind {
	case actSendLine:
		return fmt.Sprintf("send %q", a.text)
	case actWriteRaw:
		return fmt.Sprintf("write %d bytes", len(a.raw))
	case actExpect:
		return fmt.Sprintf("expect %q", a.text)
	case actCloseInput:
		return "close input"
	case actExpectExit:
		return "expect exit"
	default:
		return "unknown"
	}
}

// conversation is the scripted exchange for one interactive scenario. prompt is the
// client's command prompt; data is the fixture file for the scenario's format.
func conversation(sc Scenario, table, prompt string, data []byte) []action {
	var acts []action
	tty := sc.Method == MethodTerminal

	source := "stdin"
	if sc.Source == SourceTTY {
		source = TTYDevice
	}
	if tty {
		acts = append(acts, await(prompt))
	}
	acts = append(acts, sendLine(client.CopyFrom(table, source, sc.Format)))
	if tty {
		if sc.Probe {
			// Only the start of the transfer is observable.
			return append(acts, await(markerEOFSignal))
		}
		acts = append(acts, await(markerIntro), await(markerEOFSignal), await(markerDataPrompt))
	}

	if sc.Format == client.FormatBinary {
		// Only piped sessions carry binary data; the stream ends at input EOF.
		return append(acts,
			writeRaw(data),
			action{kind: actCloseInput},
			await(markerCopied),
			action{kind: actExpectExit},
		)
	}

	for _, line := range dataLines(data) {
		acts = append(acts, sendLine(line))
		if tty {
			acts = append(acts, await(markerDataPrompt))
		}
	}

	switch {
	case sc.Source == SourceTTY && sc.Format == client.FormatText:
		// Reading from the device, text accepts an end-of-data line before EOF.
		acts = append(acts, sendLine(endOfData), await(markerDataPrompt),
			writeRaw([]byte(endOfTransmit)), await(markerCopied), await(prompt))
	case sc.Source == SourceTTY:
		// csv would read the end-of-data line as a value; EOF alone ends the data.
		acts = append(acts, writeRaw([]byte(endOfTransmit)), await(markerCopied), await(prompt))
	case tty:
		acts = append(acts, sendLine(endOfData), await(markerCopied), await(prompt))
	default:
		acts = append(acts, sendLine(endOfData), await(markerCopied))
	}

	if tty {
		acts = append(acts, sendLine(`\q`))
	} else {
		// Without a terminal the client ends at input EOF.
		acts = append(acts, action{kind: actCloseInput})
	}
	return append(acts, action{kind: actExpectExit})
}

// dataLines splits a fixture file into lines without terminators.
func dataLines(data []byte) []string {
	s := strings.TrimSuffix(string(data), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// play performs acts in order. Every wait also watches for the client's error marker,
// so a rejected transfer fails at once instead of running into the timeout.
func play(s *session.Session, acts []action) (int, error) {
	for i, a := range acts {
		var err error
		switch a.kind {
		case actSendLine:
			err = s.SendLine(a.text)
		case actWriteRaw:
			err = s.WriteRaw(a.raw)
		case actCloseInput:
			err = s.CloseInput()
		case actExpect:
			var out session.Outcome
			out, err = s.ExpectAny(a.text, markerError)
			if err == nil && out.Index == 1 {
				err = fmt.Errorf("client reported an error before %q", a.text)
			}
		case actExpectExit:
			var code int
			code, err = s.ExpectExit()
			if err == nil && code != 0 {
				err = fmt.Errorf("client exited with status %d", code)
			}
		}
		if err != nil {
			return i, fmt.Errorf("%s: %w", a, err)
		}
	}
	return len(acts), nil
}
