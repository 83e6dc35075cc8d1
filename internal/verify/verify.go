// Package verify compares captured client output against expected transcripts.
//
// Comparison is exact. The only normalization is on the expected side: one leading
// newline is dropped so multi-line literals can start on the line after the opening
// backquote.
package verify

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// MismatchError reports an output that differs from its expected transcript.
type MismatchError struct {
	Actual   string
	Expected string
	// Diff is the rendered line diff ("-" actual only, "+" expected only).
	Diff string
}

func (e *MismatchError) Error() string {
	return "unexpected output:\n" + e.Diff
}

// Verifier renders diffs for failed comparisons and optionally echoes them to Out.
type Verifier struct {
	Color bool
	// Out receives the rendered diff on mismatch. Nil means no echo.
	Out io.Writer
}

// Output checks actual against expected.
func (v Verifier) Output(actual []byte, expected string) error {
	got := Decode(actual)
	want := Normalize(expected)
	if got == want {
		return nil
	}
	diff := Diff(got, want, v.Color)
	if v.Out != nil {
		fmt.Fprintf(v.Out, "\nUnexpected output:\n%s", diff)
	}
	return &MismatchError{Actual: got, Expected: want, Diff: diff}
}

// Empty checks that actual is empty (used for "no error output").
func (v Verifier) Empty(actual []byte) error {
	return v.Output(actual, "\n")
}

// Output checks actual against expected without color or echo.
func Output(actual []byte, expected string) error {
	return Verifier{}.Output(actual, expected)
}

// Empty checks that actual is empty without color or echo.
func Empty(actual []byte) error {
	return Verifier{}.Empty(actual)
}

// Normalize drops exactly one leading newline.
func Normalize(expected string) string {
	return Decode([]byte(strings.TrimPrefix(expected, "\n")))
}

// Decode turns bytes into text, replacing invalid UTF-8 with U+FFFD. It never fails.
func Decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
