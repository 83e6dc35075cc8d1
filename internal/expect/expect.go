// Package expect holds the expected client transcripts and checks invocations
// against them.
package expect

import (
	"fmt"

	"github.com/marcohefti/copyconf/internal/runner"
	"github.com/marcohefti/copyconf/internal/verify"
)

type Step string

const (
	StepCreateTable Step = "create_table"
	StepInsertTwo   Step = "insert_two"
	StepCopyTwo     Step = "copy_two"
	StepResultSet   Step = "result_set"
	StepDropTable   Step = "drop_table"
)

// Literals are written with a leading newline for readability; verify drops it.
var transcripts = map[Step]string{
	StepCreateTable: `
CREATE TABLE
`,
	StepInsertTwo: `
INSERT 0 2
`,
	StepCopyTwo: `
COPY 2
`,
	StepResultSet: `
 c1 | c2 
----+----
  1 |  2
  3 |  4
(2 rows)

`,
	StepDropTable: `
DROP TABLE
`,
}

// Transcript returns the expected stdout literal for step.
func Transcript(step Step) (string, bool) {
	s, ok := transcripts[step]
	return s, ok
}

// Failure is a step whose output did not match.
type Failure struct {
	Step    Step
	Stream  string
	Command string
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s of %q: %v", f.Step, f.Stream, f.Command, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Checker verifies invocations against the transcript table.
type Checker struct {
	Verifier verify.Verifier
}

// Invocation checks stdout against the step literal and stderr for emptiness.
func (c Checker) Invocation(inv runner.Invocation, step Step) error {
	want, ok := Transcript(step)
	if !ok {
		return fmt.Errorf("no transcript for step %q", step)
	}
	if err := c.Verifier.Output(inv.Stdout, want); err != nil {
		return &Failure{Step: step, Stream: "stdout", Command: inv.Command.CommandLine(), Err: err}
	}
	if err := c.Verifier.Empty(inv.Stderr); err != nil {
		return &Failure{Step: step, Stream: "stderr", Command: inv.Command.CommandLine(), Err: err}
	}
	return nil
}
