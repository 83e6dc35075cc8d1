package scenario

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcohefti/copyconf/internal/client"
	"github.com/marcohefti/copyconf/internal/ids"
	"gopkg.in/yaml.v3"
)

//go:embed matrix.yaml
var defaultMatrix []byte

// Method is how the transfer command reaches the client.
type Method string

const (
	// MethodCommand passes the command with -c.
	MethodCommand Method = "command"
	// MethodScript runs a script file whose data follows the command inline.
	MethodScript Method = "script"
	// MethodTerminal drives an interactive client on a pseudo-terminal.
	MethodTerminal Method = "terminal"
	// MethodPiped drives an interactive client over plain pipes.
	MethodPiped Method = "piped"
)

// Source is where the client reads copy data from.
type Source string

const (
	SourceFile  Source = "file"
	SourceStdin Source = "stdin"
	SourceTTY   Source = "tty"
)

// TTYDevice is the path the client opens for SourceTTY.
const TTYDevice = "/dev/tty"

type Scenario struct {
	ID     string        `json:"id" yaml:"id"`
	Method Method        `json:"method" yaml:"method"`
	Source Source        `json:"source" yaml:"source"`
	Format client.Format `json:"format" yaml:"format"`
	// Probe scenarios only check that the client starts the transfer; no data is sent.
	Probe bool `json:"probe,omitempty" yaml:"probe,omitempty"`
	// Skip, when set, is the reason the scenario is not run.
	Skip string `json:"skip,omitempty" yaml:"skip,omitempty"`
}

func (s Scenario) Interactive() bool {
	return s.Method == MethodTerminal || s.Method == MethodPiped
}

type Matrix struct {
	Version   int        `json:"version" yaml:"version"`
	Scenarios []Scenario `json:"scenarios" yaml:"scenarios"`
}

// Lookup returns the scenario with id.
func (m Matrix) Lookup(id string) (Scenario, bool) {
	for _, s := range m.Scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}

// Filter keeps the scenarios named in only, in matrix order. Unknown ids are an error.
func (m Matrix) Filter(only []string) (Matrix, error) {
	if len(only) == 0 {
		return m, nil
	}
	want := map[string]bool{}
	for _, id := range only {
		id = strings.TrimSpace(id)
		if _, ok := m.Lookup(id); !ok {
			return Matrix{}, fmt.Errorf("unknown scenario %q", id)
		}
		want[id] = true
	}
	out := Matrix{Version: m.Version}
	for _, s := range m.Scenarios {
		if want[s.ID] {
			out.Scenarios = append(out.Scenarios, s)
		}
	}
	return out, nil
}

// Default returns the built-in matrix.
func Default() Matrix {
	m, err := Parse(defaultMatrix, ".yaml")
	if err != nil {
		panic(fmt.Sprintf("built-in matrix: %v", err))
	}
	return m
}

// ParseFile reads a matrix file; .yaml/.yml is YAML, anything else JSON.
func ParseFile(path string) (Matrix, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Matrix{}, err
	}
	return Parse(raw, filepath.Ext(path))
}

func Parse(raw []byte, ext string) (Matrix, error) {
	var m Matrix
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return Matrix{}, fmt.Errorf("invalid matrix yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &m); err != nil {
			return Matrix{}, fmt.Errorf("invalid matrix json: %w", err)
		}
	}

	if m.Version == 0 {
		m.Version = 1
	}
	if m.Version != 1 {
		return Matrix{}, fmt.Errorf("unsupported matrix version (expected 1)")
	}
	if len(m.Scenarios) == 0 {
		return Matrix{}, fmt.Errorf("matrix has no scenarios")
	}

	seen := map[string]bool{}
	for i := range m.Scenarios {
		s := &m.Scenarios[i]
		s.Method = Method(strings.ToLower(strings.TrimSpace(string(s.Method))))
		s.Source = Source(strings.ToLower(strings.TrimSpace(string(s.Source))))
		s.Format = client.Format(strings.ToLower(strings.TrimSpace(string(s.Format))))
		s.Skip = strings.TrimSpace(s.Skip)

		if s.ID == "" {
			s.ID = ids.ScenarioID(string(s.Method), string(s.Source), string(s.Format))
		} else {
			s.ID = ids.SanitizeComponent(s.ID)
		}
		if s.ID == "" {
			return Matrix{}, fmt.Errorf("scenario %d: missing/invalid id", i)
		}
		if seen[s.ID] {
			return Matrix{}, fmt.Errorf("duplicate scenario id %q", s.ID)
		}
		seen[s.ID] = true

		if err := validate(*s); err != nil {
			return Matrix{}, fmt.Errorf("scenario %q: %w", s.ID, err)
		}
	}
	return m, nil
}

func validate(s Scenario) error {
	if !s.Format.Valid() {
		return fmt.Errorf("format must be text|csv|binary")
	}
	switch s.Method {
	case MethodCommand:
		if s.Source != SourceFile {
			return fmt.Errorf("method command requires source file")
		}
	case MethodScript, MethodPiped:
		if s.Source != SourceStdin {
			return fmt.Errorf("method %s requires source stdin", s.Method)
		}
	case MethodTerminal:
		if s.Source != SourceStdin && s.Source != SourceTTY {
			return fmt.Errorf("method terminal requires source stdin|tty")
		}
		if s.Format == client.FormatBinary && !s.Probe && s.Skip == "" {
			return fmt.Errorf("binary over a terminal must be a probe or skipped")
		}
	default:
		return fmt.Errorf("method must be command|script|terminal|piped")
	}
	if s.Probe && s.Method != MethodTerminal {
		return fmt.Errorf("probe is only supported for method terminal")
	}
	return nil
}
