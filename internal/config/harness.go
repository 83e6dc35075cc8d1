package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Harness is the run configuration. Values come from the environment; CLI flags are
// layered on top with Apply.
type Harness struct {
	// Client is the database client binary (looked up on PATH when not absolute).
	Client string `env:"COPYCONF_CLIENT" envDefault:"psql"`
	// ClientArgs are prepended to every client invocation.
	ClientArgs []string `env:"COPYCONF_CLIENT_ARGS" envSeparator:" "`

	Database string `env:"PGDATABASE"`
	User     string `env:"USER"`

	WaitTimeout time.Duration `env:"COPYCONF_WAIT_TIMEOUT" envDefault:"1s"`
	ScratchRoot string        `env:"COPYCONF_SCRATCH_ROOT"`
	Matrix      string        `env:"COPYCONF_MATRIX"`

	LogLevel  string `env:"COPYCONF_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"COPYCONF_LOG_FORMAT" envDefault:"text"`
	Color     bool   `env:"COPYCONF_COLOR" envDefault:"true"`

	// Source is informational: "env" or "env+flags".
	Source string
}

// Overrides carries CLI flag values; zero values leave the environment value in place.
type Overrides struct {
	Client      string
	WaitTimeout time.Duration
	ScratchRoot string
	Matrix      string
	LogLevel    string
	LogFormat   string
	NoColor     bool
}

// Load reads the harness configuration from the process environment.
func Load() (Harness, error) {
	return load(env.Options{})
}

// LoadFrom reads the harness configuration from an explicit environment map.
func LoadFrom(environ map[string]string) (Harness, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (Harness, error) {
	h, err := env.ParseAsWithOptions[Harness](opts)
	if err != nil {
		return Harness{}, fmt.Errorf("invalid environment: %w", err)
	}
	h.Source = "env"
	if err := h.validate(); err != nil {
		return Harness{}, err
	}
	return h, nil
}

// Apply layers non-zero overrides on top of h.
func (h Harness) Apply(o Overrides) (Harness, error) {
	changed := false
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
			changed = true
		}
	}
	set(&h.Client, o.Client)
	set(&h.ScratchRoot, o.ScratchRoot)
	set(&h.Matrix, o.Matrix)
	set(&h.LogLevel, o.LogLevel)
	set(&h.LogFormat, o.LogFormat)
	if o.WaitTimeout != 0 {
		h.WaitTimeout = o.WaitTimeout
		changed = true
	}
	if o.NoColor {
		h.Color = false
		changed = true
	}
	if changed {
		h.Source = "env+flags"
	}
	if err := h.validate(); err != nil {
		return Harness{}, err
	}
	return h, nil
}

func (h Harness) validate() error {
	if strings.TrimSpace(h.Client) == "" {
		return fmt.Errorf("client binary is empty")
	}
	if h.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be > 0 (got %s)", h.WaitTimeout)
	}
	return nil
}

// DatabaseName mirrors the client's own default: PGDATABASE, else the login user.
func (h Harness) DatabaseName() (string, error) {
	if db := strings.TrimSpace(h.Database); db != "" {
		return db, nil
	}
	if u := strings.TrimSpace(h.User); u != "" {
		return u, nil
	}
	return "", fmt.Errorf("cannot determine database name: PGDATABASE and USER are both unset")
}

// Prompt is the superuser prompt the interactive client prints when idle.
func (h Harness) Prompt() (string, error) {
	db, err := h.DatabaseName()
	if err != nil {
		return "", err
	}
	return db + "=#", nil
}
