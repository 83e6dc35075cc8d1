package config

import (
	"testing"
	"time"
)

func TestLoadFrom_Defaults(t *testing.T) {
	h, err := LoadFrom(map[string]string{"USER": "alice"})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if h.Client != "psql" {
		t.Fatalf("unexpected client: %q", h.Client)
	}
	if h.WaitTimeout != time.Second {
		t.Fatalf("unexpected wait timeout: %s", h.WaitTimeout)
	}
	if !h.Color || h.LogLevel != "info" || h.LogFormat != "text" {
		t.Fatalf("unexpected defaults: %+v", h)
	}
	if h.Source != "env" {
		t.Fatalf("unexpected source: %q", h.Source)
	}
	p, err := h.Prompt()
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if p != "alice=#" {
		t.Fatalf("unexpected prompt: %q", p)
	}
}

func TestLoadFrom_DatabaseWinsOverUser(t *testing.T) {
	h, err := LoadFrom(map[string]string{
		"USER":                  "alice",
		"PGDATABASE":            "conformance",
		"COPYCONF_WAIT_TIMEOUT": "250ms",
		"COPYCONF_CLIENT_ARGS":  "-X -q",
	})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	db, err := h.DatabaseName()
	if err != nil {
		t.Fatalf("DatabaseName: %v", err)
	}
	if db != "conformance" {
		t.Fatalf("unexpected database: %q", db)
	}
	if h.WaitTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected timeout: %s", h.WaitTimeout)
	}
	if len(h.ClientArgs) != 2 || h.ClientArgs[0] != "-X" || h.ClientArgs[1] != "-q" {
		t.Fatalf("unexpected client args: %q", h.ClientArgs)
	}
}

func TestLoadFrom_RejectsNonPositiveTimeout(t *testing.T) {
	if _, err := LoadFrom(map[string]string{"COPYCONF_WAIT_TIMEOUT": "0s"}); err == nil {
		t.Fatalf("expected error for zero timeout")
	}
}

func TestDatabaseName_MissingEverything(t *testing.T) {
	h, err := LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if _, err := h.DatabaseName(); err == nil {
		t.Fatalf("expected error without PGDATABASE/USER")
	}
}

func TestApply_FlagsOverrideEnv(t *testing.T) {
	h, err := LoadFrom(map[string]string{"USER": "alice", "COPYCONF_CLIENT": "/opt/pg/bin/psql"})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	h, err = h.Apply(Overrides{WaitTimeout: 3 * time.Second, NoColor: true})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if h.Client != "/opt/pg/bin/psql" {
		t.Fatalf("client should keep env value: %q", h.Client)
	}
	if h.WaitTimeout != 3*time.Second || h.Color {
		t.Fatalf("overrides not applied: %+v", h)
	}
	if h.Source != "env+flags" {
		t.Fatalf("unexpected source: %q", h.Source)
	}
}
