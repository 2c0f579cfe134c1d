package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearConfigEnv isolates a test from the caller's environment.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := LoadConfig([]string{"--fb-database", "/data/shop.fdb"})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := Config{
		Transport: TransportStdio,
		Host:      "localhost",
		Port:      8131,
		Firebird: Target{
			Host:     "localhost",
			Port:     "3050",
			User:     "sysdba",
			Password: "masterkey",
			Database: "/data/shop.fdb",
		},
		LogLevel: slog.LevelInfo,
	}
	if *cfg != want {
		t.Errorf("config = %+v\nwant     %+v", *cfg, want)
	}
	if cfg.ListenAddr() != "localhost:8131" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr())
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("FIREBIRD_BASE", "/data/env.fdb")
	t.Setenv("FIREBIRD_USER", "reporter")
	t.Setenv("MCP_PORT", "9000")
	t.Setenv("MCP_TRANSPORT", "HTTP")
	t.Setenv("MCP_QUERY_TIMEOUT", "30s")
	t.Setenv("MCP_READ_ONLY", "true")
	t.Setenv("MCP_LOG_LEVEL", "debug")

	cfg, err := LoadConfig([]string{"--port", "9100", "--max-rows=500"})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Port != 9100 {
		t.Errorf("flag should win over env: port = %d", cfg.Port)
	}
	if cfg.Firebird.Database != "/data/env.fdb" || cfg.Firebird.User != "reporter" {
		t.Errorf("env not applied: %+v", cfg.Firebird)
	}
	if cfg.Transport != TransportHTTP {
		t.Errorf("transport = %q", cfg.Transport)
	}
	if cfg.QueryTimeout != 30*time.Second || cfg.MaxRows != 500 || !cfg.ReadOnly {
		t.Errorf("hardening settings = %v / %d / %v", cfg.QueryTimeout, cfg.MaxRows, cfg.ReadOnly)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.LogLevel)
	}
}

func TestLoadConfig_DotEnv(t *testing.T) {
	clearConfigEnv(t)
	// gotenv only fills variables that are unset.
	os.Unsetenv("FIREBIRD_BASE")
	os.Unsetenv("FIREBIRD_ROLE")

	dir := t.TempDir()
	env := "FIREBIRD_BASE=/data/dotenv.fdb\nFIREBIRD_ROLE=RDB$ADMIN\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Firebird.Database != "/data/dotenv.fdb" || cfg.Firebird.Role != "RDB$ADMIN" {
		t.Errorf(".env not applied: %+v", cfg.Firebird)
	}
}

func TestLoadConfig_DotEnvDollarSigns(t *testing.T) {
	clearConfigEnv(t)
	for _, env := range []string{"FIREBIRD_BASE", "FIREBIRD_USER", "FIREBIRD_PASSWD", "FIREBIRD_ROLE"} {
		os.Unsetenv(env)
	}
	t.Setenv("FB_DATA_DIR", "/srv/firebird")

	dir := t.TempDir()
	env := strings.Join([]string{
		"# comment with $HOME",
		"FIREBIRD_BASE=${FB_DATA_DIR}/shop.fdb",
		`FIREBIRD_PASSWD="pa$$w0rd$"`,
		"FIREBIRD_USER='us$er'",
		`FIREBIRD_ROLE=RDB\$ADMIN`,
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := Target{
		Host:     "localhost",
		Port:     "3050",
		User:     "us$er",
		Password: "pa$$w0rd$",
		Database: "/srv/firebird/shop.fdb",
		Role:     "RDB$ADMIN",
	}
	if cfg.Firebird != want {
		t.Errorf("target = %+v\nwant     %+v", cfg.Firebird, want)
	}
}

func TestEscapeBareDollars(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"ROLE=RDB$ADMIN", `ROLE=RDB\$ADMIN`},
		{"DIR=${HOME}/x", "DIR=${HOME}/x"},
		{`PASS="a$b"`, `PASS="a\$b"`},
		{"PASS='a$b'", "PASS='a$b'"},
		{`ROLE=RDB\$ADMIN`, `ROLE=RDB\$ADMIN`},
		{"TAIL=x$", `TAIL=x\$`},
		{"# X=$Y", "# X=$Y"},
		{"no assignment $HERE", "no assignment $HERE"},
	}

	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			if got := escapeBareDollars(tc.line); got != tc.want {
				t.Errorf("escapeBareDollars(%q) = %q, want %q", tc.line, got, tc.want)
			}
		})
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing database", nil, "firebird database path"},
		{"blank database", []string{"--fb-database", "  "}, "firebird database path"},
		{"bad transport", []string{"--fb-database", "x", "--transport", "sse"}, "unknown transport"},
		{"negative max rows", []string{"--fb-database", "x", "--max-rows", "-1"}, "max-rows"},
		{"negative timeout", []string{"--fb-database", "x", "--query-timeout", "-1s"}, "query-timeout"},
		{"bad log level", []string{"--fb-database", "x", "--log-level", "loud"}, "invalid log level"},
		{"unknown flag", []string{"--fb-database", "x", "--verbose"}, "unknown flag"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearConfigEnv(t)
			_, err := LoadConfig(tc.args)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("LoadConfig(%q) error = %v, want %q", tc.args, err, tc.want)
			}
		})
	}

	clearConfigEnv(t)
	if _, err := LoadConfig(nil); !errors.Is(err, ErrMissingDatabase) {
		t.Errorf("Expected ErrMissingDatabase, got %v", err)
	}
}
