package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// ErrMissingDatabase is returned when no database path was configured.
var ErrMissingDatabase = errors.New("firebird database path must be provided via --fb-database or FIREBIRD_BASE environment variable")

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config is the process configuration.
type Config struct {
	Transport string
	Host      string
	Port      int

	Firebird Target

	QueryTimeout time.Duration
	MaxRows      int
	ReadOnly     bool
	LogLevel     slog.Level
}

// ListenAddr is the HTTP bind address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// flag name -> environment variable
var envBindings = map[string]string{
	"transport":     "MCP_TRANSPORT",
	"host":          "MCP_HOST",
	"port":          "MCP_PORT",
	"fb-host":       "FIREBIRD_HOST",
	"fb-port":       "FIREBIRD_PORT",
	"fb-user":       "FIREBIRD_USER",
	"fb-password":   "FIREBIRD_PASSWD",
	"fb-database":   "FIREBIRD_BASE",
	"fb-role":       "FIREBIRD_ROLE",
	"query-timeout": "MCP_QUERY_TIMEOUT",
	"max-rows":      "MCP_MAX_ROWS",
	"read-only":     "MCP_READ_ONLY",
	"log-level":     "MCP_LOG_LEVEL",
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet(ServerName, pflag.ContinueOnError)
	flags.String("transport", TransportStdio, "Transport type (stdio or http). Env: MCP_TRANSPORT")
	flags.String("host", "localhost", "Host to bind to for the http transport. Env: MCP_HOST")
	flags.Int("port", 8131, "Port to listen on for the http transport. Env: MCP_PORT")
	flags.String("fb-host", "localhost", "Firebird server host. Env: FIREBIRD_HOST")
	flags.String("fb-port", "3050", "Firebird server port. Env: FIREBIRD_PORT")
	flags.String("fb-user", "sysdba", "Firebird user. Env: FIREBIRD_USER")
	flags.String("fb-password", "masterkey", "Firebird password. Env: FIREBIRD_PASSWD")
	flags.String("fb-database", "", "Firebird database path or alias (required). Env: FIREBIRD_BASE")
	flags.String("fb-role", "", "Firebird SQL role. Env: FIREBIRD_ROLE")
	flags.Duration("query-timeout", 0, "Timeout for execute_query, e.g. 30s; 0 disables it. Env: MCP_QUERY_TIMEOUT")
	flags.Int("max-rows", 0, "Maximum rows returned by execute_query; 0 is unlimited. Env: MCP_MAX_ROWS")
	flags.Bool("read-only", false, "Reject statements other than SELECT/WITH. Env: MCP_READ_ONLY")
	flags.String("log-level", "info", "Log level: debug, info, warn, error. Env: MCP_LOG_LEVEL")
	return flags
}

// LoadConfig reads flags from args, then environment variables, then an
// optional .env file in the working directory.
func LoadConfig(args []string) (*Config, error) {
	if err := loadDotEnv(dotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", v.GetString("log-level"))
	}

	cfg := &Config{
		Transport: strings.ToLower(strings.TrimSpace(v.GetString("transport"))),
		Host:      v.GetString("host"),
		Port:      v.GetInt("port"),
		Firebird: Target{
			Host:     v.GetString("fb-host"),
			Port:     v.GetString("fb-port"),
			User:     v.GetString("fb-user"),
			Password: v.GetString("fb-password"),
			Database: strings.TrimSpace(v.GetString("fb-database")),
			Role:     v.GetString("fb-role"),
		},
		QueryTimeout: v.GetDuration("query-timeout"),
		MaxRows:      v.GetInt("max-rows"),
		ReadOnly:     v.GetBool("read-only"),
		LogLevel:     level,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const dotEnvFile = ".env"

// loadDotEnv exports the variables in path that are not already set. Only
// ${NAME} references are expanded; a bare $ is literal, so passwords and
// roles such as RDB$ADMIN survive unchanged.
func loadDotEnv(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		lines[i] = escapeBareDollars(line)
	}
	return gotenv.Apply(strings.NewReader(strings.Join(lines, "\n")))
}

// escapeBareDollars rewrites every $ in the value of a KEY=value line that
// does not start a ${NAME} reference as \$, which gotenv reads as a literal
// dollar. Single-quoted values are never expanded and are left alone.
func escapeBareDollars(line string) string {
	eq := strings.IndexByte(line, '=')
	if eq < 0 || strings.HasPrefix(strings.TrimSpace(line), "#") {
		return line
	}
	value := strings.TrimSpace(line[eq+1:])
	if len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'' {
		return line
	}

	var b strings.Builder
	b.WriteString(line[:eq+1])
	rest := line[eq+1:]
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		switch {
		case c == '\\' && i+1 < len(rest):
			b.WriteByte(c)
			b.WriteByte(rest[i+1])
			i++
			continue
		case c == '$' && (i+1 >= len(rest) || rest[i+1] != '{'):
			b.WriteString(`\$`)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	if c.Firebird.Database == "" {
		return ErrMissingDatabase
	}
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("unknown transport %q (want stdio or http)", c.Transport)
	}
	if c.MaxRows < 0 {
		return fmt.Errorf("max-rows must not be negative")
	}
	if c.QueryTimeout < 0 {
		return fmt.Errorf("query-timeout must not be negative")
	}
	return nil
}
