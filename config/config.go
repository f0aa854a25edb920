// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/shaharia-lab/robomcp/journal"
	"github.com/shaharia-lab/robomcp/mcp"
	"github.com/shaharia-lab/robomcp/observability"
)

// Transports accepted in ROBOT_MCP_TRANSPORT.
const (
	TransportHTTP      = "http"
	TransportStdio     = "stdio"
	TransportWebSocket = "websocket"
)

// Config is the server configuration. Every field has an environment
// variable and a default.
type Config struct {
	Transport      string        `env:"ROBOT_MCP_TRANSPORT,default=http"`
	Addr           string        `env:"ROBOT_MCP_ADDR,default=:8000"`
	Path           string        `env:"ROBOT_MCP_PATH,default=/mcp"`
	JSONResponse   bool          `env:"ROBOT_MCP_JSON_RESPONSE,default=true"`
	AllowedOrigins []string      `env:"ROBOT_MCP_ALLOWED_ORIGINS"`
	LogBackend     string        `env:"ROBOT_MCP_LOG_BACKEND,default=logrus"`
	LogLevel       string        `env:"ROBOT_MCP_LOG_LEVEL,default=info"`
	ClientLogLevel string        `env:"ROBOT_MCP_CLIENT_LOG_LEVEL,default=info"`
	MaxPosition    float64       `env:"ROBOT_MCP_MAX_POSITION,default=3.14"`
	StepInterval   time.Duration `env:"ROBOT_MCP_STEP_INTERVAL,default=0s"`
	Journal        string        `env:"ROBOT_MCP_JOURNAL,default=memory"`
	JournalDSN     string        `env:"ROBOT_MCP_JOURNAL_DSN"`
	JournalTable   string        `env:"ROBOT_MCP_JOURNAL_TABLE,default=robot_commands"`
}

// Load decodes the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("failed to decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown enum values and a non-positive joint bound.
func (c Config) Validate() error {
	var problems []string

	switch c.Transport {
	case TransportHTTP, TransportStdio, TransportWebSocket:
	default:
		problems = append(problems, fmt.Sprintf("unknown transport %q", c.Transport))
	}

	switch strings.ToLower(c.LogBackend) {
	case observability.BackendLogrus, observability.BackendZap, observability.BackendSlog, observability.BackendDefault:
	default:
		problems = append(problems, fmt.Sprintf("unknown log backend %q", c.LogBackend))
	}

	if _, err := observability.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := mcp.ParseLogLevel(c.ClientLogLevel); err != nil {
		problems = append(problems, err.Error())
	}

	switch c.Journal {
	case journal.DriverMemory, journal.DriverSQLite, journal.DriverPostgres:
	default:
		problems = append(problems, fmt.Sprintf("unknown journal driver %q", c.Journal))
	}
	if c.Journal != journal.DriverMemory && c.JournalDSN == "" {
		problems = append(problems, fmt.Sprintf("journal %q requires ROBOT_MCP_JOURNAL_DSN", c.Journal))
	}

	if !(c.MaxPosition > 0) {
		problems = append(problems, fmt.Sprintf("max position must be positive, got %v", c.MaxPosition))
	}
	if c.StepInterval < 0 {
		problems = append(problems, fmt.Sprintf("step interval must not be negative, got %s", c.StepInterval))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// JournalConfig is the journal section in the form journal.Open takes.
func (c Config) JournalConfig() journal.Config {
	return journal.Config{
		Driver: c.Journal,
		DSN:    c.JournalDSN,
		Table:  c.JournalTable,
	}
}
