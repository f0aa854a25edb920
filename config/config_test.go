package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/robomcp/journal"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Config{
		Transport:      TransportHTTP,
		Addr:           ":8000",
		Path:           "/mcp",
		JSONResponse:   true,
		LogBackend:     "logrus",
		LogLevel:       "info",
		ClientLogLevel: "info",
		MaxPosition:    3.14,
		Journal:        journal.DriverMemory,
		JournalTable:   journal.DefaultTable,
	}, cfg)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
		check   func(t *testing.T, cfg Config)
	}{
		{
			name: "stdio with sqlite journal",
			env: map[string]string{
				"ROBOT_MCP_TRANSPORT":     "stdio",
				"ROBOT_MCP_JOURNAL":       "sqlite",
				"ROBOT_MCP_JOURNAL_DSN":   "/tmp/robot.db",
				"ROBOT_MCP_STEP_INTERVAL": "250ms",
				"ROBOT_MCP_MAX_POSITION":  "1.5",
				"ROBOT_MCP_LOG_BACKEND":   "zap",
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, TransportStdio, cfg.Transport)
				assert.Equal(t, 250*time.Millisecond, cfg.StepInterval)
				assert.Equal(t, 1.5, cfg.MaxPosition)
				assert.Equal(t, journal.Config{Driver: "sqlite", DSN: "/tmp/robot.db", Table: journal.DefaultTable}, cfg.JournalConfig())
			},
		},
		{
			name: "websocket with origins",
			env: map[string]string{
				"ROBOT_MCP_TRANSPORT":       "websocket",
				"ROBOT_MCP_ALLOWED_ORIGINS": "http://localhost:3000;http://127.0.0.1:3000",
				"ROBOT_MCP_JSON_RESPONSE":   "false",
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, []string{"http://localhost:3000", "http://127.0.0.1:3000"}, cfg.AllowedOrigins)
				assert.False(t, cfg.JSONResponse)
			},
		},
		{
			name:    "unknown transport",
			env:     map[string]string{"ROBOT_MCP_TRANSPORT": "grpc"},
			wantErr: `unknown transport "grpc"`,
		},
		{
			name:    "unknown log backend",
			env:     map[string]string{"ROBOT_MCP_LOG_BACKEND": "glog"},
			wantErr: `unknown log backend "glog"`,
		},
		{
			name:    "bad log level",
			env:     map[string]string{"ROBOT_MCP_LOG_LEVEL": "loud"},
			wantErr: `unknown log level "loud"`,
		},
		{
			name:    "bad client log level",
			env:     map[string]string{"ROBOT_MCP_CLIENT_LOG_LEVEL": "verbose"},
			wantErr: "invalid log level: verbose",
		},
		{
			name:    "unknown journal",
			env:     map[string]string{"ROBOT_MCP_JOURNAL": "cassandra", "ROBOT_MCP_JOURNAL_DSN": "x"},
			wantErr: `unknown journal driver "cassandra"`,
		},
		{
			name:    "postgres without dsn",
			env:     map[string]string{"ROBOT_MCP_JOURNAL": "postgres"},
			wantErr: "requires ROBOT_MCP_JOURNAL_DSN",
		},
		{
			name:    "zero max position",
			env:     map[string]string{"ROBOT_MCP_MAX_POSITION": "0"},
			wantErr: "max position must be positive",
		},
		{
			name:    "negative step interval",
			env:     map[string]string{"ROBOT_MCP_STEP_INTERVAL": "-1s"},
			wantErr: "step interval must not be negative",
		},
		{
			name:    "malformed number",
			env:     map[string]string{"ROBOT_MCP_MAX_POSITION": "wide"},
			wantErr: "failed to decode environment",
		},
		{
			name:    "malformed boolean",
			env:     map[string]string{"ROBOT_MCP_JSON_RESPONSE": "yes"},
			wantErr: "failed to decode environment",
		},
		{
			name:    "duration without unit",
			env:     map[string]string{"ROBOT_MCP_STEP_INTERVAL": "5"},
			wantErr: "failed to decode environment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}
