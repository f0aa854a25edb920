package mcp

import "fmt"

// LogLevel is the MCP (syslog style) severity of a log notification.
type LogLevel string

const (
	LogLevelDebug     LogLevel = "debug"
	LogLevelInfo      LogLevel = "info"
	LogLevelNotice    LogLevel = "notice"
	LogLevelWarning   LogLevel = "warning"
	LogLevelError     LogLevel = "error"
	LogLevelCritical  LogLevel = "critical"
	LogLevelAlert     LogLevel = "alert"
	LogLevelEmergency LogLevel = "emergency"
)

// lower is more severe
var logLevelSeverity = map[LogLevel]int{
	LogLevelEmergency: 0,
	LogLevelAlert:     1,
	LogLevelCritical:  2,
	LogLevelError:     3,
	LogLevelWarning:   4,
	LogLevelNotice:    5,
	LogLevelInfo:      6,
	LogLevelDebug:     7,
}

// ParseLogLevel validates s as an MCP log level.
func ParseLogLevel(s string) (LogLevel, error) {
	level := LogLevel(s)
	if _, ok := logLevelSeverity[level]; !ok {
		return "", fmt.Errorf("invalid log level: %s", s)
	}
	return level, nil
}

// Enabled reports whether a message at level passes a minimum of min.
func (level LogLevel) Enabled(min LogLevel) bool {
	sev, ok := logLevelSeverity[level]
	if !ok {
		return false
	}
	return sev <= logLevelSeverity[min]
}
