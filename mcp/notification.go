package mcp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shaharia-lab/robomcp/observability"
)

// Notification methods sent to clients.
const (
	MethodLogMessage = "notifications/message"
	MethodProgress   = "notifications/progress"
)

var (
	ErrNotifierClosed     = errors.New("notification channel closed")
	ErrProgressRegression = errors.New("progress must not decrease")
	ErrProgressRange      = errors.New("progress must be within [0, 1]")
)

// NotificationSink delivers one notification to the caller of an in-flight
// request. Transports provide it per request.
type NotificationSink func(method string, params interface{}) error

// Notifier is the per-request, ordered side channel for log and progress
// messages. Emission is synchronous: when Log or Progress returns, the
// message has been handed to the sink.
type Notifier struct {
	mu         sync.Mutex
	sink       NotificationSink
	token      interface{}
	minLevel   func() LogLevel
	loggerName string
	logger     observability.Logger

	last   float64
	closed bool
}

func newNotifier(sink NotificationSink, token interface{}, minLevel func() LogLevel, logger observability.Logger) *Notifier {
	if minLevel == nil {
		minLevel = func() LogLevel { return LogLevelDebug }
	}
	return &Notifier{
		sink:       sink,
		token:      token,
		minLevel:   minLevel,
		loggerName: "robomcp",
		logger:     logger,
	}
}

// Log emits a notifications/message. Messages below the session's minimum
// level are dropped silently.
func (n *Notifier) Log(level LogLevel, data interface{}) error {
	if _, ok := logLevelSeverity[level]; !ok {
		return fmt.Errorf("invalid log level: %s", level)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNotifierClosed
	}
	if !level.Enabled(n.minLevel()) {
		return nil
	}

	n.deliver(MethodLogMessage, LogMessageParams{
		Level:  level,
		Logger: n.loggerName,
		Data:   data,
	})
	return nil
}

// Progress emits a notifications/progress. With total > 0 the completed
// fraction is progress/total, otherwise progress itself; that fraction must
// lie in [0, 1] and never decrease over the life of the request.
func (n *Notifier) Progress(progress, total float64, message string) error {
	fraction := progress
	if total > 0 {
		fraction = progress / total
	}
	if fraction < 0 || fraction > 1 {
		return fmt.Errorf("%w: got %v", ErrProgressRange, fraction)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNotifierClosed
	}
	if fraction < n.last {
		return fmt.Errorf("%w: %v after %v", ErrProgressRegression, fraction, n.last)
	}
	n.last = fraction

	n.deliver(MethodProgress, ProgressParams{
		ProgressToken: n.token,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
	return nil
}

// deliver must be called with mu held. A failing sink is logged and the
// handler carries on.
func (n *Notifier) deliver(method string, params interface{}) {
	if n.sink == nil {
		return
	}
	if err := n.sink(method, params); err != nil {
		n.logger.WithFields(map[string]interface{}{
			"method": method,
		}).WithErr(err).Warn("Failed to deliver notification")
	}
}

func (n *Notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
}
