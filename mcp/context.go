package mcp

import (
	"context"

	"github.com/shaharia-lab/robomcp/observability"
)

// RequestContext is handed to resource and tool handlers. It carries the
// request's cancellation, the shared lifespan value and the request's
// notification channel.
type RequestContext struct {
	ctx       context.Context
	requestID string
	lifespan  interface{}
	notifier  *Notifier
	logger    observability.Logger
}

// NewRequestContext builds a RequestContext outside of a Dispatcher, for
// calling handlers directly. sink may be nil.
func NewRequestContext(ctx context.Context, requestID string, lifespan interface{}, sink NotificationSink) *RequestContext {
	logger := observability.NewNullLogger()
	return &RequestContext{
		ctx:       ctx,
		requestID: requestID,
		lifespan:  lifespan,
		notifier:  newNotifier(sink, requestID, nil, logger),
		logger:    logger,
	}
}

func (rc *RequestContext) Context() context.Context {
	return rc.ctx
}

func (rc *RequestContext) RequestID() string {
	return rc.requestID
}

// Lifespan returns the value produced by the lifecycle acquisition step.
func (rc *RequestContext) Lifespan() interface{} {
	return rc.lifespan
}

func (rc *RequestContext) Logger() observability.Logger {
	return rc.logger
}

func (rc *RequestContext) Debug(data interface{}) error {
	return rc.notifier.Log(LogLevelDebug, data)
}

func (rc *RequestContext) Info(data interface{}) error {
	return rc.notifier.Log(LogLevelInfo, data)
}

func (rc *RequestContext) Warning(data interface{}) error {
	return rc.notifier.Log(LogLevelWarning, data)
}

func (rc *RequestContext) Error(data interface{}) error {
	return rc.notifier.Log(LogLevelError, data)
}

// ReportProgress forwards to the request's Notifier.Progress.
func (rc *RequestContext) ReportProgress(progress, total float64, message string) error {
	return rc.notifier.Progress(progress, total, message)
}

// LifespanAs returns the lifespan value as T.
func LifespanAs[T any](rc *RequestContext) (T, bool) {
	v, ok := rc.lifespan.(T)
	return v, ok
}
