package mcp

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shaharia-lab/robomcp/observability"
)

// EnvelopeKind selects the namespace a request targets.
type EnvelopeKind int

const (
	EnvelopeResourceRead EnvelopeKind = iota
	EnvelopeToolCall
	EnvelopePromptRender
)

func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeResourceRead:
		return "resource-read"
	case EnvelopeToolCall:
		return "tool-call"
	case EnvelopePromptRender:
		return "prompt-render"
	}
	return fmt.Sprintf("EnvelopeKind(%d)", int(k))
}

// Envelope is one decoded request. Target is a URI for resource reads and
// a name otherwise.
type Envelope struct {
	Kind          EnvelopeKind
	Target        string
	Arguments     map[string]interface{}
	RequestID     string
	ProgressToken interface{}
	// MinLogLevel reports the requesting client's log level. Nil means the
	// dispatcher's level.
	MinLogLevel func() LogLevel
}

// Result is a successful dispatch. IsError marks a tool whose handler
// failed; the failure text is in Text.
type Result struct {
	Text     string
	IsError  bool
	MimeType string
}

// Dispatcher resolves envelopes against the Registry and runs handlers
// with a RequestContext. Handler failures never escape as panics.
type Dispatcher struct {
	registry      *Registry
	lifecycle     *Lifecycle
	cancellations *CancellationManager
	logger        observability.Logger

	levelMu  sync.RWMutex
	minLevel LogLevel
}

func NewDispatcher(registry *Registry, lifecycle *Lifecycle, logger observability.Logger) *Dispatcher {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	return &Dispatcher{
		registry:      registry,
		lifecycle:     lifecycle,
		cancellations: NewCancellationManager(),
		logger:        logger,
		minLevel:      LogLevelInfo,
	}
}

// SetLogLevel sets the default minimum level of log notifications, used for
// requests that carry no level of their own.
func (d *Dispatcher) SetLogLevel(level LogLevel) error {
	if _, err := ParseLogLevel(string(level)); err != nil {
		return err
	}
	d.levelMu.Lock()
	d.minLevel = level
	d.levelMu.Unlock()
	return nil
}

func (d *Dispatcher) LogLevel() LogLevel {
	d.levelMu.RLock()
	defer d.levelMu.RUnlock()
	return d.minLevel
}

// Cancel cancels the in-flight request with the given id.
func (d *Dispatcher) Cancel(requestID string) bool {
	return d.cancellations.CancelToken(requestID)
}

// Dispatch runs one request. sink receives the request's notifications and
// may be nil.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope, sink NotificationSink) (Result, error) {
	ctx, span := observability.StartSpan(ctx, "Dispatcher.Dispatch")
	defer span.End()

	var err error
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	span.SetAttributes(
		attribute.String("kind", env.Kind.String()),
		attribute.String("target", env.Target),
	)

	if !d.lifecycle.Running() {
		err = Errorf(ProtocolError, "server is not running (lifecycle %s)", d.lifecycle.State())
		return Result{}, err
	}

	if env.RequestID == "" {
		env.RequestID = uuid.NewString()
	}
	if env.ProgressToken == nil {
		env.ProgressToken = env.RequestID
	}

	token := d.cancellations.CreateToken(ctx, env.RequestID)
	defer d.cancellations.RemoveToken(token)

	minLevel := env.MinLogLevel
	if minLevel == nil {
		minLevel = d.LogLevel
	}
	notifier := newNotifier(sink, env.ProgressToken, minLevel, d.logger)
	defer notifier.close()

	rc := &RequestContext{
		ctx:       token.Context(),
		requestID: env.RequestID,
		lifespan:  d.lifecycle.Value(),
		notifier:  notifier,
		logger: d.logger.WithFields(map[string]interface{}{
			"requestID": env.RequestID,
			"target":    env.Target,
		}),
	}

	var result Result
	switch env.Kind {
	case EnvelopeResourceRead:
		result, err = d.readResource(rc, env.Target)
	case EnvelopeToolCall:
		result, err = d.callTool(rc, env.Target, env.Arguments)
	case EnvelopePromptRender:
		result, err = d.renderPrompt(rc, env.Target, env.Arguments)
	default:
		err = Errorf(ProtocolError, "unknown envelope kind %s", env.Kind)
	}
	return result, err
}

func (d *Dispatcher) readResource(rc *RequestContext, uri string) (Result, error) {
	entry, captures, err := d.registry.FindResource(uri)
	if err != nil {
		return Result{}, err
	}

	text, err := d.invoke(rc.logger, func() (string, error) {
		return entry.Handler(rc, captures)
	})
	if err != nil {
		return Result{}, asHandlerFailure(err, "failed to read resource %s", uri)
	}
	return Result{Text: text, MimeType: entry.MimeType}, nil
}

func (d *Dispatcher) callTool(rc *RequestContext, name string, raw map[string]interface{}) (Result, error) {
	entry, err := d.registry.FindTool(name)
	if err != nil {
		return Result{}, err
	}

	if err := entry.validateArguments(raw); err != nil {
		return Result{}, err
	}
	args, err := Bind(entry.Params, raw)
	if err != nil {
		return Result{}, err
	}

	text, err := d.invoke(rc.logger, func() (string, error) {
		return entry.Handler(rc, args)
	})
	if err != nil {
		rc.logger.WithErr(err).Warn("Tool handler failed")
		return Result{Text: err.Error(), IsError: true}, nil
	}
	return Result{Text: text}, nil
}

func (d *Dispatcher) renderPrompt(rc *RequestContext, name string, raw map[string]interface{}) (Result, error) {
	entry, err := d.registry.FindPrompt(name)
	if err != nil {
		return Result{}, err
	}

	args, err := Bind(entry.Params, raw)
	if err != nil {
		return Result{}, err
	}

	text, err := d.invoke(rc.logger, func() (string, error) {
		return entry.Handler(args)
	})
	if err != nil {
		return Result{}, asHandlerFailure(err, "failed to render prompt %s", name)
	}
	return Result{Text: text}, nil
}

// invoke runs fn, turning a panic into a HandlerFailure error.
func (d *Dispatcher) invoke(logger observability.Logger, fn func() (string, error)) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("Handler panicked")
			text, err = "", Errorf(HandlerFailure, "internal error: handler panicked: %v", r)
		}
	}()
	return fn()
}

func asHandlerFailure(err error, format string, args ...interface{}) error {
	if e, ok := AsError(err); ok {
		return e
	}
	return Errorf(HandlerFailure, format+": %w", append(args, err)...)
}
