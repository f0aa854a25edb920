package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/robomcp/observability"
)

type testLifespan struct {
	name string
}

func newTestDispatcher(t *testing.T, reg *Registry) (*Dispatcher, *Lifecycle) {
	t.Helper()
	lc := NewLifecycle(func(ctx context.Context) (interface{}, ReleaseFunc, error) {
		return &testLifespan{name: "arm-1"}, nil, nil
	}, nil)
	require.NoError(t, lc.Start(context.Background()))
	t.Cleanup(func() { _ = lc.Stop(context.Background()) })
	return NewDispatcher(reg, lc, observability.NewNullLogger()), lc
}

func dispatchRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()

	require.NoError(t, reg.RegisterResource("robot://joints/{joint_name}", func(rc *RequestContext, captures map[string]string) (string, error) {
		if captures["joint_name"] == "wrist" {
			return "", ValidationError("unknown joint %q", captures["joint_name"])
		}
		return "joint " + captures["joint_name"], nil
	}, WithMimeType("text/plain")))

	require.NoError(t, reg.RegisterResource("robot://status/panic", func(rc *RequestContext, captures map[string]string) (string, error) {
		panic("sensor offline")
	}))

	require.NoError(t, reg.RegisterResource("robot://status/broken", func(rc *RequestContext, captures map[string]string) (string, error) {
		return "", errors.New("bus timeout")
	}))

	require.NoError(t, reg.RegisterTool("whoami", nil, func(rc *RequestContext, args Arguments) (string, error) {
		ls, ok := LifespanAs[*testLifespan](rc)
		if !ok {
			return "", errors.New("no lifespan")
		}
		return ls.name, nil
	}))

	require.NoError(t, reg.RegisterTool("move", []ParamSpec{RequiredParam("position", ParamNumber, "")},
		func(rc *RequestContext, args Arguments) (string, error) {
			if args.Float("position") > 3.14 {
				return "", ValidationError("position %.2f out of range", args.Float("position"))
			}
			return fmt.Sprintf("moved to %.2f", args.Float("position")), nil
		}))

	require.NoError(t, reg.RegisterTool("explode", nil, func(rc *RequestContext, args Arguments) (string, error) {
		panic("gearbox")
	}))

	require.NoError(t, reg.RegisterPrompt("diagnose", []ParamSpec{OptionalParam("component", ParamString, "all", "")},
		func(args Arguments) (string, error) {
			return "check " + args.String("component"), nil
		}))

	return reg
}

func TestDispatcher_Dispatch(t *testing.T) {
	d, _ := newTestDispatcher(t, dispatchRegistry(t))

	tests := []struct {
		name     string
		env      Envelope
		want     Result
		wantKind ErrorKind
	}{
		{
			name: "resource with capture",
			env:  Envelope{Kind: EnvelopeResourceRead, Target: "robot://joints/elbow_pitch"},
			want: Result{Text: "joint elbow_pitch", MimeType: "text/plain"},
		},
		{
			name:     "resource not found",
			env:      Envelope{Kind: EnvelopeResourceRead, Target: "robot://arms/left"},
			wantKind: ResourceNotFound,
		},
		{
			name:     "resource domain error keeps its kind",
			env:      Envelope{Kind: EnvelopeResourceRead, Target: "robot://joints/wrist"},
			wantKind: DomainValidation,
		},
		{
			name:     "resource plain error becomes handler failure",
			env:      Envelope{Kind: EnvelopeResourceRead, Target: "robot://status/broken"},
			wantKind: HandlerFailure,
		},
		{
			name:     "resource panic becomes handler failure",
			env:      Envelope{Kind: EnvelopeResourceRead, Target: "robot://status/panic"},
			wantKind: HandlerFailure,
		},
		{
			name: "tool sees lifespan value",
			env:  Envelope{Kind: EnvelopeToolCall, Target: "whoami"},
			want: Result{Text: "arm-1"},
		},
		{
			name: "tool success",
			env:  Envelope{Kind: EnvelopeToolCall, Target: "move", Arguments: map[string]interface{}{"position": 1.0}},
			want: Result{Text: "moved to 1.00"},
		},
		{
			name: "tool domain failure is an error result",
			env:  Envelope{Kind: EnvelopeToolCall, Target: "move", Arguments: map[string]interface{}{"position": 4.0}},
			want: Result{Text: "position 4.00 out of range", IsError: true},
		},
		{
			name: "tool panic is an error result",
			env:  Envelope{Kind: EnvelopeToolCall, Target: "explode"},
			want: Result{Text: "internal error: handler panicked: gearbox", IsError: true},
		},
		{
			name:     "tool binding failure",
			env:      Envelope{Kind: EnvelopeToolCall, Target: "move", Arguments: map[string]interface{}{}},
			wantKind: MissingArgument,
		},
		{
			name:     "unknown tool",
			env:      Envelope{Kind: EnvelopeToolCall, Target: "fly"},
			wantKind: ToolNotFound,
		},
		{
			name: "prompt default argument",
			env:  Envelope{Kind: EnvelopePromptRender, Target: "diagnose"},
			want: Result{Text: "check all"},
		},
		{
			name:     "unknown prompt",
			env:      Envelope{Kind: EnvelopePromptRender, Target: "repair"},
			wantKind: PromptNotFound,
		},
		{
			name:     "unknown envelope kind",
			env:      Envelope{Kind: EnvelopeKind(9), Target: "x"},
			wantKind: ProtocolError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Dispatch(context.Background(), tt.env, nil)
			if tt.wantKind != "" {
				require.Error(t, err)
				e, ok := AsError(err)
				require.True(t, ok, "expected *Error, got %T", err)
				assert.Equal(t, tt.wantKind, e.Kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDispatcher_NotRunning(t *testing.T) {
	reg := dispatchRegistry(t)
	lc := NewLifecycle(nil, nil)
	d := NewDispatcher(reg, lc, nil)

	_, err := d.Dispatch(context.Background(), Envelope{Kind: EnvelopeToolCall, Target: "whoami"}, nil)
	assert.ErrorIs(t, err, ErrProtocol)

	require.NoError(t, lc.Start(context.Background()))
	_, err = d.Dispatch(context.Background(), Envelope{Kind: EnvelopeToolCall, Target: "whoami"}, nil)
	assert.NoError(t, err)

	require.NoError(t, lc.Stop(context.Background()))
	_, err = d.Dispatch(context.Background(), Envelope{Kind: EnvelopeToolCall, Target: "whoami"}, nil)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDispatcher_Notifications(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterTool("steps", nil, func(rc *RequestContext, args Arguments) (string, error) {
		for i := 1; i <= 3; i++ {
			if err := rc.ReportProgress(float64(i)/3, 1, fmt.Sprintf("step %d/3", i)); err != nil {
				return "", err
			}
		}
		_ = rc.Debug("hidden at info level")
		_ = rc.Info("finished")
		return "ok", nil
	}))
	d, _ := newTestDispatcher(t, reg)

	t.Run("progress token defaults to request id", func(t *testing.T) {
		rec := &recorder{}
		_, err := d.Dispatch(context.Background(), Envelope{Kind: EnvelopeToolCall, Target: "steps", RequestID: "req-7"}, rec.sink)
		require.NoError(t, err)

		progress := rec.progress()
		require.Len(t, progress, 3)
		for i, p := range progress {
			assert.Equal(t, "req-7", p.ProgressToken)
			assert.Equal(t, fmt.Sprintf("step %d/3", i+1), p.Message)
		}
		assert.InDelta(t, 1.0, progress[2].Progress, 1e-9)

		logs := rec.logs()
		require.Len(t, logs, 1)
		assert.Equal(t, "finished", logs[0].Data)
	})

	t.Run("explicit progress token and debug level", func(t *testing.T) {
		require.NoError(t, d.SetLogLevel(LogLevelDebug))
		defer func() { _ = d.SetLogLevel(LogLevelInfo) }()

		rec := &recorder{}
		_, err := d.Dispatch(context.Background(), Envelope{Kind: EnvelopeToolCall, Target: "steps", ProgressToken: 42}, rec.sink)
		require.NoError(t, err)

		assert.Equal(t, 42, rec.progress()[0].ProgressToken)
		assert.Len(t, rec.logs(), 2)
	})

	assert.Error(t, d.SetLogLevel(LogLevel("chatty")))
	assert.Equal(t, LogLevelInfo, d.LogLevel())
}

func TestDispatcher_Cancel(t *testing.T) {
	started := make(chan struct{})
	reg := NewRegistry()
	require.NoError(t, reg.RegisterTool("wait", nil, func(rc *RequestContext, args Arguments) (string, error) {
		close(started)
		select {
		case <-rc.Context().Done():
			return "", context.Cause(rc.Context())
		case <-time.After(5 * time.Second):
			return "timed out", nil
		}
	}))
	d, _ := newTestDispatcher(t, reg)

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := d.Dispatch(context.Background(), Envelope{Kind: EnvelopeToolCall, Target: "wait", RequestID: "slow"}, nil)
		done <- outcome{r, err}
	}()

	<-started
	assert.True(t, d.Cancel("slow"))
	assert.False(t, d.Cancel("slow"))

	out := <-done
	require.NoError(t, out.err)
	assert.True(t, out.result.IsError)
	assert.Equal(t, ErrRequestCancelled.Error(), out.result.Text)
	assert.Equal(t, 0, d.cancellations.Len())
}

func TestDispatcher_Concurrent(t *testing.T) {
	d, _ := newTestDispatcher(t, dispatchRegistry(t))

	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(i int) {
			r, err := d.Dispatch(context.Background(), Envelope{
				Kind:      EnvelopeToolCall,
				Target:    "move",
				Arguments: map[string]interface{}{"position": float64(i) / 10},
			}, nil)
			if err == nil && r.Text != fmt.Sprintf("moved to %.2f", float64(i)/10) {
				err = fmt.Errorf("unexpected result %q", r.Text)
			}
			errs <- err
		}(i)
	}
	for i := 0; i < 20; i++ {
		assert.NoError(t, <-errs)
	}
}
