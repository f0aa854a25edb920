package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shaharia-lab/robomcp/observability"
)

// LifecycleState is the state of the server-wide shared resource.
type LifecycleState int

const (
	StateNotStarted LifecycleState = iota
	StateRunning
	StateStopped
)

func (s LifecycleState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("LifecycleState(%d)", int(s))
}

// ReleaseFunc tears down what a LifespanFunc acquired.
type ReleaseFunc func(ctx context.Context) error

// LifespanFunc acquires the shared value for one server run. On failure it
// may still return a ReleaseFunc covering whatever it did acquire.
type LifespanFunc func(ctx context.Context) (value interface{}, release ReleaseFunc, err error)

// Lifecycle moves NotStarted -> Running -> Stopped exactly once and runs
// the release step at most once.
type Lifecycle struct {
	mu      sync.RWMutex
	state   LifecycleState
	acquire LifespanFunc
	value   interface{}
	release ReleaseFunc
	logger  observability.Logger

	releaseOnce sync.Once
	releaseErr  error
}

func NewLifecycle(acquire LifespanFunc, logger observability.Logger) *Lifecycle {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	return &Lifecycle{acquire: acquire, logger: logger}
}

func (l *Lifecycle) State() LifecycleState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Lifecycle) Running() bool {
	return l.State() == StateRunning
}

// Value is the acquired lifespan value, nil unless Running.
func (l *Lifecycle) Value() interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state != StateRunning {
		return nil
	}
	return l.value
}

// Start runs the acquisition step. A failed acquisition leaves the
// lifecycle Stopped.
func (l *Lifecycle) Start(ctx context.Context) (err error) {
	ctx, span := observability.StartSpan(ctx, "Lifecycle.Start")
	defer func() { observability.EndSpan(span, err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateNotStarted {
		return Errorf(ProtocolError, "lifecycle already %s", l.state)
	}

	var (
		value   interface{}
		release ReleaseFunc
	)
	if l.acquire != nil {
		value, release, err = l.safeAcquire(ctx)
	}
	l.release = release

	if err != nil {
		l.state = StateStopped
		if release != nil {
			if relErr := l.runRelease(ctx); relErr != nil {
				l.logger.WithErr(relErr).Error("Partial release after failed acquisition failed")
			}
		}
		l.logger.WithErr(err).Error("Lifespan acquisition failed")
		return Errorf(LifecycleAcquireFailure, "lifespan acquisition failed: %w", err)
	}

	l.value = value
	l.state = StateRunning
	l.logger.Info("Lifespan acquired, server running")
	return nil
}

// Stop releases the shared value. Calling it again returns the first
// release's result without releasing twice.
func (l *Lifecycle) Stop(ctx context.Context) (err error) {
	ctx, span := observability.StartSpan(ctx, "Lifecycle.Stop")
	defer func() { observability.EndSpan(span, err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateNotStarted:
		l.state = StateStopped
		return nil
	case StateStopped:
		return l.releaseErr
	}

	l.state = StateStopped
	l.value = nil
	err = l.runRelease(ctx)
	if err != nil {
		l.logger.WithErr(err).Error("Lifespan release failed")
	} else {
		l.logger.Info("Lifespan released")
	}
	return err
}

// Run starts the lifecycle, calls serve and stops it on every exit path.
// A panic in serve propagates after the release step has run.
func (l *Lifecycle) Run(ctx context.Context, serve func(ctx context.Context) error) (err error) {
	if err := l.Start(ctx); err != nil {
		return err
	}

	defer func() {
		r := recover()
		stopErr := l.Stop(context.WithoutCancel(ctx))
		if r != nil {
			panic(r)
		}
		if stopErr != nil {
			err = errors.Join(err, fmt.Errorf("release: %w", stopErr))
		}
	}()

	return serve(ctx)
}

func (l *Lifecycle) runRelease(ctx context.Context) error {
	l.releaseOnce.Do(func() {
		if l.release == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				l.releaseErr = fmt.Errorf("release panicked: %v", r)
			}
		}()
		l.releaseErr = l.release(ctx)
	})
	return l.releaseErr
}

func (l *Lifecycle) safeAcquire(ctx context.Context) (value interface{}, release ReleaseFunc, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("acquisition panicked: %v", r)
		}
	}()
	return l.acquire(ctx)
}
