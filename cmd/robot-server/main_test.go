package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shaharia-lab/robomcp/observability"
)

func TestWatchSignals_ReturnsWhenServerStops(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	cancelled := 0

	done := make(chan error, 1)
	go func() {
		done <- watchSignals(ctx, func() { cancelled++ }, observability.NewNullLogger())
	}()

	stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("signal watcher did not return after the server stopped")
	}
	assert.Zero(t, cancelled)
}
