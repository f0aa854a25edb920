package mcp

import (
	"context"
	"errors"
	"sync"
)

// ErrRequestCancelled is the cause attached to a request context cancelled
// by the client.
var ErrRequestCancelled = errors.New("request cancelled by client")

// CancellationToken ties an in-flight request id to its context.
type CancellationToken struct {
	ID     string
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func (t *CancellationToken) Context() context.Context {
	return t.ctx
}

// CancellationManager tracks cancellable in-flight requests by id.
type CancellationManager struct {
	tokens map[string]*CancellationToken
	mu     sync.RWMutex
}

func NewCancellationManager() *CancellationManager {
	return &CancellationManager{
		tokens: make(map[string]*CancellationToken),
	}
}

// CreateToken derives a cancellable context from parent and registers it
// under id, replacing any earlier token with the same id.
func (cm *CancellationManager) CreateToken(parent context.Context, id string) *CancellationToken {
	ctx, cancel := context.WithCancelCause(parent)
	token := &CancellationToken{
		ID:     id,
		ctx:    ctx,
		cancel: cancel,
	}

	cm.mu.Lock()
	cm.tokens[id] = token
	cm.mu.Unlock()

	return token
}

// CancelToken cancels the request registered under id.
func (cm *CancellationManager) CancelToken(id string) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if token, exists := cm.tokens[id]; exists {
		token.cancel(ErrRequestCancelled)
		delete(cm.tokens, id)
		return true
	}
	return false
}

// RemoveToken forgets token once its request has completed and frees its
// context.
func (cm *CancellationManager) RemoveToken(token *CancellationToken) {
	cm.mu.Lock()
	if current, ok := cm.tokens[token.ID]; ok && current == token {
		delete(cm.tokens, token.ID)
	}
	cm.mu.Unlock()
	token.cancel(context.Canceled)
}

func (cm *CancellationManager) Len() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.tokens)
}
