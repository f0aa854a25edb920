package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocketServer carries one JSON-RPC message per text frame. Every
// connection is its own client session.
type WebSocketServer struct {
	*BaseServer
	address  string
	path     string
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[string]*wsConn
	active sync.WaitGroup
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// NewWebSocketServer creates a new WebSocketServer.
func NewWebSocketServer(baseServer *BaseServer) *WebSocketServer {
	allowed := baseServer.config.allowedOrigins
	s := &WebSocketServer{
		BaseServer: baseServer,
		address:    baseServer.config.address,
		path:       baseServer.config.endpointPath,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(allowed, origin)
			},
		},
		conns: make(map[string]*wsConn),
	}
	s.sendNoti = s.sendNotification
	return s
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithErr(err).Error("Failed to upgrade websocket connection")
		return
	}

	s.active.Add(1)
	defer s.active.Done()

	clientID := uuid.NewString()
	c := &wsConn{conn: conn}

	s.mu.Lock()
	s.conns[clientID] = c
	s.mu.Unlock()

	s.handleConnection(r.Context(), clientID, c)
}

func (s *WebSocketServer) handleConnection(ctx context.Context, clientID string, c *wsConn) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	defer func() {
		cancel()
		wg.Wait()
		s.mu.Lock()
		delete(s.conns, clientID)
		s.mu.Unlock()
		s.endSession(clientID)
		c.conn.Close()
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
		}).Info("Websocket client disconnected")
	}()

	notify := func(method string, params interface{}) error {
		return s.sendNotification(clientID, method, params)
	}

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithFields(map[string]interface{}{
					"clientID": clientID,
				}).WithErr(err).Debug("Websocket read ended")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if !isConcurrentRequest(message) {
			if response := s.handleMessage(ctx, clientID, message, notify); response != nil {
				s.writeResponse(clientID, c, response)
			}
			continue
		}

		wg.Add(1)
		go func(raw []byte) {
			defer wg.Done()
			if response := s.handleMessage(ctx, clientID, raw, notify); response != nil {
				s.writeResponse(clientID, c, response)
			}
		}(message)
	}
}

func (s *WebSocketServer) writeResponse(clientID string, c *wsConn, response *Response) {
	if err := c.write(response); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
		}).WithErr(err).Warn("Failed to write websocket response")
	}
}

func (s *WebSocketServer) sendNotification(clientID string, method string, params interface{}) error {
	s.mu.RLock()
	c, ok := s.conns[clientID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("websocket client %s not connected", clientID)
	}

	payload, err := marshalNotification(method, params)
	if err != nil {
		return err
	}
	return c.write(json.RawMessage(payload))
}

// Run acquires the lifespan, serves websocket connections until ctx is done
// and then releases the lifespan.
func (s *WebSocketServer) Run(ctx context.Context) error {
	return s.lifecycle.Run(ctx, s.serve)
}

func (s *WebSocketServer) serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.path, s)

	server := &http.Server{
		BaseContext: func(listener net.Listener) context.Context {
			return ctx
		},
		Addr:              s.address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.WithFields(map[string]interface{}{
		"address": s.address,
		"path":    s.path,
	}).Info("Starting websocket server")

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.mu.RLock()
		for _, c := range s.conns {
			_ = c.conn.Close()
		}
		s.mu.RUnlock()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error during server shutdown: %w", err)
		}
		// hijacked connections are not tracked by Shutdown
		s.active.Wait()
		return nil
	case err := <-errChan:
		s.logger.WithErr(err).Error("Error starting server")
		return fmt.Errorf("server error: %w", err)
	}
}
