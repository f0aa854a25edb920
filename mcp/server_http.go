package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
	"go.opentelemetry.io/otel/codes"

	"github.com/shaharia-lab/robomcp/observability"
)

// HeaderSessionID carries the session issued on initialize.
const HeaderSessionID = "Mcp-Session-Id"

const maxMessageSize = 1024 * 1024

// sseStream serialises writes to one go-sse session.
type sseStream struct {
	mu   sync.Mutex
	sess *sse.Session
	done chan struct{}
	once sync.Once
}

func newSSEStream(sess *sse.Session) *sseStream {
	return &sseStream{sess: sess, done: make(chan struct{})}
}

func (st *sseStream) send(payload []byte) error {
	msg := &sse.Message{Type: sse.Type("message")}
	msg.AppendData(string(payload))

	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.sess.Send(msg); err != nil {
		return fmt.Errorf("failed to send SSE message: %w", err)
	}
	return st.sess.Flush()
}

func (st *sseStream) close() {
	st.once.Do(func() { close(st.done) })
}

// HTTPServer is the streamable HTTP transport: one endpoint accepting
// POST (client messages), GET (server notification stream) and DELETE
// (end session).
type HTTPServer struct {
	*BaseServer
	address        string
	path           string
	jsonResponse   bool
	allowedOrigins []string

	mu       sync.RWMutex
	sessions map[string]*sseStream // session id -> open GET stream or nil
}

// NewHTTPServer creates a new HTTPServer.
func NewHTTPServer(baseServer *BaseServer) *HTTPServer {
	s := &HTTPServer{
		BaseServer:     baseServer,
		address:        baseServer.config.address,
		path:           baseServer.config.endpointPath,
		jsonResponse:   baseServer.config.jsonResponse,
		allowedOrigins: baseServer.config.allowedOrigins,
		sessions:       make(map[string]*sseStream),
	}
	s.sendNoti = s.sendNotification
	return s
}

// Handler returns the endpoint wrapped with CORS handling.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleEndpoint)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if !originAllowed(s.allowedOrigins, origin) {
				http.Error(w, "Origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+HeaderSessionID)
		w.Header().Set("Access-Control-Expose-Headers", HeaderSessionID)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	s.logger.WithFields(map[string]interface{}{
		"method":  r.Method,
		"path":    r.URL.Path,
		"session": r.Header.Get(HeaderSessionID),
	}).Debug("Received HTTP request")

	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleStream(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *HTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.StartSpan(r.Context(), "HTTPServer.handlePost")
	defer span.End()

	var err error
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageSize))
	if err != nil {
		s.logger.WithErr(err).Error("Error reading request body")
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var head struct {
		ID     *json.RawMessage `json:"id"`
		Method string           `json:"method"`
	}
	if jsonErr := json.Unmarshal(body, &head); jsonErr != nil {
		writeJSON(w, http.StatusBadRequest, newErrorResponse(nil, &Error{Code: ErrorCodeParseError, Message: "Parse error"}))
		return
	}

	sessionID := r.Header.Get(HeaderSessionID)
	switch {
	case head.Method == "initialize" && sessionID == "":
		sessionID = uuid.NewString()
		s.mu.Lock()
		s.sessions[sessionID] = nil
		s.mu.Unlock()
		w.Header().Set(HeaderSessionID, sessionID)
	case sessionID == "":
		http.Error(w, "Missing "+HeaderSessionID+" header", http.StatusBadRequest)
		return
	case !s.hasSession(sessionID):
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}

	if head.ID == nil || head.Method == "" {
		if response := s.handleMessage(ctx, sessionID, body, nil); response != nil {
			writeJSON(w, http.StatusOK, response)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if s.jsonResponse {
		response := s.handleMessage(ctx, sessionID, body, s.streamSink(sessionID))
		writeJSON(w, http.StatusOK, response)
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.WithErr(err).Error("Failed to upgrade POST to SSE")
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	stream := newSSEStream(sess)
	defer stream.close()

	notify := func(method string, params interface{}) error {
		payload, err := marshalNotification(method, params)
		if err != nil {
			return err
		}
		return stream.send(payload)
	}

	response := s.handleMessage(ctx, sessionID, body, notify)
	payload, err := json.Marshal(response)
	if err != nil {
		s.logger.WithErr(err).Error("Failed to marshal response")
		return
	}
	if err = stream.send(payload); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"clientID": sessionID,
		}).WithErr(err).Warn("Failed to send response on SSE stream")
	}
}

// handleStream opens the session's server-to-client notification stream.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" || !s.hasSession(sessionID) {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.WithErr(err).Error("Failed to upgrade session")
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	// the stream must be registered before the headers are flushed
	stream := newSSEStream(sess)
	s.mu.Lock()
	if existing, ok := s.sessions[sessionID]; ok && existing != nil {
		existing.close()
	}
	s.sessions[sessionID] = stream
	s.mu.Unlock()

	connectedAt := time.Now()
	stream.mu.Lock()
	err = sess.Flush()
	stream.mu.Unlock()
	if err != nil {
		s.logger.WithErr(err).Error("Failed to flush SSE headers")
	} else {
		s.logger.WithFields(map[string]interface{}{
			"clientID": sessionID,
		}).Info("SSE stream opened")

		select {
		case <-r.Context().Done():
		case <-stream.done:
		}
	}

	s.mu.Lock()
	if current, ok := s.sessions[sessionID]; ok && current == stream {
		s.sessions[sessionID] = nil
	}
	s.mu.Unlock()
	stream.close()

	s.logger.WithFields(map[string]interface{}{
		"clientID":        sessionID,
		"connection_time": time.Since(connectedAt).String(),
	}).Info("SSE stream closed")
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" || !s.hasSession(sessionID) {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	s.removeSession(sessionID)
	w.WriteHeader(http.StatusOK)
}

func (s *HTTPServer) hasSession(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[sessionID]
	return ok
}

func (s *HTTPServer) removeSession(sessionID string) {
	s.mu.Lock()
	stream := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if stream != nil {
		stream.close()
	}
	s.endSession(sessionID)
}

// streamSink routes notifications to the session's GET stream. Without an
// open stream they are dropped.
func (s *HTTPServer) streamSink(sessionID string) NotificationSink {
	return func(method string, params interface{}) error {
		return s.sendNotification(sessionID, method, params)
	}
}

func (s *HTTPServer) sendNotification(sessionID string, method string, params interface{}) error {
	s.mu.RLock()
	stream := s.sessions[sessionID]
	s.mu.RUnlock()

	if stream == nil {
		s.logger.WithFields(map[string]interface{}{
			"clientID": sessionID,
			"method":   method,
		}).Debug("No open stream for session, dropping notification")
		return nil
	}

	payload, err := marshalNotification(method, params)
	if err != nil {
		return err
	}
	return stream.send(payload)
}

// Run acquires the lifespan, serves HTTP until ctx is done and releases the
// lifespan after the listener has shut down.
func (s *HTTPServer) Run(ctx context.Context) error {
	return s.lifecycle.Run(ctx, s.serve)
}

func (s *HTTPServer) serve(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "HTTPServer.serve")
	defer span.End()

	var err error
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	server := &http.Server{
		BaseContext: func(listener net.Listener) context.Context {
			return ctx
		},
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.WithFields(map[string]interface{}{
		"address": s.address,
		"path":    s.path,
	}).Info("Starting streamable HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Warn("Context cancelled. Closing all client streams...")

		s.mu.Lock()
		for _, stream := range s.sessions {
			if stream != nil {
				stream.close()
			}
		}
		s.mu.Unlock()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err = server.Shutdown(shutdownCtx); err != nil {
			s.logger.WithErr(err).Error("Error during server shutdown")
			return fmt.Errorf("error during server shutdown: %w", err)
		}

		s.logger.Info("Server gracefully shut down.")
		return nil
	case err = <-errChan:
		s.logger.WithErr(err).Error("Error starting server")
		return fmt.Errorf("server error: %w", err)
	}
}

func marshalNotification(method string, params interface{}) ([]byte, error) {
	notification := Notification{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsBytes, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal notification parameters: %w", err)
		}
		notification.Params = paramsBytes
	}
	return json.Marshal(notification)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func originAllowed(allowed []string, origin string) bool {
	return len(allowed) == 0 || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}
