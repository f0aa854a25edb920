package mcp

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shaharia-lab/robomcp/observability"
)

const (
	LatestProtocolVersion = "2025-03-26"
	defaultServerName     = "robomcp"
	serverVersion         = "0.1.0"
)

var supportedProtocolVersions = []string{"2025-03-26", "2024-11-05"}

// ServerConfig holds all configuration for BaseServer and the transports.
type ServerConfig struct {
	logger         observability.Logger
	serverName     string
	serverVersion  string
	instructions   string
	minLogLevel    LogLevel
	address        string
	endpointPath   string
	jsonResponse   bool
	allowedOrigins []string
}

// ServerConfigOption is a function that modifies ServerConfig
type ServerConfigOption func(*ServerConfig)

// UseLogger sets a custom logger
func UseLogger(logger observability.Logger) ServerConfigOption {
	return func(c *ServerConfig) {
		c.logger = logger
	}
}

// UseServerInfo sets server name and version
func UseServerInfo(name, version string) ServerConfigOption {
	return func(c *ServerConfig) {
		c.serverName = name
		c.serverVersion = version
	}
}

// UseInstructions sets the instructions returned from initialize.
func UseInstructions(instructions string) ServerConfigOption {
	return func(c *ServerConfig) {
		c.instructions = instructions
	}
}

// UseLogLevel sets the initial minimum level of client log notifications.
func UseLogLevel(level LogLevel) ServerConfigOption {
	return func(c *ServerConfig) {
		c.minLogLevel = level
	}
}

// UseAddress sets the listen address of network transports.
func UseAddress(address string) ServerConfigOption {
	return func(c *ServerConfig) {
		c.address = address
	}
}

// UseEndpointPath sets the HTTP path the MCP endpoint is mounted on.
func UseEndpointPath(path string) ServerConfigOption {
	return func(c *ServerConfig) {
		c.endpointPath = path
	}
}

// UseJSONResponse makes POST requests answer with a plain JSON body
// instead of an SSE stream.
func UseJSONResponse(enabled bool) ServerConfigOption {
	return func(c *ServerConfig) {
		c.jsonResponse = enabled
	}
}

// UseAllowedOrigins restricts browser origins for HTTP and websocket
// transports. Empty allows all.
func UseAllowedOrigins(origins ...string) ServerConfigOption {
	return func(c *ServerConfig) {
		c.allowedOrigins = origins
	}
}

func defaultConfig() *ServerConfig {
	return &ServerConfig{
		logger:        observability.NewDefaultLogger(),
		serverName:    defaultServerName,
		serverVersion: serverVersion,
		minLogLevel:   LogLevelInfo,
		address:       ":8000",
		endpointPath:  "/mcp",
		jsonResponse:  true,
	}
}

type clientSession struct {
	initialized     bool
	protocolVersion string
	minLogLevel     LogLevel // empty until logging/setLevel
}

// BaseServer maps MCP JSON-RPC methods onto the Dispatcher. Transports
// embed it and feed it raw messages.
type BaseServer struct {
	config       *ServerConfig
	logger       observability.Logger
	ServerInfo   ServerInfo
	capabilities Capabilities

	registry   *Registry
	lifecycle  *Lifecycle
	dispatcher *Dispatcher

	sessionsMu sync.RWMutex
	sessions   map[string]*clientSession

	// sendNoti delivers a notification outside of any request.
	sendNoti func(clientID string, method string, params interface{}) error
}

// NewBaseServer creates a new BaseServer instance with the given options
func NewBaseServer(registry *Registry, lifecycle *Lifecycle, opts ...ServerConfigOption) (*BaseServer, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	dispatcher := NewDispatcher(registry, lifecycle, cfg.logger)
	if err := dispatcher.SetLogLevel(cfg.minLogLevel); err != nil {
		return nil, err
	}

	return &BaseServer{
		config: cfg,
		logger: cfg.logger,
		ServerInfo: ServerInfo{
			Name:    cfg.serverName,
			Version: cfg.serverVersion,
		},
		capabilities: Capabilities{
			Logging:   &struct{}{},
			Resources: &CapabilitiesResources{},
			Tools:     &CapabilitiesTools{},
			Prompts:   &CapabilitiesPrompts{},
		},
		registry:   registry,
		lifecycle:  lifecycle,
		dispatcher: dispatcher,
		sessions:   make(map[string]*clientSession),
		sendNoti:   func(clientID string, method string, params interface{}) error { return nil },
	}, nil
}

// Dispatcher exposes the request dispatcher.
func (s *BaseServer) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// clientLogLevel is the minimum log level clientID asked for, or the
// server default.
func (s *BaseServer) clientLogLevel(clientID string) LogLevel {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	if sess, ok := s.sessions[clientID]; ok && sess.minLogLevel != "" {
		return sess.minLogLevel
	}
	return s.dispatcher.LogLevel()
}

func (s *BaseServer) setClientLogLevel(clientID string, level LogLevel) error {
	if _, err := ParseLogLevel(string(level)); err != nil {
		return err
	}
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sess, ok := s.sessions[clientID]
	if !ok {
		return Errorf(ProtocolError, "unknown client %s", clientID)
	}
	sess.minLogLevel = level
	return nil
}

// LogMessage sends a log notification to clientID outside of a request.
func (s *BaseServer) LogMessage(clientID string, level LogLevel, loggerName string, data interface{}) {
	if !level.Enabled(s.clientLogLevel(clientID)) {
		return
	}

	params := LogMessageParams{
		Level:  level,
		Logger: loggerName,
		Data:   data,
	}
	if err := s.sendNoti(clientID, MethodLogMessage, params); err != nil {
		s.logger.WithErr(err).Debug("Failed to send log notification")
	}
}

func (s *BaseServer) isInitialized(clientID string) bool {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	sess, ok := s.sessions[clientID]
	return ok && sess.initialized
}

func (s *BaseServer) endSession(clientID string) {
	s.sessionsMu.Lock()
	delete(s.sessions, clientID)
	s.sessionsMu.Unlock()
}

// handleMessage decodes one raw JSON-RPC message and returns the response
// to send, or nil when the message needs no response.
func (s *BaseServer) handleMessage(ctx context.Context, clientID string, raw []byte, notify NotificationSink) *Response {
	var head struct {
		ID     *json.RawMessage `json:"id"`
		Method string           `json:"method"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
		}).WithErr(err).Error("Failed to unmarshal message")
		return newErrorResponse(nil, &Error{Code: ErrorCodeParseError, Message: "Parse error"})
	}

	if head.Method == "" {
		if head.ID != nil {
			return newErrorResponse(head.ID, &Error{Code: ErrorCodeInvalidRequest, Message: "Invalid Request"})
		}
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
		}).Debug("Ignoring message without method")
		return nil
	}

	if head.ID == nil {
		var notification Notification
		if err := json.Unmarshal(raw, &notification); err != nil {
			s.logger.WithErr(err).Error("Failed to unmarshal notification")
			return nil
		}
		s.handleNotification(ctx, clientID, &notification)
		return nil
	}

	var request Request
	if err := json.Unmarshal(raw, &request); err != nil {
		return newErrorResponse(head.ID, &Error{Code: ErrorCodeInvalidRequest, Message: "Invalid Request"})
	}

	if request.Method != "initialize" && request.Method != "ping" && !s.isInitialized(clientID) {
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
			"method":   request.Method,
		}).Warn("Received request before 'initialize'")
		return newErrorResponse(request.ID, &Error{Code: ErrorCodeNotInitialized, Message: "Server not initialized"})
	}

	return s.handleRequest(ctx, clientID, &request, notify)
}

// handleRequest handles incoming requests.  Common to all transports.
func (s *BaseServer) handleRequest(ctx context.Context, clientID string, request *Request, notify NotificationSink) *Response {
	s.logger.WithFields(map[string]interface{}{
		"clientID": clientID,
		"method":   request.Method,
		"id":       rawID(request.ID),
	}).Debug("Received request from client")

	switch request.Method {
	case "initialize":
		return s.handleInitialize(ctx, clientID, request)
	case "ping":
		return newResponse(request.ID, struct{}{})
	case "resources/list":
		return s.handleResourcesList(ctx, clientID, request)
	case "resources/templates/list":
		return s.handleResourceTemplatesList(ctx, clientID, request)
	case "resources/read":
		return s.handleResourcesRead(ctx, clientID, request, notify)
	case "tools/list":
		return s.handleToolsList(ctx, clientID, request)
	case "tools/call":
		return s.handleToolsCall(ctx, clientID, request, notify)
	case "prompts/list":
		return s.handlePromptsList(ctx, clientID, request)
	case "prompts/get":
		return s.handlePromptGet(ctx, clientID, request)
	case "logging/setLevel":
		return s.handleLoggingSetLevel(ctx, clientID, request)
	}

	s.logger.WithFields(map[string]interface{}{
		"clientID": clientID,
		"method":   request.Method,
		"id":       rawID(request.ID),
	}).Warn("Method not found. Unhandled request from client")

	return newErrorResponse(request.ID, &Error{Code: ErrorCodeMethodNotFound, Message: "Method not found"})
}

func (s *BaseServer) handleInitialize(ctx context.Context, clientID string, request *Request) *Response {
	_, span := observability.StartSpan(ctx, "BaseServer.handleInitialize")
	defer span.End()

	var params InitializeParams
	if err := json.Unmarshal(request.Params, &params); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.WithErr(err).Error("Failed to parse initialize params")
		return invalidParams(request.ID, "Invalid params")
	}

	version := params.ProtocolVersion
	if !slices.Contains(supportedProtocolVersions, version) {
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
			"version":  params.ProtocolVersion,
		}).Warn("Unsupported protocol version requested, offering latest")
		version = LatestProtocolVersion
	}

	s.sessionsMu.Lock()
	s.sessions[clientID] = &clientSession{initialized: true, protocolVersion: version}
	s.sessionsMu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"clientID": clientID,
		"client":   params.ClientInfo.Name,
		"version":  version,
	}).Info("Client initialized")

	return newResponse(request.ID, InitializeResult{
		ProtocolVersion: version,
		Capabilities:    s.capabilities,
		ServerInfo:      s.ServerInfo,
		Instructions:    s.config.instructions,
	})
}

func (s *BaseServer) handleResourcesList(ctx context.Context, clientID string, request *Request) *Response {
	_, span := observability.StartSpan(ctx, "BaseServer.handleResourcesList")
	defer span.End()

	var params ListParams
	if err := unmarshalParams(request.Params, &params); err != nil {
		s.logger.WithErr(err).Error("Failed to parse list resources params")
		return invalidParams(request.ID, "Invalid params")
	}

	result := s.registry.ListResources(params.Cursor, 0)
	span.SetAttributes(attribute.Int("num_resources", len(result.Resources)))
	return newResponse(request.ID, result)
}

func (s *BaseServer) handleResourceTemplatesList(ctx context.Context, clientID string, request *Request) *Response {
	_, span := observability.StartSpan(ctx, "BaseServer.handleResourceTemplatesList")
	defer span.End()

	var params ListParams
	if err := unmarshalParams(request.Params, &params); err != nil {
		s.logger.WithErr(err).Error("Failed to parse list resource templates params")
		return invalidParams(request.ID, "Invalid params")
	}

	result := s.registry.ListResourceTemplates(params.Cursor, 0)
	span.SetAttributes(attribute.Int("num_templates", len(result.ResourceTemplates)))
	return newResponse(request.ID, result)
}

func (s *BaseServer) handleResourcesRead(ctx context.Context, clientID string, request *Request, notify NotificationSink) *Response {
	ctx, span := observability.StartSpan(ctx, "BaseServer.handleResourcesRead")
	defer span.End()

	var err error
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	var params ReadResourceParams
	if err = json.Unmarshal(request.Params, &params); err != nil || params.URI == "" {
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
			"request":  rawID(request.ID),
			"params":   string(request.Params),
		}).WithErr(err).Error("Failed to parse read resource params")
		return invalidParams(request.ID, "Invalid params")
	}

	span.SetAttributes(attribute.String("uri", params.URI))

	result, err := s.dispatcher.Dispatch(ctx, Envelope{
		Kind:          EnvelopeResourceRead,
		Target:        params.URI,
		RequestID:     requestKey(clientID, request.ID),
		ProgressToken: progressToken(params.Meta, request.ID),
		MinLogLevel:   func() LogLevel { return s.clientLogLevel(clientID) },
	}, notify)
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
			"request":  rawID(request.ID),
			"uri":      params.URI,
		}).WithErr(err).Error("Failed to read resource")
		return s.errorResponse(request.ID, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"clientID": clientID,
		"request":  rawID(request.ID),
		"uri":      params.URI,
	}).Debug("Resource read successfully")

	return newResponse(request.ID, ReadResourceResult{
		Contents: []ResourceContent{{
			URI:      params.URI,
			MimeType: result.MimeType,
			Text:     result.Text,
		}},
	})
}

func (s *BaseServer) handleToolsList(ctx context.Context, clientID string, request *Request) *Response {
	_, span := observability.StartSpan(ctx, "BaseServer.handleToolsList")
	defer span.End()

	var params ListParams
	if err := unmarshalParams(request.Params, &params); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
			"request":  rawID(request.ID),
			"params":   string(request.Params),
		}).WithErr(err).Error("Failed to parse list tools params")
		return invalidParams(request.ID, "Invalid params")
	}

	result := s.registry.ListTools(params.Cursor, 0)
	span.SetAttributes(attribute.String("cursor", params.Cursor), attribute.Int("num_tools", len(result.Tools)))
	return newResponse(request.ID, result)
}

func (s *BaseServer) handleToolsCall(ctx context.Context, clientID string, request *Request, notify NotificationSink) *Response {
	ctx, span := observability.StartSpan(ctx, "BaseServer.handleToolsCall")
	defer span.End()

	var err error
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	var params CallToolParams
	if err = json.Unmarshal(request.Params, &params); err != nil || params.Name == "" {
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
			"request":  rawID(request.ID),
			"params":   string(request.Params),
		}).WithErr(err).Error("Failed to parse call tool params")
		return invalidParams(request.ID, "Invalid params")
	}

	s.logger.WithFields(map[string]interface{}{
		"clientID": clientID,
		"request":  rawID(request.ID),
		"tool":     params.Name,
	}).Debug("Calling tool")

	span.SetAttributes(attribute.String("tool", params.Name))

	result, err := s.dispatcher.Dispatch(ctx, Envelope{
		Kind:          EnvelopeToolCall,
		Target:        params.Name,
		Arguments:     params.Arguments,
		RequestID:     requestKey(clientID, request.ID),
		ProgressToken: progressToken(params.Meta, request.ID),
		MinLogLevel:   func() LogLevel { return s.clientLogLevel(clientID) },
	}, notify)
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
			"request":  rawID(request.ID),
			"tool":     params.Name,
		}).WithErr(err).Error("Failed to call tool")
		return s.errorResponse(request.ID, err)
	}

	return newResponse(request.ID, CallToolResult{
		Content: []ToolResultContent{{Type: "text", Text: result.Text}},
		IsError: result.IsError,
	})
}

func (s *BaseServer) handlePromptsList(ctx context.Context, clientID string, request *Request) *Response {
	_, span := observability.StartSpan(ctx, "BaseServer.handlePromptsList")
	defer span.End()

	var params ListParams
	if err := unmarshalParams(request.Params, &params); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
			"request":  rawID(request.ID),
			"params":   string(request.Params),
		}).WithErr(err).Error("Failed to parse list prompts params")
		return invalidParams(request.ID, "Invalid params")
	}

	result := s.registry.ListPrompts(params.Cursor, 0)
	span.SetAttributes(attribute.Int("num_prompts", len(result.Prompts)))
	return newResponse(request.ID, result)
}

func (s *BaseServer) handlePromptGet(ctx context.Context, clientID string, request *Request) *Response {
	ctx, span := observability.StartSpan(ctx, "BaseServer.handlePromptGet")
	defer span.End()

	var err error
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	var params GetPromptParams
	if err = json.Unmarshal(request.Params, &params); err != nil || params.Name == "" {
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
			"request":  rawID(request.ID),
			"params":   string(request.Params),
		}).WithErr(err).Error("Failed to parse get prompt params")
		return invalidParams(request.ID, "Invalid params")
	}

	span.SetAttributes(attribute.String("prompt", params.Name))

	result, err := s.dispatcher.Dispatch(ctx, Envelope{
		Kind:      EnvelopePromptRender,
		Target:    params.Name,
		Arguments: params.Arguments,
		RequestID: requestKey(clientID, request.ID),
	}, nil)
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
			"request":  rawID(request.ID),
			"prompt":   params.Name,
		}).WithErr(err).Error("Failed to render prompt")
		return s.errorResponse(request.ID, err)
	}

	description := ""
	if entry, findErr := s.registry.FindPrompt(params.Name); findErr == nil {
		description = entry.Description
	}

	return newResponse(request.ID, GetPromptResult{
		Description: description,
		Messages: []PromptMessage{{
			Role:    "user",
			Content: PromptContent{Type: "text", Text: result.Text},
		}},
	})
}

func (s *BaseServer) handleLoggingSetLevel(ctx context.Context, clientID string, request *Request) *Response {
	_, span := observability.StartSpan(ctx, "BaseServer.handleLoggingSetLevel")
	defer span.End()

	var params SetLogLevelParams
	if err := json.Unmarshal(request.Params, &params); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
			"request":  rawID(request.ID),
			"params":   string(request.Params),
		}).WithErr(err).Error("Failed to parse set log level params")
		return invalidParams(request.ID, "Invalid params")
	}

	if err := s.setClientLogLevel(clientID, params.Level); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
			"level":    params.Level,
		}).Error("Invalid log level")
		return invalidParams(request.ID, "Invalid log level")
	}

	span.SetAttributes(attribute.String("level", string(params.Level)))
	return newResponse(request.ID, struct{}{})
}

// handleNotification handles incoming notifications.  Common to all transports.
func (s *BaseServer) handleNotification(ctx context.Context, clientID string, notification *Notification) {
	s.logger.WithFields(map[string]interface{}{
		"clientID": clientID,
		"method":   notification.Method,
	}).Debug("Received notification from client")

	switch notification.Method {
	case "notifications/initialized":
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
		}).Debug("Client confirmed initialization")
	case "notifications/cancelled":
		var params CancelledParams
		if err := json.Unmarshal(notification.Params, &params); err != nil || len(params.RequestID) == 0 {
			s.logger.WithErr(err).Warn("Malformed cancellation notification")
			return
		}
		id := params.RequestID
		cancelled := s.dispatcher.Cancel(requestKey(clientID, &id))
		s.logger.WithFields(map[string]interface{}{
			"clientID":  clientID,
			"requestID": string(params.RequestID),
			"reason":    params.Reason,
			"found":     cancelled,
		}).Debug("Cancellation requested")
	default:
		s.logger.WithFields(map[string]interface{}{
			"clientID": clientID,
			"method":   notification.Method,
		}).Warn("Unhandled notification from client")
	}
}

func (s *BaseServer) errorResponse(id *json.RawMessage, err error) *Response {
	if e, ok := AsError(err); ok {
		return newErrorResponse(id, e)
	}
	return newErrorResponse(id, &Error{Code: ErrorCodeInternal, Message: "Internal error"})
}

func invalidParams(id *json.RawMessage, message string) *Response {
	return newErrorResponse(id, &Error{Code: ErrorCodeInvalidParams, Message: message})
}

// unmarshalParams tolerates absent params.
func unmarshalParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func rawID(id *json.RawMessage) string {
	if id == nil {
		return ""
	}
	return string(*id)
}

// requestKey scopes a JSON-RPC id to the client that sent it.
func requestKey(clientID string, id *json.RawMessage) string {
	return clientID + "|" + rawID(id)
}

func progressToken(meta *RequestMeta, id *json.RawMessage) interface{} {
	raw := json.RawMessage(nil)
	if meta != nil && len(meta.ProgressToken) > 0 {
		raw = meta.ProgressToken
	} else if id != nil {
		raw = *id
	}
	var token interface{}
	if len(raw) == 0 || json.Unmarshal(raw, &token) != nil {
		return nil
	}
	return token
}
