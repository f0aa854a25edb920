package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/codes"

	"github.com/shaharia-lab/robomcp/observability"
)

// StdIOServer is the MCP server implementation using standard input/output.
// Messages are newline-delimited JSON-RPC.
type StdIOServer struct {
	*BaseServer
	in  io.Reader
	out io.Writer

	writeMu  sync.Mutex
	inflight sync.WaitGroup

	// closing is set before waiting on inflight; no request starts after it.
	closingMu sync.Mutex
	closing   bool
}

// NewStdIOServer creates a new StdIOServer.
func NewStdIOServer(baseServer *BaseServer, in io.Reader, out io.Writer) *StdIOServer {
	s := &StdIOServer{
		BaseServer: baseServer,
		in:         in,
		out:        out,
	}
	s.sendNoti = func(clientID string, method string, params interface{}) error {
		return s.sendNotification(method, params)
	}
	return s
}

// beginRequest registers one in-flight request. It reports false once the
// server is shutting down.
func (s *StdIOServer) beginRequest() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	if s.closing {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *StdIOServer) stopAccepting() {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()
}

func (s *StdIOServer) writeMessage(v interface{}) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	encoded = append(encoded, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(encoded); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (s *StdIOServer) sendResponse(response *Response) {
	if err := s.writeMessage(response); err != nil {
		s.logger.WithErr(err).Error("Failed to write response")
	}
}

func (s *StdIOServer) sendNotification(method string, params interface{}) error {
	notification := Notification{
		JSONRPC: "2.0",
		Method:  method,
	}
	if params != nil {
		paramsBytes, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal notification parameters: %w", err)
		}
		notification.Params = paramsBytes
	}
	return s.writeMessage(notification)
}

// Run acquires the lifespan, serves stdin until EOF or ctx is done and
// releases the lifespan once every in-flight request has finished.
func (s *StdIOServer) Run(ctx context.Context) error {
	return s.lifecycle.Run(ctx, s.serve)
}

func (s *StdIOServer) serve(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "StdIOServer.serve")
	defer span.End()

	var err error
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	scanner := bufio.NewScanner(s.in)
	buffer := make([]byte, 0, 64*1024)
	scanner.Buffer(buffer, 1024*1024)

	notify := func(method string, params interface{}) error {
		return s.sendNotification(method, params)
	}

	done := make(chan error, 1)
	go func() {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			if ctx.Err() != nil {
				break
			}

			raw := []byte(line)
			// initialize and notifications are handled in order so that
			// later requests observe their effects
			if !isConcurrentRequest(raw) {
				if !s.beginRequest() {
					break
				}
				if response := s.handleMessage(ctx, "", raw, notify); response != nil {
					s.sendResponse(response)
				}
				s.inflight.Done()
				continue
			}

			if !s.beginRequest() {
				break
			}
			go func() {
				defer s.inflight.Done()
				if response := s.handleMessage(ctx, "", raw, notify); response != nil {
					s.sendResponse(response)
				}
			}()
		}
		if scanErr := scanner.Err(); scanErr != nil {
			done <- fmt.Errorf("scanner error: %w", scanErr)
			return
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		s.logger.Debug("Context cancelled, StdIOServer shutting down....")
	case err = <-done:
		s.logger.WithErr(err).Debug("StdIOServer input closed, shutting down.")
	}

	s.stopAccepting()
	s.inflight.Wait()
	return err
}

func isConcurrentRequest(raw []byte) bool {
	var head struct {
		ID     *json.RawMessage `json:"id"`
		Method string           `json:"method"`
	}
	if json.Unmarshal(raw, &head) != nil {
		return false
	}
	return head.ID != nil && head.Method != "" && head.Method != "initialize"
}
