package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/robomcp/observability"
)

func newTestHTTPServer(t *testing.T, opts ...ServerConfigOption) (*HTTPServer, *httptest.Server) {
	t.Helper()
	reg := dispatchRegistry(t)
	require.NoError(t, reg.RegisterTool("report", nil, func(rc *RequestContext, args Arguments) (string, error) {
		if err := rc.ReportProgress(0.5, 1, "halfway"); err != nil {
			return "", err
		}
		if err := rc.Info("reported"); err != nil {
			return "", err
		}
		return "report done", nil
	}))

	lc := NewLifecycle(func(ctx context.Context) (interface{}, ReleaseFunc, error) {
		return &testLifespan{name: "arm-1"}, nil, nil
	}, nil)
	require.NoError(t, lc.Start(context.Background()))
	t.Cleanup(func() { _ = lc.Stop(context.Background()) })

	base, err := NewBaseServer(reg, lc, append([]ServerConfigOption{UseLogger(observability.NewNullLogger())}, opts...)...)
	require.NoError(t, err)

	s := NewHTTPServer(base)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, url, sessionID, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func initializeSession(t *testing.T, url string) string {
	t.Helper()
	resp := post(t, url, "", initializeRequest)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionID := resp.Header.Get(HeaderSessionID)
	require.NotEmpty(t, sessionID)

	resp = post(t, url, sessionID, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	return sessionID
}

func TestHTTPServer_JSONResponses(t *testing.T) {
	_, ts := newTestHTTPServer(t)
	url := ts.URL + "/mcp"

	sessionID := initializeSession(t, url)

	resp := post(t, url, sessionID, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"move","arguments":{"position":0.5}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body := decodeBody(t, resp)
	content := body["result"].(map[string]interface{})["content"].([]interface{})
	assert.Equal(t, "moved to 0.50", content[0].(map[string]interface{})["text"])

	resp = post(t, url, sessionID, `{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"robot://joints/shoulder_roll"}}`)
	body = decodeBody(t, resp)
	contents := body["result"].(map[string]interface{})["contents"].([]interface{})
	assert.Equal(t, "joint shoulder_roll", contents[0].(map[string]interface{})["text"])

	resp = post(t, url, sessionID, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"report"}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "notifications without a stream are dropped")
}

func TestHTTPServer_SessionErrors(t *testing.T) {
	_, ts := newTestHTTPServer(t)
	url := ts.URL + "/mcp"

	tests := []struct {
		name       string
		sessionID  string
		body       string
		wantStatus int
	}{
		{name: "missing session", body: `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, wantStatus: http.StatusBadRequest},
		{name: "unknown session", sessionID: "nope", body: `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, wantStatus: http.StatusNotFound},
		{name: "parse error", body: `{"jsonrpc"`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, url, tt.sessionID, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}

	sessionID := initializeSession(t, url)

	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	req.Header.Set(HeaderSessionID, sessionID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, url, sessionID, `{"jsonrpc":"2.0","id":5,"method":"tools/list"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPut, url, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPServer_Origins(t *testing.T) {
	_, ts := newTestHTTPServer(t, UseAllowedOrigins("https://console.example"))
	url := ts.URL + "/mcp"

	tests := []struct {
		name       string
		origin     string
		method     string
		wantStatus int
	}{
		{name: "allowed preflight", origin: "https://console.example", method: http.MethodOptions, wantStatus: http.StatusOK},
		{name: "rejected origin", origin: "https://evil.example", method: http.MethodPost, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, url, strings.NewReader(initializeRequest))
			require.NoError(t, err)
			req.Header.Set("Origin", tt.origin)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

// readEvents collects the data lines of an SSE body.
func readEvents(t *testing.T, r io.Reader, n int) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() && len(out) < n {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &msg))
		out = append(out, msg)
	}
	return out
}

func TestHTTPServer_SSEResponses(t *testing.T) {
	_, ts := newTestHTTPServer(t, UseJSONResponse(false))
	url := ts.URL + "/mcp"
	sessionID := initializeSession(t, url)

	resp := post(t, url, sessionID, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"report"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := readEvents(t, resp.Body, 3)
	require.Len(t, events, 3)
	assert.Equal(t, MethodProgress, events[0]["method"])
	assert.Equal(t, float64(7), events[0]["params"].(map[string]interface{})["progressToken"])
	assert.Equal(t, MethodLogMessage, events[1]["method"])
	assert.Equal(t, float64(7), events[2]["id"])
	content := events[2]["result"].(map[string]interface{})["content"].([]interface{})
	assert.Equal(t, "report done", content[0].(map[string]interface{})["text"])
}

func TestHTTPServer_GetStreamReceivesNotifications(t *testing.T) {
	_, ts := newTestHTTPServer(t)
	url := ts.URL + "/mcp"
	sessionID := initializeSession(t, url)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set(HeaderSessionID, sessionID)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)

	resp := post(t, url, sessionID, `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"report"}}`)
	body := decodeBody(t, resp)
	assert.Nil(t, body["error"])

	events := readEvents(t, stream.Body, 2)
	require.Len(t, events, 2)
	assert.Equal(t, MethodProgress, events[0]["method"])
	assert.Equal(t, "reported", events[1]["params"].(map[string]interface{})["data"])

	req, err = http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set(HeaderSessionID, "unknown")
	missing, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, originAllowed(nil, "https://a"))
	assert.True(t, originAllowed([]string{"*"}, "https://a"))
	assert.True(t, originAllowed([]string{"https://a"}, "https://a"))
	assert.False(t, originAllowed([]string{"https://a"}, "https://b"))
}
