package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/opsco-dev/termcopilot/internal/session"
	"github.com/opsco-dev/termcopilot/internal/toolsvc"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	registry := session.NewRegistry(ctx, "/bin/sh", []string{"-c", "cat"}, nil)
	return NewHandler(registry, toolsvc.New(toolsvc.Config{}))
}

func TestHandleCreateSession(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/session/create", nil)
	rr := httptest.NewRecorder()

	h.HandleCreateSession(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp CreateSessionResult
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.SessionID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleJSONRPCUnknownSessionIs404(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp/does-not-exist", bytes.NewBufferString(`{}`))
	req = mux.SetURLVars(req, map[string]string{"session_id": "does-not-exist"})
	rr := httptest.NewRecorder()

	h.HandleJSONRPC(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHandleJSONRPCDispatchesSSHReadOutput(t *testing.T) {
	h := newTestHandler(t)

	createReq := httptest.NewRequest(http.MethodPost, "/api/session/create", nil)
	createRR := httptest.NewRecorder()
	h.HandleCreateSession(createRR, createReq)
	var created CreateSessionResult
	json.Unmarshal(createRR.Body.Bytes(), &created)

	sess, _ := h.registry.Get(created.SessionID)
	sess.Output.Append([]byte("some output\n"))

	body, _ := json.Marshal(toolsvc.JSONRPCRequest{JSONRPC: "2.0", Method: "ssh_read_output", ID: json.RawMessage(`1`)})
	req := httptest.NewRequest(http.MethodPost, "/mcp/"+created.SessionID, bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"session_id": created.SessionID})
	rr := httptest.NewRecorder()

	h.HandleJSONRPC(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp toolsvc.JSONRPCResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	h.registry.End(created.SessionID)
}

func TestHandleEndSessionIsIdempotentlyNotFoundAfterFirstCall(t *testing.T) {
	h := newTestHandler(t)

	sess, err := h.registry.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/session/"+sess.ID, nil)
	req = mux.SetURLVars(req, map[string]string{"session_id": sess.ID})
	rr := httptest.NewRecorder()
	h.HandleEndSession(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on first end, got %d", rr.Code)
	}

	rr2 := httptest.NewRecorder()
	h.HandleEndSession(rr2, req)
	if rr2.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second end, got %d", rr2.Code)
	}
}

func TestHandleListSessions(t *testing.T) {
	h := newTestHandler(t)

	sess, err := h.registry.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer h.registry.End(sess.ID)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rr := httptest.NewRecorder()
	h.HandleListSessions(rr, req)

	var resp ListSessionsResult
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	found := false
	for _, s := range resp.Sessions {
		if s.SessionID == sess.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected to find session %s in listing: %+v", sess.ID, resp.Sessions)
	}
}

func TestNewRouterRespondsToHealth(t *testing.T) {
	h := newTestHandler(t)
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
