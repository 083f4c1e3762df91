// Package httpapi implements the Request Router (spec §4.8): the HTTP
// surface that maps inbound requests onto the Session Registry, Tool
// Service, and Event Gateway. Adapted from the teacher's pkg/api
// Handler/NewRouter split (pkg/api/handlers.go, pkg/api/routes.go).
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mylxsw/asteria/log"

	"github.com/opsco-dev/termcopilot/internal/apperr"
	"github.com/opsco-dev/termcopilot/internal/gateway"
	"github.com/opsco-dev/termcopilot/internal/session"
	"github.com/opsco-dev/termcopilot/internal/toolsvc"
)

// Handler wires the HTTP surface to the Registry and Tool Service.
type Handler struct {
	registry *session.Registry
	tools    *toolsvc.Service
}

// NewHandler creates a Handler.
func NewHandler(registry *session.Registry, tools *toolsvc.Service) *Handler {
	return &Handler{registry: registry, tools: tools}
}

// HandleCreateSession implements POST /api/session/create.
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.registry.Create()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, CreateSessionResult{
			Success: false,
			Error:   err.Error(),
			Kind:    string(apperr.KindOf(err)),
		})
		return
	}

	writeJSON(w, http.StatusOK, CreateSessionResult{
		Success:   true,
		SessionID: sess.ID,
		MCPURL:    "/mcp/" + sess.ID,
	})
}

// HandleConnectSSH implements POST /api/ssh/connect, reusing the Tool
// Service's ssh_connect logic directly (spec §4.8).
func (h *Handler) HandleConnectSSH(w http.ResponseWriter, r *http.Request) {
	var req ConnectSSHRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ConnectSSHResult{Success: false, Error: fmt.Sprintf("invalid request body: %v", err), Kind: string(apperr.KindInvalidArgument)})
		return
	}

	sess, ok := h.registry.Get(req.SessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, ConnectSSHResult{Success: false, SessionID: req.SessionID, Error: "session not found", Kind: string(apperr.KindSessionNotFound)})
		return
	}

	_, err := h.tools.SSHConnect(sess, toolsvc.SSHConnectArgs{
		Host:       req.Host,
		Port:       req.Port,
		Username:   req.Username,
		Password:   req.Password,
		PrivateKey: req.PrivateKey,
		Passphrase: req.Passphrase,
	})
	if err != nil {
		writeJSON(w, statusForErr(err), ConnectSSHResult{Success: false, SessionID: req.SessionID, Error: err.Error(), Kind: string(apperr.KindOf(err))})
		return
	}

	writeJSON(w, http.StatusOK, ConnectSSHResult{Success: true, SessionID: req.SessionID})
}

// HandleJSONRPC implements POST /mcp/{session_id}.
func (h *Handler) HandleJSONRPC(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	var req toolsvc.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON-RPC request: %v", err), http.StatusBadRequest)
		return
	}

	resp := h.tools.Dispatch(r.Context(), sess, req)
	writeJSON(w, http.StatusOK, resp)
}

// HandleSSEEvents implements GET /mcp/{session_id}/events.
func (h *Handler) HandleSSEEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}
	gateway.ServeApprovalEvents(w, r, sess)
}

// HandleAITerminal implements the AI-terminal websocket upgrade.
func (h *Handler) HandleAITerminal(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}
	gateway.ServeAITerminal(w, r, sess)
}

// HandleSSHTerminal implements the SSH-terminal websocket upgrade.
func (h *Handler) HandleSSHTerminal(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}
	gateway.ServeSSHTerminal(w, r, sess)
}

// HandleApprovals implements the approval-stream websocket upgrade.
func (h *Handler) HandleApprovals(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}
	gateway.ServeApprovals(w, r, sess)
}

// HandleEndSession implements DELETE /api/session/{session_id}.
func (h *Handler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session_id"]
	if err := h.registry.End(id); err != nil {
		writeJSON(w, statusForErr(err), EndSessionResult{Success: false, Error: err.Error(), Kind: string(apperr.KindOf(err))})
		return
	}
	writeJSON(w, http.StatusOK, EndSessionResult{Success: true})
}

// HandleListSessions implements the supplemented GET /api/sessions listing
// endpoint (SPEC_FULL.md's "Session summaries").
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries := h.registry.Summaries()
	out := make([]SessionSummary, len(summaries))
	for i, s := range summaries {
		out[i] = SessionSummary{
			SessionID:      s.SessionID,
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActivityAt,
			SSHConnected:   s.SSHConnected,
		}
	}
	writeJSON(w, http.StatusOK, ListSessionsResult{Sessions: out})
}

// HandleHealth implements GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) sessionFromPath(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := mux.Vars(r)["session_id"]
	sess, ok := h.registry.Get(id)
	if !ok {
		http.Error(w, "session_not_found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func statusForErr(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindSessionNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidArgument:
		return http.StatusBadRequest
	case apperr.KindAuthFailed, apperr.KindHostUnreachable, apperr.KindTransportFailed, apperr.KindConnectTimeout, apperr.KindClosed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("httpapi: encode response: %v", err)
	}
}
