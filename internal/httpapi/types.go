package httpapi

import "time"

// CreateSessionResult is POST /api/session/create's success body (spec §6).
type CreateSessionResult struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
	MCPURL    string `json:"mcp_url,omitempty"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

// ConnectSSHRequest is POST /api/ssh/connect's body.
type ConnectSSHRequest struct {
	SessionID  string `json:"session_id"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

// ConnectSSHResult is POST /api/ssh/connect's response.
type ConnectSSHResult struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

// SessionSummary is one entry of GET /api/sessions (supplemented feature,
// grounded on the teacher's pkg/sdk.ListSessions).
type SessionSummary struct {
	SessionID      string    `json:"session_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	SSHConnected   bool      `json:"ssh_connected"`
}

// ListSessionsResult is GET /api/sessions's response.
type ListSessionsResult struct {
	Sessions []SessionSummary `json:"sessions"`
}

// EndSessionResult is DELETE /api/session/{id}'s response.
type EndSessionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}
