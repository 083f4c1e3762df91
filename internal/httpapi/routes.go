package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter creates the HTTP router wiring every component of the co-pilot
// together (spec §6 "EXTERNAL INTERFACES").
func NewRouter(handler *Handler) *mux.Router {
	router := mux.NewRouter()

	router.Use(LoggingMiddleware)
	router.Use(RecoveryMiddleware)

	router.HandleFunc("/api/session/create", handler.HandleCreateSession).Methods(http.MethodPost)
	router.HandleFunc("/api/ssh/connect", handler.HandleConnectSSH).Methods(http.MethodPost)
	router.HandleFunc("/api/sessions", handler.HandleListSessions).Methods(http.MethodGet)
	router.HandleFunc("/api/session/{session_id}", handler.HandleEndSession).Methods(http.MethodDelete)

	router.HandleFunc("/mcp/{session_id}", handler.HandleJSONRPC).Methods(http.MethodPost)
	router.HandleFunc("/mcp/{session_id}/events", handler.HandleSSEEvents).Methods(http.MethodGet)

	router.HandleFunc("/ws/gemini-terminal/{session_id}", handler.HandleAITerminal)
	router.HandleFunc("/ws/ssh-terminal/{session_id}", handler.HandleSSHTerminal)
	router.HandleFunc("/ws/commands/{session_id}", handler.HandleApprovals)

	router.HandleFunc("/health", handler.HandleHealth).Methods(http.MethodGet)

	return router
}
