// Package gateway implements the Event Gateway (spec §4.6): three
// full-duplex websocket streams per session (AI terminal, SSH terminal,
// approval) plus one server-sent-events stream for tool-call subscribers.
// Frame shape and the websocket.Upgrader/CheckOrigin pattern are grounded on
// cloudbro-kube-ai-k13d/pkg/web/terminal.go's TerminalMessage and upgrader,
// generalized from one remotecommand-backed terminal to three
// independently-sourced byte/event streams.
package gateway

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mylxsw/asteria/log"

	"github.com/opsco-dev/termcopilot/internal/approval"
	"github.com/opsco-dev/termcopilot/internal/session"
)

// TerminalFrame is the framed JSON schema shared by the AI-terminal and
// SSH-terminal streams (spec §4.6.1, §4.6.2).
type TerminalFrame struct {
	Kind    string `json:"kind"` // "input" | "resize" | "output" | "error"
	Data    string `json:"data,omitempty"`
	Cols    int    `json:"cols,omitempty"`
	Rows    int    `json:"rows,omitempty"`
	Message string `json:"message,omitempty"`
}

// ApprovalFrame is the framed JSON schema for the approval stream (spec
// §4.6.3) and the SSE stream (spec §4.6.4, one-way subset).
type ApprovalFrame struct {
	Kind       string `json:"kind"` // "command_requested" | "command_approved" | "command_rejected" | "command_decision"
	ApprovalID string `json:"approval_id,omitempty"`
	Command    string `json:"command,omitempty"`
	Approved   *bool  `json:"approved,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if os.Getenv("COPILOT_DEV") == "true" {
		return true
	}
	allowed := os.Getenv("COPILOT_WS_ALLOWED_ORIGINS")
	if allowed == "" {
		return true
	}
	for _, a := range strings.Split(allowed, ",") {
		if origin == a {
			return true
		}
	}
	return false
}

const writeWait = 10 * time.Second

// ServeAITerminal upgrades r and bridges it to sess's PTY Supervisor.
func ServeAITerminal(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("gateway: ai-terminal upgrade: %v", err)
		return
	}
	defer conn.Close()

	bridgeTerminal(sess, conn, sess.PTY.Subscribe, func(p []byte) error { return sess.PTY.Write(p) }, sess.PTY.Resize)
}

// ServeSSHTerminal upgrades r and bridges it to sess's SSH shell, if one is
// attached. If no SSH shell is attached yet, the stream immediately sends a
// terminal error frame and closes (spec §7: "each stream transmits a
// terminal error frame before closing").
func ServeSSHTerminal(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("gateway: ssh-terminal upgrade: %v", err)
		return
	}
	defer conn.Close()

	shell := sess.SSH()
	if shell == nil {
		writeFrame(conn, TerminalFrame{Kind: "error", Message: "no ssh connection on this session"})
		return
	}

	bridgeTerminal(sess, conn, shell.Subscribe, shell.Write, shell.Resize)
}

// bridgeTerminal is shared by the AI-terminal and SSH-terminal streams: both
// are "subscribe to a byte broadcaster, write input frames to a sink, relay
// resize frames" with the same framing (spec §4.6: "identical schema").
func bridgeTerminal(sess *session.Session, conn *websocket.Conn, subscribe func() (<-chan []byte, func()), write func([]byte) error, resize func(int, int) error) {
	out, unsubscribe := subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range out {
			if err := writeFrame(conn, TerminalFrame{Kind: "output", Data: string(chunk)}); err != nil {
				return
			}
		}
	}()

	for {
		var frame TerminalFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		sess.Touch()
		switch frame.Kind {
		case "input":
			if err := write([]byte(frame.Data)); err != nil {
				writeFrame(conn, TerminalFrame{Kind: "error", Message: err.Error()})
			}
		case "resize":
			_ = resize(frame.Cols, frame.Rows)
		}
	}

	<-done
}

func writeFrame(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ServeApprovals upgrades r and bridges it to sess's Approval Channel: on
// attach, outstanding requests are replayed immediately (via
// approval.Channel.Subscribe), and incoming command_decision frames are
// applied via Decide. Every attached connection — not just the one that
// called Decide — observes the resulting command_approved/command_rejected
// outcome, since Decide broadcasts the resolution to every subscriber
// (spec §4.1: "the first decision wins", observed by all).
func ServeApprovals(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("gateway: approval upgrade: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := sess.Approval.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range events {
			if err := writeFrame(conn, approvalOutcomeFrame(evt)); err != nil {
				return
			}
		}
	}()

	for {
		var frame ApprovalFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		if frame.Kind != "command_decision" || frame.Approved == nil {
			continue
		}
		decision := approval.Rejected
		if *frame.Approved {
			decision = approval.Approved
		}
		if err := sess.Approval.Decide(frame.ApprovalID, decision); err != nil {
			log.Debugf("session %s: approval decide %s: %v", sess.ID, frame.ApprovalID, err)
		}
	}

	<-done
}

// approvalOutcomeFrame translates an approval.Event into the wire frame for
// either a fresh request or a reached decision.
func approvalOutcomeFrame(evt approval.Event) ApprovalFrame {
	if evt.Kind == approval.EventRequested {
		return ApprovalFrame{Kind: "command_requested", ApprovalID: evt.ApprovalID, Command: evt.Command}
	}
	kind := "command_rejected"
	if evt.Decision == approval.Approved {
		kind = "command_approved"
	}
	return ApprovalFrame{Kind: kind, ApprovalID: evt.ApprovalID}
}

// ServeApprovalEvents streams approval requests and their resolutions as
// server-sent events, one-way, for an AI CLI that wants to observe pending
// and decided approvals without a websocket (spec §4.6.4).
func ServeApprovalEvents(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, unsubscribe := sess.Approval.Subscribe()
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(approvalOutcomeFrame(evt))
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
