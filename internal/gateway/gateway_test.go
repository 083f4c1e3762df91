package gateway

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opsco-dev/termcopilot/internal/approval"
	"github.com/opsco-dev/termcopilot/internal/session"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	reg := session.NewRegistry(ctx, "/bin/sh", []string{"-c", "cat"}, nil)
	sess, err := reg.Create()
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	t.Cleanup(func() { reg.End(sess.ID) })
	return sess
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeAITerminalEchoesInputAsOutput(t *testing.T) {
	sess := newTestSession(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeAITerminal(w, r, sess)
	}))
	defer srv.Close()

	conn := dialWS(t, srv)

	if err := conn.WriteJSON(TerminalFrame{Kind: "input", Data: "hello\n"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var collected string
	for {
		var frame TerminalFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v (collected so far: %q)", err, collected)
		}
		if frame.Kind == "output" {
			collected += frame.Data
			if strings.Contains(collected, "hello") {
				return
			}
		}
	}
}

func TestServeSSHTerminalWithoutSSHSendsErrorFrame(t *testing.T) {
	sess := newTestSession(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeSSHTerminal(w, r, sess)
	}))
	defer srv.Close()

	conn := dialWS(t, srv)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var frame TerminalFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Kind != "error" {
		t.Fatalf("expected error frame, got %+v", frame)
	}
}

func TestServeApprovalsReplaysOutstandingThenAppliesDecision(t *testing.T) {
	sess := newTestSession(t)
	_, waiter := sess.Approval.Request("ls -la")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeApprovals(w, r, sess)
	}))
	defer srv.Close()

	conn := dialWS(t, srv)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var requested ApprovalFrame
	if err := conn.ReadJSON(&requested); err != nil {
		t.Fatalf("read requested: %v", err)
	}
	if requested.Kind != "command_requested" || requested.Command != "ls -la" {
		t.Fatalf("unexpected replayed frame: %+v", requested)
	}

	approved := true
	if err := conn.WriteJSON(ApprovalFrame{Kind: "command_decision", ApprovalID: requested.ApprovalID, Approved: &approved}); err != nil {
		t.Fatalf("write decision: %v", err)
	}

	var outcome ApprovalFrame
	if err := conn.ReadJSON(&outcome); err != nil {
		t.Fatalf("read outcome: %v", err)
	}
	if outcome.Kind != "command_approved" {
		t.Fatalf("expected command_approved, got %+v", outcome)
	}

	decision := sess.Approval.Await(context.Background(), waiter, time.Second)
	if decision != approval.Approved {
		t.Fatalf("expected approved decision, got %v", decision)
	}
}

func TestServeApprovalsBroadcastsDecisionToOtherSubscribers(t *testing.T) {
	sess := newTestSession(t)
	_, waiter := sess.Approval.Request("ls -la")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeApprovals(w, r, sess)
	}))
	defer srv.Close()

	deciding := dialWS(t, srv)
	deciding.SetReadDeadline(time.Now().Add(3 * time.Second))
	observer := dialWS(t, srv)
	observer.SetReadDeadline(time.Now().Add(3 * time.Second))

	var requestedOnDeciding, requestedOnObserver ApprovalFrame
	if err := deciding.ReadJSON(&requestedOnDeciding); err != nil {
		t.Fatalf("read requested on deciding conn: %v", err)
	}
	if err := observer.ReadJSON(&requestedOnObserver); err != nil {
		t.Fatalf("read requested on observer conn: %v", err)
	}

	approved := true
	if err := deciding.WriteJSON(ApprovalFrame{Kind: "command_decision", ApprovalID: requestedOnDeciding.ApprovalID, Approved: &approved}); err != nil {
		t.Fatalf("write decision: %v", err)
	}

	var outcomeOnObserver ApprovalFrame
	if err := observer.ReadJSON(&outcomeOnObserver); err != nil {
		t.Fatalf("read outcome on observer conn (never attached a decision itself): %v", err)
	}
	if outcomeOnObserver.Kind != "command_approved" {
		t.Fatalf("expected the non-deciding connection to also see command_approved, got %+v", outcomeOnObserver)
	}

	sess.Approval.Await(context.Background(), waiter, time.Second)
}

func TestServeApprovalEventsStreamsOutstandingRequest(t *testing.T) {
	sess := newTestSession(t)
	sess.Approval.Request("echo hi")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeApprovalEvents(w, r, sess)
	}))
	defer srv.Close()

	client := srv.Client()
	client.Timeout = 3 * time.Second
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "command_requested") {
			return
		}
	}
	t.Fatal("expected an SSE data line containing command_requested")
}
