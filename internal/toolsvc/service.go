// Package toolsvc implements the Tool Service (spec §4.5): the three
// JSON-RPC tools the AI CLI calls from inside its PTY — ssh_connect,
// ssh_execute, ssh_read_output. ssh_execute is where the approval protocol
// actually runs: post a request, await a decision bounded by a timeout,
// write the command on approval, sample the Output Buffer for a delta.
//
// Grounded on pkg/executor/codex/client.go's JSON-RPC request dispatch and
// cloudbro-kube-ai-k13d/pkg/mcp/server/server.go's JSONRPCRequest/Response
// envelope, generalized from one fixed tool table to this session's three
// tools.
package toolsvc

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/mylxsw/asteria/log"

	"github.com/opsco-dev/termcopilot/internal/apperr"
	"github.com/opsco-dev/termcopilot/internal/approval"
	"github.com/opsco-dev/termcopilot/internal/session"
	"github.com/opsco-dev/termcopilot/internal/sshshell"
)

const (
	defaultCols = 80
	defaultRows = 24

	maxApprovalWait = 30 * time.Second
	maxSampleWait   = 5 * time.Second
)

// Config configures the Tool Service's pluggable behavior.
type Config struct {
	// HostKeyCallback verifies the remote host's SSH key. Defaults to
	// ssh.InsecureIgnoreHostKey() when nil (spec §9 open question).
	HostKeyCallback ssh.HostKeyCallback
}

// Service implements the three tools against whichever Session a caller
// supplies; it holds no per-session state of its own (spec §4.5: "the tool
// service is single-session-scoped: the session identifier is part of the
// endpoint path").
type Service struct {
	cfg Config
}

// New creates a Service from cfg.
func New(cfg Config) *Service {
	if cfg.HostKeyCallback == nil {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return &Service{cfg: cfg}
}

// Dispatch decodes req.Params for the named method, invokes the matching
// tool, and marshals the result (or a JSON-RPC error) into a response.
func (s *Service) Dispatch(ctx context.Context, sess *session.Session, req JSONRPCRequest) JSONRPCResponse {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "ssh_connect":
		var args SSHConnectArgs
		if err := json.Unmarshal(req.Params, &args); err != nil {
			return errorResponse(resp, codeInvalidParams, err, apperr.KindInvalidArgument)
		}
		result, err := s.SSHConnect(sess, args)
		if err != nil {
			return errorResponse(resp, codeForErr(err), err, apperr.KindOf(err))
		}
		resp.Result = result

	case "ssh_execute":
		var args SSHExecuteArgs
		if err := json.Unmarshal(req.Params, &args); err != nil {
			return errorResponse(resp, codeInvalidParams, err, apperr.KindInvalidArgument)
		}
		result, err := s.SSHExecute(ctx, sess, args)
		if err != nil {
			return errorResponse(resp, codeForErr(err), err, apperr.KindOf(err))
		}
		resp.Result = result

	case "ssh_read_output":
		var args SSHReadOutputArgs
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &args); err != nil {
				return errorResponse(resp, codeInvalidParams, err, apperr.KindInvalidArgument)
			}
		}
		resp.Result = s.SSHReadOutput(sess, args)

	default:
		return errorResponse(resp, codeInvalidParams, ErrUnknownMethod, apperr.KindInvalidArgument)
	}

	return resp
}

func codeForErr(err error) int {
	if apperr.KindOf(err) == apperr.KindInvalidArgument {
		return codeInvalidParams
	}
	return codeInternal
}

func errorResponse(resp JSONRPCResponse, code int, err error, kind apperr.Kind) JSONRPCResponse {
	resp.Error = &JSONRPCError{Code: code, Message: err.Error(), Data: map[string]string{"kind": string(kind)}}
	return resp
}

// SSHConnect builds an auth method from args, dials the SSH shell, and
// attaches it to sess, replacing (and closing) any prior SSH state.
func (s *Service) SSHConnect(sess *session.Session, args SSHConnectArgs) (SSHConnectResult, error) {
	port := args.Port
	if port == 0 {
		port = 22
	}
	if port < 1 || port > 65535 {
		return SSHConnectResult{}, apperr.New(apperr.KindInvalidArgument, ErrInvalidPort)
	}

	auth := sshshell.Auth{}
	if args.PrivateKey != "" {
		auth.PrivateKeyPEM = []byte(args.PrivateKey)
		auth.Passphrase = args.Passphrase
	} else {
		auth.Password = args.Password
	}

	shell, err := sshshell.Connect(args.Host, port, args.Username, auth, s.cfg.HostKeyCallback, defaultCols, defaultRows)
	if err != nil {
		return SSHConnectResult{}, err
	}

	sess.SetSSH(shell)
	sess.Touch()
	go bridgeToOutputBuffer(sess, shell)

	log.Debugf("session %s: ssh connected to %s:%d", sess.ID, args.Host, port)
	return SSHConnectResult{Status: "ok"}, nil
}

// bridgeToOutputBuffer appends every byte the SSH shell produces to the
// session's Output Buffer, independent of however many Event Gateway
// subscribers are also reading the same broadcast (spec §3: "filled only
// while ssh is present").
func bridgeToOutputBuffer(sess *session.Session, shell *sshshell.Shell) {
	ch, unsubscribe := shell.Subscribe()
	defer unsubscribe()
	for chunk := range ch {
		sess.Output.Append(chunk)
	}
}

// SSHExecute posts an approval request for args.Command, awaits a decision
// bounded by min(30s, timeout_seconds), and on approval writes the command
// to the SSH write sink (spec §4.5, §8 invariant 1: the sink receives bytes
// iff the outcome is approved-executed).
func (s *Service) SSHExecute(ctx context.Context, sess *session.Session, args SSHExecuteArgs) (SSHExecuteResult, error) {
	command := strings.TrimSpace(args.Command)
	if command == "" {
		return SSHExecuteResult{}, apperr.New(apperr.KindInvalidArgument, ErrEmptyCommand)
	}

	timeout := args.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	if timeout > 300 {
		timeout = 300
	}

	waitForOutput := true
	if args.WaitForOutput != nil {
		waitForOutput = *args.WaitForOutput
	}

	shell := sess.SSH()
	if shell == nil {
		return SSHExecuteResult{}, apperr.New(apperr.KindClosed, ErrNoSSHConnection)
	}

	approvalWait := clampDuration(time.Duration(timeout)*time.Second, maxApprovalWait)
	_, waiter := sess.Approval.Request(command)
	decision := sess.Approval.Await(ctx, waiter, approvalWait)

	switch decision {
	case approval.Rejected:
		return SSHExecuteResult{Status: "rejected"}, nil
	case approval.TimedOut:
		return SSHExecuteResult{Status: "approval_timeout"}, nil
	}

	// The baseline is taken before the write so output the command produces
	// right away still counts toward the delta.
	before := sess.Output.Tail(0, 0)
	if err := shell.Write([]byte(command + "\n")); err != nil {
		return SSHExecuteResult{}, err
	}
	sess.Touch()

	if !waitForOutput {
		return SSHExecuteResult{Status: "ok"}, nil
	}

	sampleWait := clampDuration(time.Duration(timeout)*time.Second, maxSampleWait)
	select {
	case <-time.After(sampleWait):
	case <-ctx.Done():
	}
	after := sess.Output.Tail(0, 0)

	var delta []string
	if len(after) > len(before) {
		delta = after[len(before):]
	}

	output := ""
	if len(delta) > 0 {
		output = strings.Join(delta, "\n") + "\n"
	}
	return SSHExecuteResult{Status: "ok", Output: output}, nil
}

func clampDuration(requested, max time.Duration) time.Duration {
	if requested <= 0 || requested > max {
		return max
	}
	return requested
}

// SSHReadOutput returns the tail of the session's Output Buffer.
func (s *Service) SSHReadOutput(sess *session.Session, args SSHReadOutputArgs) SSHReadOutputResult {
	lines := args.Lines
	if lines <= 0 {
		lines = 50
	}
	if lines > 500 {
		lines = 500
	}
	return SSHReadOutputResult{Status: "ok", Lines: sess.Output.Tail(lines, 0)}
}
