// Package sshshell is the client half of the remote command surface: it
// dials a remote host over SSH, requests an interactive PTY and shell, and
// exposes the same read/write/resize/close shape as internal/ptysup so the
// Event Gateway can treat the AI-terminal and SSH-terminal streams
// uniformly. Output fan-out and backpressure reuse internal/bytestream,
// the same suspend-on-full broadcaster ptysup uses, because an SSH shell
// session has no replay source either (spec §5).
//
// The pack's sfab and teleport SSH session code is server-side, so it
// grounds only the in-process test server and its handling of out-of-band
// channel requests; the Dial/RequestPty/Shell call sequence here follows the
// ssh package's own documented usage. stdout and stderr are each read by
// their own goroutine into the same broadcaster.
package sshshell

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/opsco-dev/termcopilot/internal/apperr"
	"github.com/opsco-dev/termcopilot/internal/bytestream"
)

const (
	minDim = 1
	maxDim = 1024

	dialTimeout = 10 * time.Second
)

// Auth builds an ssh.AuthMethod for Connect. Exactly one of Password or
// PrivateKeyPEM should be set.
type Auth struct {
	Password      string
	PrivateKeyPEM []byte
	Passphrase    string // only used when PrivateKeyPEM is set
}

func (a Auth) methods() ([]ssh.AuthMethod, error) {
	if len(a.PrivateKeyPEM) > 0 {
		var signer ssh.Signer
		var err error
		if a.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(a.PrivateKeyPEM, []byte(a.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(a.PrivateKeyPEM)
		}
		if err != nil {
			return nil, fmt.Errorf("sshshell: parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(a.Password)}, nil
}

// Shell is one connected SSH session with an attached interactive PTY.
type Shell struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser

	cols, rows int
	geomMu     sync.Mutex

	writeMu sync.Mutex

	broadcast *bytestream.Broadcast

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	exited    chan struct{}
}

// Connect dials host:port, authenticates, and requests an interactive PTY
// and shell. hostKeyCallback defaults to ssh.InsecureIgnoreHostKey() when
// nil (spec §9 open question: host-key verification policy is pluggable,
// permissive by default to match a co-pilot aimed at ad hoc remote hosts
// rather than a fleet with a known host-key database).
func Connect(host string, port int, username string, auth Auth, hostKeyCallback ssh.HostKeyCallback, initialCols, initialRows int) (*Shell, error) {
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	methods, err := auth.methods()
	if err != nil {
		return nil, apperr.New(apperr.KindAuthFailed, err)
	}

	cfg := &ssh.ClientConfig{
		User:            username,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, classifyDialErr(err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, apperr.New(apperr.KindTransportFailed, fmt.Errorf("sshshell: new session: %w", err))
	}

	cols, rows := clamp(initialCols), clamp(initialRows)
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		session.Close()
		client.Close()
		return nil, apperr.New(apperr.KindTransportFailed, fmt.Errorf("sshshell: request pty: %w", err))
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, apperr.New(apperr.KindTransportFailed, fmt.Errorf("sshshell: stdin pipe: %w", err))
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, apperr.New(apperr.KindTransportFailed, fmt.Errorf("sshshell: stdout pipe: %w", err))
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, apperr.New(apperr.KindTransportFailed, fmt.Errorf("sshshell: stderr pipe: %w", err))
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, apperr.New(apperr.KindTransportFailed, fmt.Errorf("sshshell: start shell: %w", err))
	}

	s := &Shell{
		client:    client,
		session:   session,
		stdin:     stdin,
		cols:      cols,
		rows:      rows,
		broadcast: bytestream.New(),
		exited:    make(chan struct{}),
	}

	go s.readLoop(stdout)
	go s.readLoop(stderr)
	go s.waitLoop()

	return s, nil
}

func classifyDialErr(err error) error {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return apperr.New(apperr.KindConnectTimeout, err)
	}
	if _, ok := err.(*net.OpError); ok {
		return apperr.New(apperr.KindHostUnreachable, err)
	}
	return apperr.New(apperr.KindAuthFailed, err)
}

func (s *Shell) readLoop(r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.broadcast.Publish(chunk)
		}
		if err != nil {
			return
		}
	}
}

func (s *Shell) waitLoop() {
	_ = s.session.Wait()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.broadcast.CloseAll()
	close(s.exited)
}

// Subscribe returns the merged stdout+stderr stream of the remote shell.
func (s *Shell) Subscribe() (<-chan []byte, func()) {
	return s.broadcast.Subscribe()
}

// Write sends bytes to the remote shell's stdin.
func (s *Shell) Write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.Exited() {
		return ErrClosed
	}
	_, err := s.stdin.Write(data)
	if err != nil {
		return apperr.New(apperr.KindTransportFailed, fmt.Errorf("sshshell: write: %w", err))
	}
	return nil
}

// Resize issues an SSH window-change request. Values are clamped to
// [1, 1024].
func (s *Shell) Resize(cols, rows int) error {
	cols, rows = clamp(cols), clamp(rows)

	s.geomMu.Lock()
	if s.cols == cols && s.rows == rows {
		s.geomMu.Unlock()
		return nil
	}
	s.cols, s.rows = cols, rows
	s.geomMu.Unlock()

	if err := s.session.WindowChange(rows, cols); err != nil {
		return apperr.New(apperr.KindTransportFailed, fmt.Errorf("sshshell: window change: %w", err))
	}
	return nil
}

// Geometry returns the current (cols, rows).
func (s *Shell) Geometry() (int, int) {
	s.geomMu.Lock()
	defer s.geomMu.Unlock()
	return s.cols, s.rows
}

// Exited reports whether the remote session has ended.
func (s *Shell) Exited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done returns a channel closed when the remote session ends.
func (s *Shell) Done() <-chan struct{} {
	return s.exited
}

// Close tears down the session and the underlying TCP connection.
// Idempotent.
func (s *Shell) Close() error {
	s.closeOnce.Do(func() {
		_ = s.session.Close()
		_ = s.client.Close()
	})
	return nil
}

func clamp(v int) int {
	if v < minDim {
		return minDim
	}
	if v > maxDim {
		return maxDim
	}
	return v
}
