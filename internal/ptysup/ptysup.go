// Package ptysup spawns and supervises the AI CLI child process bound to a
// pseudo-terminal. The AI CLI is an opaque, full-screen interactive program;
// it cannot be driven over plain pipes because it needs real cursor control,
// line editing, and may prompt interactively (e.g. for OAuth). A real PTY is
// the only thing that looks like a terminal to it.
package ptysup

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/mylxsw/asteria/log"

	"github.com/opsco-dev/termcopilot/internal/bytestream"
)

const (
	minDim = 1
	maxDim = 1024
)

// Supervisor owns one AI CLI child process and its PTY master file descriptor.
// The read side fans out to any number of subscribers (the Event Gateway's
// AI-terminal stream); the write side is single-owner, matching spec §5's
// "PTY-writer: single owner of master write".
type Supervisor struct {
	cmd  *exec.Cmd
	ptmx *os.File

	cols, rows int
	geomMu     sync.Mutex

	writeMu sync.Mutex

	broadcast *bytestream.Broadcast

	closeOnce sync.Once
	closed    bool
	exited    chan struct{}
	mu        sync.Mutex
}

// Spawn forks program (with args, env) attached to a freshly allocated
// pseudo-terminal master/slave pair. The child's stdio is the slave side;
// the returned Supervisor holds the master.
func Spawn(program string, args []string, env []string, workingDir string, initialCols, initialRows int) (*Supervisor, error) {
	cmd := exec.Command(program, args...)
	cmd.Dir = workingDir
	cmd.Env = env

	size := &pty.Winsize{
		Cols: uint16(clamp(initialCols)),
		Rows: uint16(clamp(initialRows)),
	}

	ptmx, err := ptyStartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("ptysup: start %s with pty: %w", program, err)
	}

	s := &Supervisor{
		cmd:       cmd,
		ptmx:      ptmx,
		cols:      clamp(initialCols),
		rows:      clamp(initialRows),
		broadcast: bytestream.New(),
		exited:    make(chan struct{}),
	}

	go s.readLoop()
	go s.waitLoop()

	return s, nil
}

func ptyStartWithSize(cmd *exec.Cmd, size *pty.Winsize) (*os.File, error) {
	return pty.StartWithSize(cmd, size)
}

// readLoop reads raw bytes from the master until the child exits or the
// supervisor is closed, fanning each chunk out to all current subscribers.
func (s *Supervisor) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.broadcast.Publish(chunk)
		}
		if err != nil {
			log.Debugf("ptysup: read loop ending: %v", err)
			s.broadcast.CloseAll()
			return
		}
	}
}

func (s *Supervisor) waitLoop() {
	_ = s.cmd.Wait()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	close(s.exited)
}

// Subscribe returns a channel of output chunks and an unsubscribe function.
// Multiple subscribers may attach concurrently; each sees bytes in the
// order the master produced them.
func (s *Supervisor) Subscribe() (<-chan []byte, func()) {
	return s.broadcast.Subscribe()
}

// Write appends bytes to the master. Partial writes are retried until fully
// drained or the master is closed.
func (s *Supervisor) Write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.Exited() {
		return ErrClosed
	}

	for len(data) > 0 {
		n, err := s.ptmx.Write(data)
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return ErrClosed
			}
			return fmt.Errorf("ptysup: write: %w", err)
		}
		data = data[n:]
	}
	return nil
}

// Resize issues a terminal window-size control on the master. Values are
// clamped to [1, 1024].
func (s *Supervisor) Resize(cols, rows int) error {
	cols, rows = clamp(cols), clamp(rows)

	s.geomMu.Lock()
	if s.cols == cols && s.rows == rows {
		s.geomMu.Unlock()
		return nil
	}
	s.cols, s.rows = cols, rows
	s.geomMu.Unlock()

	return pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Geometry returns the current (cols, rows).
func (s *Supervisor) Geometry() (int, int) {
	s.geomMu.Lock()
	defer s.geomMu.Unlock()
	return s.cols, s.rows
}

// Exited reports whether the child process has exited.
func (s *Supervisor) Exited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done returns a channel closed when the child process exits.
func (s *Supervisor) Done() <-chan struct{} {
	return s.exited
}

// Close sends a termination signal to the child and closes the master.
// Idempotent.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.ptmx.Close()
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
