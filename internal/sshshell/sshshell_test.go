package sshshell

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/opsco-dev/termcopilot/internal/apperr"
)

// testServer is a minimal in-process SSH server that accepts one session,
// honors pty-req/shell/window-change requests, and echoes whatever it
// receives back down the same channel. It stands in for a real sshd so
// these tests exercise the actual golang.org/x/crypto/ssh wire protocol
// rather than a mocked transport (mirroring the host-key-generation and
// ServerConfig shape the pack's tunnel server uses).
func startTestServer(t *testing.T) (addr string, port int) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		serverConn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
		if err != nil {
			return
		}
		defer serverConn.Close()
		go ssh.DiscardRequests(reqs)

		for newChannel := range chans {
			if newChannel.ChannelType() != "session" {
				newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
				continue
			}
			channel, requests, err := newChannel.Accept()
			if err != nil {
				return
			}
			go func() {
				for req := range requests {
					switch req.Type {
					case "pty-req", "shell", "window-change":
						if req.WantReply {
							req.Reply(true, nil)
						}
					default:
						if req.WantReply {
							req.Reply(false, nil)
						}
					}
				}
			}()
			go func() {
				io.Copy(channel, channel)
				channel.Close()
			}()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	p, _ := strconv.Atoi(portStr)
	return host, p
}

func TestConnectWriteAndEcho(t *testing.T) {
	host, port := startTestServer(t)

	shell, err := Connect(host, port, "tester", Auth{Password: "anything"}, nil, 80, 24)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer shell.Close()

	out, unsubscribe := shell.Subscribe()
	defer unsubscribe()

	if err := shell.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.After(3 * time.Second)
	var collected []byte
	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				t.Fatal("stream closed before seeing echo")
			}
			collected = append(collected, chunk...)
			if len(collected) >= len("hello\n") {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for echo, got %q", collected)
		}
	}
}

func TestResizeClampsAndIsIdempotent(t *testing.T) {
	host, port := startTestServer(t)

	shell, err := Connect(host, port, "tester", Auth{Password: "anything"}, nil, 80, 24)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer shell.Close()

	if err := shell.Resize(0, 5000); err != nil {
		t.Fatalf("resize: %v", err)
	}
	cols, rows := shell.Geometry()
	if cols != minDim || rows != maxDim {
		t.Fatalf("expected clamp to [%d, %d], got (%d, %d)", minDim, maxDim, cols, rows)
	}

	if err := shell.Resize(1, 1024); err != nil {
		t.Fatalf("second resize: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	host, port := startTestServer(t)

	shell, err := Connect(host, port, "tester", Auth{Password: "anything"}, nil, 80, 24)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := shell.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := shell.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestConnectToClosedPortReportsHostUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close() // nothing listens on this port now

	_, err = Connect(host, port, "tester", Auth{Password: "x"}, nil, 80, 24)
	if err == nil {
		t.Fatal("expected an error connecting to a closed port")
	}
	if apperr.KindOf(err) != apperr.KindHostUnreachable {
		t.Fatalf("expected host-unreachable, got %v (kind %s)", err, apperr.KindOf(err))
	}
}
