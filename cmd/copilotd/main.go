// Command copilotd is the co-pilot daemon's entry point: it wires the
// Session Registry, Tool Service, and HTTP Request Router together and
// serves them over a single listener (spec §6 "PROCESS MODEL").
//
// Adapted from the teacher's cmd/server/main.go (flag-based addr, goroutine
// ListenAndServe, SIGINT/SIGTERM-triggered graceful shutdown), generalized
// from the teacher's executor registry/SSE manager wiring to this module's
// session registry/tool service/HTTP router.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/opsco-dev/termcopilot/internal/httpapi"
	"github.com/opsco-dev/termcopilot/internal/ptysup"
	"github.com/opsco-dev/termcopilot/internal/session"
	"github.com/opsco-dev/termcopilot/internal/toolsvc"
)

func main() {
	addr := flag.String("addr", envOr("LISTEN_ADDR", "0.0.0.0:3000"), "HTTP listen address")
	aiProgram := flag.String("ai-program", envOr("COPILOT_AI_PROGRAM", "gemini"), "AI CLI executable spawned per session")
	aiArgsRaw := flag.String("ai-args", os.Getenv("COPILOT_AI_ARGS"), "space-separated arguments passed to the AI CLI")
	idleTimeout := flag.Duration("idle-timeout", envDurationOr("COPILOT_IDLE_TIMEOUT", 30*time.Minute), "end a session after this long without activity")
	idleGCInterval := flag.Duration("idle-gc-interval", envDurationOr("COPILOT_IDLE_GC_INTERVAL", time.Minute), "how often to sweep for idle sessions")
	insecureHostKeys := flag.Bool("insecure-ignore-host-keys", envBoolOr("COPILOT_INSECURE_IGNORE_HOST_KEYS", true), "accept any SSH host key without verification")
	flag.Parse()

	var aiArgs []string
	if strings.TrimSpace(*aiArgsRaw) != "" {
		aiArgs = strings.Fields(*aiArgsRaw)
	}
	aiEnv := ptysup.BuildCommandEnv()

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	registry := session.NewRegistry(rootCtx, *aiProgram, aiArgs, aiEnv)

	if !*insecureHostKeys {
		log.Fatal("copilotd: strict SSH host-key verification was requested but no known_hosts source is wired yet; rerun with -insecure-ignore-host-keys")
	}
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	log.Printf("copilotd: SSH host-key verification is %s", hostKeyPolicyLabel(*insecureHostKeys))

	tools := toolsvc.New(toolsvc.Config{HostKeyCallback: hostKeyCallback})
	handler := httpapi.NewHandler(registry, tools)
	router := httpapi.NewRouter(handler)

	server := &http.Server{
		Addr:    *addr,
		Handler: router,
	}

	go registry.RunIdleGC(rootCtx, *idleGCInterval, *idleTimeout)

	go func() {
		log.Printf("copilotd: listening on %s (ai program %q)", *addr, *aiProgram)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "copilotd: server error: %v\n", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("copilotd: shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("copilotd: graceful HTTP shutdown failed: %v", err)
	}

	cancelRoot()
	log.Println("copilotd: stopped")
}

func hostKeyPolicyLabel(insecure bool) string {
	if insecure {
		return "DISABLED (InsecureIgnoreHostKey) — do not expose this daemon to an untrusted network"
	}
	return "enforced"
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolOr(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}
