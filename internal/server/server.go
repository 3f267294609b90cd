package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/basilica-network/term-executor/internal/audit"
	"github.com/basilica-network/term-executor/internal/auth"
	"github.com/basilica-network/term-executor/internal/config"
	"github.com/basilica-network/term-executor/internal/consensus"
	"github.com/basilica-network/term-executor/internal/executor"
	"github.com/basilica-network/term-executor/internal/session"
)

// Server is the HTTP front for the task-evaluation daemon (C8), wiring the
// router to the authenticator, consensus gate, session registry, and
// executor built at startup.
type Server struct {
	cfg           *config.Config
	whitelist     *auth.Whitelist
	authenticator *auth.Authenticator
	gate          *consensus.Gate
	registry      *session.Registry
	executor      *executor.Executor
	audit         *audit.Store // nil when auditing is disabled

	startedAt time.Time
	metrics   metricsState
	submitMu  sync.Mutex // serializes hasActive -> newBatch -> spawn (§5)

	router     *http.ServeMux
	handler    http.Handler
	httpServer *http.Server

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// New constructs a Server. Call RegisterRoutes before Start.
func New(
	cfg *config.Config,
	whitelist *auth.Whitelist,
	authenticator *auth.Authenticator,
	gate *consensus.Gate,
	registry *session.Registry,
	exec *executor.Executor,
	auditStore *audit.Store,
) *Server {
	return &Server{
		cfg:           cfg,
		whitelist:     whitelist,
		authenticator: authenticator,
		gate:          gate,
		registry:      registry,
		executor:      exec,
		audit:         auditStore,
		startedAt:     time.Now(),
		router:        http.NewServeMux(),
		conns:         make(map[net.Conn]struct{}),
	}
}

// Start runs the HTTP server and blocks until context cancellation or a
// fatal server error, tracking live connections so a graceful shutdown that
// exceeds its timeout can force-close stragglers.
func (s *Server) Start(ctx context.Context) error {
	addr := ":" + s.cfg.Port
	h := http.Handler(s.router)
	if s.handler != nil {
		h = s.handler
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.httpServer.ConnState = func(c net.Conn, state http.ConnState) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch state {
		case http.StateNew, http.StateActive:
			s.conns[c] = struct{}{}
		case http.StateClosed, http.StateHijacked:
			delete(s.conns, c)
		}
	}

	lc := &net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		} else {
			errCh <- nil
		}
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		log.Printf("shutdown initiated, waiting up to %s for active connections to finish", timeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				log.Printf("shutdown timed out, force-closing active connections")
				s.mu.Lock()
				for c := range s.conns {
					_ = c.Close()
				}
				s.mu.Unlock()
			}
			return fmt.Errorf("server shutdown: %w", err)
		}
		log.Printf("shutdown complete")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
