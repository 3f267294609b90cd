package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/basilica-network/term-executor/internal/audit"
	"github.com/basilica-network/term-executor/internal/auth"
	"github.com/basilica-network/term-executor/internal/config"
	"github.com/basilica-network/term-executor/internal/consensus"
	"github.com/basilica-network/term-executor/internal/executor"
	"github.com/basilica-network/term-executor/internal/oracle"
	"github.com/basilica-network/term-executor/internal/sandbox"
	"github.com/basilica-network/term-executor/internal/server"
	"github.com/basilica-network/term-executor/internal/session"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("%s - failed to load config: %v", now(), err)
	}

	var auditStore *audit.Store
	if cfg.AuditDBPath != "" {
		auditStore, err = audit.Open(ctx, cfg.AuditDBPath, cfg.AuditRetention)
		if err != nil {
			log.Fatalf("%s - failed to open audit store: %v", now(), err)
		}
		defer func() {
			if err := auditStore.Close(); err != nil {
				log.Printf("%s - warning: failed to close audit store: %v", now(), err)
			}
		}()
	} else {
		log.Printf("%s - EXECUTOR_AUDIT_DB_PATH is empty, audit trail disabled", now())
	}

	var stakeOracle oracle.Oracle
	if cfg.OracleURL != "" {
		stakeOracle = oracle.NewHTTPOracle(cfg.OracleURL)
	} else {
		stakeOracle = &oracle.Static{}
	}

	whitelist := auth.NewWhitelist(stakeOracle, cfg.MinValidatorStake)
	whitelist.RefreshOnce(ctx)

	nonceStore := auth.NewNonceStore(cfg.NonceTTL)
	authenticator := auth.NewAuthenticator(whitelist, nonceStore)
	gate := consensus.NewGate(cfg.MaxPendingConsensus, cfg.ConsensusTTL)
	registry := session.NewRegistry(cfg.SessionTTL)

	exec := executor.New(executor.Config{
		WorkspaceBase:  cfg.WorkspaceBase,
		CloneTimeout:   cfg.CloneTimeout,
		AgentTimeout:   cfg.AgentTimeout,
		TestTimeout:    cfg.TestTimeout,
		MaxOutputBytes: cfg.MaxOutputBytes,
	}, sandbox.NewExec())

	if err := os.MkdirAll(cfg.WorkspaceBase, 0o755); err != nil {
		log.Fatalf("%s - failed to create workspace base %s: %v", now(), cfg.WorkspaceBase, err)
	}

	srv := server.New(cfg, whitelist, authenticator, gate, registry, exec, auditStore)
	srv.RegisterRoutes()

	done := make(chan struct{})
	defer close(done)
	go whitelist.RefreshLoop(done, cfg.ValidatorRefreshInterval)
	go nonceStore.ReapLoop(done, 60*time.Second)
	go gate.ReapLoop(done, 30*time.Second)
	go registry.ReapLoop(done, 60*time.Second)
	if auditStore != nil {
		go auditStore.ReapLoop(done, time.Hour)
	}

	log.Printf("%s - starting server on :%s", now(), cfg.Port)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(sigCtx); err != nil {
		log.Printf("%s - server stopped: %v", now(), err)
		os.Exit(1)
	}

	log.Printf("%s - server exited cleanly", now())
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
