package main

import (
	"context"
	"log"
	"os"

	"streamdecoder/internal/audit"
	"streamdecoder/internal/config"
	"streamdecoder/internal/diagnostics"
	"streamdecoder/internal/session"
	"streamdecoder/internal/transport"
)

func main() {
	cfg, err := config.Load(os.Args)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	auditStore := audit.Open(cfg.AuditDSN)
	defer auditStore.Close()

	archiver := diagnostics.New(context.Background(), cfg.DiagnosticsBucket)

	registry := session.NewRegistry(cfg.TempDir, cfg.MaxConcurrentSessions)
	registry.Start()
	defer registry.Stop()

	srv := transport.New(cfg, registry, auditStore, archiver)
	log.Printf("streamdecoder: starting on port %s (temp dir %s)", cfg.Port, cfg.TempDir)
	if err := srv.Run(); err != nil {
		log.Fatalf("transport: %v", err)
	}
}
