// Package config loads startup configuration from the environment (and an
// optional .env file), grounded on the teacher main.go's
// godotenv.Load() + os.Getenv(...)-with-default chain.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the server's fully-resolved startup configuration.
type Config struct {
	Port              string
	TempDir           string
	AuditDSN          string
	DiagnosticsBucket string
	// MaxConcurrentSessions bounds how many sessions may be in StateDecoding
	// at once (spec §5's "fixed-size pool (default 4) of I/O worker
	// threads" equivalent) — not a cap on total connections.
	MaxConcurrentSessions int
}

// Load reads .env (if present, warning but not failing when absent, same
// as the teacher) and environment variables, then validates argv[1] as
// the listen port (spec S4: "fatal on invalid port").
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using system environment variables")
	}

	if len(args) < 2 {
		return nil, fmt.Errorf("config: usage: %s <port>", programName(args))
	}
	port := args[1]
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return nil, fmt.Errorf("config: invalid port %q", port)
	}

	tempDir := getenv("TEMP_DIR", "./temp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("config: create temp dir: %w", err)
	}

	maxSessions := 4
	if v := os.Getenv("MAX_CONCURRENT_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxSessions = n
		} else {
			log.Printf("config: ignoring invalid MAX_CONCURRENT_SESSIONS=%q", v)
		}
	}

	return &Config{
		Port:                  port,
		TempDir:               tempDir,
		AuditDSN:              os.Getenv("AUDIT_DSN"),
		DiagnosticsBucket:     os.Getenv("DIAGNOSTICS_S3_BUCKET"),
		MaxConcurrentSessions: maxSessions,
	}, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func programName(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "streamdecoder"
}
