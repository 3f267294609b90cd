// Package config provides configuration loading and validation for the
// task-evaluation daemon.
package config

import (
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	// Port is the TCP port the server listens on (e.g. "8080").
	Port string

	// LogLevel is the configured log level (debug, info, warn, error),
	// lower-cased. Nothing in the daemon reads it; log lines are written
	// regardless of level.
	LogLevel string

	// ShutdownTimeout is the default timeout for graceful shutdown.
	ShutdownTimeout time.Duration

	// SessionTTL bounds how long a batch may live before the session
	// reaper cancels and evicts it.
	SessionTTL time.Duration

	// NonceTTL bounds how long a consumed nonce is remembered as used.
	NonceTTL time.Duration

	// ConsensusTTL bounds how long a pending consensus entry is kept
	// before being reaped.
	ConsensusTTL time.Duration

	// ConsensusThreshold is theta in (0,1]; required votes are
	// ceil(total * theta), floored at 1.
	ConsensusThreshold float64

	// MaxPendingConsensus caps the number of distinct in-flight
	// fingerprints tracked by the consensus gate.
	MaxPendingConsensus int

	// MaxConcurrentTasks is the default/ceiling worker-pool size per batch.
	MaxConcurrentTasks int

	// MaxArchiveBytes caps the size of an uploaded submission.
	MaxArchiveBytes int64

	// MaxOutputBytes caps captured subprocess output before truncation.
	MaxOutputBytes int64

	// CloneTimeout bounds git clone/checkout and install commands.
	CloneTimeout time.Duration

	// AgentTimeout bounds the untrusted agent invocation.
	AgentTimeout time.Duration

	// TestTimeout bounds a single test script invocation.
	TestTimeout time.Duration

	// WorkspaceBase is the filesystem root under which per-task
	// workspace directories are created.
	WorkspaceBase string

	// MinValidatorStake is the minimum stake (in TAO) required for a
	// neuron to be whitelisted.
	MinValidatorStake float64

	// ValidatorRefreshInterval controls how often the whitelist is
	// refreshed from the stake oracle.
	ValidatorRefreshInterval time.Duration

	// OracleURL is the HTTP endpoint the stake oracle client polls.
	OracleURL string

	// AuditDBPath is the filesystem path to the operational audit
	// sqlite database. Empty disables the audit trail entirely.
	AuditDBPath string

	// AuditRetention bounds how long audit rows are kept before the
	// audit reaper prunes them.
	AuditRetention time.Duration
}

// Load reads configuration from environment variables, applies defaults and
// validates required values. It returns a configured Config or an error.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     strings.TrimSpace(os.Getenv("EXECUTOR_PORT")),
		LogLevel: strings.TrimSpace(os.Getenv("EXECUTOR_LOG_LEVEL")),
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	} else {
		cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	}

	var err error

	if cfg.ShutdownTimeout, err = parseDurationEnv("EXECUTOR_SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = parseDurationEnv("EXECUTOR_SESSION_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.NonceTTL, err = parseDurationEnv("EXECUTOR_NONCE_TTL", 300*time.Second); err != nil {
		return nil, err
	}
	if cfg.ConsensusTTL, err = parseDurationEnv("EXECUTOR_CONSENSUS_TTL", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.CloneTimeout, err = parseDurationEnv("EXECUTOR_CLONE_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.AgentTimeout, err = parseDurationEnv("EXECUTOR_AGENT_TIMEOUT", 300*time.Second); err != nil {
		return nil, err
	}
	if cfg.TestTimeout, err = parseDurationEnv("EXECUTOR_TEST_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.ValidatorRefreshInterval, err = parseDurationEnv("EXECUTOR_VALIDATOR_REFRESH_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.AuditRetention, err = parseDurationEnv("EXECUTOR_AUDIT_RETENTION", 7*24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.ConsensusThreshold, err = parseFloatEnv("EXECUTOR_CONSENSUS_THRESHOLD", 0.6); err != nil {
		return nil, err
	}
	if cfg.ConsensusThreshold <= 0 || cfg.ConsensusThreshold > 1 {
		return nil, fmt.Errorf("EXECUTOR_CONSENSUS_THRESHOLD must be in (0,1], got %f", cfg.ConsensusThreshold)
	}

	if cfg.MinValidatorStake, err = parseFloatEnv("EXECUTOR_MIN_VALIDATOR_STAKE", 1000.0); err != nil {
		return nil, err
	}

	if cfg.MaxPendingConsensus, err = parseIntEnv("EXECUTOR_MAX_PENDING_CONSENSUS", 256); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentTasks, err = parseIntEnv("EXECUTOR_MAX_CONCURRENT_TASKS", 8); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentTasks <= 0 {
		log.Printf("WARNING: EXECUTOR_MAX_CONCURRENT_TASKS must be > 0, using default 8")
		cfg.MaxConcurrentTasks = 8
	}

	maxArchive, err := parseIntEnv("EXECUTOR_MAX_ARCHIVE_BYTES", 64*1024*1024)
	if err != nil {
		return nil, err
	}
	cfg.MaxArchiveBytes = int64(maxArchive)

	maxOutput, err := parseIntEnv("EXECUTOR_MAX_OUTPUT_BYTES", 1024*1024)
	if err != nil {
		return nil, err
	}
	cfg.MaxOutputBytes = int64(maxOutput)

	cfg.WorkspaceBase = strings.TrimSpace(os.Getenv("EXECUTOR_WORKSPACE_BASE"))
	if cfg.WorkspaceBase == "" {
		cfg.WorkspaceBase = "/tmp/executor-workspaces"
	}

	cfg.OracleURL = strings.TrimSpace(os.Getenv("EXECUTOR_ORACLE_URL"))
	if cfg.OracleURL == "" {
		log.Printf("WARNING: EXECUTOR_ORACLE_URL is empty, whitelist refresher will remain cold until configured")
	}

	cfg.AuditDBPath = strings.TrimSpace(os.Getenv("EXECUTOR_AUDIT_DB_PATH"))

	return cfg, nil
}

func parseDurationEnv(name string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

func parseFloatEnv(name string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return f, nil
}

func parseIntEnv(name string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

// RequiredVotes computes ceil(total * theta), floored at 1, mirroring the
// per-request quorum calculation the submission handler performs.
func (c *Config) RequiredVotes(total int) int {
	if total <= 0 {
		return 1
	}
	required := int(math.Ceil(float64(total) * c.ConsensusThreshold))
	if required < 1 {
		required = 1
	}
	return required
}
