// Package config loads the control plane's configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration for the provisioning and lifecycle engine.
type Config struct {
	Port     int
	LogLevel string

	DatabaseURL string // Postgres DSN; empty uses the local SQLite store
	DataDir     string // local data directory, holds the SQLite store file

	MaxVms             int
	MaxCPU             int
	MaxMemMb           int
	MaxAllowIPs        int
	MaxExecTimeoutMs   int
	MaxRunTsTimeoutMs  int

	Vsock VsockConfig

	RootfsCloneMode      string // auto | reflink | copy
	EnableSnapshots      bool
	SnapshotTemplateCPU  int
	SnapshotTemplateMemMb int

	StorageRoot string
	ChrootBase  string
	JailerUID   int
	JailerGID   int

	AgentPort int

	SubnetCIDR  string
	GatewayIP   string
	BridgeName  string

	FirecrackerBin string
	JailerBin      string
	KernelPath     string
	ImagesDir      string

	ActivityWebhookURL string
}

// VsockConfig groups the Vsock Agent Client's tunables.
type VsockConfig struct {
	RetryAttempts       int
	RetryDelayMs        int
	TimeoutMs           int
	HealthMs            int
	BinaryMs            int
	MaxJSONResponseBytes   int64
	MaxBinaryResponseBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: envOrDefault("SANDBOXD_LOG_LEVEL", "info"),

		DatabaseURL: envOrDefault("SANDBOXD_DATABASE_URL", os.Getenv("DATABASE_URL")),
		DataDir:     envOrDefault("SANDBOXD_DATA_DIR", "/var/lib/sandboxd"),

		MaxVms:            envOrDefaultInt("SANDBOXD_MAX_VMS", 64),
		MaxCPU:            envOrDefaultInt("SANDBOXD_MAX_CPU", 8),
		MaxMemMb:          envOrDefaultInt("SANDBOXD_MAX_MEM_MB", 8192),
		MaxAllowIPs:       envOrDefaultInt("SANDBOXD_MAX_ALLOW_IPS", 64),
		MaxExecTimeoutMs:  envOrDefaultInt("SANDBOXD_MAX_EXEC_TIMEOUT_MS", 60_000),
		MaxRunTsTimeoutMs: envOrDefaultInt("SANDBOXD_MAX_RUNTS_TIMEOUT_MS", 120_000),

		Vsock: VsockConfig{
			RetryAttempts:          envOrDefaultInt("SANDBOXD_VSOCK_RETRY_ATTEMPTS", 3),
			RetryDelayMs:           envOrDefaultInt("SANDBOXD_VSOCK_RETRY_DELAY_MS", 200),
			TimeoutMs:              envOrDefaultInt("SANDBOXD_VSOCK_TIMEOUT_MS", 30_000),
			HealthMs:               envOrDefaultInt("SANDBOXD_VSOCK_HEALTH_MS", 5_000),
			BinaryMs:               envOrDefaultInt("SANDBOXD_VSOCK_BINARY_MS", 120_000),
			MaxJSONResponseBytes:   int64(envOrDefaultInt("SANDBOXD_VSOCK_MAX_JSON_RESPONSE_BYTES", 16<<20)),
			MaxBinaryResponseBytes: int64(envOrDefaultInt("SANDBOXD_VSOCK_MAX_BINARY_RESPONSE_BYTES", 512<<20)),
		},

		RootfsCloneMode:       envOrDefault("SANDBOXD_ROOTFS_CLONE_MODE", "auto"),
		EnableSnapshots:       envOrDefault("SANDBOXD_ENABLE_SNAPSHOTS", "true") == "true",
		SnapshotTemplateCPU:   envOrDefaultInt("SANDBOXD_SNAPSHOT_TEMPLATE_CPU", 1),
		SnapshotTemplateMemMb: envOrDefaultInt("SANDBOXD_SNAPSHOT_TEMPLATE_MEM_MB", 256),

		StorageRoot: envOrDefault("SANDBOXD_STORAGE_ROOT", "/var/lib/sandboxd/storage"),
		ChrootBase:  envOrDefault("SANDBOXD_CHROOT_BASE", "/srv/jailer"),
		JailerUID:   envOrDefaultInt("SANDBOXD_JAILER_UID", 10000),
		JailerGID:   envOrDefaultInt("SANDBOXD_JAILER_GID", 10000),

		AgentPort: envOrDefaultInt("SANDBOXD_AGENT_PORT", 8081),

		SubnetCIDR: envOrDefault("SANDBOXD_SUBNET_CIDR", "192.168.127.0/24"),
		GatewayIP:  envOrDefault("SANDBOXD_GATEWAY_IP", "192.168.127.1"),
		BridgeName: envOrDefault("SANDBOXD_BRIDGE_NAME", "sbx0"),

		FirecrackerBin: envOrDefault("SANDBOXD_FIRECRACKER_BIN", "firecracker"),
		JailerBin:      envOrDefault("SANDBOXD_JAILER_BIN", "jailer"),
		KernelPath:     os.Getenv("SANDBOXD_KERNEL_PATH"),
		ImagesDir:      envOrDefault("SANDBOXD_IMAGES_DIR", "/var/lib/sandboxd/images"),

		ActivityWebhookURL: os.Getenv("SANDBOXD_ACTIVITY_WEBHOOK_URL"),
	}

	if portStr := os.Getenv("SANDBOXD_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid SANDBOXD_PORT %q: %w", portStr, err)
		}
		cfg.Port = port
	}

	switch cfg.RootfsCloneMode {
	case "auto", "reflink", "copy":
	default:
		return nil, fmt.Errorf("invalid SANDBOXD_ROOTFS_CLONE_MODE %q: must be auto, reflink, or copy", cfg.RootfsCloneMode)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
