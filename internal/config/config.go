// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// AgentConfig holds configuration for the export agent.
type AgentConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)

	DataDir     string // Directory for per-user ledger slots
	DownloadDir string // Directory for synchronous download artifacts

	HTTPTimeout  time.Duration // Upper bound for every outbound OGC request
	PollInterval time.Duration // Execution status polling interval

	CallbackURL string // Optional webhook destination for lifecycle events
	SigningKey  string // Optional HMAC key for webhook signing
}

// LoadAgentConfig loads agent configuration from environment variables.
func LoadAgentConfig() *AgentConfig {
	return &AgentConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetEnv("API_KEY", GetSecretFile(GetEnv("API_KEY_FILE", ""))),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		DataDir:           GetEnv("DATA_DIR", "./data"),
		DownloadDir:       GetEnv("DOWNLOAD_DIR", "./downloads"),
		HTTPTimeout:       GetDurationEnv("HTTP_TIMEOUT", 60*time.Second),
		PollInterval:      GetDurationEnv("POLL_INTERVAL", 2*time.Second),
		CallbackURL:       GetEnv("CALLBACK_URL", ""),
		SigningKey:        GetEnv("SIGNING_KEY", GetSecretFile(GetEnv("SIGNING_KEY_FILE", ""))),
	}
}
