// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-truststore.
//
// go-truststore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	PKI     PKIConfig     `yaml:"pki"`
	TLS     TLSConfig     `yaml:"tls"`
	Sweep   SweepConfig   `yaml:"sweep"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig contains the endpoint listener settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PKIConfig controls the on-disk trust store
type PKIConfig struct {
	// Dir is the base directory; groups live under <dir>/pki/<group>.
	Dir string `yaml:"dir"`

	// MaxRejected bounds each group's rejected certificate list.
	MaxRejected int `yaml:"max_rejected"`

	Groups GroupsConfig `yaml:"groups"`
}

// GroupsConfig enables and types the built-in certificate groups
type GroupsConfig struct {
	Application GroupConfig `yaml:"application"`
	UserToken   GroupConfig `yaml:"usertoken"`
}

// GroupConfig configures one certificate group
type GroupConfig struct {
	Enabled          bool     `yaml:"enabled"`
	CertificateTypes []string `yaml:"certificate_types"`
}

// TLSConfig locates the server's own certificate and key
type TLSConfig struct {
	CertFile    string `yaml:"cert_file"`
	KeyFile     string `yaml:"key_file"`
	KeyPassword string `yaml:"key_password"`
}

// SweepConfig controls the background sweeps
type SweepConfig struct {
	// SessionInterval is how often orphaned transactions and file handles
	// are reclaimed.
	SessionInterval time.Duration `yaml:"session_interval"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Port    int    `yaml:"port"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 4843,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		PKI: PKIConfig{
			Dir:         "/var/lib/truststore",
			MaxRejected: 100,
			Groups: GroupsConfig{
				Application: GroupConfig{
					Enabled:          true,
					CertificateTypes: []string{"rsa-sha256"},
				},
			},
		},
		Sweep: SweepConfig{
			SessionInterval: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
			Port:    9090,
		},
	}
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("TRUSTSTORE_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("TRUSTSTORE_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			log.Printf("Warning: invalid TRUSTSTORE_PORT value %q, using default %d",
				port, cfg.Server.Port)
		} else {
			cfg.Server.Port = p
		}
	}
	if level := os.Getenv("TRUSTSTORE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("TRUSTSTORE_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if dir := os.Getenv("TRUSTSTORE_PKI_DIR"); dir != "" {
		cfg.PKI.Dir = dir
	}
	if port := os.Getenv("TRUSTSTORE_METRICS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			log.Printf("Warning: invalid TRUSTSTORE_METRICS_PORT value %q, using default %d",
				port, cfg.Metrics.Port)
		} else {
			cfg.Metrics.Port = p
		}
	}
}

var validCertTypes = map[string]bool{
	"rsa-min": true, "rsa-sha256": true, "ecc-nistp256": true, "ecc-nistp384": true,
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.PKI.Dir == "" {
		return fmt.Errorf("pki dir must be specified")
	}
	if c.PKI.MaxRejected < 0 {
		return fmt.Errorf("pki max_rejected cannot be negative")
	}
	if !c.PKI.Groups.Application.Enabled && !c.PKI.Groups.UserToken.Enabled {
		return fmt.Errorf("at least one certificate group must be enabled")
	}
	for _, group := range []GroupConfig{c.PKI.Groups.Application, c.PKI.Groups.UserToken} {
		if !group.Enabled {
			continue
		}
		for _, ct := range group.CertificateTypes {
			if !validCertTypes[ct] {
				return fmt.Errorf("invalid certificate type: %s", ct)
			}
		}
	}

	if c.Sweep.SessionInterval <= 0 {
		return fmt.Errorf("sweep session_interval must be positive")
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
	}

	return nil
}
