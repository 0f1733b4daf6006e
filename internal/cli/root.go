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

// Package cli implements the truststore command line interface.
package cli

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-truststore/internal/config"
)

var (
	cfgFile string
	v       = viper.New()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "truststore",
	Short: "Certificate trust store server with push management",
	Long: `truststore serves a certificate trust store over QUIC and lets an
administrator manage it remotely: replace trust lists transactionally,
add and remove individual certificates, rotate server certificates via
signing requests, and inspect rejected peer certificates.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is /etc/truststore/config.yaml)")

	v.SetEnvPrefix("TRUSTSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}

// defaultConfigFile is consulted when --config is not given.
const defaultConfigFile = "/etc/truststore/config.yaml"

// loadConfig builds the effective configuration: file values over defaults,
// then flag and environment overrides bound through viper.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	switch {
	case cfgFile != "":
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	default:
		loaded, err := config.Load(defaultConfigFile)
		if err == nil {
			cfg = loaded
		} else if errors.Is(err, os.ErrNotExist) {
			cfg = config.Default()
		} else {
			return nil, err
		}
	}

	if v.IsSet("server.host") {
		cfg.Server.Host = v.GetString("server.host")
	}
	if v.IsSet("server.port") {
		cfg.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("pki.dir") {
		cfg.PKI.Dir = v.GetString("pki.dir")
	}
	if v.IsSet("logging.level") {
		cfg.Logging.Level = v.GetString("logging.level")
	}
	if v.IsSet("logging.format") {
		cfg.Logging.Format = v.GetString("logging.format")
	}
	if v.IsSet("metrics.enabled") {
		cfg.Metrics.Enabled = v.GetBool("metrics.enabled")
	}
	if v.IsSet("metrics.port") {
		cfg.Metrics.Port = v.GetInt("metrics.port")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
