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

package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-truststore/internal/server"
)

// shutdownTimeout bounds graceful shutdown after a signal.
const shutdownTimeout = 10 * time.Second

// serveCmd runs the trust store server until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trust store server",
	Long: `Run the trust store server: loads the certificate groups from the
PKI directory, starts the QUIC endpoint and, when enabled, the metrics
listener. The server runs until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		srv, err := server.New(cfg)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}

		<-server.SetupSignalHandler().Done()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.String("host", "", "listen address")
	flags.Int("port", 0, "listen port")
	flags.String("pki-dir", "", "PKI base directory")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
	flags.Bool("metrics", false, "enable the metrics listener")
	flags.Int("metrics-port", 0, "metrics listener port")

	mustBind := func(key, flag string) {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	mustBind("server.host", "host")
	mustBind("server.port", "port")
	mustBind("pki.dir", "pki-dir")
	mustBind("logging.level", "log-level")
	mustBind("logging.format", "log-format")
	mustBind("metrics.enabled", "metrics")
	mustBind("metrics.port", "metrics-port")
}
