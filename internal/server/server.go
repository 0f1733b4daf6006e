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

// Package server assembles the trust store server: file-backed certificate
// groups, the push management service, the QUIC endpoint and the metrics
// listener.
package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-truststore/internal/config"
	"github.com/jeremyhahn/go-truststore/internal/endpoint"
	"github.com/jeremyhahn/go-truststore/internal/push"
	"github.com/jeremyhahn/go-truststore/pkg/certgroup"
	"github.com/jeremyhahn/go-truststore/pkg/certgroup/filestore"
	"github.com/jeremyhahn/go-truststore/pkg/keyutil"
	"github.com/jeremyhahn/go-truststore/pkg/logging"
	"github.com/jeremyhahn/go-truststore/pkg/metrics"
)

// Server is the trust store server.
type Server struct {
	config    *config.Config
	logger    *logging.Logger
	groups    map[certgroup.GroupID]certgroup.CertificateGroup
	sessions  *SessionRegistry
	scheduler *Scheduler
	manager   *endpoint.Manager
	listener  *endpoint.Listener
	push      *push.Service

	metricsServer *http.Server
	collector     *metrics.ResourceCollector
	collectCancel context.CancelFunc

	shutdownCh chan struct{}
}

// New creates a server from its configuration. Certificate groups are loaded
// from disk and the push service is wired, but no listeners are started.
func New(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.NewLoggerWithFormat(cfg.Logging.Level, cfg.Logging.Format)

	groups, err := loadGroups(cfg, logger)
	if err != nil {
		return nil, err
	}

	manager := endpoint.NewManager(logger.With("component", "endpoint"))
	if cfg.TLS.CertFile != "" {
		cert, err := loadTLSCertificate(cfg.TLS)
		if err != nil {
			return nil, err
		}
		if err := manager.SetCertificate(cert); err != nil {
			return nil, err
		}
	}

	listener, err := endpoint.NewListener(endpoint.ListenerConfig{
		Addr:     fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Manager:  manager,
		Verifier: groups[certgroup.GroupApplication],
		Logger:   logger.With("component", "listener"),
	})
	if err != nil {
		return nil, err
	}

	sessions := NewSessionRegistry()
	scheduler := NewScheduler()

	pushSvc, err := push.New(push.Config{
		Groups:        groups,
		Sessions:      sessions,
		Endpoints:     manager,
		Connections:   listener,
		Scheduler:     scheduler,
		Logger:        logger.With("component", "push"),
		SweepInterval: cfg.Sweep.SessionInterval,
	})
	if err != nil {
		scheduler.Stop()
		return nil, err
	}

	s := &Server{
		config:     cfg,
		logger:     logger,
		groups:     groups,
		sessions:   sessions,
		scheduler:  scheduler,
		manager:    manager,
		listener:   listener,
		push:       pushSvc,
		shutdownCh: make(chan struct{}),
	}

	metrics.SetEnabled(cfg.Metrics.Enabled)
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		s.metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return s, nil
}

// loadGroups creates the file-backed certificate groups enabled in the
// configuration under <pki dir>/pki/<group dir>.
func loadGroups(cfg *config.Config, logger *logging.Logger) (map[certgroup.GroupID]certgroup.CertificateGroup, error) {
	enabled := map[certgroup.GroupID]config.GroupConfig{}
	if cfg.PKI.Groups.Application.Enabled {
		enabled[certgroup.GroupApplication] = cfg.PKI.Groups.Application
	}
	if cfg.PKI.Groups.UserToken.Enabled {
		enabled[certgroup.GroupUserToken] = cfg.PKI.Groups.UserToken
	}

	groups := make(map[certgroup.GroupID]certgroup.CertificateGroup, len(enabled))
	for id, gc := range enabled {
		types := make([]certgroup.CertificateType, 0, len(gc.CertificateTypes))
		for _, t := range gc.CertificateTypes {
			types = append(types, certgroup.CertificateType(t))
		}
		group, err := filestore.New(filestore.Config{
			Root:             filepath.Join(cfg.PKI.Dir, "pki", id.DirName()),
			ID:               id,
			CertificateTypes: types,
			MaxRejected:      cfg.PKI.MaxRejected,
			Logger:           logger.With("group", string(id)),
		})
		if err != nil {
			return nil, fmt.Errorf("loading certificate group %s: %w", id, err)
		}
		groups[id] = group
	}
	return groups, nil
}

// loadTLSCertificate reads the server certificate and key, decrypting the
// key when a password is configured.
func loadTLSCertificate(cfg config.TLSConfig) (tls.Certificate, error) {
	if cfg.KeyPassword == "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("loading server certificate: %w", err)
		}
		return cert, nil
	}

	keyData, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("reading server key: %w", err)
	}
	signer, err := keyutil.ParsePrivateKey(keyutil.FormatPEM, keyData, cfg.KeyPassword)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decrypting server key: %w", err)
	}

	certData, err := os.ReadFile(cfg.CertFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("reading server certificate: %w", err)
	}
	var chain [][]byte
	var leaf *x509.Certificate
	for block, rest := pem.Decode(certData); block != nil; block, rest = pem.Decode(rest) {
		if block.Type != "CERTIFICATE" {
			continue
		}
		if leaf == nil {
			leaf, err = x509.ParseCertificate(block.Bytes)
			if err != nil {
				return tls.Certificate{}, fmt.Errorf("parsing server certificate: %w", err)
			}
		}
		chain = append(chain, block.Bytes)
	}
	if leaf == nil {
		return tls.Certificate{}, fmt.Errorf("no certificate found in %s", cfg.CertFile)
	}
	return tls.Certificate{Certificate: chain, PrivateKey: signer, Leaf: leaf}, nil
}

// Start brings up the QUIC endpoint and, when enabled, the metrics listener.
func (s *Server) Start() error {
	if err := s.listener.Start(); err != nil {
		return err
	}

	if s.metricsServer != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.collectCancel = cancel
		s.collector = metrics.StartResourceCollector(ctx, 15*time.Second)

		go func() {
			s.logger.Infof("metrics listener started on %s%s",
				s.metricsServer.Addr, s.config.Metrics.Path)
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Errorf("metrics listener: %v", err)
			}
		}()
	}

	s.logger.Infof("trust store server started: addr=%s groups=%d",
		s.listener.Addr(), len(s.groups))
	return nil
}

// Push returns the push management service.
func (s *Server) Push() *push.Service {
	return s.push
}

// Sessions returns the session registry.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

// Groups returns the configured certificate groups.
func (s *Server) Groups() map[certgroup.GroupID]certgroup.CertificateGroup {
	return s.groups
}

// Shutdown stops the listeners and the scheduler.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down trust store server")

	if err := s.listener.Close(); err != nil {
		s.logger.MaybeError(err)
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.logger.MaybeError(err)
		}
	}
	if s.collectCancel != nil {
		s.collectCancel()
		s.collector.Stop()
	}

	s.scheduler.Stop()

	close(s.shutdownCh)
	s.logger.Info("server shutdown complete")
	return nil
}

// WaitForShutdown blocks until the server is shut down.
func (s *Server) WaitForShutdown() {
	<-s.shutdownCh
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		cancel()
	}()

	return ctx
}
