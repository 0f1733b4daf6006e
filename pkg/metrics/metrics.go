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

// Package metrics provides Prometheus instrumentation for trust store
// operations: per-group trust list state, file handle usage, verification
// outcomes and connection sweeps.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all trust store metrics
	Namespace = "truststore"

	// Label names
	LabelGroup     = "group"
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelResult    = "result"
	LabelReason    = "reason"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpOpen            = "open"
	OpRead            = "read"
	OpWrite           = "write"
	OpClose           = "close"
	OpCloseAndUpdate  = "close_and_update"
	OpAddCertificate  = "add_certificate"
	OpRemoveCert      = "remove_certificate"
	OpUpdateCert      = "update_certificate"
	OpSigningRequest  = "create_signing_request"
	OpGetRejectedList = "get_rejected_list"
	OpApplyChanges    = "apply_changes"
)

var (
	// OperationsTotal tracks trust store operations by operation, group and
	// status. Use RecordOperation to increment with the appropriate labels.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of trust store operations by operation, group, and status",
		},
		[]string{LabelOperation, LabelGroup, LabelStatus},
	)

	// OpenFileHandles tracks the number of open trust list file handles per group.
	OpenFileHandles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "open_file_handles",
			Help:      "Number of open trust list file handles by group",
		},
		[]string{LabelGroup},
	)

	// TrustListLastUpdate records the Unix time of the last trust list change per group.
	TrustListLastUpdate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "trust_list_last_update_seconds",
			Help:      "Unix timestamp of the last trust list update by group",
		},
		[]string{LabelGroup},
	)

	// TrustListSize tracks the number of trust list entries per group.
	TrustListSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "trust_list_entries",
			Help:      "Number of trust list entries by group",
		},
		[]string{LabelGroup},
	)

	// VerificationsTotal tracks certificate verification outcomes per group.
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "verifications_total",
			Help:      "Total number of certificate verifications by group and result",
		},
		[]string{LabelGroup, LabelResult},
	)

	// RejectedCertificates tracks certificates appended to the rejected list per group.
	RejectedCertificates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rejected_certificates_total",
			Help:      "Total number of certificates recorded on the rejected list by group",
		},
		[]string{LabelGroup},
	)

	// TransactionsTotal tracks transaction outcomes (committed, discarded, orphaned).
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "transactions_total",
			Help:      "Total number of trust store transactions by result",
		},
		[]string{LabelResult},
	)

	// ConnectionsClosed tracks connections closed by the post-commit sweep.
	ConnectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connections_closed_total",
			Help:      "Total number of connections closed after trust store changes by reason",
		},
		[]string{LabelReason},
	)
)

// Resource gauges updated by the ResourceCollector.
var (
	// Goroutines tracks the current number of goroutines.
	Goroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "goroutines",
		Help:      "Current number of goroutines",
	})

	// MemoryAllocBytes tracks currently allocated heap bytes.
	MemoryAllocBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "memory_alloc_bytes",
		Help:      "Currently allocated heap memory in bytes",
	})

	// MemorySysBytes tracks memory obtained from the OS.
	MemorySysBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "memory_sys_bytes",
		Help:      "Memory obtained from the OS in bytes",
	})

	// GCPauseTotalSeconds tracks cumulative GC pause time.
	GCPauseTotalSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "gc_pause_total_seconds",
		Help:      "Cumulative garbage collection pause time in seconds",
	})

	// ServerUptime tracks server uptime in seconds.
	ServerUptime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "uptime_seconds",
		Help:      "Server uptime in seconds",
	})
)

var enabled atomic.Bool

func init() {
	enabled.Store(true)
}

// SetEnabled toggles metric updates. Registration is unaffected.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// IsEnabled reports whether metric updates are enabled.
func IsEnabled() bool {
	return enabled.Load()
}

// RecordOperation increments the operation counter.
func RecordOperation(operation, group string, err error) {
	if !IsEnabled() {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	OperationsTotal.WithLabelValues(operation, group, status).Inc()
}

// RecordVerification increments the verification counter for a group.
func RecordVerification(group, result string) {
	if !IsEnabled() {
		return
	}
	VerificationsTotal.WithLabelValues(group, result).Inc()
}

// RecordRejectedCertificate counts a certificate appended to a group's
// rejected list.
func RecordRejectedCertificate(group string) {
	if !IsEnabled() {
		return
	}
	RejectedCertificates.WithLabelValues(group).Inc()
}

// PublishGroupState updates the per-group gauges after a trust list change.
func PublishGroupState(group string, entries int, lastUpdate time.Time) {
	if !IsEnabled() {
		return
	}
	TrustListSize.WithLabelValues(group).Set(float64(entries))
	if !lastUpdate.IsZero() {
		TrustListLastUpdate.WithLabelValues(group).Set(float64(lastUpdate.Unix()))
	}
}
