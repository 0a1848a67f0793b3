// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sdk

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayhub",
			Subsystem: "connector",
			Name:      "actions_total",
			Help:      "Connector actions by type, action, kind and status",
		},
		[]string{"connector_type", "action", "kind", "status"},
	)
	actionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relayhub",
			Subsystem: "connector",
			Name:      "action_duration_seconds",
			Help:      "Connector action latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"connector_type", "action"},
	)
	connectedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "relayhub",
			Subsystem: "connector",
			Name:      "connected",
			Help:      "Connected connector instances by type",
		},
		[]string{"connector_type"},
	)
)

// RegisterMetrics registers the connector collectors with reg. Registering
// twice is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{actionsTotal, actionDuration, connectedGauge} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

// ConnectorMetrics records per-instance counters and feeds the shared
// Prometheus collectors.
type ConnectorMetrics struct {
	connectorType string

	queriesTotal  int64
	executesTotal int64
	errorsTotal   int64
	queryNanos    int64
	executeNanos  int64
	connected     int32
}

// NewConnectorMetrics creates a new metrics collector
func NewConnectorMetrics(connectorType string) *ConnectorMetrics {
	return &ConnectorMetrics{connectorType: connectorType}
}

// RecordQuery records a read action.
func (m *ConnectorMetrics) RecordQuery(action string, duration time.Duration, err error) {
	atomic.AddInt64(&m.queriesTotal, 1)
	atomic.AddInt64(&m.queryNanos, int64(duration))
	m.observe(action, "read", duration, err)
}

// RecordExecute records a write action.
func (m *ConnectorMetrics) RecordExecute(action string, duration time.Duration, err error) {
	atomic.AddInt64(&m.executesTotal, 1)
	atomic.AddInt64(&m.executeNanos, int64(duration))
	m.observe(action, "write", duration, err)
}

func (m *ConnectorMetrics) observe(action, kind string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		atomic.AddInt64(&m.errorsTotal, 1)
	}
	actionsTotal.WithLabelValues(m.connectorType, action, kind, status).Inc()
	actionDuration.WithLabelValues(m.connectorType, action).Observe(duration.Seconds())
}

// RecordConnect records a connect operation
func (m *ConnectorMetrics) RecordConnect() {
	if atomic.CompareAndSwapInt32(&m.connected, 0, 1) {
		connectedGauge.WithLabelValues(m.connectorType).Inc()
	}
}

// RecordDisconnect records a disconnect operation
func (m *ConnectorMetrics) RecordDisconnect() {
	if atomic.CompareAndSwapInt32(&m.connected, 1, 0) {
		connectedGauge.WithLabelValues(m.connectorType).Dec()
	}
}

// GetStats returns current metrics
func (m *ConnectorMetrics) GetStats() *MetricsSnapshot {
	q := atomic.LoadInt64(&m.queriesTotal)
	e := atomic.LoadInt64(&m.executesTotal)
	s := &MetricsSnapshot{
		ConnectorType: m.connectorType,
		QueriesTotal:  q,
		ExecutesTotal: e,
		ErrorsTotal:   atomic.LoadInt64(&m.errorsTotal),
		Connected:     atomic.LoadInt32(&m.connected) == 1,
	}
	if q > 0 {
		s.AvgQueryLatency = time.Duration(atomic.LoadInt64(&m.queryNanos) / q)
	}
	if e > 0 {
		s.AvgExecuteLatency = time.Duration(atomic.LoadInt64(&m.executeNanos) / e)
	}
	return s
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	ConnectorType     string        `json:"connector_type"`
	QueriesTotal      int64         `json:"queries_total"`
	ExecutesTotal     int64         `json:"executes_total"`
	ErrorsTotal       int64         `json:"errors_total"`
	Connected         bool          `json:"connected"`
	AvgQueryLatency   time.Duration `json:"avg_query_latency"`
	AvgExecuteLatency time.Duration `json:"avg_execute_latency"`
}
