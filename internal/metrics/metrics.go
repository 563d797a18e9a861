/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics defines the Prometheus collectors exported by procwarden.
// metrics 包定义 procwarden 导出的 Prometheus 指标。
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "procwarden"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
// Metrics 汇总所有指标。nil 的 *Metrics 合法，不记录任何数据。
type Metrics struct {
	Registry *prometheus.Registry

	batches      *prometheus.CounterVec
	attributed   *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	kills        *prometheus.CounterVec
	sweeps       *prometheus.CounterVec
	terminations *prometheus.CounterVec
	stalls       *prometheus.CounterVec
	sessions     prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
// New 在新的注册表上创建并注册所有指标。
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_registered_total",
			Help: "Batches registered with a supervisor.",
		}, []string{"family"}),
		attributed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pids_attributed_total",
			Help: "New processes attributed to a batch during capture.",
		}, []string{"family"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pids_rejected_total",
			Help: "New processes discarded because they are not owned by this application.",
		}, []string{"family"}),
		kills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "kills_total",
			Help: "Kill attempts by result.",
		}, []string{"family", "result"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "global_sweeps_total",
			Help: "Global fallback sweeps performed.",
		}, []string{"family"}),
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_terminations_total",
			Help: "Session terminations by failure flag.",
		}, []string{"failed"}),
		stalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stalls_total",
			Help: "Stall verdicts by progress key.",
		}, []string{"key"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Sessions currently running or paused.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.batches, m.attributed, m.rejected, m.kills, m.sweeps,
		m.terminations, m.stalls, m.sessions,
	)
	return m
}

// BatchRegistered counts a registration.
func (m *Metrics) BatchRegistered(family string) {
	if m != nil {
		m.batches.WithLabelValues(family).Inc()
	}
}

// Attributed counts pids attributed to a batch.
func (m *Metrics) Attributed(family string, n int) {
	if m != nil && n > 0 {
		m.attributed.WithLabelValues(family).Add(float64(n))
	}
}

// Rejected counts foreign pids discarded by a capture.
func (m *Metrics) Rejected(family string, n int) {
	if m != nil && n > 0 {
		m.rejected.WithLabelValues(family).Add(float64(n))
	}
}

// Kill counts one kill attempt.
func (m *Metrics) Kill(family, result string) {
	if m != nil {
		m.kills.WithLabelValues(family, result).Inc()
	}
}

// Sweep counts one global fallback sweep.
func (m *Metrics) Sweep(family string) {
	if m != nil {
		m.sweeps.WithLabelValues(family).Inc()
	}
}

// Terminated counts a session termination.
func (m *Metrics) Terminated(failed bool) {
	if m != nil {
		m.terminations.WithLabelValues(strconv.FormatBool(failed)).Inc()
	}
}

// Stalled counts a stall verdict.
func (m *Metrics) Stalled(key string) {
	if m != nil {
		m.stalls.WithLabelValues(key).Inc()
	}
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m != nil {
		m.sessions.Inc()
	}
}

// SessionFinished decrements the active session gauge.
func (m *Metrics) SessionFinished() {
	if m != nil {
		m.sessions.Dec()
	}
}
