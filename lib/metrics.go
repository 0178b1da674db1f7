package lib

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/* This file implements telemetry for oral message runs in the form of prometheus metrics */

const metricsPattern = "/metrics"

// Metrics holds a private prometheus registry and optionally serves it over http
type Metrics struct {
	server   *http.Server         // the http prometheus server
	config   MetricsConfig        // the configuration
	registry *prometheus.Registry // per instance so several sessions in one process don't collide
	log      LoggerI              // the logger

	SetupMetrics    // resource manager telemetry
	ProtocolMetrics // relay and run telemetry
}

// SetupMetrics represents the telemetry of session setup and teardown
type SetupMetrics struct {
	Setups            prometheus.Counter // how many sessions were set up successfully?
	SetupFailures     prometheus.Counter // how many setups were rejected?
	ChannelsAllocated prometheus.Gauge   // how many channels does the live hierarchy hold?
	BufferedBytes     prometheus.Gauge   // how much memory does the live hierarchy hold, estimated?
}

// ProtocolMetrics represents the telemetry of a broadcast run
type ProtocolMetrics struct {
	Runs           prometheus.Counter     // how many broadcasts completed?
	RunDuration    prometheus.Histogram   // how long did a broadcast take in seconds?
	FramesRelayed  *prometheus.CounterVec // how many frames were enqueued at each tier?
	TraceEntries   prometheus.Gauge       // how many entries did the last trace hold?
	ProtocolErrors prometheus.Counter     // how many internal protocol errors occurred?
}

// NewMetrics() creates the telemetry for a process, serving it only if enabled in the config
func NewMetrics(config MetricsConfig, l LoggerI) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	router := httprouter.New()
	router.Handler(http.MethodGet, metricsPattern, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return &Metrics{
		server:   &http.Server{Addr: config.PrometheusAddress, Handler: router, ReadHeaderTimeout: 5 * time.Second},
		config:   config,
		registry: registry,
		log:      l,
		SetupMetrics: SetupMetrics{
			Setups: factory.NewCounter(prometheus.CounterOpts{
				Name: "generals_setups_total",
				Help: "Number of sessions set up",
			}),
			SetupFailures: factory.NewCounter(prometheus.CounterOpts{
				Name: "generals_setup_failures_total",
				Help: "Number of rejected session setups",
			}),
			ChannelsAllocated: factory.NewGauge(prometheus.GaugeOpts{
				Name: "generals_channels_allocated",
				Help: "Channels held by the live channel hierarchy",
			}),
			BufferedBytes: factory.NewGauge(prometheus.GaugeOpts{
				Name: "generals_buffered_bytes",
				Help: "Estimated memory held by the live channel hierarchy when full",
			}),
		},
		ProtocolMetrics: ProtocolMetrics{
			Runs: factory.NewCounter(prometheus.CounterOpts{
				Name: "generals_runs_total",
				Help: "Number of completed broadcasts",
			}),
			RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
				Name: "generals_run_duration_seconds",
				Help: "Time from broadcast to completion signal in seconds",
			}),
			FramesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "generals_frames_relayed_total",
				Help: "Frames enqueued per recursion tier",
			}, []string{"tier"}),
			TraceEntries: factory.NewGauge(prometheus.GaugeOpts{
				Name: "generals_trace_entries",
				Help: "Entries in the most recent reporter trace",
			}),
			ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
				Name: "generals_protocol_errors_total",
				Help: "Internal protocol errors (sizing or logic defects)",
			}),
		},
	}
}

// Start() starts the telemetry server
func (m *Metrics) Start() {
	if m == nil || !m.config.Enabled {
		return
	}
	go func() {
		m.log.Infof("Starting metrics server on %s", m.config.PrometheusAddress)
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error(ErrMetricsServer(err).Error())
		}
	}()
}

// Stop() gracefully stops the telemetry server
func (m *Metrics) Stop() {
	if m == nil || !m.config.Enabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.server.Shutdown(ctx); err != nil {
		m.log.Error(ErrMetricsServer(err).Error())
	}
}

// Registry() exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// UpdateSetup() records the outcome of a setup call
func (m *Metrics) UpdateSetup(ok bool, channels int, bufferedBytes int64) {
	if m == nil {
		return
	}
	if !ok {
		m.SetupFailures.Inc()
		return
	}
	m.Setups.Inc()
	m.ChannelsAllocated.Set(float64(channels))
	m.BufferedBytes.Set(float64(bufferedBytes))
}

// UpdateCleanup() zeroes the hierarchy gauges
func (m *Metrics) UpdateCleanup() {
	if m == nil {
		return
	}
	m.ChannelsAllocated.Set(0)
	m.BufferedBytes.Set(0)
}

// UpdateRelay() counts a frame enqueued at tier
func (m *Metrics) UpdateRelay(tier int) {
	if m == nil {
		return
	}
	m.FramesRelayed.WithLabelValues(strconv.Itoa(tier)).Inc()
}

// UpdateRun() records a completed broadcast
func (m *Metrics) UpdateRun(start time.Time, traceEntries int) {
	if m == nil {
		return
	}
	m.Runs.Inc()
	m.RunDuration.Observe(time.Since(start).Seconds())
	m.TraceEntries.Set(float64(traceEntries))
}

// UpdateProtocolError() counts an internal protocol error
func (m *Metrics) UpdateProtocolError() {
	if m == nil {
		return
	}
	m.ProtocolErrors.Inc()
}
