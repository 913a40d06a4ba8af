// Package metrics provides Prometheus instrumentation for acquisition sweeps
// and the capture relay.
//
// Metrics exposed:
//   - spinecho_batches_total: Counter of acquired batches
//   - spinecho_experiments_total: Counter of experiments folded into averages
//   - spinecho_acquisition_seconds: Histogram of remote acquisition duration
//   - spinecho_setpoint_attempts_total: Counter of setpoint attempts by instrument
//   - spinecho_thermal_waits_total: Counter of thermal cool-down waits
//   - spinecho_oscillator_temperature_celsius: Gauge of the last LO temperature
//   - spinecho_snr_db: Gauge of the SNR of the last finished session
//   - spinecho_errors_total: Counter of errors by component and reason
//   - spinecho_relay_runs_total: Counter of relay capture runs by mode and outcome
//
// All methods are no-ops on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of a process.
type Metrics struct {
	BatchesTotal          prometheus.Counter
	ExperimentsTotal      prometheus.Counter
	AcquisitionSeconds    prometheus.Histogram
	SetpointAttemptsTotal *prometheus.CounterVec
	ThermalWaitsTotal     prometheus.Counter
	Temperature           prometheus.Gauge
	SNRDB                 prometheus.Gauge
	ErrorsTotal           *prometheus.CounterVec
	RelayRunsTotal        *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
// Use prometheus.DefaultRegisterer for the process-wide registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "spinecho_batches_total",
			Help: "Total number of acquired batches",
		}),

		ExperimentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "spinecho_experiments_total",
			Help: "Total number of experiments folded into averages",
		}),

		AcquisitionSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "spinecho_acquisition_seconds",
			Help:    "Time spent waiting for the remote acquisition of one batch",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		SetpointAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spinecho_setpoint_attempts_total",
			Help: "Total number of setpoint attempts by instrument",
		}, []string{"instrument"}),

		ThermalWaitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "spinecho_thermal_waits_total",
			Help: "Total number of times the oscillator had to cool down",
		}),

		Temperature: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spinecho_oscillator_temperature_celsius",
			Help: "Last read local oscillator temperature",
		}),

		SNRDB: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spinecho_snr_db",
			Help: "Signal-to-noise ratio of the last finished session",
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spinecho_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),

		RelayRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spinecho_relay_runs_total",
			Help: "Total number of capture script runs by mode and outcome",
		}, []string{"mode", "outcome"}),
	}
}

// RecordBatch records one acquired batch of size experiments.
func (m *Metrics) RecordBatch(size int, took time.Duration) {
	if m == nil {
		return
	}
	m.BatchesTotal.Inc()
	m.ExperimentsTotal.Add(float64(size))
	m.AcquisitionSeconds.Observe(took.Seconds())
}

// RecordSetpointAttempt records one attempt to reach a setpoint.
func (m *Metrics) RecordSetpointAttempt(instrument string) {
	if m == nil {
		return
	}
	m.SetpointAttemptsTotal.WithLabelValues(instrument).Inc()
}

// RecordThermalWait records the start of a cool-down wait.
func (m *Metrics) RecordThermalWait() {
	if m == nil {
		return
	}
	m.ThermalWaitsTotal.Inc()
}

// SetTemperature sets the last read oscillator temperature.
func (m *Metrics) SetTemperature(celsius float64) {
	if m == nil {
		return
	}
	m.Temperature.Set(celsius)
}

// SetSNR sets the SNR of the last finished session.
func (m *Metrics) SetSNR(db float64) {
	if m == nil {
		return
	}
	m.SNRDB.Set(db)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// RecordRelayRun records one capture script run of the relay.
func (m *Metrics) RecordRelayRun(mode, outcome string) {
	if m == nil {
		return
	}
	m.RelayRunsTotal.WithLabelValues(mode, outcome).Inc()
}
