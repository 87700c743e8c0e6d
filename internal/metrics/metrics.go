// Package metrics exposes supervision state as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/hdmistream/internal/supervisor"
)

// Metrics holds the Prometheus collectors for one supervisor instance.
// It implements supervisor.Observer.
type Metrics struct {
	registry *prometheus.Registry

	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	faults      prometheus.Counter
	resolutions *prometheus.CounterVec
	deviceInfo  *prometheus.GaugeVec
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hdmistream_supervisor_state",
			Help: "Current supervisor lifecycle state (1 on the active state, 0 elsewhere).",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hdmistream_state_transitions_total",
			Help: "Supervisor state transitions.",
		}, []string{"from", "to"}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hdmistream_pipeline_faults_total",
			Help: "Fatal pipeline faults detected by the health monitor.",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hdmistream_device_resolutions_total",
			Help: "Device resolution attempts by outcome.",
		}, []string{"outcome"}),
		deviceInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hdmistream_device_info",
			Help: "Resolved device identity, value fixed at 1.",
		}, []string{"video", "usb_address", "audio"}),
	}

	m.registry.MustRegister(m.state, m.transitions, m.faults, m.resolutions, m.deviceInfo)
	m.state.WithLabelValues(supervisor.StateIdle.String()).Set(1)
	return m
}

// StateChanged implements supervisor.Observer.
func (m *Metrics) StateChanged(from, to supervisor.State) {
	m.state.WithLabelValues(from.String()).Set(0)
	m.state.WithLabelValues(to.String()).Set(1)
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// FaultDetected implements supervisor.Observer.
func (m *Metrics) FaultDetected(string) {
	m.faults.Inc()
}

// RecordResolution records a resolution outcome ("success" or "failure").
func (m *Metrics) RecordResolution(outcome string) {
	m.resolutions.WithLabelValues(outcome).Inc()
}

// SetDevice records the resolved device identity.
func (m *Metrics) SetDevice(video, usbAddress, audio string) {
	m.deviceInfo.Reset()
	m.deviceInfo.WithLabelValues(video, usbAddress, audio).Set(1)
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
