// Package metrics provides Prometheus instrumentation for verideploy runs.
//
// The tool exits after one run, so metrics are not scraped. They are
// written once to a node-exporter textfile when a path is configured.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enabled  bool
	registry *prometheus.Registry

	// Deployment metrics
	deployTotal    *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec
	deployGasUsed  *prometheus.GaugeVec

	// Verification metrics
	verificationTotal *prometheus.CounterVec
)

// Init initializes the metrics system.
func Init(enabledFlag bool) {
	enabled = enabledFlag

	if !enabled {
		return
	}

	registry = prometheus.NewRegistry()
	factory := promauto.With(registry)

	// Deployment counter
	deployTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verideploy_deploy_total",
			Help: "Total number of contract deployments",
		},
		[]string{"network", "status"},
	)

	// Deployment duration histogram, from signing to confirmed receipt
	deployDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verideploy_deploy_duration_seconds",
			Help:    "Contract deployment latency in seconds",
			Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
		},
		[]string{"network"},
	)

	// Gas used by the last deployment
	deployGasUsed = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "verideploy_deploy_gas_used",
			Help: "Gas used by the most recent deployment",
		},
		[]string{"network"},
	)

	// Verification counter
	verificationTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verideploy_verification_total",
			Help: "Total number of verification requests",
		},
		[]string{"verifier", "result"},
	)
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// Gatherer returns the registry metrics are recorded in, or nil when
// metrics are disabled.
func Gatherer() prometheus.Gatherer {
	if !enabled {
		return nil
	}
	return registry
}

// Deploy records a deployment attempt.
func Deploy(network, status string, seconds float64, gasUsed uint64) {
	if !enabled {
		return
	}
	deployTotal.WithLabelValues(network, status).Inc()
	deployDuration.WithLabelValues(network).Observe(seconds)
	if gasUsed > 0 {
		deployGasUsed.WithLabelValues(network).Set(float64(gasUsed))
	}
}

// Verification records a verification request.
func Verification(verifier, result string) {
	if !enabled {
		return
	}
	verificationTotal.WithLabelValues(verifier, result).Inc()
}

// WriteTextfile writes all recorded metrics to path in the text exposition
// format. It is a no-op when metrics are disabled or path is empty.
func WriteTextfile(path string) error {
	if !enabled || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
