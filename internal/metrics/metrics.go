// Package metrics exposes prometheus collectors for the question pipeline.
package metrics

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kyleking/sql-assist/internal/errors"
)

var (
	proposalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassist_proposals_total",
			Help: "Total number of questions by pipeline outcome.",
		},
		[]string{"outcome"},
	)
	validationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassist_validation_total",
			Help: "Total number of generated queries by validation verdict.",
		},
		[]string{"verdict"},
	)
	generationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlassist_generation_duration_seconds",
			Help:    "Latency of calls to the text-generation service.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassist_executions_total",
			Help: "Total number of confirmed query executions by outcome.",
		},
		[]string{"outcome"},
	)
	executionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlassist_execution_duration_seconds",
			Help:    "Latency of confirmed query executions.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		proposalsTotal,
		validationTotal,
		generationDurationSeconds,
		executionsTotal,
		executionDurationSeconds,
	)
}

// Outcome labels an error for the proposal and execution counters
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}

	return string(errors.GetType(err))
}

// ObserveProposal counts one submitted question
func ObserveProposal(outcome string) {
	proposalsTotal.WithLabelValues(outcome).Inc()
}

// ObserveValidation counts one validation verdict
func ObserveValidation(verdict string) {
	validationTotal.WithLabelValues(verdict).Inc()
}

// ObserveGeneration records the latency of one generation call
func ObserveGeneration(elapsed time.Duration) {
	generationDurationSeconds.Observe(elapsed.Seconds())
}

// ObserveExecution counts one execution and records its latency
func ObserveExecution(outcome string, elapsed time.Duration) {
	executionsTotal.WithLabelValues(outcome).Inc()
	executionDurationSeconds.Observe(elapsed.Seconds())
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, errors.ErrTypeConfig, "metrics listener on %s failed", addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	}
}
