// Package metrics records pipeline activity as Prometheus collectors on a
// private registry. A forge run is a short-lived process, so the registry is
// exported as a node_exporter textfile rather than scraped.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lucasnoah/codeforge/internal/llm"
	"github.com/lucasnoah/codeforge/internal/reward"
)

const namespace = "forge"

// Recorder holds the forge collectors. A nil *Recorder ignores every call.
type Recorder struct {
	reg *prometheus.Registry

	modelCalls    *prometheus.CounterVec
	modelLatency  *prometheus.HistogramVec
	modelAttempts *prometheus.HistogramVec
	modelTokens   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	runs          *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	reward        prometheus.Gauge
	penalty       prometheus.Gauge
	diagnostics   *prometheus.GaugeVec
}

var _ llm.Observer = (*Recorder)(nil)

// New creates a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		reg: reg,
		// Labels: role, model, status (ok, transient, fatal)
		modelCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "calls_total",
			Help:      "Model calls by role and outcome",
		}, []string{"role", "model", "status"}),
		modelLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "call_duration_seconds",
			Help:      "Model call latency including retries",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"role"}),
		modelAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "call_attempts",
			Help:      "Attempts needed per model call",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}, []string{"role"}),
		// Labels: role, direction (prompt, completion)
		modelTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "tokens_total",
			Help:      "Tokens reported by the model service",
		}, []string{"role", "direction"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		stageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Failed pipeline stages",
		}, []string{"stage"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Finished runs by final status",
		}, []string{"status"}),
		checkDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "check_duration_seconds",
			Help:      "Static analysis check duration",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"check"}),
		reward: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "reward",
			Help:      "Reward of the last scored artifact",
		}),
		penalty: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "penalty",
			Help:      "Penalty of the last scored artifact",
		}),
		diagnostics: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "diagnostics",
			Help:      "Diagnostics of the last scored artifact by severity",
		}, []string{"severity"}),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// ObserveCall implements llm.Observer.
func (r *Recorder) ObserveCall(c llm.Call) {
	if r == nil {
		return
	}
	r.modelCalls.WithLabelValues(c.Role, c.Model, llm.Kind(c.Err)).Inc()
	r.modelLatency.WithLabelValues(c.Role).Observe(c.Duration.Seconds())
	r.modelAttempts.WithLabelValues(c.Role).Observe(float64(c.Attempts))
	r.modelTokens.WithLabelValues(c.Role, "prompt").Add(float64(c.PromptTokens))
	r.modelTokens.WithLabelValues(c.Role, "completion").Add(float64(c.CompletionTokens))
}

// ObserveStage records one stage execution.
func (r *Recorder) ObserveStage(stage string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		r.stageFailures.WithLabelValues(stage).Inc()
	}
}

// ObserveCheck records one static analysis check run.
func (r *Recorder) ObserveCheck(name string, d time.Duration) {
	if r == nil {
		return
	}
	r.checkDuration.WithLabelValues(name).Observe(d.Seconds())
}

// ObserveScore records the reward, penalty and diagnostic counts of a scored file.
func (r *Recorder) ObserveScore(res *reward.Result) {
	if r == nil || res == nil {
		return
	}
	r.reward.Set(res.Reward)
	r.penalty.Set(res.Penalty)
	r.diagnostics.Reset()
	for sev, n := range res.Counts {
		r.diagnostics.WithLabelValues(strconv.Itoa(sev)).Set(float64(n))
	}
}

// ObserveRun counts a finished run by its final status.
func (r *Recorder) ObserveRun(status string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
}

// WriteTextfile writes the registry in text exposition format to path.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
