package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder on a Prometheus registry.
type PrometheusRecorder struct {
	registry *prom.Registry

	runsStarted    prom.Counter
	runsFinished   *prom.CounterVec
	runDuration    prom.Histogram
	resumeAttempts *prom.HistogramVec
	modelCalls     prom.Histogram
	compileResults *prom.CounterVec
	pageMismatches prom.Counter
	documents      *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the run metrics on reg;
// a nil reg gets a private registry (exposed via Registry for scraping).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	pr := &PrometheusRecorder{
		registry: reg,
		runsStarted: prom.NewCounter(prom.CounterOpts{
			Namespace: "applyforge",
			Name:      "runs_started_total",
			Help:      "Generation runs accepted for processing",
		}),
		runsFinished: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "applyforge",
			Name:      "runs_finished_total",
			Help:      "Generation runs by terminal outcome",
		}, []string{"outcome"}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "applyforge",
			Name:      "run_duration_seconds",
			Help:      "End-to-end duration of one generation run",
			Buckets:   prom.DefBuckets,
		}),
		resumeAttempts: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "applyforge",
			Name:      "resume_attempts",
			Help:      "Generate-compile-measure passes the primary document needed",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}, []string{"result"}),
		modelCalls: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "applyforge",
			Name:      "model_calls_per_run",
			Help:      "Backend model calls consumed by one run",
			Buckets:   []float64{1, 2, 4, 8, 16, 32},
		}),
		compileResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "applyforge",
			Name:      "compile_results_total",
			Help:      "Document compilations by result",
		}, []string{"result"}),
		pageMismatches: prom.NewCounter(prom.CounterOpts{
			Namespace: "applyforge",
			Name:      "page_mismatches_total",
			Help:      "Compiled drafts whose page count missed the target",
		}),
		documents: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "applyforge",
			Name:      "documents_total",
			Help:      "Documents by kind and final status",
		}, []string{"kind", "status"}),
	}

	reg.MustRegister(
		pr.runsStarted,
		pr.runsFinished,
		pr.runDuration,
		pr.resumeAttempts,
		pr.modelCalls,
		pr.compileResults,
		pr.pageMismatches,
		pr.documents,
	)

	return pr
}

// Registry returns the registry the recorder registered on, for exposure
// through a scrape handler.
func (p *PrometheusRecorder) Registry() *prom.Registry {
	if p == nil {
		return nil
	}
	return p.registry
}

func (p *PrometheusRecorder) IncRunStarted() {
	if p == nil {
		return
	}
	p.runsStarted.Inc()
}

func (p *PrometheusRecorder) IncRunOutcome(outcome RunOutcome) {
	if p == nil {
		return
	}
	p.runsFinished.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveResumeAttempts(attempts int, success bool) {
	if p == nil {
		return
	}
	result := "degraded"
	if success {
		result = "success"
	}
	p.resumeAttempts.WithLabelValues(result).Observe(float64(attempts))
}

func (p *PrometheusRecorder) ObserveModelCalls(calls int) {
	if p == nil {
		return
	}
	p.modelCalls.Observe(float64(calls))
}

func (p *PrometheusRecorder) IncCompileResult(success bool) {
	if p == nil {
		return
	}
	result := "failed"
	if success {
		result = "success"
	}
	p.compileResults.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncPageMismatch() {
	if p == nil {
		return
	}
	p.pageMismatches.Inc()
}

func (p *PrometheusRecorder) IncDocumentResult(kind, status string) {
	if p == nil {
		return
	}
	p.documents.WithLabelValues(kind, status).Inc()
}
