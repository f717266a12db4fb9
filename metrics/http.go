package metrics

import (
	"net/http"

	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns an http.Handler exposing the recorder's registry in
// Prometheus exposition format. A nil recorder serves 404.
func (p *PrometheusRecorder) Handler() http.Handler {
	if p == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.Registry(), promhttp.HandlerOpts{EnableOpenMetrics: true})
}
