// Package metrics provides build observability hooks.
//
// Components receive a Recorder and default to NoopRecorder, so callers never
// nil-check:
//
//	rec := metrics.Recorder(metrics.NoopRecorder{})
//	if addr != "" {
//	    rec = metrics.NewPrometheusRecorder(reg)
//	}
//
// PrometheusRecorder registers its collectors on the supplied registry and
// HTTPHandler exposes that registry for scraping (used by watch mode).
package metrics
