// Package metrics provides Prometheus instrumentation for searches, search
// stages, git commands and caches.
//
// A Recorder is constructed with an explicit prometheus.Registerer so each
// server or test owns its registry:
//
//	reg := prometheus.NewRegistry()
//	rec := metrics.New(reg)
//	http.Handle("/metrics", metrics.Handler(reg))
//
// All Recorder methods accept a nil receiver, which lets components take an
// optional *Recorder without nil checks at every call site.
package metrics
