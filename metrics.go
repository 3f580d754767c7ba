package jot

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DocSource returns the current document snapshot for scraping.
type DocSource func() *Doc

// DocCollector exports document-level gauges for whichever snapshot
// the source currently holds.
type DocCollector struct {
	source DocSource

	seq              *prometheus.Desc
	pendingRequests  *prometheus.Desc
	cachedObjects    *prometheus.Desc
	conflictedFields *prometheus.Desc
	depsActors       *prometheus.Desc
}

func NewDocCollector(source DocSource) *DocCollector {
	return &DocCollector{
		source: source,

		seq: prometheus.NewDesc(
			"jot_doc_seq",
			"Highest local sequence number assigned",
			nil, nil,
		),
		pendingRequests: prometheus.NewDesc(
			"jot_doc_pending_requests",
			"Local changes not yet acknowledged by the backend",
			nil, nil,
		),
		cachedObjects: prometheus.NewDesc(
			"jot_doc_cached_objects",
			"Objects held in the materialised cache",
			nil, nil,
		),
		conflictedFields: prometheus.NewDesc(
			"jot_doc_conflicted_fields",
			"Fields currently carrying concurrent-write conflict buckets",
			nil, nil,
		),
		depsActors: prometheus.NewDesc(
			"jot_doc_deps_actors",
			"Actors tracked in the dependency clock",
			nil, nil,
		),
	}
}

func (c *DocCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.seq
	ch <- c.pendingRequests
	ch <- c.cachedObjects
	ch <- c.conflictedFields
	ch <- c.depsActors
}

func (c *DocCollector) Collect(ch chan<- prometheus.Metric) {
	doc := c.source()
	if doc == nil {
		return
	}

	conflicted := 0
	itr := doc.conflicts.Iterator()
	for !itr.Done() {
		_, cs, _ := itr.Next()
		conflicted += len(cs)
	}

	ch <- prometheus.MustNewConstMetric(c.seq, prometheus.GaugeValue, float64(doc.seq))
	ch <- prometheus.MustNewConstMetric(c.pendingRequests, prometheus.GaugeValue, float64(len(doc.requests)))
	ch <- prometheus.MustNewConstMetric(c.cachedObjects, prometheus.GaugeValue, float64(doc.rendered.Len()))
	ch <- prometheus.MustNewConstMetric(c.conflictedFields, prometheus.GaugeValue, float64(conflicted))
	ch <- prometheus.MustNewConstMetric(c.depsActors, prometheus.GaugeValue, float64(len(doc.deps)))
}
