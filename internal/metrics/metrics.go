// Package metrics turns job lifecycle events into prometheus series on a
// private registry.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"remindd/internal/eventbus"
	"remindd/internal/task/scheduler"
)

const namespace = "remindd"

type Metrics struct {
	reg *prometheus.Registry

	events   *prometheus.CounterVec
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_events_total",
			Help:      "Job lifecycle events by type.",
		}, []string{"event"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Finished job runs by action and outcome.",
		}, []string{"action", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_run_seconds",
			Help:      "Job run duration by action.",
			Buckets:   []float64{.005, .025, .1, .5, 1, 5, 30, 120},
		}, []string{"action"}),
	}
	m.reg.MustRegister(
		m.events,
		m.runs,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// GaugeFunc exposes a value read at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Observe records one bus event. Non-job events are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	je, ok := e.Data.(scheduler.JobEvent)
	if !ok {
		return
	}
	m.events.WithLabelValues(e.Type).Inc()

	switch e.Type {
	case scheduler.EventJobFinished:
		m.runs.WithLabelValues(string(je.Action), "ok").Inc()
		m.duration.WithLabelValues(string(je.Action)).Observe(je.Took.Seconds())
	case scheduler.EventJobFailed:
		m.runs.WithLabelValues(string(je.Action), "error").Inc()
		m.duration.WithLabelValues(string(je.Action)).Observe(je.Took.Seconds())
	}
}

// Consume observes events until ctx ends or the channel closes.
func (m *Metrics) Consume(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
