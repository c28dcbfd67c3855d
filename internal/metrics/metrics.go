package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its registry so tests and multiple servers in one process
// never collide on the default one.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	AppointmentTransitions *prometheus.CounterVec
	LabTestTransitions     *prometheus.CounterVec
	AppointmentsBooked     prometheus.Counter
	LabTestsRequested      prometheus.Counter

	NotificationsTotal *prometheus.CounterVec
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	f := factory{reg: reg}

	c := &Collector{
		registry: reg,
		RequestsTotal: f.counterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, "method", "route", "status"),
		RequestDuration: f.histogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, "method", "route"),
		AppointmentTransitions: f.counterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Appointment status transitions applied, by source and target status.",
		}, "from", "to"),
		LabTestTransitions: f.counterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lab_tests",
			Name:      "transitions_total",
			Help:      "Lab test status transitions applied, by source and target status.",
		}, "from", "to"),
		AppointmentsBooked: f.counter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "booked_total",
			Help:      "Appointments created.",
		}),
		LabTestsRequested: f.counter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lab_tests",
			Name:      "requested_total",
			Help:      "Lab test requests created.",
		}),
		NotificationsTotal: f.counterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "total",
			Help:      "Notification outcomes: sent, failed, or dropped on a full queue. Alert on dropped.",
		}, "outcome"),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

type factory struct {
	reg *prometheus.Registry
}

func (f factory) counter(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	f.reg.MustRegister(c)
	return c
}

func (f factory) counterVec(opts prometheus.CounterOpts, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	f.reg.MustRegister(c)
	return c
}

func (f factory) histogramVec(opts prometheus.HistogramOpts, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	f.reg.MustRegister(h)
	return h
}
