package observability

import (
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/otpbroker/internal/observability"
)

type provider struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics observability.Metrics
}

type registeredMetrics struct {
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
	gauges     map[observability.MetricKey]observability.Gauge
}

func (m *registeredMetrics) Counter(name observability.MetricKey) observability.Counter {
	if m == nil || m.counters == nil {
		return observability.NopCounter()
	}
	if c, ok := m.counters[name]; ok && c != nil {
		return c
	}
	return observability.NopCounter()
}

func (m *registeredMetrics) Histogram(name observability.MetricKey) observability.Histogram {
	if m == nil || m.histograms == nil {
		return observability.NopHistogram()
	}
	if h, ok := m.histograms[name]; ok && h != nil {
		return h
	}
	return observability.NopHistogram()
}

func (m *registeredMetrics) Gauge(name observability.MetricKey) observability.Gauge {
	if m == nil || m.gauges == nil {
		return observability.NopGauge()
	}
	if g, ok := m.gauges[name]; ok && g != nil {
		return g
	}
	return observability.NopGauge()
}

// Instruments groups the metric instruments handed to New.
type Instruments struct {
	Counters   map[observability.MetricKey]observability.Counter
	Histograms map[observability.MetricKey]observability.Histogram
	Gauges     map[observability.MetricKey]observability.Gauge
}

// New assembles an Observability provider backed by the supplied tracer, logger, and metric instruments.
func New(tracer observability.Tracer, logger observability.Logger, in Instruments) observability.Observability {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	var metrics observability.Metrics = observability.NopMetrics()
	if len(in.Counters) > 0 || len(in.Histograms) > 0 || len(in.Gauges) > 0 {
		m := &registeredMetrics{
			counters:   make(map[observability.MetricKey]observability.Counter, len(in.Counters)),
			histograms: make(map[observability.MetricKey]observability.Histogram, len(in.Histograms)),
			gauges:     make(map[observability.MetricKey]observability.Gauge, len(in.Gauges)),
		}
		for k, v := range in.Counters {
			if v != nil {
				m.counters[k] = v
			}
		}
		for k, v := range in.Histograms {
			if v != nil {
				m.histograms[k] = v
			}
		}
		for k, v := range in.Gauges {
			if v != nil {
				m.gauges[k] = v
			}
		}
		metrics = m
	}

	return &provider{
		tracer:  tracer,
		logger:  logger,
		metrics: metrics,
	}
}

// DefaultInstruments registers every broker metric on r and returns them keyed for New.
func DefaultInstruments(r prometrics.Registry) Instruments {
	counter := func(k observability.MetricKey, help string, labels ...string) observability.Counter {
		return r.Counter(string(k), help, labels...)
	}
	histogram := func(k observability.MetricKey, help string, labels ...string) observability.Histogram {
		return r.Histogram(string(k), help, nil, labels...)
	}
	return Instruments{
		Counters: map[observability.MetricKey]observability.Counter{
			observability.MUsecaseRequests:      counter(observability.MUsecaseRequests, "Total number of use case invocations.", "use_case", "outcome"),
			observability.MHTTPRequests:         counter(observability.MHTTPRequests, "Inbound HTTP requests.", "route", "method", "status"),
			observability.MExternalRequests:     counter(observability.MExternalRequests, "Outbound provider HTTP requests.", "target", "method", "outcome"),
			observability.MEventPublishFailures: counter(observability.MEventPublishFailures, "Count of notification publish failures.", "event"),
			observability.MSchedulerTasks:       counter(observability.MSchedulerTasks, "Scheduled monitor tasks by kind and result.", "kind", "result"),
			observability.MOrderTransitions:     counter(observability.MOrderTransitions, "Order status transitions.", "to"),
			observability.MNotifications:        counter(observability.MNotifications, "Notifications delivered to sinks.", "kind", "outcome"),
		},
		Histograms: map[observability.MetricKey]observability.Histogram{
			observability.MUsecaseDuration:         histogram(observability.MUsecaseDuration, "Duration of use case execution in seconds.", "use_case"),
			observability.MHTTPRequestDuration:     histogram(observability.MHTTPRequestDuration, "Duration of inbound HTTP requests in seconds.", "route", "method"),
			observability.MExternalRequestDuration: histogram(observability.MExternalRequestDuration, "Duration of outbound provider requests in seconds.", "target", "method"),
		},
		Gauges: map[observability.MetricKey]observability.Gauge{
			observability.MSchedulerActiveTasks: r.Gauge(string(observability.MSchedulerActiveTasks), "Live scheduler handles by kind.", "kind"),
		},
	}
}

func (p *provider) Tracer() observability.Tracer {
	return p.tracer
}

func (p *provider) Logger() observability.Logger {
	return p.logger
}

func (p *provider) Metrics() observability.Metrics {
	if p.metrics == nil {
		return observability.NopMetrics()
	}
	return p.metrics
}
