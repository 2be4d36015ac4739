package taskqueue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the optional prometheus collectors of a queue. All methods
// are no-ops on a nil receiver.
type metrics struct {
	submitted  prometheus.Counter
	executed   prometheus.Counter
	panics     prometheus.Counter
	suppressed prometheus.Counter
	depth      prometheus.Gauge
	duration   prometheus.Histogram
	wait       prometheus.Histogram
}

func newMetrics(registerer prometheus.Registerer, name string) (*metrics, error) {
	labels := prometheus.Labels{"queue": name}
	m := &metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "esbridge",
			Subsystem:   "taskqueue",
			Name:        "tasks_submitted_total",
			Help:        "Tasks accepted by the queue.",
			ConstLabels: labels,
		}),
		executed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "esbridge",
			Subsystem:   "taskqueue",
			Name:        "tasks_executed_total",
			Help:        "Tasks run to completion by the worker, including panicking tasks.",
			ConstLabels: labels,
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "esbridge",
			Subsystem:   "taskqueue",
			Name:        "task_panics_total",
			Help:        "Tasks that panicked and were recovered.",
			ConstLabels: labels,
		}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "esbridge",
			Subsystem:   "taskqueue",
			Name:        "task_errors_suppressed_total",
			Help:        "Task failures whose log entry was dropped by rate limiting.",
			ConstLabels: labels,
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "esbridge",
			Subsystem:   "taskqueue",
			Name:        "depth",
			Help:        "Tasks currently waiting in the queue.",
			ConstLabels: labels,
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "esbridge",
			Subsystem:   "taskqueue",
			Name:        "task_duration_seconds",
			Help:        "Time spent executing a task on the worker.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "esbridge",
			Subsystem:   "taskqueue",
			Name:        "task_wait_seconds",
			Help:        "Time a task spent queued before the worker picked it up.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
	for _, c := range []prometheus.Collector{m.submitted, m.executed, m.panics, m.suppressed, m.depth, m.duration, m.wait} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) onSubmit(depth int) {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.depth.Set(float64(depth))
}

func (m *metrics) onDequeue(depth int, enqueued time.Time) {
	if m == nil {
		return
	}
	m.depth.Set(float64(depth))
	m.wait.Observe(time.Since(enqueued).Seconds())
}

func (m *metrics) onExecuted(d time.Duration) {
	if m == nil {
		return
	}
	m.executed.Inc()
	m.duration.Observe(d.Seconds())
}

func (m *metrics) onPanic() {
	if m == nil {
		return
	}
	m.panics.Inc()
}

func (m *metrics) onSuppressed() {
	if m == nil {
		return
	}
	m.suppressed.Inc()
}
