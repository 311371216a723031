package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the scheduler's tick state machine as Prometheus gauges
// and counters, grounded in kilianp07-v2g's metrics.PromSink: register on
// construction, reuse the existing collector if a previous instance in this
// process already registered it (AlreadyRegisteredError), update in place
// of a domain event handler.
type Metrics struct {
	tasksRegistered prometheus.Gauge
	tasksRunning    prometheus.Gauge
	ticks           prometheus.Counter
	taskFailures    *prometheus.CounterVec
}

// NewMetrics registers the scheduler's metrics on reg, or the default
// registerer if reg is nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	tasksRegistered := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "home_scheduler_tasks_registered",
		Help: "Number of tasks currently registered with the scheduler.",
	})
	tasksRunning := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "home_scheduler_tasks_running",
		Help: "Number of tasks the scheduler believes are currently running.",
	})
	ticks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "home_scheduler_ticks_total",
		Help: "Total number of scheduler ticks executed.",
	})
	taskFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "home_scheduler_task_failures_total",
		Help: "Total number of panics recovered from a task adapter call, by task ID.",
	}, []string{"task_id"})

	if err := reg.Register(tasksRegistered); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			tasksRegistered = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(tasksRunning); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			tasksRunning = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(ticks); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			ticks = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(taskFailures); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			taskFailures = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}

	return &Metrics{
		tasksRegistered: tasksRegistered,
		tasksRunning:    tasksRunning,
		ticks:           ticks,
		taskFailures:    taskFailures,
	}, nil
}

func (m *Metrics) observeTick(registered, running int) {
	if m == nil {
		return
	}
	m.tasksRegistered.Set(float64(registered))
	m.tasksRunning.Set(float64(running))
	m.ticks.Inc()
}

func (m *Metrics) observeTaskFailure(taskID string) {
	if m == nil {
		return
	}
	m.taskFailures.WithLabelValues(taskID).Inc()
}
