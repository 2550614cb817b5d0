package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink on the Prometheus client library.
// Registration errors are swallowed; a collector that fails to register
// still works locally, it just is not exported.
type PrometheusSink struct {
	ticksTotal      prometheus.Counter
	tickErrorsTotal prometheus.Counter
	rescheduled     prometheus.Counter
	tickDuration    prometheus.Histogram

	jobsClaimed   *prometheus.CounterVec
	jobsStale     *prometheus.CounterVec
	jobsDelivered *prometheus.CounterVec
	jobsFailed    *prometheus.CounterVec
	deliveryTime  prometheus.Histogram

	queueUnavailable prometheus.Counter
}

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bossbot_tick_total",
			Help: "Total fixed-boss tick passes.",
		}),
		tickErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bossbot_tick_errors_total",
			Help: "Tick passes that ended with an error.",
		}),
		rescheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bossbot_tick_rescheduled_total",
			Help: "Calendar occurrences (re)scheduled by the tick loop.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bossbot_tick_duration_seconds",
			Help:    "Duration of each tick pass.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),
		jobsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bossbot_jobs_claimed_total",
			Help: "Jobs claimed from the queue.",
		}, []string{"kind"}),
		jobsStale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bossbot_jobs_stale_total",
			Help: "Jobs discarded by the execution-time stale check.",
		}, []string{"kind"}),
		jobsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bossbot_jobs_delivered_total",
			Help: "Jobs whose notifications were sent.",
		}, []string{"kind"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bossbot_jobs_failed_total",
			Help: "Jobs that failed after claim.",
		}, []string{"kind"}),
		deliveryTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bossbot_job_delivery_seconds",
			Help:    "Time from claim to delivered notification.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		queueUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bossbot_queue_unavailable_total",
			Help: "Queue operations that failed with a backend error.",
		}),
	}
	for _, c := range []prometheus.Collector{
		s.ticksTotal, s.tickErrorsTotal, s.rescheduled, s.tickDuration,
		s.jobsClaimed, s.jobsStale, s.jobsDelivered, s.jobsFailed,
		s.deliveryTime, s.queueUnavailable,
	} {
		_ = reg.Register(c)
	}
	return s
}

func (s *PrometheusSink) TickStarted() { s.ticksTotal.Inc() }

func (s *PrometheusSink) TickCompleted(duration time.Duration, rescheduled int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.rescheduled.Add(float64(rescheduled))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) JobClaimed(kind string) { s.jobsClaimed.WithLabelValues(kind).Inc() }
func (s *PrometheusSink) JobStale(kind string)   { s.jobsStale.WithLabelValues(kind).Inc() }

func (s *PrometheusSink) JobDelivered(kind string, duration time.Duration) {
	s.jobsDelivered.WithLabelValues(kind).Inc()
	s.deliveryTime.Observe(duration.Seconds())
}

func (s *PrometheusSink) JobFailed(kind string) { s.jobsFailed.WithLabelValues(kind).Inc() }

func (s *PrometheusSink) QueueUnavailable() { s.queueUnavailable.Inc() }
