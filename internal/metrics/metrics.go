package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	clierr "github.com/ggonzalez94/xswap/internal/errors"
	"github.com/ggonzalez94/xswap/internal/model"
)

// Metrics holds the swap client's collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	QueueDepth       prometheus.Gauge
	SchedulerTasks   *prometheus.CounterVec
	SchedulerRetries prometheus.Counter
	RequestCount     *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
	QuoteCount       *prometheus.CounterVec
	OrderPolls       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xswap_scheduler_queue_depth",
			Help: "Operations waiting in the request scheduler",
		}),
		SchedulerTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xswap_scheduler_tasks_total",
				Help: "Scheduled operations by outcome",
			},
			[]string{"outcome"},
		),
		SchedulerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xswap_scheduler_rate_limit_retries_total",
			Help: "Retries caused by upstream rate limiting",
		}),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xswap_provider_request_count",
				Help: "Provider HTTP requests by status",
			},
			[]string{"method", "host", "status"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xswap_provider_request_latency_seconds",
				Help:    "Latency of provider HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"host"},
		),
		QuoteCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xswap_quote_count",
				Help: "Quote requests by outcome",
			},
			[]string{"outcome"},
		),
		OrderPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xswap_order_polls_total",
				Help: "Order status polls by observed status",
			},
			[]string{"status"},
		),
	}
	m.Registry.MustRegister(
		m.QueueDepth,
		m.SchedulerTasks,
		m.SchedulerRetries,
		m.RequestCount,
		m.RequestLatency,
		m.QuoteCount,
		m.OrderPolls,
	)
	return m
}

func (m *Metrics) ObserveQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) ObserveRetry(attempt int, delay time.Duration) {
	m.SchedulerRetries.Inc()
}

func (m *Metrics) ObserveTask(err error) {
	m.SchedulerTasks.WithLabelValues(outcome(err)).Inc()
}

// ObserveRequest matches httpx.ObserveFunc.
func (m *Metrics) ObserveRequest(method, host string, status int, elapsed time.Duration) {
	m.RequestCount.WithLabelValues(method, host, strconv.Itoa(status)).Inc()
	m.RequestLatency.WithLabelValues(host).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveQuote(err error) {
	m.QuoteCount.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) ObservePoll(status model.OrderStatus, err error) {
	label := string(status)
	if err != nil {
		label = "error"
	}
	m.OrderPolls.WithLabelValues(label).Inc()
}

// WriteFile dumps the registry in the Prometheus text format.
func (m *Metrics) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "write metrics file", err)
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if cliErr, ok := clierr.As(err); ok {
		return clierr.TypeName(cliErr.Code)
	}
	return "error"
}
