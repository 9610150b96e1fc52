package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-attachment/pkg/attachment"
)

// PrometheusObserver exports attachment engine metrics to Prometheus.
type PrometheusObserver struct {
	updateDuration prometheus.Histogram
	updateErrors   prometheus.Counter
	taskBytes      *prometheus.CounterVec
	taskErrors     *prometheus.CounterVec
	scheduleTotal  *prometheus.CounterVec
	scheduleErrors *prometheus.CounterVec
}

var _ attachment.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver registers update/task/schedule metrics.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "attachment"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		updateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_duration_seconds",
			Help:      "Latency of attachment update calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		updateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_errors_total",
			Help:      "Count of failed attachment update calls.",
		}),
		taskBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "written_bytes_total",
			Help:      "Payload bytes written per storage tier.",
		}, []string{"task"}),
		taskErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_errors_total",
			Help:      "Count of failed physical writes per storage tier.",
		}, []string{"task"}),
		scheduleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_scheduled_total",
			Help:      "Count of scheduled finalize calls.",
		}, []string{"operation"}),
		scheduleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_schedule_errors_total",
			Help:      "Count of finalize calls that could not be scheduled.",
		}, []string{"operation"}),
	}
	var err error
	if o.updateDuration, err = register(reg, o.updateDuration); err != nil {
		return nil, err
	}
	if o.updateErrors, err = register(reg, o.updateErrors); err != nil {
		return nil, err
	}
	if o.taskBytes, err = register(reg, o.taskBytes); err != nil {
		return nil, err
	}
	if o.taskErrors, err = register(reg, o.taskErrors); err != nil {
		return nil, err
	}
	if o.scheduleTotal, err = register(reg, o.scheduleTotal); err != nil {
		return nil, err
	}
	if o.scheduleErrors, err = register(reg, o.scheduleErrors); err != nil {
		return nil, err
	}
	return o, nil
}

// register reuses a collector that an earlier observer already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register attachment metric: %w", err)
	}
	return c, nil
}

func (o *PrometheusObserver) RecordUpdate(duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.updateDuration.Observe(duration.Seconds())
	if err != nil {
		o.updateErrors.Inc()
	}
}

func (o *PrometheusObserver) RecordTask(task string, sizeBytes int64, err error) {
	if o == nil {
		return
	}
	if err != nil {
		o.taskErrors.WithLabelValues(task).Inc()
		return
	}
	o.taskBytes.WithLabelValues(task).Add(float64(sizeBytes))
}

func (o *PrometheusObserver) RecordSchedule(operation string, err error) {
	if o == nil {
		return
	}
	o.scheduleTotal.WithLabelValues(operation).Inc()
	if err != nil {
		o.scheduleErrors.WithLabelValues(operation).Inc()
	}
}
