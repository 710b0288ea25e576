package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// WebhookReceivedTotal counts inbound provider notifications by outcome.
	WebhookReceivedTotal *prometheus.CounterVec
	// NotificationsProcessedTotal counts dispatcher processing outcomes.
	NotificationsProcessedTotal *prometheus.CounterVec
	// NotificationProcessingLatency records per-notification processing latency in milliseconds.
	NotificationProcessingLatency *prometheus.HistogramVec
	// StateTransitionsTotal counts applied payment state transitions.
	StateTransitionsTotal *prometheus.CounterVec
	// NotificationsRescheduledTotal counts notifications pushed back for retry.
	NotificationsRescheduledTotal *prometheus.CounterVec
	// SchedulerSweepTotal counts scheduler passes over unscheduled and skipped rows.
	SchedulerSweepTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		WebhookReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_received_total",
			Help:      "Count of inbound provider notifications by outcome.",
		}, []string{"event_code", "result"})
		NotificationsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_processed_total",
			Help:      "Count of dispatcher processing outcomes.",
		}, []string{"event_code", "result"})
		NotificationProcessingLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_processing_duration_ms",
			Help:      "Latency for processing a single notification in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"event_code"})
		StateTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Count of applied payment state transitions.",
		}, []string{"from", "to"})
		NotificationsRescheduledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_rescheduled_total",
			Help:      "Count of notifications rescheduled after a recoverable failure.",
		}, []string{"event_code"})
		SchedulerSweepTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_sweep_total",
			Help:      "Count of scheduler sweep outcomes over unscheduled and skipped rows.",
		}, []string{"kind", "result"})

		mustRegisterCollector(reg, WebhookReceivedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WebhookReceivedTotal = v
			}
		})
		mustRegisterCollector(reg, NotificationsProcessedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				NotificationsProcessedTotal = v
			}
		})
		mustRegisterCollector(reg, NotificationProcessingLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				NotificationProcessingLatency = v
			}
		})
		mustRegisterCollector(reg, StateTransitionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				StateTransitionsTotal = v
			}
		})
		mustRegisterCollector(reg, NotificationsRescheduledTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				NotificationsRescheduledTotal = v
			}
		})
		mustRegisterCollector(reg, SchedulerSweepTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SchedulerSweepTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
