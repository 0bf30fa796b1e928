package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	streamDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raid_stream_depth",
			Help: "Entries currently in the raid event stream",
		},
		[]string{"stream"},
	)

	eventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raid_events_processed_total",
			Help: "Queue events handled by the consumer loop",
		},
		[]string{"kind", "status"},
	)

	promotionsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raid_promotions_applied_total",
			Help: "Reserve rows flipped to main seats",
		},
	)

	ackWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raid_ack_wait_seconds",
			Help:    "Time producers spent polling for an ack",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
		},
	)

	timersFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raid_timers_fired_total",
			Help: "Scheduler timers that fired, by action",
		},
		[]string{"action"},
	)

	remindersSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raid_reminders_sent_total",
			Help: "Reminder dispatches that won the dedupe claim",
		},
	)
)

type Monitor struct {
	redis     *redis.Client
	streamKey string
}

func NewMonitor(redisClient *redis.Client, streamKey string) *Monitor {
	monitor := &Monitor{redis: redisClient, streamKey: streamKey}

	// Start metrics collection
	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()
		depth, err := m.redis.XLen(ctx, m.streamKey).Result()
		if err != nil {
			continue
		}
		streamDepth.WithLabelValues(m.streamKey).Set(float64(depth))
	}
}

// The Track/Observe helpers are safe on a nil *Monitor so services can
// run without monitoring wired (tests do).

func (m *Monitor) TrackEventProcessed(kind, status string) {
	eventsProcessed.WithLabelValues(kind, status).Inc()
}

func (m *Monitor) TrackPromotions(count int) {
	promotionsApplied.Add(float64(count))
}

func (m *Monitor) ObserveAckWait(d time.Duration) {
	ackWaitDuration.Observe(d.Seconds())
}

func (m *Monitor) TrackTimerFired(action string) {
	timersFired.WithLabelValues(action).Inc()
}

func (m *Monitor) TrackReminderSent() {
	remindersSent.Inc()
}
