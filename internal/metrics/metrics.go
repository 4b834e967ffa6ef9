// Package metrics groups the Prometheus instruments used across the bot.
// Registered once at startup via New(); passed by pointer wherever needed.
// A nil *Metrics is safe to call (no-op), so tests and minimal setups can
// skip registration entirely.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ItemsEnqueued prometheus.Counter
	SinglesSent   prometheus.Counter
	AlbumsSent    prometheus.Counter
	SendFailures  prometheus.Counter
	PendingQueues prometheus.GaugeFunc
}

// New registers all instruments with the given registerer. Using a custom
// registry (instead of prometheus.DefaultRegisterer) keeps tests isolated.
// queueCount feeds the pending-queues gauge; it must be safe to call from
// the scrape goroutine.
func New(reg prometheus.Registerer, queueCount func() int) *Metrics {
	m := &Metrics{
		ItemsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "albumbot_items_enqueued_total",
			Help: "Total media items accepted into user queues.",
		}),
		SinglesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "albumbot_singles_sent_total",
			Help: "Total single-media dispatches attempted successfully.",
		}),
		AlbumsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "albumbot_albums_sent_total",
			Help: "Total grouped-media dispatches attempted successfully.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "albumbot_send_failures_total",
			Help: "Total dispatches whose platform send failed.",
		}),
		PendingQueues: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "albumbot_pending_queues",
			Help: "Users with a non-empty queue right now.",
		}, func() float64 {
			if queueCount == nil {
				return 0
			}
			return float64(queueCount())
		}),
	}

	reg.MustRegister(
		m.ItemsEnqueued,
		m.SinglesSent,
		m.AlbumsSent,
		m.SendFailures,
		m.PendingQueues,
	)
	return m
}

func (m *Metrics) IncEnqueued() {
	if m != nil {
		m.ItemsEnqueued.Inc()
	}
}

func (m *Metrics) IncSingle() {
	if m != nil {
		m.SinglesSent.Inc()
	}
}

func (m *Metrics) IncAlbum() {
	if m != nil {
		m.AlbumsSent.Inc()
	}
}

func (m *Metrics) IncFailure() {
	if m != nil {
		m.SendFailures.Inc()
	}
}
