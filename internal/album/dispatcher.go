package album

import (
	"context"
	"time"

	"albumbot/internal/history"
	"albumbot/internal/metrics"
	kit "albumbot/internal/transport"
	logx "albumbot/pkg/logx"
)

// MaxAlbumSize is the platform ceiling on grouped sends. One dispatch never
// sends more than this many items.
const MaxAlbumSize = 10

// Dispatcher drains per-user queues into platform sends: a single-media
// call for one item, a grouped call for 2..10. It serializes dispatches
// per user and re-arms the inactivity timer when overflow remains.
type Dispatcher struct {
	reg    *Registry
	sender kit.Sender
	log    logx.Logger

	// Delay supplies the inactivity delay used when re-arming after an
	// overflow dispatch. Read per call so config hot reloads take effect.
	delay func() time.Duration

	hist history.Store    // may be nil
	met  *metrics.Metrics // may be nil
}

type DispatcherOption func(*Dispatcher)

// WithHistory records every dispatch attempt to the given store.
func WithHistory(st history.Store) DispatcherOption {
	return func(d *Dispatcher) { d.hist = st }
}

// WithMetrics wires Prometheus counters for dispatch outcomes.
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.met = m }
}

func NewDispatcher(reg *Registry, sender kit.Sender, delay func() time.Duration, log logx.Logger, opts ...DispatcherOption) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{reg: reg, sender: sender, delay: delay, log: log}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch sends as much of the user's pending queue as one platform call
// allows and leaves any overflow queued with a freshly armed timer.
//
// At most one dispatch runs per user at a time; concurrent triggers (new
// item at threshold, timer fire, force-send) queue up on the user's lock
// and then no-op if they find the queue already empty. Send errors are
// reported to the user and never propagate: once taken, a batch is consumed
// regardless of outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, userID int64, to kit.ChatTarget) {
	l := d.reg.lockUser(userID)
	defer d.reg.unlockUser(userID, l)

	items := d.reg.Peek(userID)
	if len(items) == 0 {
		return
	}

	n := len(items)
	if n > MaxAlbumSize {
		n = MaxAlbumSize
	}
	batch := items[:n]

	var err error
	if n == 1 {
		err = d.sender.SendMedia(ctx, to, batch[0])
	} else {
		// Grouped send: only the first item keeps its caption. Captions on
		// subsequent items are platform-dependent display noise and are
		// dropped deliberately.
		group := make([]kit.Media, n)
		copy(group, batch)
		for i := 1; i < n; i++ {
			group[i].Caption = ""
		}
		err = d.sender.SendAlbum(ctx, to, group)
	}

	if err != nil {
		d.met.IncFailure()
		d.log.Error("send failed", logx.Int64("user_id", userID), logx.Int("items", n), logx.Err(err))
		// Best-effort notice; a failure here must not cascade.
		if nerr := d.sender.SendText(ctx, to, "Failed to send media: "+err.Error(), nil); nerr != nil {
			d.log.Debug("failure notice not delivered", logx.Int64("user_id", userID), logx.Err(nerr))
		}
	} else {
		if n == 1 {
			d.met.IncSingle()
			d.log.Info("sent single item", logx.Int64("user_id", userID))
		} else {
			d.met.IncAlbum()
			d.log.Info("sent album", logx.Int64("user_id", userID), logx.Int("items", n))
		}
	}

	d.record(ctx, history.DispatchEntry{
		At:      time.Now(),
		UserID:  userID,
		ChatID:  to.ChatID,
		Items:   n,
		Grouped: n > 1,
		OK:      err == nil,
		Error:   errText(err),
	})

	// The batch is consumed whatever the send outcome; trim it now.
	_, remaining := d.reg.TakeAndTrim(userID, n)
	if len(remaining) > 0 {
		d.reg.ArmTimer(userID, d.delay(), func() {
			d.Dispatch(ctx, userID, to)
		})
		d.log.Info("items remaining, timer restarted", logx.Int64("user_id", userID), logx.Int("remaining", len(remaining)))
		return
	}
	// Drained: the entry is already gone; cancel is an idempotent guard
	// against a rearm racing in between.
	d.reg.CancelTimer(userID)
}

func (d *Dispatcher) record(ctx context.Context, e history.DispatchEntry) {
	if d.hist == nil {
		return
	}
	if err := d.hist.RecordDispatch(ctx, e); err != nil {
		d.log.Warn("history write failed", logx.Int64("user_id", e.UserID), logx.Err(err))
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
