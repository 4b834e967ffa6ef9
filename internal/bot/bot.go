// Package bot wires inbound updates to the album core: it classifies media,
// routes commands, and decides when the dispatcher runs (threshold reached,
// timer fired, or forced).
package bot

import (
	"context"
	"fmt"
	"strings"

	"albumbot/internal/album"
	"albumbot/internal/config"
	"albumbot/internal/history"
	"albumbot/internal/metrics"
	kit "albumbot/internal/transport"
	logx "albumbot/pkg/logx"
)

type Bot struct {
	adapter kit.Adapter
	reg     *album.Registry
	disp    *album.Dispatcher
	cfgm    *config.Manager
	log     logx.Logger

	hist history.Store    // may be nil
	met  *metrics.Metrics // may be nil
}

type Option func(*Bot)

// WithHistory enables the /stats command backed by the given store.
func WithHistory(st history.Store) Option {
	return func(b *Bot) { b.hist = st }
}

// WithMetrics counts accepted items.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bot) { b.met = m }
}

func New(adapter kit.Adapter, reg *album.Registry, disp *album.Dispatcher, cfgm *config.Manager, log logx.Logger, opts ...Option) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{adapter: adapter, reg: reg, disp: disp, cfgm: cfgm, log: log}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Run starts the adapter and consumes updates until ctx is done. Updates
// are handled sequentially: enqueues stay in arrival order per user, and
// timer callbacks (which run concurrently) synchronize through the
// registry's per-user dispatch locks.
func (b *Bot) Run(ctx context.Context) error {
	updates := make(chan kit.Update, 256)
	if err := b.adapter.Start(ctx, updates); err != nil {
		return err
	}
	b.log.Info("bot running")

	for {
		select {
		case <-ctx.Done():
			return b.adapter.Stop(context.Background())
		case up := <-updates:
			b.Handle(ctx, up)
		}
	}
}

// Handle processes one inbound update.
func (b *Bot) Handle(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	m := up.Message
	if m.IsGroup {
		// Albums are built in private chats only.
		b.log.Debug("ignoring group message", logx.Int64("chat_id", m.ChatID))
		return
	}

	switch {
	case m.Media != nil:
		b.handleMedia(ctx, m)
	case strings.HasPrefix(m.Text, "/"):
		b.handleCommand(ctx, m)
	}
}

func (b *Bot) handleMedia(ctx context.Context, m *kit.Message) {
	to := kit.ChatTarget{ChatID: m.ChatID}

	item, ok := Classify(*m.Media)
	if !ok {
		b.reply(ctx, to, "Unsupported document type. Please send images or videos.")
		return
	}

	total := b.reg.Enqueue(m.FromID, item)
	b.met.IncEnqueued()
	b.log.Debug("item queued",
		logx.Int64("user_id", m.FromID),
		logx.String("kind", string(item.Kind)),
		logx.Int("total", total))

	if total >= b.cfgm.Threshold() {
		// Immediate send; make sure the timer cannot double-fire.
		b.reg.CancelTimer(m.FromID)
		b.disp.Dispatch(ctx, m.FromID, to)
		return
	}

	b.reg.ArmTimer(m.FromID, b.cfgm.Delay(), func() {
		b.disp.Dispatch(ctx, m.FromID, to)
	})

	// Acknowledge only the first item so an in-progress batch doesn't spam.
	if total == 1 {
		b.reply(ctx, to, fmt.Sprintf(
			"Album started! Send more photos or videos to group them.\nAuto-sending after %s of silence.",
			b.cfgm.Delay()))
	}
}

func (b *Bot) handleCommand(ctx context.Context, m *kit.Message) {
	to := kit.ChatTarget{ChatID: m.ChatID}
	cmd := strings.Fields(m.Text)[0]
	// Strip the bot-mention suffix Telegram appends in some clients.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/send_album", "/send":
		// Cancel first so the timer can't double-send.
		b.reg.CancelTimer(m.FromID)
		b.disp.Dispatch(ctx, m.FromID, to)

	case "/cancel":
		if b.reg.Clear(m.FromID) {
			b.reply(ctx, to, "Album queue cleared.")
		} else {
			b.reply(ctx, to, "Queue is already empty.")
		}

	case "/status":
		b.reply(ctx, to, fmt.Sprintf("Current queue: %d items.", b.reg.Len(m.FromID)))

	case "/stats":
		b.replyStats(ctx, m.FromID, to)

	case "/start", "/help":
		b.reply(ctx, to, b.usage())

	default:
		b.log.Debug("unknown command", logx.String("cmd", cmd), logx.Int64("user_id", m.FromID))
	}
}

func (b *Bot) replyStats(ctx context.Context, userID int64, to kit.ChatTarget) {
	if b.hist == nil {
		b.reply(ctx, to, "Stats are disabled.")
		return
	}
	totals, err := b.hist.UserTotals(ctx, userID)
	if err != nil {
		b.log.Warn("stats query failed", logx.Int64("user_id", userID), logx.Err(err))
		b.reply(ctx, to, "Stats are unavailable right now.")
		return
	}
	b.reply(ctx, to, fmt.Sprintf(
		"Your dispatches: %d (%d items, %d failed).",
		totals.Dispatches, totals.Items, totals.Failures))
}

func (b *Bot) usage() string {
	cfg := b.cfgm.Snapshot()
	return fmt.Sprintf(
		"Hi! Send me photos or videos and I will group them into an album automatically.\n\n"+
			"• Threshold: %d items\n"+
			"• Delay: %s\n\n"+
			"Commands:\n"+
			"/send_album – force send now\n"+
			"/cancel – clear queue\n"+
			"/status – check queue\n"+
			"/stats – dispatch totals",
		cfg.Batching.Threshold, cfg.Batching.Delay)
}

func (b *Bot) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if err := b.adapter.SendText(ctx, to, text, nil); err != nil {
		b.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}
