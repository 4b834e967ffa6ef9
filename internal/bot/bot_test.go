package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"albumbot/internal/album"
	"albumbot/internal/config"
	kit "albumbot/internal/transport"
	logx "albumbot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	texts   []string
	singles []kit.Media
	albums  [][]kit.Media
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeAdapter) SendMedia(ctx context.Context, to kit.ChatTarget, m kit.Media) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singles = append(f.singles, m)
	return nil
}

func (f *fakeAdapter) SendAlbum(ctx context.Context, to kit.ChatTarget, items []kit.Media) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]kit.Media, len(items))
	copy(cp, items)
	f.albums = append(f.albums, cp)
	return nil
}

func (f *fakeAdapter) snapshot() (texts []string, singles []kit.Media, albums [][]kit.Media) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...),
		append([]kit.Media(nil), f.singles...),
		append([][]kit.Media(nil), f.albums...)
}

func newTestBot(threshold int, delay time.Duration) (*Bot, *fakeAdapter, *album.Registry) {
	cfg := &config.Config{
		Batching: config.BatchingConfig{Threshold: threshold, Delay: delay},
	}
	cfgm := config.NewManager(cfg, logx.Nop())
	reg := album.NewRegistry(logx.Nop())
	ad := &fakeAdapter{}
	disp := album.NewDispatcher(reg, ad, cfgm.Delay, logx.Nop())
	return New(ad, reg, disp, cfgm, logx.Nop()), ad, reg
}

func mediaMsg(userID int64, src kit.MediaSource, fileID, caption string) kit.Update {
	return kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ChatID: userID,
			FromID: userID,
			Media:  &kit.InboundMedia{Source: src, FileID: fileID, Caption: caption},
		},
	}
}

func textMsg(userID int64, text string) kit.Update {
	return kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ChatID: userID,
			FromID: userID,
			Text:   text,
		},
	}
}

func TestFirstItemAckOnly(t *testing.T) {
	t.Parallel()
	b, ad, _ := newTestBot(10, time.Hour)
	ctx := context.Background()

	b.Handle(ctx, mediaMsg(1, kit.SourcePhoto, "f1", ""))
	b.Handle(ctx, mediaMsg(1, kit.SourcePhoto, "f2", ""))
	b.Handle(ctx, mediaMsg(1, kit.SourcePhoto, "f3", ""))

	texts, _, _ := ad.snapshot()
	if len(texts) != 1 {
		t.Fatalf("got %d acks, want 1 (first item only)", len(texts))
	}
	if !strings.Contains(texts[0], "Album started") {
		t.Fatalf("unexpected ack text: %q", texts[0])
	}
}

func TestUnsupportedDocumentNotQueued(t *testing.T) {
	t.Parallel()
	b, ad, reg := newTestBot(10, time.Hour)

	up := kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ChatID: 1, FromID: 1,
			Media: &kit.InboundMedia{Source: kit.SourceDocument, FileID: "f", MIME: "application/zip"},
		},
	}
	b.Handle(context.Background(), up)

	texts, _, _ := ad.snapshot()
	if len(texts) != 1 || !strings.Contains(texts[0], "Unsupported") {
		t.Fatalf("expected unsupported reply, got %v", texts)
	}
	if reg.Len(1) != 0 {
		t.Fatal("unsupported item was queued")
	}
}

func TestThresholdTriggersImmediateDispatch(t *testing.T) {
	t.Parallel()
	// Delay is an hour: if dispatch happened, it cannot be the timer.
	b, ad, reg := newTestBot(3, time.Hour)
	ctx := context.Background()

	b.Handle(ctx, mediaMsg(1, kit.SourcePhoto, "f1", "cap"))
	b.Handle(ctx, mediaMsg(1, kit.SourcePhoto, "f2", ""))

	if _, _, albums := ad.snapshot(); len(albums) != 0 {
		t.Fatal("dispatched before threshold")
	}

	b.Handle(ctx, mediaMsg(1, kit.SourcePhoto, "f3", ""))

	_, singles, albums := ad.snapshot()
	if len(albums) != 1 || len(singles) != 0 {
		t.Fatalf("albums=%d singles=%d, want 1/0", len(albums), len(singles))
	}
	if len(albums[0]) != 3 {
		t.Fatalf("album size = %d, want 3", len(albums[0]))
	}
	if reg.Len(1) != 0 {
		t.Fatal("queue not drained after threshold dispatch")
	}
}

func TestInactivityAutoSendSingle(t *testing.T) {
	t.Parallel()
	b, ad, reg := newTestBot(10, 20*time.Millisecond)

	b.Handle(context.Background(), mediaMsg(1, kit.SourceVideo, "v1", "clip"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, singles, _ := ad.snapshot(); len(singles) == 1 {
			if singles[0].Kind != kit.MediaVideo || singles[0].Caption != "clip" {
				t.Fatalf("wrong single sent: %+v", singles[0])
			}
			if reg.QueueCount() != 0 {
				t.Fatal("queue entry not removed after auto-send")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("inactivity timer never dispatched")
}

func TestForceSendCommand(t *testing.T) {
	t.Parallel()
	b, ad, reg := newTestBot(10, time.Hour)
	ctx := context.Background()

	b.Handle(ctx, mediaMsg(1, kit.SourcePhoto, "f1", ""))
	b.Handle(ctx, mediaMsg(1, kit.SourcePhoto, "f2", ""))
	b.Handle(ctx, textMsg(1, "/send_album"))

	_, _, albums := ad.snapshot()
	if len(albums) != 1 || len(albums[0]) != 2 {
		t.Fatalf("force-send produced %v albums", albums)
	}
	if reg.Len(1) != 0 {
		t.Fatal("queue not drained after force-send")
	}

	// Force-send on an empty queue is a silent no-op.
	b.Handle(ctx, textMsg(1, "/send_album"))
	_, _, albums = ad.snapshot()
	if len(albums) != 1 {
		t.Fatal("force-send on empty queue dispatched something")
	}
}

func TestCancelCommand(t *testing.T) {
	t.Parallel()
	// Short delay so the armed timer would fire soon if cancel missed it.
	b, ad, reg := newTestBot(10, 200*time.Millisecond)
	ctx := context.Background()

	b.Handle(ctx, textMsg(1, "/cancel"))
	texts, _, _ := ad.snapshot()
	if len(texts) != 1 || !strings.Contains(texts[0], "already empty") {
		t.Fatalf("expected already-empty reply, got %v", texts)
	}

	b.Handle(ctx, mediaMsg(1, kit.SourcePhoto, "f1", ""))
	b.Handle(ctx, textMsg(1, "/cancel"))
	if reg.Len(1) != 0 {
		t.Fatal("cancel left items queued")
	}
	texts, _, _ = ad.snapshot()
	last := texts[len(texts)-1]
	if !strings.Contains(last, "cleared") {
		t.Fatalf("expected cleared confirmation, got %q", last)
	}

	// Whatever timer was armed must stay silent now.
	time.Sleep(500 * time.Millisecond)
	if _, singles, albums := ad.snapshot(); len(singles)+len(albums) != 0 {
		t.Fatal("stale timer dispatched after cancel")
	}
}

func TestStatusCommand(t *testing.T) {
	t.Parallel()
	b, ad, _ := newTestBot(10, time.Hour)
	ctx := context.Background()

	b.Handle(ctx, textMsg(1, "/status"))
	b.Handle(ctx, mediaMsg(1, kit.SourcePhoto, "f1", ""))
	b.Handle(ctx, mediaMsg(1, kit.SourcePhoto, "f2", ""))
	b.Handle(ctx, textMsg(1, "/status"))

	texts, _, _ := ad.snapshot()
	if !strings.Contains(texts[0], "0 items") {
		t.Fatalf("first status = %q, want 0 items", texts[0])
	}
	if !strings.Contains(texts[len(texts)-1], "2 items") {
		t.Fatalf("second status = %q, want 2 items", texts[len(texts)-1])
	}
}

func TestStartShowsConfig(t *testing.T) {
	t.Parallel()
	b, ad, _ := newTestBot(7, 4*time.Second)

	b.Handle(context.Background(), textMsg(1, "/start"))

	texts, _, _ := ad.snapshot()
	if len(texts) != 1 {
		t.Fatalf("got %d replies, want 1", len(texts))
	}
	if !strings.Contains(texts[0], "7 items") || !strings.Contains(texts[0], "4s") {
		t.Fatalf("usage text missing configured values: %q", texts[0])
	}
}

func TestGroupMessagesIgnored(t *testing.T) {
	t.Parallel()
	b, ad, reg := newTestBot(10, time.Hour)

	up := mediaMsg(1, kit.SourcePhoto, "f1", "")
	up.Message.IsGroup = true
	b.Handle(context.Background(), up)

	texts, singles, albums := ad.snapshot()
	if len(texts)+len(singles)+len(albums) != 0 || reg.Len(1) != 0 {
		t.Fatal("group message was handled")
	}
}

func TestStatsDisabled(t *testing.T) {
	t.Parallel()
	b, ad, _ := newTestBot(10, time.Hour)

	b.Handle(context.Background(), textMsg(1, "/stats"))

	texts, _, _ := ad.snapshot()
	if len(texts) != 1 || !strings.Contains(texts[0], "disabled") {
		t.Fatalf("expected disabled notice, got %v", texts)
	}
}

func TestUsersAreIndependent(t *testing.T) {
	t.Parallel()
	b, ad, reg := newTestBot(3, time.Hour)
	ctx := context.Background()

	b.Handle(ctx, mediaMsg(1, kit.SourcePhoto, "a1", ""))
	b.Handle(ctx, mediaMsg(2, kit.SourcePhoto, "b1", ""))
	b.Handle(ctx, mediaMsg(1, kit.SourcePhoto, "a2", ""))
	b.Handle(ctx, mediaMsg(1, kit.SourcePhoto, "a3", ""))

	_, _, albums := ad.snapshot()
	if len(albums) != 1 {
		t.Fatalf("albums = %d, want 1 (user 1 hit threshold)", len(albums))
	}
	for _, it := range albums[0] {
		if !strings.HasPrefix(it.FileID, "a") {
			t.Fatalf("user 2's item leaked into user 1's album: %q", it.FileID)
		}
	}
	if reg.Len(2) != 1 {
		t.Fatalf("user 2 queue = %d, want 1", reg.Len(2))
	}
}
