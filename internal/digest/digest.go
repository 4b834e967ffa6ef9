// Package digest sends a periodic dispatch-activity summary to the owner
// chat. It only runs when both a history store and an owner chat are
// configured.
package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"albumbot/internal/history"
	kit "albumbot/internal/transport"
	logx "albumbot/pkg/logx"
)

const window = 24 * time.Hour

type Service struct {
	cron   *cron.Cron
	hist   history.Store
	sender kit.Sender
	owner  kit.ChatTarget
	log    logx.Logger
}

func New(hist history.Store, sender kit.Sender, ownerChatID int64, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cron:   cron.New(),
		hist:   hist,
		sender: sender,
		owner:  kit.ChatTarget{ChatID: ownerChatID},
		log:    log,
	}
}

// Start schedules the digest with the given cron spec (5-field).
func (s *Service) Start(spec string) error {
	if s.hist == nil || s.owner.ChatID == 0 {
		return nil
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return fmt.Errorf("digest schedule %q: %w", spec, err)
	}
	s.cron.Start()
	s.log.Info("digest scheduled", logx.String("spec", spec), logx.Int64("chat_id", s.owner.ChatID))
	return nil
}

func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Service) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sum, err := s.hist.Summary(ctx, time.Now().Add(-window))
	if err != nil {
		s.log.Warn("digest summary failed", logx.Err(err))
		return
	}
	text := Format(sum)
	if err := s.sender.SendText(ctx, s.owner, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		s.log.Warn("digest send failed", logx.Err(err))
	}
}

// Format renders a 24h summary as a short owner-facing message.
func Format(sum history.Summary) string {
	return fmt.Sprintf(
		"Album digest (last 24h): %d dispatches, %d items, %d failures, %d users.",
		sum.Dispatches, sum.Items, sum.Failures, sum.Users)
}
