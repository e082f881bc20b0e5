// Package notify tells an operator about dispatch passes that went wrong.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v4"

	"github.com/openclaw/broadcast-server-go/internal/model"
	"github.com/openclaw/broadcast-server-go/internal/util"
)

const maxScheduleLines = 20

type TelegramConfig struct {
	Token  string
	ChatID int64
	// URL overrides the Bot API endpoint.
	URL string
	// Offline skips the getMe call on construction.
	Offline bool
}

// TelegramNotifier posts a summary of every dispatch pass with problems to
// one operator chat through the Bot API.
type TelegramNotifier struct {
	bot  *tele.Bot
	chat tele.ChatID
}

func NewTelegramNotifier(cfg TelegramConfig) (*TelegramNotifier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.URL,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &TelegramNotifier{bot: bot, chat: tele.ChatID(cfg.ChatID)}, nil
}

// DispatchFinished sends a summary when the pass had failures or skips.
// Send errors are logged; they never affect the dispatch result.
func (n *TelegramNotifier) DispatchFinished(_ context.Context, report *model.DispatchReport) {
	if report == nil || !report.HasProblems() {
		return
	}

	if _, err := n.bot.Send(n.chat, Summary(report), &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
		log.Warn().Err(err).Msg("failed to send dispatch notification")
		return
	}
	log.Debug().Int("due", report.Due).Msg("dispatch notification sent")
}

// Summary renders report as plain text, listing problem schedules first.
func Summary(report *model.DispatchReport) string {
	var b strings.Builder

	skipped := 0
	for _, s := range report.Schedules {
		if s.Outcome.Skipped() {
			skipped++
		}
	}

	fmt.Fprintf(&b, "Broadcast dispatch at %s\n", report.StartedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "due %d: delivered %d, partial %d, failed %d, skipped %d\n",
		report.Due,
		report.Count(model.OutcomeDelivered),
		report.Count(model.OutcomePartial),
		report.Count(model.OutcomeFailed),
		skipped,
	)
	if n := report.FailedTargets(); n > 0 {
		fmt.Fprintf(&b, "failed targets: %d\n", n)
	}
	if n := report.NotAttemptedTargets(); n > 0 {
		fmt.Fprintf(&b, "not attempted, pass ended early: %d\n", n)
	}
	if n := report.MarkRunFailures(); n > 0 {
		fmt.Fprintf(&b, "last_run not advanced, may resend: %d\n", n)
	}

	lines := 0
	for i := range report.Schedules {
		s := &report.Schedules[i]
		if s.Outcome == model.OutcomeDelivered && s.MarkRunError == "" {
			continue
		}
		if lines == maxScheduleLines {
			b.WriteString("...\n")
			break
		}
		lines++
		b.WriteString(scheduleLine(s))
	}

	return strings.TrimRight(b.String(), "\n")
}

func scheduleLine(s *model.ScheduleReport) string {
	owner := util.MaskIdentifier(s.Owner)
	var line string
	switch {
	case s.Outcome.Skipped():
		line = fmt.Sprintf("- %s (%s): %s", s.ScheduleID, owner, s.Outcome)
		if s.Error != "" {
			line += ": " + s.Error
		}
	default:
		line = fmt.Sprintf("- %s (%s): %s, %d/%d delivered", s.ScheduleID, owner, s.Outcome, s.Delivered(), len(s.Targets))
		if n := s.NotAttempted(); n > 0 {
			line += fmt.Sprintf(", %d not attempted", n)
		}
	}
	if s.MarkRunError != "" {
		line += " [last_run write failed]"
	}
	return line + "\n"
}
