// Package approval delivers ranked candidates to the operator and feeds
// their decisions back into the orchestrator. The shipped channel is a
// Telegram bot; a log-only channel covers deployments without one.
package approval

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mohammad-safakhou/growloop/config"
	"github.com/mohammad-safakhou/growloop/internal/pipeline"
	"github.com/mohammad-safakhou/growloop/models"
)

// DecisionHandler applies one operator decision. Wired to
// orchestrator.HandleDecision.
type DecisionHandler func(ctx context.Context, suspensionID string, d pipeline.Decision) (pipeline.ResumeResult, error)

// Telegram presents approval batches in a chat and listens for decisions.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	handle DecisionHandler
	logger *log.Logger
}

// NewTelegram connects the bot. The handler is invoked from the update
// loop started by Listen.
func NewTelegram(cfg config.TelegramConfig, handle DecisionHandler) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	return &Telegram{
		bot:    bot,
		chatID: cfg.ChatID,
		handle: handle,
		logger: log.New(os.Stdout, "[APPROVAL] ", log.LstdFlags),
	}, nil
}

// Present sends the ranked candidates with quick-action buttons. Edit,
// feedback and deferred publishing go through reply commands because they
// need free text.
func (t *Telegram) Present(ctx context.Context, cycleID string, candidates []models.RankedPost) error {
	msg := tgbotapi.NewMessage(t.chatID, FormatCandidates(cycleID, candidates))
	msg.ReplyMarkup = candidateKeyboard(cycleID, len(candidates))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send approval request: %w", err)
	}
	return nil
}

// Listen consumes bot updates until ctx is done. Button taps and command
// messages both resolve to decisions.
func (t *Telegram) Listen(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)
	t.logger.Printf("listening for decisions as @%s", t.bot.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	var (
		id  string
		d   pipeline.Decision
		err error
	)
	switch {
	case update.CallbackQuery != nil:
		id, d, err = ParseCallback(update.CallbackQuery.Data)
		// Always answer so the client stops its spinner.
		if _, ackErr := t.bot.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); ackErr != nil {
			t.logger.Printf("callback ack failed: %v", ackErr)
		}
	case update.Message != nil && update.Message.Chat != nil && update.Message.Chat.ID == t.chatID:
		id, d, err = ParseCommand(update.Message.Text)
	default:
		return
	}
	if err != nil {
		t.reply(err.Error())
		return
	}

	res, err := t.handle(ctx, id, d)
	if err != nil {
		t.reply(fmt.Sprintf("decision for %s failed: %v", id, err))
		return
	}
	t.reply(formatResult(id, res))
}

func (t *Telegram) reply(text string) {
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		t.logger.Printf("reply failed: %v", err)
	}
}

func candidateKeyboard(cycleID string, n int) tgbotapi.InlineKeyboardMarkup {
	row := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("Approve #1", "approve:"+cycleID),
	}
	for i := 2; i <= n && i <= 3; i++ {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("Use #%d", i), fmt.Sprintf("alt:%d:%s", i, cycleID)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		row,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Reject all", "reject:"+cycleID),
		),
	)
}

// FormatCandidates renders an approval batch as one chat message.
func FormatCandidates(cycleID string, candidates []models.RankedPost) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cycle %s needs a decision (%d candidates)\n", cycleID, len(candidates))
	for _, c := range candidates {
		fmt.Fprintf(&b, "\n#%d [%s] score %.1f (ai %.1f / hist %.1f / nov %.1f)\n%s\n",
			c.Rank, c.PatternUsed, c.CompositeScore, c.AIScore, c.PatternHistoryScore, c.NoveltyScore, c.Content)
	}
	b.WriteString("\nCommands: /edit <cycle> <text>, /reject <cycle> <feedback>, /later <cycle> <RFC3339>")
	return b.String()
}

// ParseCallback decodes inline-button data into a decision.
func ParseCallback(data string) (string, pipeline.Decision, error) {
	parts := strings.Split(data, ":")
	switch {
	case len(parts) == 2 && parts[0] == "approve":
		return parts[1], pipeline.Decision{Action: pipeline.ActionApprove}, nil
	case len(parts) == 2 && parts[0] == "reject":
		return parts[1], pipeline.Decision{Action: pipeline.ActionReject}, nil
	case len(parts) == 3 && parts[0] == "alt":
		idx, err := strconv.Atoi(parts[1])
		if err != nil {
			return "", pipeline.Decision{}, fmt.Errorf("bad alternate index %q", parts[1])
		}
		// Buttons are 1-based ranks; the decision wants the offset below rank 1.
		return parts[2], pipeline.Decision{Action: pipeline.ActionUseAlternate, AlternateIndex: idx - 1}, nil
	default:
		return "", pipeline.Decision{}, fmt.Errorf("unrecognized callback %q", data)
	}
}

// ParseCommand decodes a chat command into a decision.
//
//	/approve c1
//	/edit c1 corrected post text
//	/reject c1 too salesy, try a build log angle
//	/later c1 2026-09-01T09:00:00Z
func ParseCommand(text string) (string, pipeline.Decision, error) {
	fields := strings.Fields(text)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "/") {
		return "", pipeline.Decision{}, fmt.Errorf("unrecognized command, expected /approve, /edit, /reject or /later")
	}
	cmd, id := fields[0], fields[1]
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(text, cmd), " "+id))

	switch cmd {
	case "/approve":
		return id, pipeline.Decision{Action: pipeline.ActionApprove}, nil
	case "/edit":
		if rest == "" {
			return "", pipeline.Decision{}, fmt.Errorf("/edit needs replacement text")
		}
		return id, pipeline.Decision{Action: pipeline.ActionEdit, EditedText: rest}, nil
	case "/reject":
		return id, pipeline.Decision{Action: pipeline.ActionReject, Feedback: rest}, nil
	case "/later":
		at, err := time.Parse(time.RFC3339, rest)
		if err != nil {
			return "", pipeline.Decision{}, fmt.Errorf("/later needs an RFC3339 time: %v", err)
		}
		return id, pipeline.Decision{Action: pipeline.ActionPublishLater, PublishAt: at}, nil
	default:
		return "", pipeline.Decision{}, fmt.Errorf("unrecognized command %s", cmd)
	}
}

func formatResult(id string, res pipeline.ResumeResult) string {
	switch res.Outcome {
	case pipeline.OutcomePublished:
		return fmt.Sprintf("cycle %s published as %s", id, res.Candidate.PatternUsed)
	case pipeline.OutcomeScheduled:
		return fmt.Sprintf("cycle %s scheduled for %s", id, res.PublishAt.Format(time.RFC3339))
	case pipeline.OutcomeSuspended:
		return fmt.Sprintf("cycle %s regenerated, new batch is %s", id, res.SuspensionID)
	default:
		return fmt.Sprintf("cycle %s: %s", id, res.Outcome)
	}
}
