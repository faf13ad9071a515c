// Package notify announces new items in a Telegram chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"feedplatform/internal/addins"
	"feedplatform/internal/fetcher"
	"feedplatform/internal/model"
)

// maxMessage is the Telegram limit for a message text, in characters.
const maxMessage = 4096

// Sender delivers a text message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Message is the content of a notification.
type Message struct {
	Feed    string
	Title   string
	Summary string
	Link    string
}

// Format renders m as a notification text within the Telegram limit. The
// summary is shortened first, then the title; a message still too long is
// cut at the limit.
func Format(m Message) string {
	head := fmt.Sprintf("[%s]\n\n", m.Feed)
	tail := ""
	if m.Link != "" {
		tail = "\n\n" + m.Link
	}
	room := maxMessage - utf8.RuneCountInString(head) - utf8.RuneCountInString(tail)
	title := truncate(m.Title, room)
	room -= utf8.RuneCountInString(title)

	var b strings.Builder
	b.WriteString(head)
	b.WriteString(title)
	if m.Summary != "" {
		if summary := truncate(m.Summary, room-2); summary != "" {
			b.WriteString("\n\n")
			b.WriteString(summary)
		}
	}
	b.WriteString(tail)
	return truncate(b.String(), maxMessage)
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// Telegram sends a notification for every item created while processing
// a feed.
type Telegram struct {
	sender Sender
	chatID int64
}

// NewTelegram returns a Telegram posting to chatID through sender.
func NewTelegram(sender Sender, chatID int64) (*Telegram, error) {
	if sender == nil {
		return nil, errors.New("notify_telegram: no sender configured")
	}
	if chatID == 0 {
		return nil, errors.New("notify_telegram: chat id is required")
	}
	return &Telegram{sender: sender, chatID: chatID}, nil
}

func (t *Telegram) Name() string { return "notify_telegram" }

// OnProcessItem queues the notification until the feed's transaction
// commits, so nothing is sent for rolled back items. Delivery failures are
// logged and do not fail the feed.
func (t *Telegram) OnProcessItem(ctx context.Context, args *addins.ProcessItemArgs) error {
	if !args.Created {
		return nil
	}
	text := Format(messageFor(args.Feed, args.Entry))
	log := args.Logger(t).With("chat_id", t.chatID, "guid", args.Item.GUID)
	args.Tx.OnCommit(func() {
		if err := t.sender.Send(ctx, t.chatID, text); err != nil {
			log.Error("send notification", "error", err)
		}
	})
	return nil
}

func messageFor(feed *model.Feed, entry *fetcher.Entry) Message {
	m := Message{Feed: feed.URL}
	if title, ok := feed.Fields.NonEmpty(fetcher.FieldTitle); ok {
		m.Feed = title
	}
	m.Title, _ = entry.String(fetcher.FieldTitle)
	m.Summary, _ = entry.String(fetcher.FieldSummary)
	m.Link, _ = entry.String(fetcher.FieldLink)
	return m
}

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender sends messages through the Telegram Bot API.
type TelegramSender struct {
	api telegramAPI
}

// NewTelegramSender connects to the Bot API with token.
func NewTelegramSender(token string) (*TelegramSender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &TelegramSender{api: api}, nil
}

// Send implements Sender.
func (s *TelegramSender) Send(_ context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
