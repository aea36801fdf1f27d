// Package telegram talks to the Telegram Bot API on behalf of the master
// bot and every generated bot.
package telegram

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// UpdateType classifies an incoming update.
type UpdateType string

const (
	UpdateMessage  UpdateType = "message"
	UpdateCallback UpdateType = "callback_query"
	UpdateUnknown  UpdateType = "unknown"
)

// ParsedUpdate is the normalized view of an update. Zero IDs mean absent.
type ParsedUpdate struct {
	Type         UpdateType
	UpdateID     int
	ChatID       int64
	ChatType     string
	FromID       int64
	FromName     string
	Username     string
	Text         string
	CallbackData string
	CallbackID   string
	MessageID    int
}

// FromKey is the sender id as stored in users.telegram_id.
func (p ParsedUpdate) FromKey() string {
	if p.FromID == 0 {
		return ""
	}
	return strconv.FormatInt(p.FromID, 10)
}

// Actionable reports whether the update has a chat and a sender to answer.
func (p ParsedUpdate) Actionable() bool {
	return p.Type != UpdateUnknown && p.ChatID != 0 && p.FromID != 0
}

// DecodeUpdate reads a webhook body.
func DecodeUpdate(body []byte) (tgbotapi.Update, error) {
	var u tgbotapi.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return tgbotapi.Update{}, fmt.Errorf("decode update: %w", err)
	}
	return u, nil
}

func ParseUpdate(u tgbotapi.Update) ParsedUpdate {
	out := ParsedUpdate{Type: UpdateUnknown, UpdateID: u.UpdateID}
	switch {
	case u.Message != nil:
		m := u.Message
		out.Type = UpdateMessage
		out.Text = strings.TrimSpace(m.Text)
		out.MessageID = m.MessageID
		if m.Chat != nil {
			out.ChatID = m.Chat.ID
			out.ChatType = m.Chat.Type
		}
		fillSender(&out, m.From)
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		out.Type = UpdateCallback
		out.CallbackData = q.Data
		out.CallbackID = q.ID
		if q.Message != nil {
			out.MessageID = q.Message.MessageID
			if q.Message.Chat != nil {
				out.ChatID = q.Message.Chat.ID
				out.ChatType = q.Message.Chat.Type
			}
		}
		fillSender(&out, q.From)
	}
	return out
}

func fillSender(out *ParsedUpdate, from *tgbotapi.User) {
	if from == nil {
		return
	}
	out.FromID = from.ID
	out.FromName = strings.TrimSpace(from.FirstName)
	out.Username = from.UserName
}

var tokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// ValidTokenFormat checks the shape of a bot token without calling Telegram.
func ValidTokenFormat(token string) bool {
	return tokenPattern.MatchString(token)
}
