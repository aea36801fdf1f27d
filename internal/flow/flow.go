// Package flow renders bot menus as inline keyboards and tracks the
// navigation stack of end users.
package flow

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/botsmith/internal/blueprint"
)

// Callback data understood by every generated bot.
const (
	CallbackHome       = "nav:home"
	CallbackBack       = "nav:back"
	CallbackOwnerPanel = "owner:panel"
	menuPrefix         = "menu:"
)

// Button labels.
const (
	LabelHome       = "🏠 الرئيسية"
	LabelBack       = "◀️ رجوع"
	LabelOwnerPanel = "لوحة التحكم"
)

// Nav is a navigation action.
type Nav string

const (
	NavHome Nav = "home"
	NavBack Nav = "back"
)

// HandleNavigation returns the stack after action. It never mutates stack.
func HandleNavigation(action Nav, stack []string) []string {
	if action == NavHome || len(stack) == 0 {
		return []string{}
	}
	out := make([]string, len(stack)-1)
	copy(out, stack[:len(stack)-1])
	return out
}

// Push returns stack with title appended.
func Push(stack []string, title string) []string {
	out := make([]string, 0, len(stack)+1)
	out = append(out, stack...)
	return append(out, title)
}

// MenuCallback is the callback data of the menu button at index.
func MenuCallback(index int) string {
	return fmt.Sprintf("%s%d", menuPrefix, index)
}

// ParseMenuCallback extracts the index from "menu:<i>".
func ParseMenuCallback(data string) (int, bool) {
	raw, ok := strings.CutPrefix(data, menuPrefix)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(raw)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// LinkButton is an extra row entry opening a URL or sending callback data.
type LinkButton struct {
	Text         string
	URL          string
	CallbackData string
}

// MenuKeyboard lays out menu buttons two per row, then link rows, then the
// navigation row, then the owner row when requested.
func MenuKeyboard(items []blueprint.MenuItem, includeOwner bool, links []LinkButton) tgbotapi.InlineKeyboardMarkup {
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(items))
	for i, item := range items {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(item.Title, MenuCallback(i)))
	}
	rows := chunk(buttons)

	if len(links) > 0 {
		linkButtons := make([]tgbotapi.InlineKeyboardButton, 0, len(links))
		for _, l := range links {
			if l.URL != "" {
				linkButtons = append(linkButtons, tgbotapi.NewInlineKeyboardButtonURL(l.Text, l.URL))
			} else {
				linkButtons = append(linkButtons, tgbotapi.NewInlineKeyboardButtonData(l.Text, l.CallbackData))
			}
		}
		rows = append(rows, chunk(linkButtons)...)
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(LabelHome, CallbackHome),
		tgbotapi.NewInlineKeyboardButtonData(LabelBack, CallbackBack),
	))
	if includeOwner {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(LabelOwnerPanel, CallbackOwnerPanel),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func chunk(buttons []tgbotapi.InlineKeyboardButton) [][]tgbotapi.InlineKeyboardButton {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, (len(buttons)+1)/2)
	for i := 0; i < len(buttons); i += 2 {
		end := i + 2
		if end > len(buttons) {
			end = len(buttons)
		}
		rows = append(rows, buttons[i:end])
	}
	return rows
}
