package blueprint

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrIndexOutOfRange = errors.New("menu index out of range")
	ErrInvalidEdit     = errors.New("edit produces an invalid blueprint")
)

// EditError carries the validator issues that made an edit fail.
type EditError struct {
	Issues []string
}

func (e *EditError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidEdit.Error(), strings.Join(e.Issues, "; "))
}

func (e *EditError) Unwrap() error { return ErrInvalidEdit }

// Rename changes the title of the menu item at index.
func Rename(b Blueprint, index int, title string) (Blueprint, error) {
	return editItem(b, index, func(item *MenuItem) { item.Title = strings.TrimSpace(title) })
}

// ChangeAction changes the reply of the menu item at index.
func ChangeAction(b Blueprint, index int, action string) (Blueprint, error) {
	return editItem(b, index, func(item *MenuItem) { item.Action = strings.TrimSpace(action) })
}

// ReplaceButton sets both title and reply of the menu item at index.
func ReplaceButton(b Blueprint, index int, title, action string) (Blueprint, error) {
	return editItem(b, index, func(item *MenuItem) {
		item.Title = strings.TrimSpace(title)
		item.Action = strings.TrimSpace(action)
	})
}

// ReplaceMenu rebuilds the menu from labels; each label doubles as the reply text.
func ReplaceMenu(b Blueprint, labels []string) (Blueprint, error) {
	out := b.Clone()
	out.Menu = make([]MenuItem, 0, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		out.Menu = append(out.Menu, MenuItem{Title: label, Action: label})
	}
	return checked(out)
}

// SplitLabels splits a comma separated list, accepting the Arabic comma too.
func SplitLabels(text string) []string {
	text = strings.ReplaceAll(text, "،", ",")
	parts := strings.Split(text, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func editItem(b Blueprint, index int, apply func(item *MenuItem)) (Blueprint, error) {
	if index < 0 || index >= len(b.Menu) {
		return b, ErrIndexOutOfRange
	}
	out := b.Clone()
	apply(&out.Menu[index])
	return checked(out)
}

func checked(b Blueprint) (Blueprint, error) {
	fixed, report := ValidateAndFix(b)
	if !report.OK {
		return b, &EditError{Issues: report.Issues}
	}
	return fixed, nil
}
