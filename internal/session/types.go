// Package session stores the per-user conversation state and the short
// chat history the pipeline reads.
package session

import (
	"errors"
	"time"

	"github.com/memohai/botsmith/internal/blueprint"
)

// State is the conversation position of a user.
type State string

const (
	StateIdle                  State = "IDLE"
	StateAwaitingDescription   State = "AWAITING_DESCRIPTION"
	StateAwaitingReview        State = "AWAITING_REVIEW"
	StatePreviewMode           State = "PREVIEW_MODE"
	StateConfirmPublish        State = "CONFIRM_PUBLISH"
	StateAwaitingToken         State = "AWAITING_TOKEN"
	StateOwnerEditWelcome      State = "OWNER_EDIT_WELCOME"
	StateOwnerEditMenu         State = "OWNER_EDIT_MENU"
	StateOwnerEditButtonSelect State = "OWNER_EDIT_BUTTON_SELECT"
	StateOwnerEditButtonLabel  State = "OWNER_EDIT_BUTTON_LABEL"
	StateOwnerEditButtonAction State = "OWNER_EDIT_BUTTON_ACTION"
	StateUserFlow              State = "USER_FLOW"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionConflict = errors.New("session was changed concurrently")
	ErrPayloadMismatch = errors.New("payload does not match state")
	ErrUnknownState    = errors.New("unknown session state")
)

// Payload is the state-specific data of a session. Each state accepts
// exactly one payload type.
type Payload interface {
	payload()
}

// Idle carries nothing.
type Idle struct{}

// Describing waits for a bot description and remembers the last advice given.
type Describing struct {
	LastBlueprint *blueprint.Blueprint `json:"lastBlueprint,omitempty"`
}

// Drafting points at the draft bot being reviewed, previewed, edited or published.
type Drafting struct {
	BotID string `json:"botId"`
}

// ButtonLabel waits for the new label of one menu button.
type ButtonLabel struct {
	BotID string `json:"botId"`
	Index int    `json:"buttonIndex"`
}

// ButtonAction waits for the new reply of a relabelled button.
type ButtonAction struct {
	BotID string `json:"botId"`
	Index int    `json:"buttonIndex"`
	Label string `json:"buttonLabel"`
}

// UserFlow is the navigation stack of an end user inside a published bot.
type UserFlow struct {
	Stack []string `json:"stack"`
}

func (Idle) payload()         {}
func (Describing) payload()   {}
func (Drafting) payload()     {}
func (ButtonLabel) payload()  {}
func (ButtonAction) payload() {}
func (UserFlow) payload()     {}

// Session is one conversation. BotID and ChatID are set for end-user sessions
// of published bots; master sessions leave them empty.
type Session struct {
	ID        string
	UserID    string
	BotID     string
	ChatID    string
	State     State
	Payload   Payload
	Version   int
	UpdatedAt time.Time
}

// DraftBotID returns the bot the payload refers to, or "".
func (s Session) DraftBotID() string {
	switch p := s.Payload.(type) {
	case Drafting:
		return p.BotID
	case ButtonLabel:
		return p.BotID
	case ButtonAction:
		return p.BotID
	}
	return ""
}

// Message is one line of chat history.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Check reports whether p is the payload type state expects.
func Check(state State, p Payload) error {
	var ok bool
	switch state {
	case StateIdle:
		_, ok = p.(Idle)
	case StateAwaitingDescription:
		_, ok = p.(Describing)
	case StateAwaitingReview, StatePreviewMode, StateConfirmPublish, StateAwaitingToken,
		StateOwnerEditWelcome, StateOwnerEditMenu, StateOwnerEditButtonSelect:
		_, ok = p.(Drafting)
	case StateOwnerEditButtonLabel:
		_, ok = p.(ButtonLabel)
	case StateOwnerEditButtonAction:
		_, ok = p.(ButtonAction)
	case StateUserFlow:
		_, ok = p.(UserFlow)
	default:
		return ErrUnknownState
	}
	if !ok {
		return ErrPayloadMismatch
	}
	return nil
}
