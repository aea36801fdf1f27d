package session

import (
	"encoding/json"
	"fmt"

	"github.com/memohai/botsmith/internal/blueprint"
)

// KindSession tags encoded session payloads.
const KindSession = "session"

// Encode serializes the payload of state as a versioned record.
func Encode(state State, p Payload) ([]byte, error) {
	if err := Check(state, p); err != nil {
		return nil, fmt.Errorf("%s: %w", state, err)
	}
	return blueprint.Wrap(KindSession, p)
}

// legacyBag is the untyped shape rows had before payloads were typed.
type legacyBag struct {
	Stack         []string             `json:"stack"`
	BotID         string               `json:"botId"`
	ButtonIndex   int                  `json:"buttonIndex"`
	ButtonLabel   string               `json:"buttonLabel"`
	LastBlueprint *blueprint.Blueprint `json:"lastBlueprint"`
}

// Decode reads the payload stored for state. Untyped legacy rows are mapped
// by state.
func Decode(state State, raw []byte) (Payload, error) {
	var env blueprint.Envelope
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode session payload: %w", err)
		}
	}
	if env.Kind == "" {
		var bag legacyBag
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &bag); err != nil {
				return nil, fmt.Errorf("decode legacy session payload: %w", err)
			}
		}
		return fromBag(state, bag)
	}
	switch state {
	case StateIdle:
		return unwrap[Idle](raw)
	case StateAwaitingDescription:
		return unwrap[Describing](raw)
	case StateAwaitingReview, StatePreviewMode, StateConfirmPublish, StateAwaitingToken,
		StateOwnerEditWelcome, StateOwnerEditMenu, StateOwnerEditButtonSelect:
		return unwrap[Drafting](raw)
	case StateOwnerEditButtonLabel:
		return unwrap[ButtonLabel](raw)
	case StateOwnerEditButtonAction:
		return unwrap[ButtonAction](raw)
	case StateUserFlow:
		p, err := unwrap[UserFlow](raw)
		if err != nil {
			return nil, err
		}
		if p.(UserFlow).Stack == nil {
			return UserFlow{Stack: []string{}}, nil
		}
		return p, nil
	}
	return nil, ErrUnknownState
}

func unwrap[T Payload](raw []byte) (Payload, error) {
	v, err := blueprint.Unwrap[T](raw, KindSession)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func fromBag(state State, bag legacyBag) (Payload, error) {
	switch state {
	case StateIdle:
		return Idle{}, nil
	case StateAwaitingDescription:
		return Describing{LastBlueprint: bag.LastBlueprint}, nil
	case StateAwaitingReview, StatePreviewMode, StateConfirmPublish, StateAwaitingToken,
		StateOwnerEditWelcome, StateOwnerEditMenu, StateOwnerEditButtonSelect:
		return Drafting{BotID: bag.BotID}, nil
	case StateOwnerEditButtonLabel:
		return ButtonLabel{BotID: bag.BotID, Index: bag.ButtonIndex}, nil
	case StateOwnerEditButtonAction:
		return ButtonAction{BotID: bag.BotID, Index: bag.ButtonIndex, Label: bag.ButtonLabel}, nil
	case StateUserFlow:
		stack := bag.Stack
		if stack == nil {
			stack = []string{}
		}
		return UserFlow{Stack: stack}, nil
	}
	return nil, ErrUnknownState
}
