package format

import (
	"fmt"
	"strconv"
	"strings"
)

// Action identifies a button press. The wire payloads must roundtrip
// through Encode/ParseCallback exactly, since the chat transport echoes
// them back opaquely.
type Action string

const (
	ActionSelect       Action = "select"
	ActionNext         Action = "next"
	ActionPrev         Action = "prev"
	ActionPriceNetwork Action = "price_network"
	ActionPriceBrand   Action = "price_brand"
	ActionPriceToggle  Action = "price_toggle"
	ActionGetSelected  Action = "get_selected"
	ActionCopyAll      Action = "copy_all"
	ActionBackSelect   Action = "back_select"
	ActionCancel       Action = "cancel"
)

// Callback is a decoded button payload.
type Callback struct {
	Action Action
	DealID string // set for ActionSelect
	Page   int    // set for ActionNext/ActionPrev
}

// Encode renders the wire payload for a callback.
func (c Callback) Encode() string {
	switch c.Action {
	case ActionSelect:
		return "select_" + c.DealID
	case ActionNext:
		return "next_" + strconv.Itoa(c.Page)
	case ActionPrev:
		return "prev_" + strconv.Itoa(c.Page)
	default:
		return string(c.Action)
	}
}

// ParseCallback decodes a wire payload back into a Callback.
func ParseCallback(payload string) (Callback, error) {
	switch Action(payload) {
	case ActionPriceNetwork, ActionPriceBrand, ActionPriceToggle,
		ActionGetSelected, ActionCopyAll, ActionBackSelect, ActionCancel:
		return Callback{Action: Action(payload)}, nil
	}

	if id, ok := strings.CutPrefix(payload, "select_"); ok && id != "" {
		return Callback{Action: ActionSelect, DealID: id}, nil
	}
	if rest, ok := strings.CutPrefix(payload, "next_"); ok {
		page, err := strconv.Atoi(rest)
		if err != nil {
			return Callback{}, fmt.Errorf("invalid page in payload %q: %w", payload, err)
		}
		return Callback{Action: ActionNext, Page: page}, nil
	}
	if rest, ok := strings.CutPrefix(payload, "prev_"); ok {
		page, err := strconv.Atoi(rest)
		if err != nil {
			return Callback{}, fmt.Errorf("invalid page in payload %q: %w", payload, err)
		}
		return Callback{Action: ActionPrev, Page: page}, nil
	}
	return Callback{}, fmt.Errorf("unknown callback payload %q", payload)
}
