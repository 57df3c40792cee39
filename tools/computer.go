package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ComputerAction is one decoded computer-control step. Type selects the
// verb; the remaining fields are populated per verb.
type ComputerAction struct {
	Type string `mapstructure:"type" json:"type"`

	X      int    `mapstructure:"x" json:"x,omitempty"`
	Y      int    `mapstructure:"y" json:"y,omitempty"`
	Button string `mapstructure:"button" json:"button,omitempty"`

	ScrollX int `mapstructure:"scroll_x" json:"scroll_x,omitempty"`
	ScrollY int `mapstructure:"scroll_y" json:"scroll_y,omitempty"`

	Keys []string `mapstructure:"keys" json:"keys,omitempty"`
	Text string   `mapstructure:"text" json:"text,omitempty"`

	URL  string `mapstructure:"url" json:"url,omitempty"`
	Path []any  `mapstructure:"path" json:"path,omitempty"`

	DurationMS int `mapstructure:"duration_ms" json:"duration_ms,omitempty"`
}

// ComputerHandler executes decoded computer actions against whatever
// environment implements them (a browser, a VM, a recorder in tests).
type ComputerHandler interface {
	Name() string
	Execute(ctx context.Context, action ComputerAction) (string, error)
}

// DecodeComputerAction decodes a raw computer-call payload. Unknown
// fields are ignored so newer action verbs do not break older handlers.
func DecodeComputerAction(raw json.RawMessage) (ComputerAction, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return ComputerAction{}, fmt.Errorf("invalid computer action payload: %w", err)
	}
	var action ComputerAction
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &action,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return ComputerAction{}, err
	}
	if err := dec.Decode(generic); err != nil {
		return ComputerAction{}, fmt.Errorf("invalid computer action payload: %w", err)
	}
	if strings.TrimSpace(action.Type) == "" {
		return ComputerAction{}, fmt.Errorf("computer action is missing type")
	}
	return action, nil
}
