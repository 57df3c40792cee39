package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ShellAction is one decoded shell-call payload: an argv-style command
// list plus execution constraints.
type ShellAction struct {
	Commands         []string `mapstructure:"commands" json:"commands"`
	TimeoutMS        int      `mapstructure:"timeout_ms" json:"timeout_ms,omitempty"`
	WorkingDirectory string   `mapstructure:"working_directory" json:"working_directory,omitempty"`
}

// ShellHandler executes shell actions. Implementations own sandboxing
// and command denial; the engine only gates on approval.
type ShellHandler interface {
	Name() string
	Execute(ctx context.Context, action ShellAction) (string, error)
}

func DecodeShellAction(raw json.RawMessage) (ShellAction, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return ShellAction{}, fmt.Errorf("invalid shell action payload: %w", err)
	}
	var action ShellAction
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &action,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return ShellAction{}, err
	}
	if err := dec.Decode(generic); err != nil {
		return ShellAction{}, fmt.Errorf("invalid shell action payload: %w", err)
	}
	if len(action.Commands) == 0 {
		return ShellAction{}, fmt.Errorf("shell action has no commands")
	}
	return action, nil
}
