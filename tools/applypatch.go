package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

const (
	PatchCreateFile = "create_file"
	PatchUpdateFile = "update_file"
	PatchDeleteFile = "delete_file"
)

// PatchOperation is one decoded apply-patch payload: create, update, or
// delete exactly one file. Update carries a unified diff; create carries
// the full content.
type PatchOperation struct {
	Type    string `mapstructure:"type" json:"type"`
	Path    string `mapstructure:"path" json:"path"`
	Diff    string `mapstructure:"diff" json:"diff,omitempty"`
	Content string `mapstructure:"content" json:"content,omitempty"`
}

// ApplyPatchHandler applies patch operations to whatever file surface
// implements them.
type ApplyPatchHandler interface {
	Name() string
	Execute(ctx context.Context, op PatchOperation) (string, error)
}

func DecodePatchOperation(raw json.RawMessage) (PatchOperation, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return PatchOperation{}, fmt.Errorf("invalid apply_patch payload: %w", err)
	}
	var op PatchOperation
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &op,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return PatchOperation{}, err
	}
	if err := dec.Decode(generic); err != nil {
		return PatchOperation{}, fmt.Errorf("invalid apply_patch payload: %w", err)
	}
	op.Type = strings.ToLower(strings.TrimSpace(op.Type))
	op.Path = strings.TrimSpace(op.Path)
	switch op.Type {
	case PatchCreateFile, PatchUpdateFile, PatchDeleteFile:
	default:
		return PatchOperation{}, fmt.Errorf("unsupported patch operation type: %q", op.Type)
	}
	if op.Path == "" {
		return PatchOperation{}, fmt.Errorf("patch operation is missing path")
	}
	return op, nil
}
