package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/quailyquaily/turnstile/llm"
	"github.com/quailyquaily/turnstile/providers/openai"
	"github.com/quailyquaily/turnstile/secrets"
)

// llmClientFromViper builds the model client from `llm.*` config keys.
// The API key resolves fail-closed: an explicit `llm.api_key` wins,
// otherwise `llm.api_key_env` (with aliases) is looked up through the
// secrets resolver so the key never lands in the config file.
func llmClientFromViper(ctx context.Context) (llm.Client, error) {
	provider := strings.ToLower(strings.TrimSpace(viper.GetString("llm.provider")))
	if provider == "" {
		provider = "openai"
	}
	switch provider {
	case "openai", "openai-compatible":
	default:
		return nil, fmt.Errorf("unsupported llm.provider: %s", provider)
	}

	apiKey := strings.TrimSpace(viper.GetString("llm.api_key"))
	if apiKey == "" {
		ref := strings.TrimSpace(viper.GetString("llm.api_key_env"))
		if ref == "" {
			ref = "OPENAI_API_KEY"
		}
		resolver := &secrets.EnvResolver{Aliases: viper.GetStringMapString("secrets.aliases")}
		key, err := resolver.Resolve(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve llm api key: %w", err)
		}
		apiKey = key
	}

	client := openai.New(viper.GetString("llm.endpoint"), apiKey)
	if ua := strings.TrimSpace(viper.GetString("user_agent")); ua != "" {
		client.UserAgent = ua
	}
	if maxBytes := viper.GetInt64("llm.max_response_bytes"); maxBytes > 0 {
		client.MaxResponseBytes = maxBytes
	}
	return client, nil
}

func llmModelFromViper() string {
	model := strings.TrimSpace(viper.GetString("llm.model"))
	if model == "" {
		model = "gpt-4o-mini"
	}
	return model
}

func llmParamsFromViper() map[string]any {
	params := map[string]any{}
	if viper.IsSet("llm.temperature") {
		params["temperature"] = viper.GetFloat64("llm.temperature")
	}
	if viper.IsSet("llm.max_tokens") {
		params["max_tokens"] = viper.GetInt("llm.max_tokens")
	}
	if len(params) == 0 {
		return nil
	}
	return params
}
