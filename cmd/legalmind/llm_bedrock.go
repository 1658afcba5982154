//go:build bedrock

package main

import (
	"log/slog"

	"legalmind/internal/adapter/llm"
	"legalmind/internal/domain"
	"legalmind/internal/infra/config"
)

func createBedrockProvider(pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	return llm.NewBedrockProvider(pc, log)
}
