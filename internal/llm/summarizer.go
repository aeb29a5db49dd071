// Copyright © 2025 RunbookPilot Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package llm provides the optional post-execution analyst note helper.
// Summaries are generated fire-and-forget after a run reaches a terminal
// state; a slow or failing model provider can never block or fail an
// execution.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sim-security/runbookpilot/internal/common/config"
	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/core/models"
)

const systemPrompt = `You are a SOC analyst assistant. Summarise the ` +
	`following runbook execution result in at most five sentences: what ` +
	`ran, what succeeded or failed, the risk posture, and any follow-up ` +
	`an analyst should take. Answer in plain prose.`

// OpenAISummarizer writes analyst notes through the OpenAI chat API.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
	log    logger.Logger
}

// NewOpenAISummarizer builds the helper from its config section.
func NewOpenAISummarizer(cfg config.LLMConfig) *OpenAISummarizer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAISummarizer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		log:    logger.NewLogger("llm-summarizer"),
	}
}

// Summarize implements interfaces.Summarizer.
func (s *OpenAISummarizer) Summarize(ctx context.Context, result *models.ExecutionResult) (string, error) {
	payload, err := json.Marshal(summaryView(result))
	if err != nil {
		return "", fmt.Errorf("failed to serialise result for summary: %w", err)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("summary request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summary response had no choices")
	}

	note := resp.Choices[0].Message.Content
	s.log.Infof("summary note for execution %s: %s", result.ExecutionID, note)
	return note, nil
}

// summaryView trims the result to the fields worth summarising; raw step
// outputs stay out of the prompt.
func summaryView(result *models.ExecutionResult) map[string]interface{} {
	steps := make([]map[string]interface{}, 0, len(result.StepResults))
	for _, sr := range result.StepResults {
		entry := map[string]interface{}{
			"step":    sr.StepName,
			"action":  sr.Action,
			"success": sr.Success,
		}
		if sr.Error != nil {
			entry["error"] = sr.Error.Message
		}
		steps = append(steps, entry)
	}

	view := map[string]interface{}{
		"runbook":     result.RunbookName,
		"state":       result.State.String(),
		"success":     result.Success,
		"duration_ms": result.DurationMs,
		"steps":       steps,
	}
	if result.Rollback != nil {
		view["rollback"] = map[string]interface{}{
			"attempted": result.Rollback.TotalAttempted,
			"succeeded": result.Rollback.TotalSucceeded,
		}
	}
	if result.Simulation != nil {
		view["simulation"] = map[string]interface{}{
			"predicted_outcome": result.Simulation.PredictedOutcome.String(),
			"confidence":        result.Simulation.OverallConfidence,
			"risk_level":        result.Simulation.OverallRiskLevel.String(),
		}
	}
	return view
}
