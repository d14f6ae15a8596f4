package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/carbeez/backend/internal/config"
	"github.com/carbeez/backend/internal/logging"
	"github.com/carbeez/backend/internal/metrics"
	"github.com/carbeez/backend/internal/model/chat"
)

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("language model returned an empty response")

// Service runs the consultant prompt chain against the configured model.
type Service struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	historyLimit int
	timeout      time.Duration
	logger       zerolog.Logger
}

// NewService compiles the prompt chain around chatModel.
func NewService(ctx context.Context, chatModel model.ChatModel, cfg config.AIConfig) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chain:        runnable,
		historyLimit: cfg.HistoryLimit,
		timeout:      cfg.Timeout,
		logger:       logging.Component("ai"),
	}, nil
}

// Respond makes exactly one model call for query, with the recent history as context.
func (s *Service) Respond(ctx context.Context, consultantID string, history []chat.Message, query string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	input := map[string]any{
		"system":  SystemPrompt(consultantID),
		"history": buildHistoryMessages(history, s.historyLimit),
		"query":   query,
	}

	start := time.Now()
	response, err := s.chain.Invoke(ctx, input)
	metrics.ObserveRemoteCall("llm", start, err)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	content := ""
	if response != nil {
		content = strings.TrimSpace(response.Content)
	}
	if content == "" {
		return "", ErrEmptyResponse
	}

	s.logger.Debug().
		Str("consultant", consultantID).
		Int("history", len(history)).
		Int("length", len(content)).
		Dur("elapsed", time.Since(start)).
		Msg("generated response")
	return content, nil
}

// buildHistoryMessages keeps the last limit text turns. Synthesized bot clips
// repeat the preceding reply and are skipped.
func buildHistoryMessages(messages []chat.Message, limit int) []*schema.Message {
	if len(messages) == 0 || limit <= 0 {
		return nil
	}

	turns := make([]chat.Message, 0, len(messages))
	for _, msg := range messages {
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		if msg.Sender == chat.SenderBot && msg.Type == chat.TypeAudio {
			continue
		}
		turns = append(turns, msg)
	}

	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, msg := range turns {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Text))
		case chat.SenderBot:
			history = append(history, schema.AssistantMessage(msg.Text, nil))
		}
	}
	return history
}
