package title

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/carbeez/backend/internal/logging"
	"github.com/carbeez/backend/internal/metrics"
	"github.com/carbeez/backend/internal/model/chat"
)

const (
	maxTitleWords = 6
	maxTitleRunes = 60
	defaultTitle  = "Carbon conversation"
)

// Config 控制标题生成服务的行为。
type Config struct {
	Enabled      bool
	HistoryLimit int
	Timeout      time.Duration
}

// Service 使用大模型为保存的对话生成标题，失败时回退到启发式规则。
type Service struct {
	enabled      bool
	chain        compose.Runnable[map[string]any, *schema.Message]
	historyLimit int
	timeout      time.Duration
	logger       zerolog.Logger
}

// NewService 创建标题生成服务。chatModel 可重用现有的大模型实例。
func NewService(ctx context.Context, chatModel model.ChatModel, cfg Config) (*Service, error) {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 6
	}

	svc := &Service{
		enabled:      cfg.Enabled && chatModel != nil,
		historyLimit: historyLimit,
		timeout:      cfg.Timeout,
		logger:       logging.Component("title"),
	}

	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(titleSystemPrompt),
		schema.UserMessage(titleUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile title chain: %w", err)
	}

	svc.chain = runnable
	return svc, nil
}

// Enabled 返回是否使用大模型生成标题。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.chain != nil
}

// Generate 返回简短标题，永不返回空字符串。
func (s *Service) Generate(ctx context.Context, messages []chat.Message) string {
	if !s.Enabled() {
		return Heuristic(messages)
	}

	transcript := formatTranscript(messages, s.historyLimit)
	if transcript == "" {
		return Heuristic(messages)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	msg, err := s.chain.Invoke(ctx, map[string]any{"transcript": transcript})
	metrics.ObserveRemoteCall("llm_title", start, err)
	if err != nil {
		s.logger.Warn().Err(err).Msg("title generation failed, use fallback")
		return Heuristic(messages)
	}
	if msg == nil {
		return Heuristic(messages)
	}

	title := normalize(msg.Content)
	if title == "" {
		return Heuristic(messages)
	}
	return title
}

// Heuristic 取第一条用户消息的前几个词作为标题。
func Heuristic(messages []chat.Message) string {
	for _, msg := range messages {
		if msg.Sender != chat.SenderUser {
			continue
		}
		if title := normalize(msg.Text); title != "" {
			return title
		}
	}
	return defaultTitle
}

func normalize(raw string) string {
	text := strings.TrimSpace(raw)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.Trim(text, " \t\"'`*#.:")
	text = strings.TrimPrefix(text, "Title:")

	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	title := strings.Join(words, " ")

	if runes := []rune(title); len(runes) > maxTitleRunes {
		title = strings.TrimSpace(string(runes[:maxTitleRunes]))
	}
	return title
}

func formatTranscript(messages []chat.Message, limit int) string {
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
		turns = turns[:limit]
	}

	var builder strings.Builder
	for i, msg := range turns {
		role := "User"
		if msg.Sender == chat.SenderBot {
			role = "Assistant"
		}
		builder.WriteString(role)
		builder.WriteString(": ")
		builder.WriteString(strings.TrimSpace(msg.Text))
		if i < len(turns)-1 {
			builder.WriteString("\n")
		}
	}
	return builder.String()
}

const titleSystemPrompt = "You name saved chats about greenhouse-gas accounting. Reply with a title of at most six words, no quotes, no trailing punctuation, nothing else."

const titleUserPrompt = "Conversation:\n{transcript}\n\nTitle:"
