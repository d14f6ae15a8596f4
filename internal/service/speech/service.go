package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carbeez/backend/internal/config"
	"github.com/carbeez/backend/internal/logging"
	"github.com/carbeez/backend/internal/metrics"
	"github.com/carbeez/backend/internal/model/chat"
	"github.com/carbeez/backend/internal/model/outcome"
	speechmodel "github.com/carbeez/backend/internal/model/speech"
	"github.com/carbeez/backend/internal/storage"
)

const (
	componentASR = "transcriber"
	componentTTS = "synthesizer"
)

// Backend 远程识别/合成接口，便于替换与测试。
type Backend interface {
	Recognize(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error)
	Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error)
}

// TranscriptResult 识别结果。Degraded 非空时 Text 为固定的兜底文本。
type TranscriptResult struct {
	Text       string               `json:"text"`
	Confidence float64              `json:"confidence,omitempty"`
	Language   string               `json:"language,omitempty"`
	Degraded   *outcome.Degradation `json:"degraded,omitempty"`
}

// SynthesisRequest 描述一次朗读请求。
type SynthesisRequest struct {
	SessionID string
	Text      string
	Voice     string
	Language  string
}

// Clip 已写入存储的合成音频。
type Clip struct {
	Key        string `json:"key"`
	URL        string `json:"url"`
	Format     string `json:"format"`
	Voice      string `json:"voice"`
	Language   string `json:"language"`
	DurationMs int64  `json:"durationMs"`
	Data       []byte `json:"-"`
}

// SynthesisResult 合成结果。失败或超长时 Clip 为 nil，调用方退回纯文本。
type SynthesisResult struct {
	Clip     *Clip                `json:"clip,omitempty"`
	Degraded *outcome.Degradation `json:"degraded,omitempty"`
}

// Service 语音服务核心业务逻辑
type Service struct {
	config  *speechmodel.SpeechConfig
	backend Backend
	store   storage.Storage
	logger  zerolog.Logger
}

// NewService 创建语音服务实例
func NewService(cfg *speechmodel.SpeechConfig, backend Backend, store storage.Storage) *Service {
	return &Service{
		config:  cfg,
		backend: backend,
		store:   store,
		logger:  logging.Component("speech"),
	}
}

// ModelConfig 把环境配置转换为语音模型配置，并读取服务账号文件。
func ModelConfig(cfg config.SpeechConfig) (*speechmodel.SpeechConfig, error) {
	out := &speechmodel.SpeechConfig{
		APIKey:             cfg.APIKey,
		RecognizeURL:       cfg.RecognizeURL,
		SynthesizeURL:      cfg.SynthesizeURL,
		ASREncoding:        cfg.ASREncoding,
		ASRSampleRate:      cfg.ASRSampleRate,
		ASRLanguage:        cfg.ASRLanguage,
		ASRAltLanguages:    cfg.ASRAltLanguages,
		FallbackTranscript: cfg.FallbackTranscript,
		TTSVoice:           cfg.TTSVoice,
		TTSSpeakingRate:    cfg.TTSSpeakingRate,
		TTSPitch:           cfg.TTSPitch,
		TTSLanguage:        cfg.TTSLanguage,
		TTSMaxChars:        cfg.TTSMaxChars,
		Timeout:            cfg.Timeout,
	}

	if cfg.ServiceAccountFile != "" {
		raw, err := os.ReadFile(cfg.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read speech service account: %w", err)
		}
		out.ServiceAccountJSON = raw
	}
	return out, nil
}

// Transcribe 识别已存储的录音。任何失败都返回兜底文本，不向调用方返回错误。
func (s *Service) Transcribe(ctx context.Context, sessionID string, audio *chat.AudioInput) TranscriptResult {
	if audio == nil || strings.TrimSpace(audio.Key) == "" {
		return s.fallbackTranscript(ctx, outcome.ReasonEmptyInput, errors.New("no audio supplied"))
	}
	if !s.config.HasCredentials() {
		return s.fallbackTranscript(ctx, outcome.ReasonMissingCredentials, nil)
	}

	data, err := storage.ReadAll(ctx, s.store, audio.Key)
	if err != nil {
		return s.fallbackTranscript(ctx, outcome.ReasonStorageError, err)
	}
	if len(data) == 0 {
		return s.fallbackTranscript(ctx, outcome.ReasonEmptyInput, errors.New("audio file is empty"))
	}

	language := firstNonEmpty(audio.Language, s.config.ASRLanguage)
	resp, err := s.backend.Recognize(ctx, &speechmodel.ASRRequest{
		SessionID:  sessionID,
		AudioData:  data,
		Encoding:   encodingFor(audio.Format, s.config.ASREncoding),
		SampleRate: s.config.ASRSampleRate,
		Language:   language,
		AltLangs:   altLanguages(s.config.ASRAltLanguages, language),
	})
	if err != nil {
		return s.fallbackTranscript(ctx, outcome.ReasonRemoteError, err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return s.fallbackTranscript(ctx, outcome.ReasonEmptyResult, nil)
	}

	return TranscriptResult{
		Text:       strings.TrimSpace(resp.Text),
		Confidence: resp.Confidence,
		Language:   firstNonEmpty(resp.Language, language),
	}
}

// Synthesize 朗读文本并写入 tts/ 目录。超长文本不会发起远程调用。
func (s *Service) Synthesize(ctx context.Context, req SynthesisRequest) SynthesisResult {
	// 长度按原始输入判断，清洗后变短的文本同样拒绝。
	if n, limit := utf8.RuneCountInString(req.Text), s.maxChars(); n > limit {
		return s.degradeSynthesis(ctx, outcome.ReasonInputTooLong,
			fmt.Errorf("text has %d characters, limit is %d", n, limit))
	}

	cleaned := CleanText(req.Text)
	if cleaned == "" {
		return s.degradeSynthesis(ctx, outcome.ReasonEmptyInput, errors.New("nothing to speak after cleaning"))
	}

	if !s.config.HasCredentials() {
		return s.degradeSynthesis(ctx, outcome.ReasonMissingCredentials, nil)
	}

	language := req.Language
	if language == "" {
		language = DetectLanguage(cleaned, s.config.TTSLanguage)
	}
	voice := ResolveVoice(language, firstNonEmpty(req.Voice, s.config.TTSVoice))

	resp, err := s.backend.Synthesize(ctx, &speechmodel.TTSRequest{
		SessionID:    req.SessionID,
		Text:         cleaned,
		Voice:        voice.Name,
		Language:     voice.LanguageCode,
		SpeakingRate: s.config.TTSSpeakingRate,
		Pitch:        s.config.TTSPitch,
	})
	if err != nil {
		return s.degradeSynthesis(ctx, outcome.ReasonRemoteError, err)
	}
	if len(resp.AudioData) == 0 {
		return s.degradeSynthesis(ctx, outcome.ReasonEmptyResult, nil)
	}

	format := firstNonEmpty(resp.Format, "mp3")
	key := path.Join(strings.TrimSuffix(storage.PrefixSynthesis, "/"), sanitizeSegment(req.SessionID), uuid.NewString()+"."+format)
	if err := s.store.Write(ctx, key, bytes.NewReader(resp.AudioData), int64(len(resp.AudioData)), ContentTypeFor(format)); err != nil {
		return s.degradeSynthesis(ctx, outcome.ReasonStorageError, err)
	}

	url, err := s.store.URL(ctx, key)
	if err != nil {
		return s.degradeSynthesis(ctx, outcome.ReasonStorageError, err)
	}

	return SynthesisResult{Clip: &Clip{
		Key:        key,
		URL:        url,
		Format:     format,
		Voice:      voice.Name,
		Language:   voice.LanguageCode,
		DurationMs: estimateDuration(cleaned, s.config.TTSSpeakingRate),
		Data:       resp.AudioData,
	}}
}

// StoreRecording 保存上传的录音并返回可供识别的引用。
func (s *Service) StoreRecording(ctx context.Context, sessionID string, data []byte, format, language string) (*chat.AudioInput, string, error) {
	format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if format == "" {
		format = "wav"
	}

	key := path.Join(strings.TrimSuffix(storage.PrefixRecordings, "/"), sanitizeSegment(sessionID), uuid.NewString()+"."+format)
	if err := s.store.Write(ctx, key, bytes.NewReader(data), int64(len(data)), ContentTypeFor(format)); err != nil {
		return nil, "", fmt.Errorf("store recording: %w", err)
	}

	url, err := s.store.URL(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("resolve recording url: %w", err)
	}

	return &chat.AudioInput{Key: key, URL: url, Format: format, Language: language}, url, nil
}

func (s *Service) fallbackTranscript(ctx context.Context, reason outcome.Reason, cause error) TranscriptResult {
	d := outcome.Degrade(componentASR, reason, cause)
	metrics.RecordDegradation(d)
	logging.Ctx(ctx).Warn().Str("reason", string(reason)).Err(cause).Msg("transcription degraded, using fallback transcript")
	return TranscriptResult{Text: s.config.FallbackTranscript, Degraded: d}
}

func (s *Service) degradeSynthesis(ctx context.Context, reason outcome.Reason, cause error) SynthesisResult {
	d := outcome.Degrade(componentTTS, reason, cause)
	metrics.RecordDegradation(d)
	logging.Ctx(ctx).Warn().Str("reason", string(reason)).Err(cause).Msg("synthesis degraded, replying with text only")
	return SynthesisResult{Degraded: d}
}

func (s *Service) maxChars() int {
	if s.config.TTSMaxChars > 0 && s.config.TTSMaxChars < speechmodel.MaxSynthesisChars {
		return s.config.TTSMaxChars
	}
	return speechmodel.MaxSynthesisChars
}

// encodingFor 根据录音格式推断识别编码，未知格式使用配置的默认值。
func encodingFor(format, fallback string) string {
	switch strings.ToLower(format) {
	case "wav", "pcm", "l16":
		return "LINEAR16"
	case "mp3", "mpeg":
		return "MP3"
	case "flac":
		return "FLAC"
	case "ogg", "opus":
		return "OGG_OPUS"
	case "webm":
		return "WEBM_OPUS"
	case "amr":
		return "AMR"
	default:
		return fallback
	}
}

// ContentTypeFor maps an audio format to its MIME type.
func ContentTypeFor(format string) string {
	switch strings.ToLower(format) {
	case "mp3", "mpeg":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "ogg", "opus":
		return "audio/ogg"
	case "webm":
		return "audio/webm"
	case "m4a", "aac":
		return "audio/mp4"
	case "flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}

func altLanguages(all []string, primary string) []string {
	out := make([]string, 0, len(all))
	for _, lang := range all {
		if !strings.EqualFold(lang, primary) {
			out = append(out, lang)
		}
	}
	return out
}

func sanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "anonymous"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '.' {
			return '_'
		}
		return r
	}, s)
}

// estimateDuration 按约 150 词/分钟估算朗读时长。
func estimateDuration(text string, rate float32) int64 {
	if rate <= 0 {
		rate = 1
	}
	words := len(strings.Fields(text))
	perWord := float64(400*time.Millisecond) / float64(rate)
	return int64(time.Duration(float64(words)*perWord) / time.Millisecond)
}
