package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Log    LogConfig
	AI     AIConfig
	Speech SpeechConfig
	Mail   MailConfig
	Auth   AuthConfig
	Store  StoreConfig
	Audio  AudioConfig
}

// Load 从环境变量加载配置。缺少大模型凭证视为致命错误。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}
	if !ai.Enabled() {
		return nil, fmt.Errorf("language model is not configured: set LLM_PROVIDER with ARK_API_KEY/ARK_MODEL or OPENAI_API_KEY")
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	audio, err := loadAudioConfig()
	if err != nil {
		return nil, err
	}

	logPretty, err := parseBoolEnv("LOG_PRETTY", false)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Pretty: logPretty,
		},
		AI:     ai,
		Speech: speech,
		Mail:   loadMailConfig(),
		Auth:   auth,
		Store: StoreConfig{
			RedisURL: strings.TrimSpace(os.Getenv("REDIS_URL")),
		},
		Audio: audio,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Pretty bool
}

// Provider 标识大模型供应商。
type Provider string

const (
	ProviderArk    Provider = "ark"
	ProviderOpenAI Provider = "openai"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider     Provider
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
	HistoryLimit int
	Timeout      time.Duration
	TitleEnabled bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderOpenAI:
		return c.APIKey != "" && c.Model != ""
	case ProviderArk:
		return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
	default:
		return false
	}
}

func loadAIConfig() (AIConfig, error) {
	provider := Provider(strings.ToLower(getEnvOrDefault("LLM_PROVIDER", string(ProviderArk))))
	if provider != ProviderArk && provider != ProviderOpenAI {
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("LLM_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	titleEnabled, err := parseBoolEnv("LLM_TITLE_ENABLED", true)
	if err != nil {
		return AIConfig{}, err
	}

	historyLimit := 10
	if override, err := parseOptionalIntEnv("LLM_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		historyLimit = *override
		if historyLimit < 0 {
			historyLimit = 0
		}
	}

	timeout, err := parseDurationEnv("LLM_TIMEOUT", 60*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	cfg := AIConfig{
		Provider:     provider,
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		HistoryLimit: historyLimit,
		Timeout:      timeout,
		TitleEnabled: titleEnabled,
	}

	switch provider {
	case ProviderOpenAI:
		cfg.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		cfg.Model = getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini")
		cfg.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	default:
		cfg.APIKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		cfg.AccessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
		cfg.SecretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
		cfg.Model = strings.TrimSpace(os.Getenv("ARK_MODEL"))
		cfg.BaseURL = getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")
		cfg.Region = getEnvOrDefault("ARK_REGION", "cn-beijing")
	}

	return cfg, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	APIKey             string
	ServiceAccountFile string
	RecognizeURL       string
	SynthesizeURL      string
	ASREncoding        string
	ASRSampleRate      int
	ASRLanguage        string
	ASRAltLanguages    []string
	FallbackTranscript string
	TTSVoice           string
	TTSSpeakingRate    float32
	TTSPitch           float32
	TTSLanguage        string
	TTSMaxChars        int
	Timeout            time.Duration
}

// Enabled 表示是否提供了语音凭证。未配置时语音请求走降级路径。
func (c SpeechConfig) Enabled() bool {
	return c.APIKey != "" || c.ServiceAccountFile != ""
}

// LoadSpeech 只加载语音配置，供命令行工具使用。
func LoadSpeech() (SpeechConfig, error) {
	return loadSpeechConfig()
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseDurationEnv("SPEECH_TIMEOUT", 30*time.Second)
	if err != nil {
		return SpeechConfig{}, err
	}

	sampleRate := 16000
	if override, err := parseOptionalIntEnv("SPEECH_ASR_SAMPLE_RATE"); err != nil {
		return SpeechConfig{}, err
	} else if override != nil {
		sampleRate = *override
	}

	rate, err := parseOptionalFloat32Env("SPEECH_TTS_SPEAKING_RATE")
	if err != nil {
		return SpeechConfig{}, err
	}
	speakingRate := float32(1.0) // 默认1.0倍速
	if rate != nil {
		speakingRate = *rate
	}

	pitch, err := parseOptionalFloat32Env("SPEECH_TTS_PITCH")
	if err != nil {
		return SpeechConfig{}, err
	}
	var ttsPitch float32
	if pitch != nil {
		ttsPitch = *pitch
	}

	maxChars := 5000
	if override, err := parseOptionalIntEnv("SPEECH_TTS_MAX_CHARS"); err != nil {
		return SpeechConfig{}, err
	} else if override != nil {
		if *override <= 0 || *override > 5000 {
			return SpeechConfig{}, fmt.Errorf("invalid SPEECH_TTS_MAX_CHARS value %d: must be between 1 and 5000", *override)
		}
		maxChars = *override
	}

	return SpeechConfig{
		APIKey:             strings.TrimSpace(os.Getenv("SPEECH_API_KEY")),
		ServiceAccountFile: strings.TrimSpace(os.Getenv("SPEECH_SERVICE_ACCOUNT_FILE")),
		RecognizeURL:       strings.TrimSpace(os.Getenv("SPEECH_RECOGNIZE_URL")),
		SynthesizeURL:      strings.TrimSpace(os.Getenv("SPEECH_SYNTHESIZE_URL")),
		ASREncoding:        getEnvOrDefault("SPEECH_ASR_ENCODING", "LINEAR16"),
		ASRSampleRate:      sampleRate,
		ASRLanguage:        getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		ASRAltLanguages:    splitList(getEnvOrDefault("SPEECH_ASR_ALT_LANGUAGES", "fr-FR,es-ES,de-DE,ar-SA")),
		FallbackTranscript: getEnvOrDefault("SPEECH_FALLBACK_TRANSCRIPT", "Hello, can you help me with carbon accounting?"),
		TTSVoice:           strings.TrimSpace(os.Getenv("SPEECH_TTS_VOICE")),
		TTSSpeakingRate:    speakingRate,
		TTSPitch:           ttsPitch,
		TTSLanguage:        getEnvOrDefault("SPEECH_TTS_LANGUAGE", "en-US"),
		TTSMaxChars:        maxChars,
		Timeout:            timeout,
	}, nil
}

// MailConfig 描述 OTP 邮件投递端点。
type MailConfig struct {
	OTPEndpoint string
	APIKey      string
	Timeout     time.Duration
}

func loadMailConfig() MailConfig {
	timeout, err := parseDurationEnv("MAIL_TIMEOUT", 15*time.Second)
	if err != nil {
		timeout = 15 * time.Second
	}
	return MailConfig{
		OTPEndpoint: getEnvOrDefault("MAIL_OTP_ENDPOINT", "https://mail.carbeez.app/api/send-otp"),
		APIKey:      strings.TrimSpace(os.Getenv("MAIL_API_KEY")),
		Timeout:     timeout,
	}
}

// AuthConfig 描述会话令牌与验证码策略。
type AuthConfig struct {
	TokenSecret string
	TokenTTL    time.Duration
	OTPTTL      time.Duration
	OTPLength   int
}

func loadAuthConfig() (AuthConfig, error) {
	tokenTTL, err := parseDurationEnv("AUTH_TOKEN_TTL", 30*24*time.Hour)
	if err != nil {
		return AuthConfig{}, err
	}

	otpTTL, err := parseDurationEnv("AUTH_OTP_TTL", 10*time.Minute)
	if err != nil {
		return AuthConfig{}, err
	}

	otpLength := 6
	if override, err := parseOptionalIntEnv("AUTH_OTP_LENGTH"); err != nil {
		return AuthConfig{}, err
	} else if override != nil {
		if *override < 4 || *override > 10 {
			return AuthConfig{}, fmt.Errorf("invalid AUTH_OTP_LENGTH value %d: must be between 4 and 10", *override)
		}
		otpLength = *override
	}

	return AuthConfig{
		TokenSecret: strings.TrimSpace(os.Getenv("AUTH_TOKEN_SECRET")),
		TokenTTL:    tokenTTL,
		OTPTTL:      otpTTL,
		OTPLength:   otpLength,
	}, nil
}

// StoreConfig 描述键值存储。RedisURL 为空时使用进程内存储。
type StoreConfig struct {
	RedisURL string
}

// AudioConfig 描述音频文件存储与保留策略。
type AudioConfig struct {
	Backend        string // local | s3
	LocalDir       string
	PublicBaseURL  string
	Retention      time.Duration
	SweepInterval  time.Duration
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

func loadAudioConfig() (AudioConfig, error) {
	retention, err := parseDurationEnv("AUDIO_RETENTION", 24*time.Hour)
	if err != nil {
		return AudioConfig{}, err
	}

	interval, err := parseDurationEnv("AUDIO_SWEEP_INTERVAL", 15*time.Minute)
	if err != nil {
		return AudioConfig{}, err
	}

	pathStyle, err := parseBoolEnv("AUDIO_S3_USE_PATH_STYLE", false)
	if err != nil {
		return AudioConfig{}, err
	}

	backend := strings.ToLower(getEnvOrDefault("AUDIO_BACKEND", "local"))
	if backend != "local" && backend != "s3" {
		return AudioConfig{}, fmt.Errorf("invalid AUDIO_BACKEND value %q", backend)
	}

	cfg := AudioConfig{
		Backend:        backend,
		LocalDir:       getEnvOrDefault("AUDIO_DIR", "./data/audio"),
		PublicBaseURL:  getEnvOrDefault("AUDIO_PUBLIC_BASE_URL", "/api/audio"),
		Retention:      retention,
		SweepInterval:  interval,
		S3Endpoint:     strings.TrimSpace(os.Getenv("AUDIO_S3_ENDPOINT")),
		S3Region:       getEnvOrDefault("AUDIO_S3_REGION", "us-east-1"),
		S3Bucket:       strings.TrimSpace(os.Getenv("AUDIO_S3_BUCKET")),
		S3AccessKey:    strings.TrimSpace(os.Getenv("AUDIO_S3_ACCESS_KEY")),
		S3SecretKey:    strings.TrimSpace(os.Getenv("AUDIO_S3_SECRET_KEY")),
		S3UsePathStyle: pathStyle,
	}
	if cfg.Backend == "s3" && cfg.S3Bucket == "" {
		return AudioConfig{}, fmt.Errorf("AUDIO_S3_BUCKET is required when AUDIO_BACKEND=s3")
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
