package speech

import "time"

// SpeechConfig 语音服务配置
type SpeechConfig struct {
	// 认证：API Key 或服务账号（二选一）
	APIKey             string `json:"apiKey,omitempty"`
	ServiceAccountJSON []byte `json:"-"`

	// Endpoint 配置，留空使用默认地址
	RecognizeURL  string `json:"recognizeUrl"`
	SynthesizeURL string `json:"synthesizeUrl"`

	// ASR 配置
	ASREncoding        string   `json:"asrEncoding"`
	ASRSampleRate      int      `json:"asrSampleRate"`
	ASRLanguage        string   `json:"asrLanguage"`
	ASRAltLanguages    []string `json:"asrAltLanguages"`
	FallbackTranscript string   `json:"fallbackTranscript"`

	// TTS 配置
	TTSVoice        string  `json:"ttsVoice"`
	TTSSpeakingRate float32 `json:"ttsSpeakingRate"`
	TTSPitch        float32 `json:"ttsPitch"`
	TTSLanguage     string  `json:"ttsLanguage"`
	TTSMaxChars     int     `json:"ttsMaxChars"`

	// 通用配置
	Timeout time.Duration `json:"timeout"`
}

// MaxSynthesisChars 单次合成允许的最大字符数，按原始输入计算。
const MaxSynthesisChars = 5000

// HasCredentials 表示是否配置了任意一种认证方式。
func (c *SpeechConfig) HasCredentials() bool {
	return c != nil && (c.APIKey != "" || len(c.ServiceAccountJSON) > 0)
}
