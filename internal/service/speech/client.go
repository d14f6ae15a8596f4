package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/carbeez/backend/internal/metrics"
	speechmodel "github.com/carbeez/backend/internal/model/speech"
)

const (
	defaultRecognizeURL  = "https://speech.googleapis.com/v1/speech:recognize"
	defaultSynthesizeURL = "https://texttospeech.googleapis.com/v1/text:synthesize"
)

// errNoCredentials 表示既没有 API Key 也没有服务账号。
var errNoCredentials = errors.New("speech credentials are not configured")

// tokenProvider 为服务账号模式提供访问令牌。
type tokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// RESTClient 通过 REST 接口调用语音识别与语音合成。
type RESTClient struct {
	http          *resty.Client
	apiKey        string
	tokens        tokenProvider
	recognizeURL  string
	synthesizeURL string
}

// NewRESTClient 根据配置创建客户端。服务账号优先于 API Key。
func NewRESTClient(cfg *speechmodel.SpeechConfig) (*RESTClient, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &RESTClient{
		http:          resty.New().SetTimeout(timeout),
		apiKey:        strings.TrimSpace(cfg.APIKey),
		recognizeURL:  firstNonEmpty(cfg.RecognizeURL, defaultRecognizeURL),
		synthesizeURL: firstNonEmpty(cfg.SynthesizeURL, defaultSynthesizeURL),
	}

	if len(cfg.ServiceAccountJSON) > 0 {
		account, err := ParseServiceAccount(cfg.ServiceAccountJSON)
		if err != nil {
			return nil, err
		}
		tokens, err := NewTokenSource(account, timeout)
		if err != nil {
			return nil, err
		}
		c.tokens = tokens
	}

	return c, nil
}

type recognizeRequest struct {
	Config recognitionConfig `json:"config"`
	Audio  recognitionAudio  `json:"audio"`
}

type recognitionConfig struct {
	Encoding                   string   `json:"encoding,omitempty"`
	SampleRateHertz            int      `json:"sampleRateHertz,omitempty"`
	LanguageCode               string   `json:"languageCode"`
	AlternativeLanguageCodes   []string `json:"alternativeLanguageCodes,omitempty"`
	EnableAutomaticPunctuation bool     `json:"enableAutomaticPunctuation"`
}

type recognitionAudio struct {
	Content string `json:"content"`
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
		LanguageCode string `json:"languageCode"`
	} `json:"results"`
}

type synthesizeRequest struct {
	Input       synthesisInput `json:"input"`
	Voice       voiceSelection `json:"voice"`
	AudioConfig audioConfig    `json:"audioConfig"`
}

type synthesisInput struct {
	Text string `json:"text"`
}

type voiceSelection struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
}

type audioConfig struct {
	AudioEncoding string  `json:"audioEncoding"`
	SpeakingRate  float32 `json:"speakingRate,omitempty"`
	Pitch         float32 `json:"pitch,omitempty"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Recognize 把整段音频以 base64 提交识别，返回拼接后的文本。
func (c *RESTClient) Recognize(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	body := recognizeRequest{
		Config: recognitionConfig{
			Encoding:                   req.Encoding,
			LanguageCode:               req.Language,
			AlternativeLanguageCodes:   req.AltLangs,
			EnableAutomaticPunctuation: true,
		},
		Audio: recognitionAudio{Content: base64.StdEncoding.EncodeToString(req.AudioData)},
	}
	if req.Encoding == "LINEAR16" {
		body.Config.SampleRateHertz = req.SampleRate
	}

	var result recognizeResponse
	if err := c.post(ctx, "speech_recognize", c.recognizeURL, body, &result); err != nil {
		return nil, err
	}

	var (
		parts      []string
		confidence float64
		language   string
	)
	for _, r := range result.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		best := r.Alternatives[0]
		if text := strings.TrimSpace(best.Transcript); text != "" {
			parts = append(parts, text)
		}
		if best.Confidence > confidence {
			confidence = best.Confidence
		}
		if language == "" {
			language = r.LanguageCode
		}
	}

	return &speechmodel.ASRResponse{
		SessionID:  req.SessionID,
		Text:       strings.Join(parts, " "),
		Confidence: confidence,
		Language:   language,
		CreatedAt:  time.Now(),
	}, nil
}

// Synthesize 请求 MP3 音频并解码 base64 内容。
func (c *RESTClient) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	body := synthesizeRequest{
		Input: synthesisInput{Text: req.Text},
		Voice: voiceSelection{LanguageCode: req.Language, Name: req.Voice},
		AudioConfig: audioConfig{
			AudioEncoding: "MP3",
			SpeakingRate:  req.SpeakingRate,
			Pitch:         req.Pitch,
		},
	}

	var result synthesizeResponse
	if err := c.post(ctx, "speech_synthesize", c.synthesizeURL, body, &result); err != nil {
		return nil, err
	}

	audio, err := base64.StdEncoding.DecodeString(result.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decode synthesized audio: %w", err)
	}

	return &speechmodel.TTSResponse{
		SessionID: req.SessionID,
		AudioData: audio,
		Format:    "mp3",
		Voice:     req.Voice,
		Language:  req.Language,
		CreatedAt: time.Now(),
	}, nil
}

func (c *RESTClient) post(ctx context.Context, service, url string, body, result any) error {
	r := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(result).
		ForceContentType("application/json")

	var apiErr apiError
	r.SetError(&apiErr)

	switch {
	case c.tokens != nil:
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("obtain access token: %w", err)
		}
		r.SetAuthToken(token)
	case c.apiKey != "":
		r.SetQueryParam("key", c.apiKey)
	default:
		return errNoCredentials
	}

	start := time.Now()
	resp, err := r.Post(url)
	if err == nil && resp.IsError() {
		err = fmt.Errorf("%s failed with status %d: %s", service, resp.StatusCode(), firstNonEmpty(apiErr.Error.Message, resp.Status()))
	}
	metrics.ObserveRemoteCall(service, start, err)
	if err != nil {
		return fmt.Errorf("%s request: %w", service, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
