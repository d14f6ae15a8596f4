package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbeez/backend/internal/model/chat"
	"github.com/carbeez/backend/internal/model/outcome"
	speechmodel "github.com/carbeez/backend/internal/model/speech"
	"github.com/carbeez/backend/internal/storage"
)

const fallback = "Hello, can you help me with carbon accounting?"

type fakeSpeechAPI struct {
	server          *httptest.Server
	recognizeCalls  atomic.Int32
	synthesizeCalls atomic.Int32
	status          int
	transcript      string
	lastRecognize   recognizeRequest
	lastSynthesize  synthesizeRequest
}

func newFakeSpeechAPI(t *testing.T) *fakeSpeechAPI {
	t.Helper()
	api := &fakeSpeechAPI{status: http.StatusOK, transcript: "What is scope 2?"}
	mux := http.NewServeMux()
	mux.HandleFunc("/recognize", func(w http.ResponseWriter, r *http.Request) {
		api.recognizeCalls.Add(1)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		_ = json.NewDecoder(r.Body).Decode(&api.lastRecognize)
		if api.status != http.StatusOK {
			w.WriteHeader(api.status)
			_, _ = w.Write([]byte(`{"error":{"code":500,"message":"backend unavailable","status":"UNAVAILABLE"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{
				"alternatives": []map[string]any{{"transcript": api.transcript, "confidence": 0.92}},
				"languageCode": "en-us",
			}},
		})
	})
	mux.HandleFunc("/synthesize", func(w http.ResponseWriter, r *http.Request) {
		api.synthesizeCalls.Add(1)
		_ = json.NewDecoder(r.Body).Decode(&api.lastSynthesize)
		if api.status != http.StatusOK {
			w.WriteHeader(api.status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"audioContent": base64.StdEncoding.EncodeToString([]byte("ID3-fake-mp3")),
		})
	})
	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	return api
}

func newTestService(t *testing.T, api *fakeSpeechAPI, withKey bool) (*Service, *storage.LocalStorage) {
	t.Helper()
	cfg := &speechmodel.SpeechConfig{
		ASREncoding:        "LINEAR16",
		ASRSampleRate:      16000,
		ASRLanguage:        "en-US",
		ASRAltLanguages:    []string{"en-US", "fr-FR", "ar-SA"},
		FallbackTranscript: fallback,
		TTSLanguage:        "en-US",
		TTSSpeakingRate:    1,
		TTSMaxChars:        5000,
		Timeout:            5 * time.Second,
	}
	if api != nil {
		cfg.RecognizeURL = api.server.URL + "/recognize"
		cfg.SynthesizeURL = api.server.URL + "/synthesize"
	}
	if withKey {
		cfg.APIKey = "test-key"
	}

	client, err := NewRESTClient(cfg)
	require.NoError(t, err)

	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir(), PublicURL: "/api/audio"})
	require.NoError(t, err)

	return NewService(cfg, client, store), store
}

func storeClip(t *testing.T, svc *Service) *chat.AudioInput {
	t.Helper()
	audio, url, err := svc.StoreRecording(context.Background(), "s1", []byte("RIFF....WAVE"), "wav", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/api/audio/recordings/s1/"))
	return audio
}

func TestTranscribeSuccess(t *testing.T) {
	api := newFakeSpeechAPI(t)
	svc, _ := newTestService(t, api, true)

	result := svc.Transcribe(context.Background(), "s1", storeClip(t, svc))

	assert.Nil(t, result.Degraded)
	assert.Equal(t, "What is scope 2?", result.Text)
	assert.InDelta(t, 0.92, result.Confidence, 0.001)

	assert.Equal(t, "LINEAR16", api.lastRecognize.Config.Encoding)
	assert.Equal(t, 16000, api.lastRecognize.Config.SampleRateHertz)
	assert.Equal(t, []string{"fr-FR", "ar-SA"}, api.lastRecognize.Config.AlternativeLanguageCodes)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("RIFF....WAVE")), api.lastRecognize.Audio.Content)
}

func TestTranscribeFallbacks(t *testing.T) {
	t.Run("remote failure", func(t *testing.T) {
		api := newFakeSpeechAPI(t)
		api.status = http.StatusInternalServerError
		svc, _ := newTestService(t, api, true)

		result := svc.Transcribe(context.Background(), "s1", storeClip(t, svc))
		assert.Equal(t, fallback, result.Text)
		require.NotNil(t, result.Degraded)
		assert.Equal(t, outcome.ReasonRemoteError, result.Degraded.Reason)
	})

	t.Run("empty transcript", func(t *testing.T) {
		api := newFakeSpeechAPI(t)
		api.transcript = "  "
		svc, _ := newTestService(t, api, true)

		result := svc.Transcribe(context.Background(), "s1", storeClip(t, svc))
		assert.Equal(t, fallback, result.Text)
		assert.Equal(t, outcome.ReasonEmptyResult, result.Degraded.Reason)
	})

	t.Run("missing credentials", func(t *testing.T) {
		api := newFakeSpeechAPI(t)
		svc, _ := newTestService(t, api, false)

		result := svc.Transcribe(context.Background(), "s1", storeClip(t, svc))
		assert.Equal(t, fallback, result.Text)
		assert.Equal(t, outcome.ReasonMissingCredentials, result.Degraded.Reason)
		assert.EqualValues(t, 0, api.recognizeCalls.Load())
	})

	t.Run("unreadable file", func(t *testing.T) {
		api := newFakeSpeechAPI(t)
		svc, _ := newTestService(t, api, true)

		result := svc.Transcribe(context.Background(), "s1", &chat.AudioInput{Key: "recordings/missing.wav"})
		assert.Equal(t, fallback, result.Text)
		assert.Equal(t, outcome.ReasonStorageError, result.Degraded.Reason)
		assert.EqualValues(t, 0, api.recognizeCalls.Load())
	})
}

func TestSynthesizeWritesClip(t *testing.T) {
	api := newFakeSpeechAPI(t)
	svc, store := newTestService(t, api, true)

	result := svc.Synthesize(context.Background(), SynthesisRequest{
		SessionID: "s1",
		Text:      "## Scope 2\n\n**Purchased electricity** counts as indirect emissions. 🌱",
	})

	require.Nil(t, result.Degraded)
	require.NotNil(t, result.Clip)
	assert.True(t, strings.HasPrefix(result.Clip.Key, "tts/s1/"))
	assert.True(t, strings.HasSuffix(result.Clip.Key, ".mp3"))
	assert.Equal(t, "/api/audio/"+result.Clip.Key, result.Clip.URL)
	assert.Equal(t, "en-US", result.Clip.Language)
	assert.Positive(t, result.Clip.DurationMs)

	assert.Equal(t, "Scope 2\nPurchased electricity counts as indirect emissions.", api.lastSynthesize.Input.Text)
	assert.Equal(t, "MP3", api.lastSynthesize.AudioConfig.AudioEncoding)

	data, err := storage.ReadAll(context.Background(), store, result.Clip.Key)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("ID3-fake-mp3"), data))
}

func TestSynthesizeRejectsLongTextWithoutRemoteCall(t *testing.T) {
	api := newFakeSpeechAPI(t)
	svc, _ := newTestService(t, api, true)

	result := svc.Synthesize(context.Background(), SynthesisRequest{
		SessionID: "s1",
		Text:      strings.Repeat("a", 5001),
	})

	assert.Nil(t, result.Clip)
	require.NotNil(t, result.Degraded)
	assert.Equal(t, outcome.ReasonInputTooLong, result.Degraded.Reason)
	assert.EqualValues(t, 0, api.synthesizeCalls.Load())
}

func TestSynthesizeLimitCountsRawInput(t *testing.T) {
	api := newFakeSpeechAPI(t)
	svc, _ := newTestService(t, api, true)

	// 6000 个原始字符，清洗掉 markdown 后不足 2000。
	text := strings.Repeat("**a** ", 1000)
	require.Less(t, len([]rune(CleanText(text))), 5000)

	result := svc.Synthesize(context.Background(), SynthesisRequest{SessionID: "s1", Text: text})
	assert.Nil(t, result.Clip)
	require.NotNil(t, result.Degraded)
	assert.Equal(t, outcome.ReasonInputTooLong, result.Degraded.Reason)
	assert.EqualValues(t, 0, api.synthesizeCalls.Load())
}

func TestSynthesizeLimitCannotBeRaised(t *testing.T) {
	api := newFakeSpeechAPI(t)
	svc, _ := newTestService(t, api, true)
	svc.config.TTSMaxChars = 9000

	result := svc.Synthesize(context.Background(), SynthesisRequest{SessionID: "s1", Text: strings.Repeat("a", 5001)})
	assert.Nil(t, result.Clip)
	assert.EqualValues(t, 0, api.synthesizeCalls.Load())
}

func TestSynthesizeAtLimitIsAccepted(t *testing.T) {
	api := newFakeSpeechAPI(t)
	svc, _ := newTestService(t, api, true)

	result := svc.Synthesize(context.Background(), SynthesisRequest{SessionID: "s1", Text: strings.Repeat("a", 5000)})
	require.NotNil(t, result.Clip)
	assert.EqualValues(t, 1, api.synthesizeCalls.Load())
}

func TestSynthesizeRemoteFailureReturnsNilClip(t *testing.T) {
	api := newFakeSpeechAPI(t)
	api.status = http.StatusBadGateway
	svc, _ := newTestService(t, api, true)

	result := svc.Synthesize(context.Background(), SynthesisRequest{SessionID: "s1", Text: "Scope 1 covers direct emissions."})
	assert.Nil(t, result.Clip)
	require.NotNil(t, result.Degraded)
	assert.Equal(t, outcome.ReasonRemoteError, result.Degraded.Reason)
}

func TestEncodingFor(t *testing.T) {
	assert.Equal(t, "LINEAR16", encodingFor("WAV", "MP3"))
	assert.Equal(t, "OGG_OPUS", encodingFor("opus", "LINEAR16"))
	assert.Equal(t, "LINEAR16", encodingFor("m4a", "LINEAR16"))
}
