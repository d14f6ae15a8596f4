package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbeez/backend/internal/analysis/intent"
	"github.com/carbeez/backend/internal/config"
	"github.com/carbeez/backend/internal/model/chat"
	"github.com/carbeez/backend/internal/model/consultant"
	speechmodel "github.com/carbeez/backend/internal/model/speech"
	"github.com/carbeez/backend/internal/service/assistant"
	authService "github.com/carbeez/backend/internal/service/auth"
	chatService "github.com/carbeez/backend/internal/service/chat"
	"github.com/carbeez/backend/internal/service/dispatch"
	libraryService "github.com/carbeez/backend/internal/service/library"
	speechService "github.com/carbeez/backend/internal/service/speech"
	"github.com/carbeez/backend/internal/storage"
	"github.com/carbeez/backend/internal/store/kv"
)

type cannedResponder struct{}

func (cannedResponder) Respond(context.Context, string, []chat.Message, string) (string, error) {
	return "Offsets fund reductions elsewhere.", nil
}

type inboxMailer struct{ codes map[string]string }

func (m *inboxMailer) SendOTP(_ context.Context, email, code string) error {
	m.codes[email] = code
	return nil
}

type routerFixture struct {
	handler http.Handler
	audio   storage.Storage
	auth    *authService.Service
	mailer  *inboxMailer
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	audio, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir(), PublicURL: "/api/audio"})
	require.NoError(t, err)

	store := kv.NewMemoryStore()
	library := libraryService.NewService(store, nil)
	consultants := consultant.NewMemoryStore(consultant.Seed())
	chats := chatService.NewService()
	speechSvc := speechService.NewService(&speechmodel.SpeechConfig{}, nil, audio)

	tokens, err := authService.NewTokenIssuer("router-test-secret", time.Hour)
	require.NoError(t, err)
	mailer := &inboxMailer{codes: map[string]string{}}
	auth := authService.NewService(library, store, mailer, tokens, config.AuthConfig{OTPTTL: time.Minute, OTPLength: 6})

	router := NewRouter(Dependencies{
		Logger:         zerolog.Nop(),
		AllowedOrigins: []string{"*"},
		Consultants:    consultants,
		Chat:           chats,
		Assistant:      assistant.New(chats, dispatch.New(intent.MustDefault(), cannedResponder{}), speechSvc, consultants),
		Speech:         speechSvc,
		Library:        library,
		Auth:           auth,
		Audio:          audio,
	})

	return &routerFixture{handler: router, audio: audio, auth: auth, mailer: mailer}
}

func (f *routerFixture) login(t *testing.T, email string) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.auth.RequestOTP(ctx, email))
	session, err := f.auth.VerifyOTP(ctx, email, f.mailer.codes[email])
	require.NoError(t, err)
	return session.Token
}

func (f *routerFixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	return resp
}

func TestHealthAndMetrics(t *testing.T) {
	f := newRouterFixture(t)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "", "").Code)

	resp := f.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "go_goroutines")
}

func TestConsultantsArePublic(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.do(http.MethodGet, "/api/consultants", "", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var list []consultant.Consultant
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 2)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newRouterFixture(t)

	for _, path := range []string{"/api/profile", "/api/saved/messages", "/api/conversations"} {
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, path, "", "").Code, path)
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, path, "not-a-token", "").Code, path)
	}
	assert.Equal(t, http.StatusUnauthorized,
		f.do(http.MethodPost, "/api/sessions", "", `{"consultantType":"carbon"}`).Code)
}

func TestAuthenticatedConversation(t *testing.T) {
	f := newRouterFixture(t)
	token := f.login(t, "ada@example.com")

	resp := f.do(http.MethodPost, "/api/sessions", token, `{"consultantType":"carbon","userName":"Ada"}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var session chat.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))

	resp = f.do(http.MethodPost, "/api/sessions/"+session.ID+"/messages", token, `{"text":"What is a carbon offset?"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var turn assistant.Turn
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&turn))
	assert.Equal(t, "Offsets fund reductions elsewhere.", turn.Reply.Text)

	// 其他用户看不到这个会话
	other := f.login(t, "eve@example.com")
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/sessions/"+session.ID+"/messages", other, "").Code)

	resp = f.do(http.MethodGet, "/api/profile", token, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "ada@example.com")
}

func TestServeAudio(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	payload := []byte("ID3-fake-mp3")
	require.NoError(t, f.audio.Write(ctx, "tts/s1/clip.mp3", bytes.NewReader(payload), int64(len(payload)), "audio/mpeg"))

	resp := f.do(http.MethodGet, "/api/audio/tts/s1/clip.mp3", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "audio/mpeg", resp.Header().Get("Content-Type"))
	assert.Equal(t, payload, resp.Body.Bytes())

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/audio/tts/s1/missing.mp3", "", "").Code)
}
