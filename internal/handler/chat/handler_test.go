package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/carbeez/backend/internal/analysis/intent"
	"github.com/carbeez/backend/internal/middleware"
	"github.com/carbeez/backend/internal/model/chat"
	"github.com/carbeez/backend/internal/model/consultant"
	"github.com/carbeez/backend/internal/service/assistant"
	chatservice "github.com/carbeez/backend/internal/service/chat"
	"github.com/carbeez/backend/internal/service/dispatch"
	"github.com/carbeez/backend/internal/service/speech"
)

type stubResponder struct{ calls int }

func (s *stubResponder) Respond(context.Context, string, []chat.Message, string) (string, error) {
	s.calls++
	return "Scope 1 covers direct emissions.", nil
}

type stubSpeech struct {
	stored []byte
}

func (s *stubSpeech) StoreRecording(_ context.Context, sessionID string, data []byte, format, language string) (*chat.AudioInput, string, error) {
	s.stored = data
	url := "/api/audio/recordings/" + sessionID + "/clip." + format
	return &chat.AudioInput{Key: "recordings/" + sessionID + "/clip." + format, URL: url, Format: format, Language: language}, url, nil
}

func (s *stubSpeech) Transcribe(context.Context, string, *chat.AudioInput) speech.TranscriptResult {
	return speech.TranscriptResult{Text: "What is scope 1?"}
}

func (s *stubSpeech) Synthesize(context.Context, speech.SynthesisRequest) speech.SynthesisResult {
	return speech.SynthesisResult{}
}

func asUser(email string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithEmail(r.Context(), email)))
		})
	}
}

func setupRouter(email string) (*chi.Mux, *chatservice.Service, *stubResponder, *stubSpeech) {
	chatSvc := chatservice.NewService()
	store := consultant.NewMemoryStore(consultant.Seed())
	responder := &stubResponder{}
	sp := &stubSpeech{}
	turns := assistant.New(chatSvc, dispatch.New(intent.MustDefault(), responder), sp, store)
	handler := New(chatSvc, store, turns, sp)

	r := chi.NewRouter()
	r.Use(asUser(email))
	handler.RegisterRoutes(r)
	return r, chatSvc, responder, sp
}

func createSession(t *testing.T, r http.Handler, consultantType string) chat.Session {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"consultantType": consultantType})
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var session chat.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return session
}

func TestCreateSessionValidConsultant(t *testing.T) {
	r, _, _, _ := setupRouter("ada@example.com")
	session := createSession(t, r, consultant.Carbon)

	if session.UserEmail != "ada@example.com" {
		t.Fatalf("expected session owned by ada, got %q", session.UserEmail)
	}
}

func TestCreateSessionInvalidConsultant(t *testing.T) {
	r, _, _, _ := setupRouter("ada@example.com")
	for _, body := range []string{`{"consultantType":"non-existent"}`, `{}`, ``} {
		req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, resp.Code)
		}
	}
}

func TestSendTextMessage(t *testing.T) {
	r, chatSvc, responder, _ := setupRouter("ada@example.com")
	session := createSession(t, r, consultant.Carbon)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+session.ID+"/messages", bytes.NewReader([]byte(`{"text":"What is scope 1?"}`)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var turn assistant.Turn
	if err := json.NewDecoder(resp.Body).Decode(&turn); err != nil {
		t.Fatalf("decode turn: %v", err)
	}
	if turn.Reply.Text != "Scope 1 covers direct emissions." || responder.calls != 1 {
		t.Fatalf("unexpected reply %q after %d calls", turn.Reply.Text, responder.calls)
	}

	transcript, _ := chatSvc.LoadTranscript(context.Background(), session.ID)
	if len(transcript) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(transcript))
	}
}

func TestSendEmptyMessageIsRejected(t *testing.T) {
	r, chatSvc, responder, _ := setupRouter("ada@example.com")
	session := createSession(t, r, consultant.Carbon)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+session.ID+"/messages", bytes.NewReader([]byte(`{"text":"   "}`)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if responder.calls != 0 {
		t.Fatalf("expected no model call, got %d", responder.calls)
	}
	transcript, _ := chatSvc.LoadTranscript(context.Background(), session.ID)
	if len(transcript) != 0 {
		t.Fatalf("expected empty transcript, got %d", len(transcript))
	}
}

func TestSendAudioMessage(t *testing.T) {
	r, _, _, sp := setupRouter("ada@example.com")
	session := createSession(t, r, consultant.Carbon)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("audio", "question.m4a")
	_, _ = part.Write([]byte("fake-audio"))
	_ = mw.WriteField("durationMs", "1800")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+session.ID+"/messages", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var turn assistant.Turn
	if err := json.NewDecoder(resp.Body).Decode(&turn); err != nil {
		t.Fatalf("decode turn: %v", err)
	}
	if string(sp.stored) != "fake-audio" {
		t.Fatalf("recording not stored")
	}
	if turn.UserMessage.Type != chat.TypeAudio || turn.UserMessage.Text != "What is scope 1?" {
		t.Fatalf("unexpected user message: %+v", turn.UserMessage)
	}
	if turn.UserMessage.Duration != 1800 {
		t.Fatalf("expected duration 1800, got %d", turn.UserMessage.Duration)
	}
}

func TestSessionsAreScopedToOwner(t *testing.T) {
	r, chatSvc, _, _ := setupRouter("eve@example.com")
	session, err := chatSvc.CreateSession(context.Background(), consultant.Carbon, "ada@example.com", "Ada")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/sessions/"+session.ID+"/messages", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestInferAudioFormat(t *testing.T) {
	cases := map[string]string{"a.MP3": "mp3", "b.m4a": "m4a", "c": "wav", "d.txt": "wav"}
	for name, want := range cases {
		if got := InferAudioFormat(name); got != want {
			t.Fatalf("InferAudioFormat(%q) = %q, want %q", name, got, want)
		}
	}
}
