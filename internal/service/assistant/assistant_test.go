package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbeez/backend/internal/analysis/intent"
	"github.com/carbeez/backend/internal/model/chat"
	"github.com/carbeez/backend/internal/model/consultant"
	"github.com/carbeez/backend/internal/model/outcome"
	chatservice "github.com/carbeez/backend/internal/service/chat"
	"github.com/carbeez/backend/internal/service/dispatch"
	"github.com/carbeez/backend/internal/service/speech"
)

type fakeResponder struct {
	answer string
	err    error
	calls  int
}

func (r *fakeResponder) Respond(context.Context, string, []chat.Message, string) (string, error) {
	r.calls++
	return r.answer, r.err
}

type fakeSpeech struct {
	transcript  speech.TranscriptResult
	synthesis   speech.SynthesisResult
	synthesized []speech.SynthesisRequest
}

func (f *fakeSpeech) Transcribe(context.Context, string, *chat.AudioInput) speech.TranscriptResult {
	return f.transcript
}

func (f *fakeSpeech) Synthesize(_ context.Context, req speech.SynthesisRequest) speech.SynthesisResult {
	f.synthesized = append(f.synthesized, req)
	return f.synthesis
}

type harness struct {
	assistant *Assistant
	chats     *chatservice.Service
	responder *fakeResponder
	speech    *fakeSpeech
	sessionID string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	chats := chatservice.NewService()
	responder := &fakeResponder{answer: "Scope 3 covers your value chain."}
	sp := &fakeSpeech{}
	consultants := consultant.NewMemoryStore(consultant.Seed())

	session, err := chats.CreateSession(context.Background(), consultant.Carbon, "ada@example.com", "Ada")
	require.NoError(t, err)

	return &harness{
		assistant: New(chats, dispatch.New(intent.MustDefault(), responder), sp, consultants),
		chats:     chats,
		responder: responder,
		speech:    sp,
		sessionID: session.ID,
	}
}

func collect(events *[]EventType) Emitter {
	return func(ev Event) { *events = append(*events, ev.Type) }
}

func TestGreetingTurnUsesIntroduction(t *testing.T) {
	h := newHarness(t)
	var events []EventType

	turn, err := h.assistant.HandleTurn(context.Background(), TurnRequest{
		SessionID: h.sessionID,
		Input:     chat.TextInput("Hi there"),
	}, collect(&events))
	require.NoError(t, err)

	assert.Equal(t, 0, h.responder.calls)
	assert.Equal(t, dispatch.RouteSmallTalk, turn.Route)
	assert.Contains(t, turn.Reply.Text, "Carbeez")
	assert.Equal(t, []EventType{EventThinking, EventReply, EventDone}, events)

	transcript, err := h.chats.LoadTranscript(context.Background(), h.sessionID)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, chat.SenderUser, transcript[0].Sender)
	assert.Equal(t, "Hi there", transcript[0].Text)
	assert.Equal(t, chat.SenderBot, transcript[1].Sender)
}

func TestAudioTurnWithSpokenReply(t *testing.T) {
	h := newHarness(t)
	h.speech.transcript = speech.TranscriptResult{Text: "What is scope 3?", Language: "en-US"}
	h.speech.synthesis = speech.SynthesisResult{Clip: &speech.Clip{URL: "/api/audio/tts/x.mp3", DurationMs: 2100}}
	var events []EventType

	turn, err := h.assistant.HandleTurn(context.Background(), TurnRequest{
		SessionID: h.sessionID,
		Input: chat.VoiceInput(chat.AudioInput{
			Key:        "recordings/s/a.wav",
			URL:        "/api/audio/recordings/s/a.wav",
			Format:     "wav",
			DurationMs: 1500,
		}),
		Speak: true,
	}, collect(&events))
	require.NoError(t, err)

	assert.Equal(t, []EventType{EventThinking, EventTranscribed, EventReply, EventAudio, EventDone}, events)
	assert.Equal(t, 1, h.responder.calls)
	assert.Empty(t, turn.Degradations)

	assert.Equal(t, chat.TypeAudio, turn.UserMessage.Type)
	assert.Equal(t, "What is scope 3?", turn.UserMessage.Text)
	assert.Equal(t, "/api/audio/recordings/s/a.wav", turn.UserMessage.URI)
	assert.EqualValues(t, 1500, turn.UserMessage.Duration)

	require.NotNil(t, turn.ReplyAudio)
	assert.Equal(t, chat.SenderBot, turn.ReplyAudio.Sender)
	assert.Equal(t, chat.TypeAudio, turn.ReplyAudio.Type)
	assert.Equal(t, turn.Reply.Text, turn.ReplyAudio.Text)

	require.Len(t, h.speech.synthesized, 1)
	assert.Equal(t, "en-US-Neural2-F", h.speech.synthesized[0].Voice)

	transcript, err := h.chats.LoadTranscript(context.Background(), h.sessionID)
	require.NoError(t, err)
	assert.Len(t, transcript, 3)
}

func TestDegradedSpeechStillAnswers(t *testing.T) {
	h := newHarness(t)
	h.speech.transcript = speech.TranscriptResult{
		Text:     "Hello, can you help me?",
		Degraded: &outcome.Degradation{Component: "transcriber", Reason: outcome.ReasonMissingCredentials},
	}
	h.speech.synthesis = speech.SynthesisResult{
		Degraded: &outcome.Degradation{Component: "synthesizer", Reason: outcome.ReasonInputTooLong},
	}
	var events []EventType

	turn, err := h.assistant.HandleTurn(context.Background(), TurnRequest{
		SessionID: h.sessionID,
		Input:     chat.VoiceInput(chat.AudioInput{Key: "recordings/s/a.m4a", Format: "m4a"}),
		Speak:     true,
	}, collect(&events))
	require.NoError(t, err)

	assert.Equal(t, 0, h.responder.calls, "fallback transcript is answered with the introduction")
	assert.Nil(t, turn.ReplyAudio)
	require.Len(t, turn.Degradations, 2)
	assert.Equal(t, outcome.ReasonMissingCredentials, turn.Degradations[0].Reason)
	assert.Equal(t, outcome.ReasonInputTooLong, turn.Degradations[1].Reason)
	assert.Equal(t, []EventType{EventThinking, EventTranscribed, EventDegraded, EventReply, EventDegraded, EventDone}, events)
}

func TestModelFailureServesApology(t *testing.T) {
	h := newHarness(t)
	h.responder.err = errors.New("upstream 503")

	turn, err := h.assistant.HandleTurn(context.Background(), TurnRequest{
		SessionID: h.sessionID,
		Input:     chat.TextInput("How do I compute scope 2 emissions?"),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, dispatch.Apology, turn.Reply.Text)
	require.Len(t, turn.Degradations, 1)
	assert.Equal(t, outcome.ReasonRemoteError, turn.Degradations[0].Reason)
	assert.NotContains(t, turn.Reply.Text, "503")
}

func TestRejectedTurnsLeaveTranscriptUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var events []EventType
	_, err := h.assistant.HandleTurn(ctx, TurnRequest{SessionID: h.sessionID, Input: chat.TextInput("   ")}, collect(&events))
	require.ErrorIs(t, err, dispatch.ErrEmptyInput)
	assert.Equal(t, []EventType{EventError}, events)

	_, err = h.assistant.HandleTurn(ctx, TurnRequest{SessionID: h.sessionID, Input: chat.Input{Kind: "video"}}, nil)
	require.ErrorIs(t, err, ErrUnknownInput)

	_, err = h.assistant.HandleTurn(ctx, TurnRequest{SessionID: "missing", Input: chat.TextInput("hello")}, nil)
	require.ErrorIs(t, err, chatservice.ErrSessionNotFound)

	transcript, err := h.chats.LoadTranscript(ctx, h.sessionID)
	require.NoError(t, err)
	assert.Empty(t, transcript)
	assert.Equal(t, 0, h.responder.calls)
}

func TestHistoryExcludesCurrentTurn(t *testing.T) {
	h := newHarness(t)
	recorder := &historyRecorder{}
	h.assistant.dispatcher = recorder

	_, err := h.assistant.HandleTurn(context.Background(), TurnRequest{SessionID: h.sessionID, Input: chat.TextInput("first question")}, nil)
	require.NoError(t, err)
	_, err = h.assistant.HandleTurn(context.Background(), TurnRequest{SessionID: h.sessionID, Input: chat.TextInput("second question")}, nil)
	require.NoError(t, err)

	require.Len(t, recorder.histories, 2)
	assert.Empty(t, recorder.histories[0])
	require.Len(t, recorder.histories[1], 2)
	assert.Equal(t, "first question", recorder.histories[1][0].Text)
}

type historyRecorder struct {
	histories [][]chat.Message
}

func (r *historyRecorder) Dispatch(_ context.Context, req dispatch.Request) (dispatch.Reply, error) {
	r.histories = append(r.histories, req.History)
	return dispatch.Reply{Text: "ok", Route: dispatch.RouteModel}, nil
}

func TestStreamClosesAfterDone(t *testing.T) {
	h := newHarness(t)

	var got []Event
	for ev := range h.assistant.Stream(context.Background(), TurnRequest{
		SessionID: h.sessionID,
		Input:     chat.TextInput("What is a carbon offset?"),
	}) {
		got = append(got, ev)
	}

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.True(t, last.Terminal())
	assert.Equal(t, EventDone, last.Type)
	require.NotNil(t, last.Turn)
	assert.Equal(t, "Scope 3 covers your value chain.", last.Turn.Reply.Text)
}

func TestStreamStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := h.assistant.Stream(ctx, TurnRequest{SessionID: h.sessionID, Input: chat.TextInput("hello")})
	for range events {
	}
	// 通道已关闭即说明订阅被拆除。
}

func TestSessionLocksAreReleased(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.assistant.HandleTurn(ctx, TurnRequest{SessionID: h.sessionID, Input: chat.TextInput("What is scope 3?")}, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, h.assistant.locks.Len())

	require.NoError(t, h.chats.DeleteSession(ctx, h.sessionID))
	_, err := h.assistant.HandleTurn(ctx, TurnRequest{SessionID: h.sessionID, Input: chat.TextInput("hello")}, nil)
	require.ErrorIs(t, err, chatservice.ErrSessionNotFound)
	assert.Equal(t, 0, h.assistant.locks.Len())
}
