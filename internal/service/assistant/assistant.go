// Package assistant runs one user turn end to end: capture the input,
// transcribe recorded audio, dispatch to the canned greeting or the model,
// record the reply and optionally speak it.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/carbeez/backend/internal/logging"
	"github.com/carbeez/backend/internal/model/chat"
	"github.com/carbeez/backend/internal/model/consultant"
	"github.com/carbeez/backend/internal/model/outcome"
	"github.com/carbeez/backend/internal/service/dispatch"
	"github.com/carbeez/backend/internal/service/speech"
	"github.com/carbeez/backend/pkg/utils"
)

// ErrUnknownInput is returned for an Input whose Kind is neither text nor audio.
var ErrUnknownInput = errors.New("unsupported input kind")

// Conversations is the live session store.
type Conversations interface {
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error)
	AppendMessage(ctx context.Context, sessionID string, message chat.Message) (chat.Message, error)
}

// Dispatcher produces the bot reply text.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Reply, error)
}

// Speech transcribes recordings and synthesizes replies. Both degrade
// instead of failing.
type Speech interface {
	Transcribe(ctx context.Context, sessionID string, audio *chat.AudioInput) speech.TranscriptResult
	Synthesize(ctx context.Context, req speech.SynthesisRequest) speech.SynthesisResult
}

// TurnRequest is one user submission.
type TurnRequest struct {
	SessionID string
	Input     chat.Input
	Speak     bool
	Voice     string
}

// Turn is everything a finished turn produced.
type Turn struct {
	SessionID    string                `json:"sessionId"`
	UserMessage  chat.Message          `json:"userMessage"`
	Reply        chat.Message          `json:"reply"`
	ReplyAudio   *chat.Message         `json:"replyAudio,omitempty"`
	Route        dispatch.Route        `json:"route"`
	Degradations []outcome.Degradation `json:"degradations,omitempty"`
}

// Emitter receives progress events. It may be nil.
type Emitter func(Event)

// Assistant wires the turn pipeline together.
type Assistant struct {
	conversations Conversations
	dispatcher    Dispatcher
	speech        Speech
	consultants   consultant.Store
	locks         utils.KeyedMutex // per session
	logger        zerolog.Logger
}

// New creates an Assistant. speech may be nil, in which case audio input is
// rejected and replies are never spoken.
func New(conversations Conversations, dispatcher Dispatcher, speechSvc Speech, consultants consultant.Store) *Assistant {
	return &Assistant{
		conversations: conversations,
		dispatcher:    dispatcher,
		speech:        speechSvc,
		consultants:   consultants,
		logger:        logging.Component("assistant"),
	}
}

// HandleTurn runs one turn and reports progress through emit. Turns of the
// same session are serialised so message order matches submission order.
func (a *Assistant) HandleTurn(ctx context.Context, req TurnRequest, emit Emitter) (Turn, error) {
	if emit == nil {
		emit = func(Event) {}
	}

	turn, err := a.handleTurn(ctx, req, emit)
	if err != nil {
		emit(Event{Type: EventError, SessionID: req.SessionID, Error: err.Error()})
		return Turn{}, err
	}

	emit(Event{Type: EventDone, SessionID: req.SessionID, Turn: &turn})
	return turn, nil
}

func (a *Assistant) handleTurn(ctx context.Context, req TurnRequest, emit Emitter) (Turn, error) {
	session, err := a.conversations.GetSession(ctx, req.SessionID)
	if err != nil {
		return Turn{}, err
	}

	switch req.Input.Kind {
	case chat.InputText, chat.InputAudio:
	default:
		return Turn{}, fmt.Errorf("%w: %q", ErrUnknownInput, req.Input.Kind)
	}
	if req.Input.IsEmpty() {
		return Turn{}, dispatch.ErrEmptyInput
	}
	if req.Input.Kind == chat.InputAudio && a.speech == nil {
		return Turn{}, fmt.Errorf("%w: speech is not configured", ErrUnknownInput)
	}

	unlock := a.lock(session.ID)
	defer unlock()

	start := time.Now()
	c := a.consultantFor(session)
	turn := Turn{SessionID: session.ID}
	degrade := func(d *outcome.Degradation) {
		if d == nil {
			return
		}
		turn.Degradations = append(turn.Degradations, *d)
		emit(Event{Type: EventDegraded, SessionID: session.ID, Degradation: d})
	}

	emit(Event{Type: EventThinking, SessionID: session.ID})

	history, err := a.conversations.LoadTranscript(ctx, session.ID)
	if err != nil {
		return Turn{}, err
	}

	userMessage, err := a.captureInput(ctx, session.ID, req.Input, emit, degrade)
	if err != nil {
		return Turn{}, err
	}
	turn.UserMessage = userMessage

	reply, err := a.dispatcher.Dispatch(ctx, dispatch.Request{
		Consultant: c,
		History:    history,
		Text:       userMessage.Text,
	})
	if err != nil {
		return Turn{}, err
	}
	turn.Route = reply.Route
	degrade(reply.Degraded)

	botMessage, err := a.conversations.AppendMessage(ctx, session.ID, chat.Message{
		Text:   reply.Text,
		Sender: chat.SenderBot,
		Type:   chat.TypeText,
	})
	if err != nil {
		return Turn{}, fmt.Errorf("store reply: %w", err)
	}
	turn.Reply = botMessage
	emit(Event{Type: EventReply, SessionID: session.ID, Message: &botMessage})

	if req.Speak && a.speech != nil {
		audioMessage, err := a.speak(ctx, session.ID, c, req.Voice, botMessage.Text, degrade)
		if err != nil {
			return Turn{}, err
		}
		if audioMessage != nil {
			turn.ReplyAudio = audioMessage
			emit(Event{Type: EventAudio, SessionID: session.ID, Message: audioMessage})
		}
	}

	a.logger.Info().
		Str(logging.FieldSession, session.ID).
		Str("consultant", c.ID).
		Str("input", string(req.Input.Kind)).
		Str("route", string(turn.Route)).
		Int("degradations", len(turn.Degradations)).
		Dur("latency", time.Since(start)).
		Msg("turn completed")

	return turn, nil
}

// captureInput turns the submission into the stored user message. Recorded
// audio is kept as an audio message whose text is the transcript.
func (a *Assistant) captureInput(ctx context.Context, sessionID string, in chat.Input, emit Emitter, degrade func(*outcome.Degradation)) (chat.Message, error) {
	if in.Kind == chat.InputText {
		stored, err := a.conversations.AppendMessage(ctx, sessionID, chat.Message{
			Text:   strings.TrimSpace(in.Text),
			Sender: chat.SenderUser,
			Type:   chat.TypeText,
		})
		if err != nil {
			return chat.Message{}, fmt.Errorf("store user message: %w", err)
		}
		return stored, nil
	}

	transcript := a.speech.Transcribe(ctx, sessionID, in.Audio)
	stored, err := a.conversations.AppendMessage(ctx, sessionID, chat.Message{
		Text:     transcript.Text,
		Sender:   chat.SenderUser,
		Type:     chat.TypeAudio,
		URI:      in.Audio.URL,
		Duration: in.Audio.DurationMs,
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("store user message: %w", err)
	}

	emit(Event{Type: EventTranscribed, SessionID: sessionID, Message: &stored, Transcript: &transcript})
	degrade(transcript.Degraded)
	return stored, nil
}

func (a *Assistant) speak(ctx context.Context, sessionID string, c consultant.Consultant, voice, text string, degrade func(*outcome.Degradation)) (*chat.Message, error) {
	if voice == "" {
		voice = c.VoiceID
	}

	result := a.speech.Synthesize(ctx, speech.SynthesisRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     voice,
	})
	if result.Clip == nil {
		degrade(result.Degraded)
		return nil, nil
	}

	message, err := a.conversations.AppendMessage(ctx, sessionID, chat.Message{
		Text:     text,
		Sender:   chat.SenderBot,
		Type:     chat.TypeAudio,
		URI:      result.Clip.URL,
		Duration: result.Clip.DurationMs,
	})
	if err != nil {
		return nil, fmt.Errorf("store reply audio: %w", err)
	}
	return &message, nil
}

func (a *Assistant) consultantFor(session chat.Session) consultant.Consultant {
	if a.consultants != nil {
		if c, ok := a.consultants.FindByID(session.ConsultantType); ok {
			return c
		}
	}
	return consultant.Consultant{ID: session.ConsultantType}
}

func (a *Assistant) lock(sessionID string) func() {
	return a.locks.Lock(sessionID)
}
