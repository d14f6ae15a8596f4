package assistant

import (
	"context"

	"github.com/carbeez/backend/internal/model/chat"
	"github.com/carbeez/backend/internal/model/outcome"
	"github.com/carbeez/backend/internal/service/speech"
)

// EventType names a step of a turn as seen by the client.
type EventType string

const (
	EventThinking    EventType = "thinking"
	EventTranscribed EventType = "transcribed"
	EventReply       EventType = "reply"
	EventAudio       EventType = "audio"
	EventDegraded    EventType = "degraded"
	EventDone        EventType = "done"
	EventError       EventType = "error"
)

// Event is one progress notification. Every turn ends with exactly one
// done or error event.
type Event struct {
	Type        EventType                `json:"type"`
	SessionID   string                   `json:"sessionId"`
	Message     *chat.Message            `json:"message,omitempty"`
	Transcript  *speech.TranscriptResult `json:"transcript,omitempty"`
	Degradation *outcome.Degradation     `json:"degradation,omitempty"`
	Turn        *Turn                    `json:"turn,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

// Terminal reports whether no further events follow.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Stream runs a turn in the background and delivers its events on the
// returned channel. The channel is closed once the turn ends. Cancelling ctx
// stops delivery and aborts pending remote calls.
func (a *Assistant) Stream(ctx context.Context, req TurnRequest) <-chan Event {
	events := make(chan Event, 8)

	go func() {
		defer close(events)
		_, _ = a.HandleTurn(ctx, req, func(ev Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
	}()

	return events
}
