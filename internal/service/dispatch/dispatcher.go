// Package dispatch decides how a user turn is answered: a canned
// introduction for greetings, otherwise one call to the language model.
package dispatch

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/carbeez/backend/internal/logging"
	"github.com/carbeez/backend/internal/metrics"
	"github.com/carbeez/backend/internal/model/chat"
	"github.com/carbeez/backend/internal/model/consultant"
	"github.com/carbeez/backend/internal/model/outcome"
)

// ErrEmptyInput rejects blank turns before anything else runs.
var ErrEmptyInput = errors.New("message text is required")

// Apology is shown in place of a model answer when the remote call fails.
const Apology = "I'm sorry, I couldn't process your request right now. Please try again in a moment."

// Route names how a reply was produced.
type Route string

const (
	RouteSmallTalk Route = "small_talk"
	RouteModel     Route = "model"
)

const component = "dispatcher"

// Classifier tells greetings and help requests apart from domain questions.
type Classifier interface {
	IsSmallTalk(text string) bool
}

// Responder answers a domain question with one remote model call.
type Responder interface {
	Respond(ctx context.Context, consultantID string, history []chat.Message, query string) (string, error)
}

// Request is one classified user turn.
type Request struct {
	Consultant consultant.Consultant
	History    []chat.Message
	Text       string
}

// Reply is the bot text and, when the model failed, why it was replaced.
type Reply struct {
	Text     string
	Route    Route
	Degraded *outcome.Degradation
}

// Dispatcher routes turns between the canned greeting and the model.
type Dispatcher struct {
	classifier Classifier
	responder  Responder
	logger     zerolog.Logger
}

// New creates a Dispatcher.
func New(classifier Classifier, responder Responder) *Dispatcher {
	return &Dispatcher{
		classifier: classifier,
		responder:  responder,
		logger:     logging.Component(component),
	}
}

// Dispatch answers req. The only error is ErrEmptyInput; remote failures are
// folded into the reply as the apology text.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Reply, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Reply{}, ErrEmptyInput
	}

	if d.classifier.IsSmallTalk(text) {
		metrics.DispatchTotal.WithLabelValues(string(RouteSmallTalk)).Inc()
		return Reply{Text: Introduction(req.Consultant), Route: RouteSmallTalk}, nil
	}

	metrics.DispatchTotal.WithLabelValues(string(RouteModel)).Inc()
	answer, err := d.responder.Respond(ctx, req.Consultant.ID, req.History, text)
	if err != nil {
		degraded := outcome.Degrade(component, outcome.ReasonRemoteError, err)
		metrics.RecordDegradation(degraded)
		logging.Ctx(ctx).Warn().Err(err).Str("consultant", req.Consultant.ID).Msg("model call failed, serving apology")
		return Reply{Text: Apology, Route: RouteModel, Degraded: degraded}, nil
	}

	return Reply{Text: answer, Route: RouteModel}, nil
}

// Introduction returns the consultant's greeting.
func Introduction(c consultant.Consultant) string {
	if strings.TrimSpace(c.Greeting) != "" {
		return c.Greeting
	}
	return "Hello! I'm Carbeez, your greenhouse-gas accounting assistant. How can I help you today?"
}
