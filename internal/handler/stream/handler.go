package stream

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carbeez/backend/internal/logging"
	"github.com/carbeez/backend/internal/middleware"
	"github.com/carbeez/backend/internal/model/chat"
	"github.com/carbeez/backend/internal/service/assistant"
	chatService "github.com/carbeez/backend/internal/service/chat"
	"github.com/carbeez/backend/pkg/utils"
)

// DefaultHeartbeat 等待远程调用期间的心跳间隔。
const DefaultHeartbeat = 15 * time.Second

// Streamer 以事件流的形式运行一轮对话。
type Streamer interface {
	Stream(ctx context.Context, req assistant.TurnRequest) <-chan assistant.Event
}

// Handler manages streaming assistant turns via Server-Sent Events
type Handler struct {
	streamer  Streamer
	chatSvc   *chatService.Service
	heartbeat time.Duration
}

// New creates a new stream handler
func New(streamer Streamer, chatSvc *chatService.Service) *Handler {
	return &Handler{
		streamer:  streamer,
		chatSvc:   chatSvc,
		heartbeat: DefaultHeartbeat,
	}
}

// RegisterRoutes 注册SSE路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

type heartbeat struct {
	SessionID string `json:"sessionId"`
	Time      string `json:"time"`
}

// handleStream runs one text turn and forwards every event to the client.
// The turn is torn down when the client disconnects.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := h.chatSvc.GetOwnedSession(ctx, chi.URLParam(r, "sessionID"), middleware.GetEmail(ctx))
	if err != nil {
		if errors.Is(err, chatService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	message := r.URL.Query().Get("message")
	if strings.TrimSpace(message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}
	speak, _ := strconv.ParseBool(r.URL.Query().Get("speak"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := logging.Ctx(ctx).With().Str(logging.FieldSession, session.ID).Logger()
	logger.Debug().Msg("opening turn stream")

	events := h.streamer.Stream(ctx, assistant.TurnRequest{
		SessionID: session.ID,
		Input:     chat.TextInput(message),
		Speak:     speak,
		Voice:     r.URL.Query().Get("voice"),
	})

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("client disconnected, closing turn stream")
			return
		case t := <-ticker.C:
			if err := utils.SendSSEEvent(w, flusher, "heartbeat", heartbeat{SessionID: session.ID, Time: t.UTC().Format(time.RFC3339)}); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				logger.Warn().Err(err).Msg("failed to write sse event")
				return
			}
			if ev.Terminal() {
				return
			}
		}
	}
}
