package speech

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	chathandler "github.com/carbeez/backend/internal/handler/chat"
	"github.com/carbeez/backend/internal/middleware"
	"github.com/carbeez/backend/internal/model/chat"
	chatservice "github.com/carbeez/backend/internal/service/chat"
	speechsvc "github.com/carbeez/backend/internal/service/speech"
	"github.com/carbeez/backend/pkg/utils"
)

const defaultSessionSegment = "default"

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	StoreRecording(ctx context.Context, sessionID string, data []byte, format, language string) (*chat.AudioInput, string, error)
	Transcribe(ctx context.Context, sessionID string, audio *chat.AudioInput) speechsvc.TranscriptResult
	Synthesize(ctx context.Context, req speechsvc.SynthesisRequest) speechsvc.SynthesisResult
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc SpeechService
	chatSvc   *chatservice.Service
	ws        *WebSocketHandler
}

// New 创建语音处理器。ws 为空时不注册 WebSocket 路由。
func New(speechSvc SpeechService, chatSvc *chatservice.Service, ws *WebSocketHandler) *Handler {
	return &Handler{
		speechSvc: speechSvc,
		chatSvc:   chatSvc,
		ws:        ws,
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/transcribe", h.handleTranscribe)
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Get("/health", h.handleHealth)
	})

	if h.ws != nil {
		h.ws.RegisterWebSocketRoutes(r)
	} else {
		r.Get("/ws/{sessionID}", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondError(w, http.StatusNotImplemented, "speech websocket not available")
		})
	}
}

type transcribeResponse struct {
	speechsvc.TranscriptResult
	Audio *chat.AudioInput `json:"audio"`
}

// handleTranscribe 处理语音转文本请求。识别失败时返回兜底文本与降级原因。
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.resolveSession(w, r, r.URL.Query().Get("sessionId"))
	if !ok {
		return
	}

	audio, err := chathandler.ReadAudioUpload(w, r, h.speechSvc, sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := h.speechSvc.Transcribe(r.Context(), sessionID, audio)
	utils.RespondJSON(w, http.StatusOK, transcribeResponse{TranscriptResult: result, Audio: audio})
}

type synthesizeRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text" validate:"required"`
	Voice     string `json:"voice"`
	Language  string `json:"language"`
}

// handleSynthesize 处理文本转语音请求。Clip 为空表示客户端应退回纯文本。
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	sessionID, ok := h.resolveSession(w, r, req.SessionID)
	if !ok {
		return
	}

	result := h.speechSvc.Synthesize(r.Context(), speechsvc.SynthesisRequest{
		SessionID: sessionID,
		Text:      req.Text,
		Voice:     req.Voice,
		Language:  req.Language,
	})
	utils.RespondJSON(w, http.StatusOK, result)
}

// resolveSession 校验可选的会话归属，未提供时使用默认目录。
func (h *Handler) resolveSession(w http.ResponseWriter, r *http.Request, sessionID string) (string, bool) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return defaultSessionSegment, true
	}
	if h.chatSvc == nil {
		return sessionID, true
	}
	if _, err := h.chatSvc.GetOwnedSession(r.Context(), sessionID, middleware.GetEmail(r.Context())); err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return "", false
	}
	return sessionID, true
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "speech",
	})
}
