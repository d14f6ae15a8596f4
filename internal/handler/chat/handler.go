package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/carbeez/backend/internal/logging"
	"github.com/carbeez/backend/internal/middleware"
	"github.com/carbeez/backend/internal/model/chat"
	"github.com/carbeez/backend/internal/model/consultant"
	"github.com/carbeez/backend/internal/service/assistant"
	chatService "github.com/carbeez/backend/internal/service/chat"
	"github.com/carbeez/backend/internal/service/dispatch"
	"github.com/carbeez/backend/pkg/utils"
)

// MaxAudioUpload 单次上传录音的大小上限。
const MaxAudioUpload = 25 << 20

// Turner 处理一次用户输入。
type Turner interface {
	HandleTurn(ctx context.Context, req assistant.TurnRequest, emit assistant.Emitter) (assistant.Turn, error)
}

// Recorder 保存上传的录音。
type Recorder interface {
	StoreRecording(ctx context.Context, sessionID string, data []byte, format, language string) (*chat.AudioInput, string, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc     *chatService.Service
	consultants consultant.Store
	turns       Turner
	recorder    Recorder
}

// New 创建聊天处理器。recorder 为空时不接受录音输入。
func New(chatSvc *chatService.Service, consultants consultant.Store, turns Turner, recorder Recorder) *Handler {
	return &Handler{
		chatSvc:     chatSvc,
		consultants: consultants,
		turns:       turns,
		recorder:    recorder,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Post("/sessions/{sessionID}/messages", h.handleSendMessage)
}

type createSessionRequest struct {
	ConsultantType string `json:"consultantType" validate:"required"`
	UserName       string `json:"userName" validate:"max=120"`
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload createSessionRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, ok := h.consultants.FindByID(payload.ConsultantType); !ok {
		utils.RespondError(w, http.StatusBadRequest, "consultant not found")
		return
	}

	email := middleware.GetEmail(r.Context())
	session, err := h.chatSvc.CreateSession(r.Context(), payload.ConsultantType, email, strings.TrimSpace(payload.UserName))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	if err := h.chatSvc.DeleteSession(r.Context(), session.ID); err != nil {
		writeTurnError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListMessages 返回会话内的全部消息
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	messages, err := h.chatSvc.LoadTranscript(r.Context(), session.ID)
	if err != nil {
		writeTurnError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	Text  string `json:"text"`
	Speak bool   `json:"speak"`
	Voice string `json:"voice"`
}

// handleSendMessage 接收文本(JSON)或录音(multipart)并返回本轮结果
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	var (
		req assistant.TurnRequest
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req, err = h.audioTurn(w, r, session.ID)
	} else {
		var payload sendMessageRequest
		err = utils.DecodeJSON(r, &payload)
		req = assistant.TurnRequest{Input: chat.TextInput(payload.Text), Speak: payload.Speak, Voice: payload.Voice}
	}
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.SessionID = session.ID

	turn, err := h.turns.HandleTurn(r.Context(), req, nil)
	if err != nil {
		writeTurnError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, turn)
}

func (h *Handler) audioTurn(w http.ResponseWriter, r *http.Request, sessionID string) (assistant.TurnRequest, error) {
	if h.recorder == nil {
		return assistant.TurnRequest{}, errors.New("audio input is not available")
	}

	input, err := ReadAudioUpload(w, r, h.recorder, sessionID)
	if err != nil {
		return assistant.TurnRequest{}, err
	}

	speak, _ := strconv.ParseBool(r.FormValue("speak"))
	return assistant.TurnRequest{
		Input: chat.VoiceInput(*input),
		Speak: speak,
		Voice: r.FormValue("voice"),
	}, nil
}

// ReadAudioUpload 解析 multipart 中的 audio 文件并写入存储。
func ReadAudioUpload(w http.ResponseWriter, r *http.Request, recorder Recorder, sessionID string) (*chat.AudioInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxAudioUpload+1<<20)
	if err := r.ParseMultipartForm(MaxAudioUpload); err != nil {
		return nil, errors.New("failed to parse multipart form: " + err.Error())
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		return nil, errors.New("audio file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxAudioUpload+1))
	if err != nil {
		return nil, errors.New("failed to read audio file")
	}
	if len(data) == 0 {
		return nil, errors.New("audio file is empty")
	}
	if len(data) > MaxAudioUpload {
		return nil, errors.New("audio file is too large")
	}

	format := r.FormValue("format")
	if format == "" {
		format = InferAudioFormat(header.Filename)
	}

	input, _, err := recorder.StoreRecording(r.Context(), sessionID, data, format, r.FormValue("language"))
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("store recording failed")
		return nil, errors.New("failed to store audio file")
	}
	if ms, err := strconv.ParseInt(r.FormValue("durationMs"), 10, 64); err == nil && ms > 0 {
		input.DurationMs = ms
	}
	return input, nil
}

// InferAudioFormat 从文件名推断音频格式
func InferAudioFormat(filename string) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".mp3", ".wav", ".webm", ".m4a", ".aac", ".ogg", ".flac", ".amr":
		return strings.TrimPrefix(ext, ".")
	default:
		return "wav"
	}
}

func (h *Handler) ownedSession(w http.ResponseWriter, r *http.Request) (chat.Session, bool) {
	session, err := h.chatSvc.GetOwnedSession(r.Context(), chi.URLParam(r, "sessionID"), middleware.GetEmail(r.Context()))
	if err != nil {
		writeTurnError(w, r, err)
		return chat.Session{}, false
	}
	return session, true
}

// writeTurnError 把业务错误映射为HTTP状态码
func writeTurnError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, dispatch.ErrEmptyInput),
		errors.Is(err, assistant.ErrUnknownInput),
		errors.Is(err, chatService.ErrInvalidMessage):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("chat request failed")
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
