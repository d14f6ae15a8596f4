package library

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/carbeez/backend/internal/logging"
	"github.com/carbeez/backend/internal/middleware"
	"github.com/carbeez/backend/internal/model/chat"
	chatService "github.com/carbeez/backend/internal/service/chat"
	libraryService "github.com/carbeez/backend/internal/service/library"
	"github.com/carbeez/backend/pkg/utils"
)

// Library 收藏消息与保存的对话
type Library interface {
	ToggleSavedMessage(ctx context.Context, email string, msg chat.Message) (bool, error)
	ListSavedMessages(ctx context.Context, email string) ([]chat.Message, error)
	SaveConversation(ctx context.Context, email string, req libraryService.SaveConversationRequest) (chat.Conversation, error)
	ListConversations(ctx context.Context, email string) ([]chat.Conversation, error)
	GetConversation(ctx context.Context, email, id string) (chat.Conversation, error)
	DeleteConversation(ctx context.Context, email, id string) error
}

// Handler 收藏与历史对话的HTTP处理器
type Handler struct {
	library Library
	chatSvc *chatService.Service
}

// New 创建处理器
func New(library Library, chatSvc *chatService.Service) *Handler {
	return &Handler{library: library, chatSvc: chatSvc}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/saved/messages", h.handleListSaved)
	r.Post("/saved/messages", h.handleToggleSaved)
	r.Get("/conversations", h.handleListConversations)
	r.Post("/conversations", h.handleSaveConversation)
	r.Get("/conversations/{conversationID}", h.handleGetConversation)
	r.Delete("/conversations/{conversationID}", h.handleDeleteConversation)
}

func (h *Handler) handleListSaved(w http.ResponseWriter, r *http.Request) {
	messages, err := h.library.ListSavedMessages(r.Context(), middleware.GetEmail(r.Context()))
	if err != nil {
		writeLibraryError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

type toggleResponse struct {
	Saved   bool         `json:"saved"`
	Message chat.Message `json:"message"`
}

// handleToggleSaved 第二次收藏同一条消息即取消收藏
func (h *Handler) handleToggleSaved(w http.ResponseWriter, r *http.Request) {
	var msg chat.Message
	if err := utils.DecodeJSON(r, &msg); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(msg.ID) == "" || !msg.Sender.Valid() {
		utils.RespondError(w, http.StatusBadRequest, "message id and sender are required")
		return
	}

	saved, err := h.library.ToggleSavedMessage(r.Context(), middleware.GetEmail(r.Context()), msg)
	if err != nil {
		writeLibraryError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, toggleResponse{Saved: saved, Message: msg})
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.library.ListConversations(r.Context(), middleware.GetEmail(r.Context()))
	if err != nil {
		writeLibraryError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conversations)
}

type saveConversationRequest struct {
	SessionID      string         `json:"sessionId"`
	Title          string         `json:"title" validate:"max=120"`
	Messages       []chat.Message `json:"messages"`
	UserName       string         `json:"userName"`
	ConsultantType string         `json:"consultantType"`
}

// handleSaveConversation 保存会话全文。提供 sessionId 时从服务端会话读取消息。
func (h *Handler) handleSaveConversation(w http.ResponseWriter, r *http.Request) {
	var req saveConversationRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	email := middleware.GetEmail(r.Context())
	save := libraryService.SaveConversationRequest{
		Title:          req.Title,
		Messages:       req.Messages,
		UserName:       req.UserName,
		ConsultantType: req.ConsultantType,
	}

	if req.SessionID != "" {
		session, err := h.chatSvc.GetOwnedSession(r.Context(), req.SessionID, email)
		if err != nil {
			writeLibraryError(w, r, err)
			return
		}
		transcript, err := h.chatSvc.LoadTranscript(r.Context(), session.ID)
		if err != nil {
			writeLibraryError(w, r, err)
			return
		}
		save.Messages = transcript
		save.ConsultantType = session.ConsultantType
		if save.UserName == "" {
			save.UserName = session.UserName
		}
	}

	conversation, err := h.library.SaveConversation(r.Context(), email, save)
	if err != nil {
		writeLibraryError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, conversation)
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conversation, err := h.library.GetConversation(r.Context(), middleware.GetEmail(r.Context()), chi.URLParam(r, "conversationID"))
	if err != nil {
		writeLibraryError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conversation)
}

func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.library.DeleteConversation(r.Context(), middleware.GetEmail(r.Context()), chi.URLParam(r, "conversationID")); err != nil {
		writeLibraryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeLibraryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, libraryService.ErrConversationNotFound),
		errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, libraryService.ErrEmptyConversation),
		errors.Is(err, libraryService.ErrInvalidMessage),
		errors.Is(err, libraryService.ErrEmailRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("library request failed")
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
