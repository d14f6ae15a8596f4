package profile

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carbeez/backend/internal/logging"
	"github.com/carbeez/backend/internal/middleware"
	"github.com/carbeez/backend/internal/model/profile"
	authService "github.com/carbeez/backend/internal/service/auth"
	"github.com/carbeez/backend/internal/service/library"
	"github.com/carbeez/backend/pkg/utils"
)

// Profiles 个人资料与会员状态存取
type Profiles interface {
	GetProfile(ctx context.Context, email string) (profile.UserProfile, error)
	UpdateProfile(ctx context.Context, email string, update profile.Update) (profile.UserProfile, error)
	GetPremium(ctx context.Context, email string) (profile.PremiumStatus, error)
	SetPremium(ctx context.Context, email string, premium bool) (profile.PremiumStatus, error)
}

// Passwords 修改密码
type Passwords interface {
	ChangePassword(ctx context.Context, email string, req authService.ChangePasswordRequest) error
}

// Handler 个人资料的HTTP处理器，所有路由都需要登录
type Handler struct {
	profiles  Profiles
	passwords Passwords
}

// New 创建个人资料处理器
func New(profiles Profiles, passwords Passwords) *Handler {
	return &Handler{profiles: profiles, passwords: passwords}
}

// RegisterRoutes 注册个人资料路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/profile", func(pr chi.Router) {
		pr.Get("/", h.handleGet)
		pr.Put("/", h.handleUpdate)
		pr.Put("/password", h.handleChangePassword)
		pr.Get("/premium", h.handleGetPremium)
		pr.Put("/premium", h.handleSetPremium)
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.GetProfile(r.Context(), middleware.GetEmail(r.Context()))
	if err != nil {
		writeProfileError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, p.Public())
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var update profile.Update
	if err := utils.DecodeJSON(r, &update); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.profiles.UpdateProfile(r.Context(), middleware.GetEmail(r.Context()), update)
	if err != nil {
		writeProfileError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, p.Public())
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req authService.ChangePasswordRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.passwords.ChangePassword(r.Context(), middleware.GetEmail(r.Context()), req); err != nil {
		writeProfileError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type premiumRequest struct {
	Premium *bool `json:"premium" validate:"required"`
}

func (h *Handler) handleGetPremium(w http.ResponseWriter, r *http.Request) {
	status, err := h.profiles.GetPremium(r.Context(), middleware.GetEmail(r.Context()))
	if err != nil {
		writeProfileError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, status)
}

func (h *Handler) handleSetPremium(w http.ResponseWriter, r *http.Request) {
	var req premiumRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := h.profiles.SetPremium(r.Context(), middleware.GetEmail(r.Context()), *req.Premium)
	if err != nil {
		writeProfileError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, status)
}

func writeProfileError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, library.ErrProfileNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, library.ErrInvalidProfile),
		errors.Is(err, library.ErrEmailRequired),
		errors.Is(err, authService.ErrInvalidRequest),
		errors.Is(err, authService.ErrPasswordMismatch):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, authService.ErrInvalidCredentials):
		utils.RespondError(w, http.StatusForbidden, "current password is incorrect")
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("profile request failed")
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
