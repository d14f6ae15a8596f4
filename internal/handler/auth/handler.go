package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carbeez/backend/internal/logging"
	authService "github.com/carbeez/backend/internal/service/auth"
	"github.com/carbeez/backend/pkg/utils"
)

// Service 登录注册流程
type Service interface {
	RequestOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (authService.Session, error)
	Register(ctx context.Context, req authService.RegisterRequest) error
	Login(ctx context.Context, email, password string) (authService.Session, error)
}

// Handler 认证相关的HTTP处理器
type Handler struct {
	svc Service
}

// New 创建认证处理器
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册认证路由，均无需登录
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(ar chi.Router) {
		ar.Post("/otp", h.handleRequestOTP)
		ar.Post("/otp/verify", h.handleVerifyOTP)
		ar.Post("/register", h.handleRegister)
		ar.Post("/login", h.handleLogin)
	})
}

type otpRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type verifyRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.RequestOTP(r.Context(), req.Email); err != nil {
		writeAuthError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]bool{"sent": true})
}

func (h *Handler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := h.svc.VerifyOTP(r.Context(), req.Email, req.OTP)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req authService.RegisterRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Register(r.Context(), req); err != nil {
		writeAuthError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]bool{"sent": true})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authService.ErrInvalidRequest),
		errors.Is(err, authService.ErrPasswordMismatch),
		errors.Is(err, authService.ErrOTPMismatch),
		errors.Is(err, authService.ErrOTPExpired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, authService.ErrInvalidCredentials):
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, authService.ErrTooManyAttempts):
		utils.RespondError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, authService.ErrAccountExists):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, authService.ErrDeliveryFailed):
		utils.RespondError(w, http.StatusBadGateway, authService.ErrDeliveryFailed.Error())
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("auth request failed")
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
