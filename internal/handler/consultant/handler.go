package consultant

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carbeez/backend/internal/model/consultant"
	"github.com/carbeez/backend/pkg/utils"
)

// Handler 顾问列表的HTTP处理器
type Handler struct {
	consultants consultant.Store
}

// New 创建顾问处理器
func New(consultants consultant.Store) *Handler {
	return &Handler{consultants: consultants}
}

// RegisterRoutes 注册顾问相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/consultants", h.handleList)
	r.Get("/consultants/{consultantID}", h.handleGet)
}

func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.consultants.List())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := h.consultants.FindByID(chi.URLParam(r, "consultantID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "consultant not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, c)
}
