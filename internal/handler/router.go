package handler

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	authHandler "github.com/carbeez/backend/internal/handler/auth"
	"github.com/carbeez/backend/internal/handler/chat"
	"github.com/carbeez/backend/internal/handler/consultant"
	"github.com/carbeez/backend/internal/handler/library"
	"github.com/carbeez/backend/internal/handler/profile"
	"github.com/carbeez/backend/internal/handler/speech"
	"github.com/carbeez/backend/internal/handler/stream"
	"github.com/carbeez/backend/internal/logging"
	"github.com/carbeez/backend/internal/metrics"
	middlewarePkg "github.com/carbeez/backend/internal/middleware"
	consultantModel "github.com/carbeez/backend/internal/model/consultant"
	"github.com/carbeez/backend/internal/service/assistant"
	authService "github.com/carbeez/backend/internal/service/auth"
	chatService "github.com/carbeez/backend/internal/service/chat"
	libraryService "github.com/carbeez/backend/internal/service/library"
	speechService "github.com/carbeez/backend/internal/service/speech"
	"github.com/carbeez/backend/internal/storage"
	"github.com/carbeez/backend/pkg/utils"
)

// Dependencies 路由所需的全部服务
type Dependencies struct {
	Logger         zerolog.Logger
	AllowedOrigins []string
	Consultants    consultantModel.Store
	Chat           *chatService.Service
	Assistant      *assistant.Assistant
	Speech         *speechService.Service
	Library        *libraryService.Service
	Auth           *authService.Service
	Audio          storage.Storage
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.HTTPMiddleware(deps.Logger))
	r.Use(metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	chatHandler := chat.New(deps.Chat, deps.Consultants, deps.Assistant, deps.Speech)
	streamHandler := stream.New(deps.Assistant, deps.Chat)
	wsHandler := speech.NewWebSocketHandler(deps.Speech, deps.Assistant, deps.Chat, deps.Consultants, deps.AllowedOrigins)
	speechHandler := speech.New(deps.Speech, deps.Chat, wsHandler)

	r.Route("/api", func(api chi.Router) {
		consultant.New(deps.Consultants).RegisterRoutes(api)
		authHandler.New(deps.Auth).RegisterRoutes(api)

		// 音频地址直接交给播放器，key 含随机 uuid，不要求登录。
		api.Get("/audio/*", serveAudio(deps.Audio))

		api.Group(func(protected chi.Router) {
			protected.Use(middlewarePkg.RequireAuth(deps.Auth))

			chatHandler.RegisterRoutes(protected)
			streamHandler.RegisterRoutes(protected)
			speechHandler.RegisterRoutes(protected)
			profile.New(deps.Library, deps.Auth).RegisterRoutes(protected)
			library.New(deps.Library, deps.Chat).RegisterRoutes(protected)
		})
	})

	return r
}

// serveAudio streams a stored clip by key.
func serveAudio(store storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		if key == "" {
			utils.RespondError(w, http.StatusNotFound, "audio not found")
			return
		}

		rc, err := store.Read(r.Context(), key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				utils.RespondError(w, http.StatusNotFound, "audio not found")
				return
			}
			logging.Ctx(r.Context()).Warn().Err(err).Str("key", key).Msg("read audio failed")
			utils.RespondError(w, http.StatusBadRequest, "invalid audio key")
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", speechService.ContentTypeFor(strings.TrimPrefix(path.Ext(key), ".")))
		w.Header().Set("Cache-Control", "private, max-age=3600")
		if _, err := io.Copy(w, rc); err != nil {
			logging.Ctx(r.Context()).Debug().Err(err).Msg("audio copy interrupted")
		}
	}
}
