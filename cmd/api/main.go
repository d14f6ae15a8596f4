package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/carbeez/backend/internal/analysis/intent"
	"github.com/carbeez/backend/internal/config"
	"github.com/carbeez/backend/internal/handler"
	"github.com/carbeez/backend/internal/logging"
	"github.com/carbeez/backend/internal/model/consultant"
	"github.com/carbeez/backend/internal/service/ai"
	"github.com/carbeez/backend/internal/service/assistant"
	"github.com/carbeez/backend/internal/service/auth"
	"github.com/carbeez/backend/internal/service/chat"
	"github.com/carbeez/backend/internal/service/dispatch"
	"github.com/carbeez/backend/internal/service/library"
	"github.com/carbeez/backend/internal/service/speech"
	"github.com/carbeez/backend/internal/service/title"
	"github.com/carbeez/backend/internal/storage"
	"github.com/carbeez/backend/internal/store/kv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// .env 缺失时只使用系统环境变量
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Init(logging.Config{Level: "info", ServiceName: "carbeez"})
		bootLogger := logging.L()
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "carbeez"})
	logger := logging.Component("main")
	if envErr != nil {
		logger.Warn().Err(envErr).Msg("no .env file, continuing with system environment variables only")
	}

	store, err := newKVStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize key-value store")
	}

	audio, err := newAudioStorage(ctx, cfg.Audio)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize audio storage")
	}

	// 大模型
	chatModel, err := ai.NewChatModel(ctx, cfg.AI)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create chat model")
	}
	aiService, err := ai.NewService(ctx, chatModel, cfg.AI)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize AI service")
	}
	logger.Info().Str("provider", string(cfg.AI.Provider)).Str("model", cfg.AI.Model).Msg("AI service initialized")

	titleService, err := title.NewService(ctx, chatModel, title.Config{
		Enabled:      cfg.AI.TitleEnabled,
		HistoryLimit: cfg.AI.HistoryLimit,
		Timeout:      cfg.AI.Timeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize title service")
	}
	if !titleService.Enabled() {
		logger.Info().Msg("conversation titles fall back to heuristics")
	}

	consultants := consultant.NewMemoryStore(consultant.Seed())
	chatService := chat.NewService()
	libraryService := library.NewService(store, titleService)
	dispatcher := dispatch.New(intent.MustDefault(), aiService)

	// 语音服务。缺少凭证时仍然创建，请求走降级路径。
	speechCfg, err := speech.ModelConfig(cfg.Speech)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load speech configuration")
	}
	speechClient, err := speech.NewRESTClient(speechCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create speech client")
	}
	speechService := speech.NewService(speechCfg, speechClient, audio)
	if !cfg.Speech.Enabled() {
		logger.Warn().Msg("speech credentials not configured, voice requests will degrade to text")
	}

	assistantService := assistant.New(chatService, dispatcher, speechService, consultants)

	authService, err := newAuthService(cfg, libraryService, store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize auth service")
	}

	router := handler.NewRouter(handler.Dependencies{
		Logger:         logging.L(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Consultants:    consultants,
		Chat:           chatService,
		Assistant:      assistantService,
		Speech:         speechService,
		Library:        libraryService,
		Auth:           authService,
		Audio:          audio,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sweeper := storage.NewSweeper(audio, storage.PrefixSynthesis, cfg.Audio.Retention, cfg.Audio.SweepInterval, logging.Component("sweeper"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("Carbeez backend listening")
		return runServer(gctx, srv)
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("shutdown complete")
}

func newKVStore(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (kv.Store, error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, user data is kept in memory only")
		return kv.NewMemoryStore(), nil
	}
	return kv.NewRedisStore(ctx, cfg.RedisURL, "carbeez:")
}

func newAudioStorage(ctx context.Context, cfg config.AudioConfig) (storage.Storage, error) {
	if cfg.Backend == "s3" {
		return storage.NewS3Storage(ctx, storage.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
	}
	return storage.NewLocalStorage(storage.LocalConfig{
		BasePath:  cfg.LocalDir,
		PublicURL: cfg.PublicBaseURL,
	})
}

func newAuthService(cfg *config.Config, profiles *library.Service, store kv.Store, logger zerolog.Logger) (*auth.Service, error) {
	secret := cfg.Auth.TokenSecret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		secret = hex.EncodeToString(buf)
		logger.Warn().Msg("AUTH_TOKEN_SECRET not set, using a random secret; sessions end on restart")
	}

	tokens, err := auth.NewTokenIssuer(secret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}
	mailer := auth.NewHTTPMailer(cfg.Mail.OTPEndpoint, cfg.Mail.APIKey, cfg.Mail.Timeout)
	return auth.NewService(profiles, store, mailer, tokens, cfg.Auth), nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
