package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	chathandler "github.com/carbeez/backend/internal/handler/chat"
	"github.com/carbeez/backend/internal/logging"
	"github.com/carbeez/backend/internal/middleware"
	"github.com/carbeez/backend/internal/model/chat"
	"github.com/carbeez/backend/internal/model/consultant"
	"github.com/carbeez/backend/internal/service/assistant"
	chatservice "github.com/carbeez/backend/internal/service/chat"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler 通过 WebSocket 连续处理文本与录音轮次
type WebSocketHandler struct {
	speechSvc   SpeechService
	turns       chathandler.Turner
	chatSvc     *chatservice.Service
	consultants consultant.Store
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
}

// NewWebSocketHandler 创建WebSocket处理器。allowedOrigins 为空或包含 "*" 时接受任意来源。
func NewWebSocketHandler(speechSvc SpeechService, turns chathandler.Turner, chatSvc *chatservice.Service, consultants consultant.Store, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		speechSvc:   speechSvc,
		turns:       turns,
		chatSvc:     chatSvc,
		consultants: consultants,
		logger:      logging.Component("websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// AudioMessage 音频分片，AudioData 为 base64 编码
type AudioMessage struct {
	AudioData  []byte `json:"audioData"`
	Format     string `json:"format"`
	Language   string `json:"language"`
	IsFinal    bool   `json:"isFinal"`
	ChunkIndex int    `json:"chunkIndex"`
	DurationMs int64  `json:"durationMs"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage 配置消息
type ConfigMessage struct {
	Language   string `json:"language"`
	Voice      string `json:"voice"`
	ASREnabled *bool  `json:"asrEnabled,omitempty"`
	TTSEnabled *bool  `json:"ttsEnabled,omitempty"`
	StreamMode *bool  `json:"streamMode,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type connectionState struct {
	sessionID   string
	consultant  consultant.Consultant
	language    string
	voice       string
	asrEnabled  bool
	ttsEnabled  bool
	streamMode  bool
	audioFormat string
	durationMs  int64
	buffer      bytes.Buffer
}

func newConnectionState(sessionID string, c consultant.Consultant) *connectionState {
	return &connectionState{
		sessionID:  sessionID,
		consultant: c,
		voice:      c.VoiceID,
		asrEnabled: true,
		ttsEnabled: true,
		streamMode: true,
	}
}

// wsConn 串行化写操作，gorilla 连接不支持并发写。
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetOwnedSession(r.Context(), sessionID, middleware.GetEmail(r.Context()))
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	c, ok := h.consultants.FindByID(session.ConsultantType)
	if !ok {
		http.Error(w, "consultant not found", http.StatusBadRequest)
		return
	}
	state := newConnectionState(session.ID, c)

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer raw.Close()
	conn := &wsConn{conn: raw}

	logger := logging.Ctx(r.Context()).With().Str(logging.FieldSession, session.ID).Logger()
	logger.Info().Msg("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = raw.SetReadDeadline(time.Now().Add(readTimeout))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, conn)

	h.sendInfo(conn, session.ID, map[string]any{
		"type":       "connected",
		"consultant": c.ID,
	})

	for {
		var msg inboundMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.SessionID != "" && msg.SessionID != session.ID {
			h.sendError(conn, "session mismatch")
			continue
		}

		h.handleMessage(ctx, conn, state, &msg, logger)
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, conn *wsConn, state *connectionState, msg *inboundMessage, logger zerolog.Logger) {
	switch msg.Type {
	case "audio":
		h.handleAudioMessage(ctx, conn, state, msg.Data, logger)
	case "text":
		h.handleTextMessage(ctx, conn, state, msg.Data)
	case "config":
		h.handleConfigMessage(conn, state, msg.Data)
	default:
		h.sendError(conn, "unsupported message type: "+msg.Type)
	}
}

func (h *WebSocketHandler) handleAudioMessage(ctx context.Context, conn *wsConn, state *connectionState, raw json.RawMessage, logger zerolog.Logger) {
	if !state.asrEnabled {
		h.sendInfo(conn, state.sessionID, map[string]any{"type": "asr", "enabled": false})
		return
	}

	var audio AudioMessage
	if err := json.Unmarshal(raw, &audio); err != nil {
		h.sendError(conn, "invalid audio payload")
		return
	}

	if state.buffer.Len()+len(audio.AudioData) > chathandler.MaxAudioUpload {
		state.buffer.Reset()
		h.sendError(conn, "audio is too large")
		return
	}
	state.buffer.Write(audio.AudioData)
	if audio.Format != "" {
		state.audioFormat = audio.Format
	}
	if audio.Language != "" {
		state.language = audio.Language
	}
	if audio.DurationMs > 0 {
		state.durationMs = audio.DurationMs
	}

	if audio.IsFinal || !state.streamMode {
		h.processBufferedAudio(ctx, conn, state, logger)
	}
}

func (h *WebSocketHandler) processBufferedAudio(ctx context.Context, conn *wsConn, state *connectionState, logger zerolog.Logger) {
	data := append([]byte(nil), state.buffer.Bytes()...)
	duration := state.durationMs
	state.buffer.Reset()
	state.durationMs = 0

	if len(data) == 0 {
		return
	}

	format := state.audioFormat
	if format == "" {
		format = "wav"
	}

	input, _, err := h.speechSvc.StoreRecording(ctx, state.sessionID, data, format, state.language)
	if err != nil {
		logger.Error().Err(err).Msg("store websocket recording failed")
		h.sendError(conn, "failed to store audio")
		return
	}
	input.DurationMs = duration

	h.runTurn(ctx, conn, state, chat.VoiceInput(*input))
}

func (h *WebSocketHandler) handleTextMessage(ctx context.Context, conn *wsConn, state *connectionState, raw json.RawMessage) {
	var text TextMessage
	if err := json.Unmarshal(raw, &text); err != nil {
		h.sendError(conn, "invalid text payload")
		return
	}
	h.runTurn(ctx, conn, state, chat.TextInput(text.Text))
}

// runTurn 运行一轮对话，把每个事件原样推给客户端。错误已作为 error 事件发出。
func (h *WebSocketHandler) runTurn(ctx context.Context, conn *wsConn, state *connectionState, input chat.Input) {
	_, _ = h.turns.HandleTurn(ctx, assistant.TurnRequest{
		SessionID: state.sessionID,
		Input:     input,
		Speak:     state.ttsEnabled,
		Voice:     state.voice,
	}, func(ev assistant.Event) {
		h.sendEvent(conn, ev)
	})
}

func (h *WebSocketHandler) handleConfigMessage(conn *wsConn, state *connectionState, raw json.RawMessage) {
	var cfg ConfigMessage
	if err := json.Unmarshal(raw, &cfg); err != nil {
		h.sendError(conn, "invalid config payload")
		return
	}

	applyConfig(state, cfg)

	h.sendInfo(conn, state.sessionID, map[string]any{
		"type":       "config",
		"consultant": state.consultant.ID,
		"language":   state.language,
		"voice":      state.voice,
		"asr":        state.asrEnabled,
		"tts":        state.ttsEnabled,
		"streamMode": state.streamMode,
	})
}

func applyConfig(state *connectionState, cfg ConfigMessage) {
	if cfg.Language != "" {
		state.language = cfg.Language
	}
	if cfg.Voice != "" {
		state.voice = cfg.Voice
	}
	if cfg.ASREnabled != nil {
		state.asrEnabled = *cfg.ASREnabled
	}
	if cfg.TTSEnabled != nil {
		state.ttsEnabled = *cfg.TTSEnabled
	}
	if cfg.StreamMode != nil {
		state.streamMode = *cfg.StreamMode
	}
}

func (h *WebSocketHandler) sendEvent(conn *wsConn, ev assistant.Event) {
	msg := outgoingMessage{
		Type:      "event",
		SessionID: ev.SessionID,
		Data:      ev,
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(msg); err != nil {
		h.logger.Debug().Err(err).Msg("websocket write event failed")
	}
}

func (h *WebSocketHandler) sendInfo(conn *wsConn, sessionID string, data map[string]any) {
	msg := outgoingMessage{
		Type:      "result",
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(msg); err != nil {
		h.logger.Debug().Err(err).Msg("websocket write info failed")
	}
}

func (h *WebSocketHandler) sendError(conn *wsConn, message string) {
	msg := outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(msg); err != nil {
		h.logger.Debug().Err(err).Msg("websocket write error failed")
	}
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
