package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carbeez/backend/internal/model/chat"
)

var (
	ErrConsultantRequired = errors.New("consultant type is required")
	ErrSessionNotFound    = errors.New("session not found")
	ErrDuplicateMessage   = errors.New("message id already exists in session")
	ErrInvalidMessage     = errors.New("invalid message")
)

// Service encapsulates conversation state management.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	ids      map[string]map[string]struct{}
	now      func() time.Time
}

// NewService bootstraps the in-memory conversation store.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
		ids:      make(map[string]map[string]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession provisions a session bound to a consultant and its owner.
func (s *Service) CreateSession(_ context.Context, consultantType, userEmail, userName string) (chat.Session, error) {
	if strings.TrimSpace(consultantType) == "" {
		return chat.Session{}, ErrConsultantRequired
	}

	session := chat.Session{
		ID:             uuid.NewString(),
		ConsultantType: consultantType,
		UserEmail:      userEmail,
		UserName:       userName,
		CreatedAt:      s.now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	s.ids[session.ID] = make(map[string]struct{})
	s.mu.Unlock()

	return session, nil
}

// AppendMessage adds message to the session history. Missing ids and
// timestamps are filled in; a repeated id is rejected.
func (s *Service) AppendMessage(_ context.Context, sessionID string, message chat.Message) (chat.Message, error) {
	if !message.Sender.Valid() {
		return chat.Message{}, fmt.Errorf("%w: unknown sender %q", ErrInvalidMessage, message.Sender)
	}
	if message.Type == "" {
		message.Type = chat.TypeText
	}
	if !message.Type.Valid() {
		return chat.Message{}, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, message.Type)
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return chat.Message{}, ErrSessionNotFound
	}
	if _, dup := s.ids[sessionID][message.ID]; dup {
		return chat.Message{}, ErrDuplicateMessage
	}

	s.ids[sessionID][message.ID] = struct{}{}
	s.messages[sessionID] = append(s.messages[sessionID], message)
	return message, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// LoadTranscript returns a copy of the stored messages, oldest first.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// DeleteSession drops the session and its messages.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	delete(s.ids, sessionID)
	return nil
}

// GetOwnedSession returns the session only when it belongs to email.
// Sessions of other users are reported as not found.
func (s *Service) GetOwnedSession(ctx context.Context, sessionID, email string) (chat.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	if session.UserEmail != "" && !strings.EqualFold(session.UserEmail, strings.TrimSpace(email)) {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}
