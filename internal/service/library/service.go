// Package library persists what a user keeps between sessions: saved
// messages, saved conversations, the profile record and the premium flag.
// Each is one whole-record blob in the key-value store.
package library

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carbeez/backend/internal/model/chat"
	"github.com/carbeez/backend/internal/model/profile"
	"github.com/carbeez/backend/internal/store/kv"
	"github.com/carbeez/backend/pkg/utils"
)

var (
	ErrEmailRequired        = errors.New("email is required")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrProfileNotFound      = errors.New("profile not found")
	ErrEmptyConversation    = errors.New("conversation has no messages")
	ErrInvalidProfile       = errors.New("invalid profile")
	ErrInvalidMessage       = errors.New("invalid message")
)

// TitleGenerator names a conversation saved without a title.
type TitleGenerator interface {
	Generate(ctx context.Context, messages []chat.Message) string
}

// Service reads and writes per-user records.
type Service struct {
	store  kv.Store
	titles TitleGenerator
	locks  utils.KeyedMutex // per email
	now    func() time.Time
}

// NewService creates the library over store.
func NewService(store kv.Store, titles TitleGenerator) *Service {
	return &Service{
		store:  store,
		titles: titles,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SaveConversationRequest carries a transcript to keep.
type SaveConversationRequest struct {
	Title          string
	Messages       []chat.Message
	UserName       string
	ConsultantType string
}

func savedKey(email string) string        { return "saved_messages:" + email }
func conversationsKey(email string) string { return "conversations:" + email }
func profileKey(email string) string       { return "profile:" + email }
func premiumKey(email string) string       { return "premium:" + email }

// NormalizeEmail lowercases and trims an address used as a record owner.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// lock serialises read-modify-write cycles for one user inside this process.
func (s *Service) lock(email string) func() {
	return s.locks.Lock(email)
}

// ToggleSavedMessage saves msg, or removes it when a message with the same id
// is already saved. It reports whether the message is saved afterwards.
func (s *Service) ToggleSavedMessage(ctx context.Context, email string, msg chat.Message) (bool, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return false, ErrEmailRequired
	}
	if strings.TrimSpace(msg.ID) == "" {
		return false, fmt.Errorf("%w: id is required", ErrInvalidMessage)
	}
	if err := checkMessage(&msg); err != nil {
		return false, err
	}

	defer s.lock(email)()

	saved, err := s.loadMessages(ctx, email)
	if err != nil {
		return false, err
	}

	kept := saved[:0]
	removed := false
	for _, m := range saved {
		if m.ID == msg.ID {
			removed = true
			continue
		}
		kept = append(kept, m)
	}

	nowSaved := !removed
	if nowSaved {
		kept = append(kept, msg)
	}

	if err := kv.SetJSON(ctx, s.store, savedKey(email), kept, 0); err != nil {
		return false, fmt.Errorf("store saved messages: %w", err)
	}
	return nowSaved, nil
}

// ListSavedMessages returns saved messages in the order they were saved.
func (s *Service) ListSavedMessages(ctx context.Context, email string) ([]chat.Message, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	return s.loadMessages(ctx, email)
}

func (s *Service) loadMessages(ctx context.Context, email string) ([]chat.Message, error) {
	var saved []chat.Message
	if err := kv.GetJSON(ctx, s.store, savedKey(email), &saved); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return []chat.Message{}, nil
		}
		return nil, fmt.Errorf("load saved messages: %w", err)
	}
	return saved, nil
}

// SaveConversation stores a read-only copy of a transcript. An empty title is generated.
func (s *Service) SaveConversation(ctx context.Context, email string, req SaveConversationRequest) (chat.Conversation, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return chat.Conversation{}, ErrEmailRequired
	}
	if len(req.Messages) == 0 {
		return chat.Conversation{}, ErrEmptyConversation
	}
	messages, err := normalizeTranscript(req.Messages)
	if err != nil {
		return chat.Conversation{}, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" && s.titles != nil {
		title = s.titles.Generate(ctx, messages)
	}

	conversation := chat.Conversation{
		ID:             uuid.NewString(),
		Title:          title,
		Messages:       messages,
		UserName:       req.UserName,
		ConsultantType: req.ConsultantType,
		Timestamp:      s.now(),
	}

	defer s.lock(email)()

	conversations, err := s.loadConversations(ctx, email)
	if err != nil {
		return chat.Conversation{}, err
	}
	conversations = append(conversations, conversation)

	if err := kv.SetJSON(ctx, s.store, conversationsKey(email), conversations, 0); err != nil {
		return chat.Conversation{}, fmt.Errorf("store conversations: %w", err)
	}
	return conversation, nil
}

// normalizeTranscript copies messages, filling missing ids and types and
// rejecting unknown senders, unknown types and repeated ids.
func normalizeTranscript(in []chat.Message) ([]chat.Message, error) {
	out := make([]chat.Message, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, m := range in {
		if err := checkMessage(&m); err != nil {
			return nil, err
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if _, dup := seen[m.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidMessage, m.ID)
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out, nil
}

func checkMessage(m *chat.Message) error {
	if !m.Sender.Valid() {
		return fmt.Errorf("%w: unknown sender %q", ErrInvalidMessage, m.Sender)
	}
	if m.Type == "" {
		m.Type = chat.TypeText
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

// ListConversations returns saved conversations, newest first.
func (s *Service) ListConversations(ctx context.Context, email string) ([]chat.Conversation, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	conversations, err := s.loadConversations(ctx, email)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].Timestamp.After(conversations[j].Timestamp)
	})
	return conversations, nil
}

// GetConversation returns one saved conversation.
func (s *Service) GetConversation(ctx context.Context, email, id string) (chat.Conversation, error) {
	conversations, err := s.ListConversations(ctx, email)
	if err != nil {
		return chat.Conversation{}, err
	}
	for _, c := range conversations {
		if c.ID == id {
			return c, nil
		}
	}
	return chat.Conversation{}, ErrConversationNotFound
}

// DeleteConversation removes one saved conversation.
func (s *Service) DeleteConversation(ctx context.Context, email, id string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}

	defer s.lock(email)()

	conversations, err := s.loadConversations(ctx, email)
	if err != nil {
		return err
	}

	kept := conversations[:0]
	found := false
	for _, c := range conversations {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return ErrConversationNotFound
	}

	if err := kv.SetJSON(ctx, s.store, conversationsKey(email), kept, 0); err != nil {
		return fmt.Errorf("store conversations: %w", err)
	}
	return nil
}

func (s *Service) loadConversations(ctx context.Context, email string) ([]chat.Conversation, error) {
	var conversations []chat.Conversation
	if err := kv.GetJSON(ctx, s.store, conversationsKey(email), &conversations); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return []chat.Conversation{}, nil
		}
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	return conversations, nil
}

// GetProfile returns the stored profile, including the password hash.
func (s *Service) GetProfile(ctx context.Context, email string) (profile.UserProfile, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return profile.UserProfile{}, ErrEmailRequired
	}

	var p profile.UserProfile
	if err := kv.GetJSON(ctx, s.store, profileKey(email), &p); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return profile.UserProfile{}, ErrProfileNotFound
		}
		return profile.UserProfile{}, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

// SaveProfile validates and replaces the whole profile record.
func (s *Service) SaveProfile(ctx context.Context, p profile.UserProfile) error {
	p.Email = NormalizeEmail(p.Email)
	p.Name = strings.TrimSpace(p.Name)
	if err := utils.Validate(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	defer s.lock(p.Email)()
	return s.writeProfile(ctx, p)
}

// UpdateProfile applies the editable fields to the stored profile.
func (s *Service) UpdateProfile(ctx context.Context, email string, update profile.Update) (profile.UserProfile, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return profile.UserProfile{}, ErrEmailRequired
	}
	if err := utils.Validate(update); err != nil {
		return profile.UserProfile{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	defer s.lock(email)()

	p, err := s.GetProfile(ctx, email)
	if err != nil {
		return profile.UserProfile{}, err
	}

	update.Apply(&p)
	p.Name = strings.TrimSpace(p.Name)
	if err := utils.Validate(p); err != nil {
		return profile.UserProfile{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	if err := s.writeProfile(ctx, p); err != nil {
		return profile.UserProfile{}, err
	}
	return p, nil
}

// SetPasswordHash replaces the stored hash.
func (s *Service) SetPasswordHash(ctx context.Context, email, hash string) error {
	email = NormalizeEmail(email)
	defer s.lock(email)()

	p, err := s.GetProfile(ctx, email)
	if err != nil {
		return err
	}
	p.PasswordHash = hash
	return s.writeProfile(ctx, p)
}

func (s *Service) writeProfile(ctx context.Context, p profile.UserProfile) error {
	if err := kv.SetJSON(ctx, s.store, profileKey(p.Email), p, 0); err != nil {
		return fmt.Errorf("store profile: %w", err)
	}
	return nil
}

// GetPremium returns the premium flag; unknown users are not premium.
func (s *Service) GetPremium(ctx context.Context, email string) (profile.PremiumStatus, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return profile.PremiumStatus{}, ErrEmailRequired
	}

	var status profile.PremiumStatus
	if err := kv.GetJSON(ctx, s.store, premiumKey(email), &status); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return profile.PremiumStatus{}, nil
		}
		return profile.PremiumStatus{}, fmt.Errorf("load premium status: %w", err)
	}
	return status, nil
}

// SetPremium stores the premium flag as reported by the client.
func (s *Service) SetPremium(ctx context.Context, email string, premium bool) (profile.PremiumStatus, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return profile.PremiumStatus{}, ErrEmailRequired
	}

	status := profile.PremiumStatus{Premium: premium}
	if err := kv.SetJSON(ctx, s.store, premiumKey(email), status, 0); err != nil {
		return profile.PremiumStatus{}, fmt.Errorf("store premium status: %w", err)
	}
	return status, nil
}
