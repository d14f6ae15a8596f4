// Package auth handles email one-time codes, passwords and session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/carbeez/backend/internal/config"
	"github.com/carbeez/backend/internal/logging"
	"github.com/carbeez/backend/internal/model/profile"
	"github.com/carbeez/backend/internal/service/library"
	"github.com/carbeez/backend/internal/store/kv"
	"github.com/carbeez/backend/pkg/utils"
)

var (
	ErrOTPMismatch        = errors.New("verification code does not match")
	ErrOTPExpired         = errors.New("verification code has expired")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountExists      = errors.New("an account with this email already exists")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrTooManyAttempts    = errors.New("too many attempts, request a new verification code")
)

// ProfileStore is the part of the library auth needs.
type ProfileStore interface {
	GetProfile(ctx context.Context, email string) (profile.UserProfile, error)
	SaveProfile(ctx context.Context, p profile.UserProfile) error
	SetPasswordHash(ctx context.Context, email, hash string) error
}

// RegisterRequest is the sign-up form.
type RegisterRequest struct {
	Name            string `json:"name" validate:"required,max=120"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

// ChangePasswordRequest is the password form on the profile screen.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

// Session is what a successful sign-in returns.
type Session struct {
	Token     string              `json:"token"`
	ExpiresAt time.Time           `json:"expiresAt"`
	Profile   profile.UserProfile `json:"profile"`
}

// pendingRegistration waits for the OTP before becoming a profile.
type pendingRegistration struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
}

// Service implements the sign-up and sign-in flows.
type Service struct {
	profiles ProfileStore
	store    kv.Store
	mailer   Mailer
	tokens   *TokenIssuer
	cfg      config.AuthConfig
	attempts attemptLimiter
	now      func() time.Time
	logger   zerolog.Logger
}

// NewService wires the auth flows.
func NewService(profiles ProfileStore, store kv.Store, mailer Mailer, tokens *TokenIssuer, cfg config.AuthConfig) *Service {
	if cfg.OTPLength <= 0 {
		cfg.OTPLength = 6
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 10 * time.Minute
	}
	return &Service{
		profiles: profiles,
		store:    store,
		mailer:   mailer,
		tokens:   tokens,
		cfg:      cfg,
		now:      time.Now,
		logger:   logging.Component("auth"),
	}
}

func otpKey(email string) string     { return "otp:" + email }
func pendingKey(email string) string { return "pending_registration:" + email }

// RequestOTP generates a code, stores it with an expiry and mails it.
func (s *Service) RequestOTP(ctx context.Context, email string) error {
	email = library.NormalizeEmail(email)
	if err := utils.Validate(struct {
		Email string `validate:"required,email"`
	}{email}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	code, err := generateOTP(s.cfg.OTPLength)
	if err != nil {
		return err
	}

	record := otpRecord{Code: code, ExpiresAt: s.now().Add(s.cfg.OTPTTL)}
	// 保留到过期后一段时间，以便区分“过期”与“从未请求”。
	if err := kv.SetJSON(ctx, s.store, otpKey(email), record, 2*s.cfg.OTPTTL); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	s.attempts.reset(email)

	if err := s.mailer.SendOTP(ctx, email, code); err != nil {
		_ = s.store.Delete(ctx, otpKey(email))
		s.logger.Warn().Err(err).Msg("otp delivery failed")
		return err
	}

	s.logger.Info().Str("email", maskEmail(email)).Msg("otp sent")
	return nil
}

// VerifyOTP checks code. On failure nothing is written. On success the code
// is consumed, a profile is created if absent and a session token issued.
func (s *Service) VerifyOTP(ctx context.Context, email, code string) (Session, error) {
	email = library.NormalizeEmail(email)
	code = strings.TrimSpace(code)

	var record otpRecord
	if err := kv.GetJSON(ctx, s.store, otpKey(email), &record); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Session{}, ErrOTPExpired
		}
		return Session{}, fmt.Errorf("load otp: %w", err)
	}

	now := s.now()
	if !now.Before(record.ExpiresAt) {
		return Session{}, ErrOTPExpired
	}
	if s.attempts.blocked(email, record.ExpiresAt) {
		return Session{}, ErrTooManyAttempts
	}
	if !codesEqual(record.Code, code) {
		s.attempts.fail(email, record.ExpiresAt, now)
		return Session{}, ErrOTPMismatch
	}
	s.attempts.reset(email)

	if err := s.store.Delete(ctx, otpKey(email)); err != nil {
		return Session{}, fmt.Errorf("consume otp: %w", err)
	}

	p, err := s.ensureProfile(ctx, email)
	if err != nil {
		return Session{}, err
	}
	return s.issue(p)
}

func (s *Service) ensureProfile(ctx context.Context, email string) (profile.UserProfile, error) {
	var pending pendingRegistration
	err := kv.GetJSON(ctx, s.store, pendingKey(email), &pending)
	switch {
	case err == nil:
		p := profile.UserProfile{Name: pending.Name, Email: email, PasswordHash: pending.PasswordHash}
		if existing, getErr := s.profiles.GetProfile(ctx, email); getErr == nil {
			// 已有资料保留，只更新密码。
			existing.PasswordHash = pending.PasswordHash
			p = existing
		}
		if err := s.profiles.SaveProfile(ctx, p); err != nil {
			return profile.UserProfile{}, err
		}
		_ = s.store.Delete(ctx, pendingKey(email))
		return p, nil
	case !errors.Is(err, kv.ErrNotFound):
		return profile.UserProfile{}, fmt.Errorf("load pending registration: %w", err)
	}

	p, err := s.profiles.GetProfile(ctx, email)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, library.ErrProfileNotFound) {
		return profile.UserProfile{}, err
	}

	p = profile.UserProfile{Name: nameFromEmail(email), Email: email}
	if err := s.profiles.SaveProfile(ctx, p); err != nil {
		return profile.UserProfile{}, err
	}
	return p, nil
}

// Register validates the sign-up form, keeps the hashed password pending and
// sends a verification code.
func (s *Service) Register(ctx context.Context, req RegisterRequest) error {
	req.Email = library.NormalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := utils.Validate(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Password != req.ConfirmPassword {
		return ErrPasswordMismatch
	}

	if existing, err := s.profiles.GetProfile(ctx, req.Email); err == nil && existing.PasswordHash != "" {
		return ErrAccountExists
	} else if err != nil && !errors.Is(err, library.ErrProfileNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	pending := pendingRegistration{Name: req.Name, Email: req.Email, PasswordHash: string(hash)}
	if err := kv.SetJSON(ctx, s.store, pendingKey(req.Email), pending, 2*s.cfg.OTPTTL); err != nil {
		return fmt.Errorf("store pending registration: %w", err)
	}

	return s.RequestOTP(ctx, req.Email)
}

// Login checks the password and issues a session token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = library.NormalizeEmail(email)

	p, err := s.profiles.GetProfile(ctx, email)
	if err != nil {
		if errors.Is(err, library.ErrProfileNotFound) || errors.Is(err, library.ErrEmailRequired) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if p.PasswordHash == "" {
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(p)
}

// ChangePassword replaces the password. The current one is required when set.
func (s *Service) ChangePassword(ctx context.Context, email string, req ChangePasswordRequest) error {
	if err := utils.Validate(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.NewPassword != req.ConfirmPassword {
		return ErrPasswordMismatch
	}

	p, err := s.profiles.GetProfile(ctx, email)
	if err != nil {
		return err
	}
	if p.PasswordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(req.CurrentPassword)); err != nil {
			return ErrInvalidCredentials
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.profiles.SetPasswordHash(ctx, email, string(hash))
}

// VerifyToken resolves a session token to an email.
func (s *Service) VerifyToken(token string) (string, error) {
	return s.tokens.VerifyToken(token)
}

func (s *Service) issue(p profile.UserProfile) (Session, error) {
	token, expires, err := s.tokens.Issue(p.Email)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expires, Profile: p.Public()}, nil
}

func nameFromEmail(email string) string {
	local := email
	if idx := strings.IndexByte(email, '@'); idx > 0 {
		local = email[:idx]
	}
	return local
}

func maskEmail(email string) string {
	idx := strings.IndexByte(email, '@')
	if idx <= 1 {
		return "***" + email[max(idx, 0):]
	}
	return email[:1] + "***" + email[idx:]
}
