package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// MaxOTPAttempts 单个验证码允许的错误次数，超过后需重新获取。
const MaxOTPAttempts = 5

// otpRecord is the pending code for one email.
type otpRecord struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func generateOTP(length int) (string, error) {
	digits := make([]byte, length)
	ten := big.NewInt(10)
	for i := range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

func codesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// attemptLimiter counts wrong guesses per issued code in memory, so a
// mismatch never writes to the store.
type attemptLimiter struct {
	mu       sync.Mutex
	failures map[string]attemptCount
}

type attemptCount struct {
	expires time.Time
	count   int
}

// blocked reports whether the code issued for email (identified by its
// expiry) has used up its attempts.
func (l *attemptLimiter) blocked(email string, expires time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.failures[email]
	return ok && c.expires.Equal(expires) && c.count >= MaxOTPAttempts
}

func (l *attemptLimiter) fail(email string, expires, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures == nil {
		l.failures = make(map[string]attemptCount)
	}
	for k, c := range l.failures {
		if !now.Before(c.expires) {
			delete(l.failures, k)
		}
	}
	c := l.failures[email]
	if !c.expires.Equal(expires) {
		c = attemptCount{expires: expires}
	}
	c.count++
	l.failures[email] = c
}

func (l *attemptLimiter) reset(email string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, email)
}
