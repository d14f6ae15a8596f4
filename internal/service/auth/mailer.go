package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/carbeez/backend/internal/metrics"
)

// ErrDeliveryFailed is returned when the mail endpoint does not confirm delivery.
var ErrDeliveryFailed = errors.New("verification email could not be sent")

// Mailer delivers one-time codes.
type Mailer interface {
	SendOTP(ctx context.Context, email, code string) error
}

// HTTPMailer posts {email, otp} to a fixed endpoint that answers {success}.
type HTTPMailer struct {
	client   *resty.Client
	endpoint string
}

// NewHTTPMailer creates a mailer. apiKey is sent as a bearer token when set.
func NewHTTPMailer(endpoint, apiKey string, timeout time.Duration) *HTTPMailer {
	client := resty.New().SetTimeout(timeout)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &HTTPMailer{client: client, endpoint: endpoint}
}

type sendOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type sendOTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (m *HTTPMailer) SendOTP(ctx context.Context, email, code string) error {
	var result sendOTPResponse

	start := time.Now()
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(sendOTPRequest{Email: email, OTP: code}).
		SetResult(&result).
		ForceContentType("application/json").
		Post(m.endpoint)
	metrics.ObserveRemoteCall("mail", start, err)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d", ErrDeliveryFailed, resp.StatusCode())
	}
	if !result.Success {
		return fmt.Errorf("%w: %s", ErrDeliveryFailed, result.Message)
	}
	return nil
}
