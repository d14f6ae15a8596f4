package speech

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/carbeez/backend/internal/metrics"
)

const (
	defaultTokenURI = "https://oauth2.googleapis.com/token"
	cloudScope      = "https://www.googleapis.com/auth/cloud-platform"
	jwtBearerGrant  = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionTTL    = time.Hour
	// refreshSkew 提前刷新，避免令牌在请求途中过期。
	refreshSkew = time.Minute
)

// ServiceAccount 服务账号 JSON 中用到的字段。
type ServiceAccount struct {
	ClientEmail  string `json:"client_email"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	TokenURI     string `json:"token_uri"`
}

// ParseServiceAccount 解析服务账号 JSON。
func ParseServiceAccount(raw []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}
	if strings.TrimSpace(sa.ClientEmail) == "" || strings.TrimSpace(sa.PrivateKey) == "" {
		return nil, errors.New("service account is missing client_email or private_key")
	}
	if sa.TokenURI == "" {
		sa.TokenURI = defaultTokenURI
	}
	return &sa, nil
}

// TokenSource 用 RS256 签名的断言换取访问令牌，并缓存到过期前。
type TokenSource struct {
	account *ServiceAccount
	key     *rsa.PrivateKey
	client  *resty.Client
	now     func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenSource 创建令牌源。
func NewTokenSource(account *ServiceAccount, timeout time.Duration) (*TokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(account.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse service account private key: %w", err)
	}

	return &TokenSource{
		account: account,
		key:     key,
		client:  resty.New().SetTimeout(timeout),
		now:     time.Now,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type tokenError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Token 返回有效的访问令牌，必要时刷新。
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	if ts.token != "" && now.Add(refreshSkew).Before(ts.expires) {
		return ts.token, nil
	}

	assertion, err := ts.signAssertion(now)
	if err != nil {
		return "", err
	}

	var result tokenResponse
	var apiErr tokenError
	start := time.Now()
	resp, err := ts.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type": jwtBearerGrant,
			"assertion":  assertion,
		}).
		SetResult(&result).
		SetError(&apiErr).
		ForceContentType("application/json").
		Post(ts.account.TokenURI)
	metrics.ObserveRemoteCall("oauth", start, err)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("token exchange failed with status %d: %s %s", resp.StatusCode(), apiErr.Error, apiErr.ErrorDescription)
	}
	if result.AccessToken == "" {
		return "", errors.New("token exchange returned no access token")
	}

	ts.token = result.AccessToken
	ts.expires = now.Add(time.Duration(result.ExpiresIn) * time.Second)
	return ts.token, nil
}

func (ts *TokenSource) signAssertion(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":   ts.account.ClientEmail,
		"scope": cloudScope,
		"aud":   ts.account.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if ts.account.PrivateKeyID != "" {
		token.Header["kid"] = ts.account.PrivateKeyID
	}

	signed, err := token.SignedString(ts.key)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signed, nil
}
