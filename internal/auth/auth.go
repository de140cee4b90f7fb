// Package auth verifies user credentials against a pluggable provider.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ahnjh51-tft/deepguard-v1/internal/config"
	"github.com/ahnjh51-tft/deepguard-v1/internal/models"
)

// ErrInvalidCredentials is returned when the email/password pair is rejected.
// Callers map it to an authentication failure without leaking which half was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Provider authenticates a credential pair and returns the user identity on success.
type Provider interface {
	Authenticate(ctx context.Context, email, password string) (models.User, error)
}

// NewProvider creates an auth provider based on configuration.
func NewProvider(cfg config.AuthConfig) (Provider, error) {
	switch cfg.Provider {
	case "static":
		return NewStaticProvider(cfg.Users), nil
	case "http":
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		return NewHTTPProvider(cfg.Endpoint, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported auth provider: %s", cfg.Provider)
	}
}

// StaticProvider checks credentials against the account list from the config
// file. Lookups are case-insensitive on email; passwords are verified against
// stored bcrypt hashes.
type StaticProvider struct {
	users map[string]config.StaticUser
}

// NewStaticProvider creates a provider from the configured accounts.
func NewStaticProvider(users []config.StaticUser) *StaticProvider {
	m := make(map[string]config.StaticUser, len(users))
	for _, u := range users {
		m[strings.ToLower(u.Email)] = u
	}
	return &StaticProvider{users: m}
}

func (p *StaticProvider) Authenticate(ctx context.Context, email, password string) (models.User, error) {
	u, ok := p.users[strings.ToLower(email)]
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	return models.User{Email: u.Email, Name: u.Name, Role: models.Role(u.Role)}, nil
}

// HashPassword produces a bcrypt hash suitable for the static account list.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// HTTPProvider delegates credential checks to an external service. The service
// receives the credential pair as JSON and answers 200 with the user identity,
// or 401/403 for a rejection.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
}

// NewHTTPProvider creates a provider that calls the given verification endpoint.
func NewHTTPProvider(endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Authenticate(ctx context.Context, email, password string) (models.User, error) {
	body, err := json.Marshal(models.LoginRequest{Email: email, Password: password})
	if err != nil {
		return models.User{}, fmt.Errorf("failed to encode credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.User{}, fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return models.User{}, fmt.Errorf("auth service unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.User{}, ErrInvalidCredentials
	case resp.StatusCode != http.StatusOK:
		return models.User{}, fmt.Errorf("auth service returned status %d", resp.StatusCode)
	}

	var user models.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return models.User{}, fmt.Errorf("failed to decode auth response: %w", err)
	}
	if user.Email == "" {
		user.Email = email
	}
	if !user.Role.Valid() {
		user.Role = models.RoleUser
	}
	return user, nil
}
