// Package session manages authenticated console sessions. Each session owns
// its history store and detection workflow; nothing is process-global, so two
// sessions never observe each other's state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ahnjh51-tft/deepguard-v1/internal/auth"
	"github.com/ahnjh51-tft/deepguard-v1/internal/cache"
	"github.com/ahnjh51-tft/deepguard-v1/internal/database"
	"github.com/ahnjh51-tft/deepguard-v1/internal/detect"
	"github.com/ahnjh51-tft/deepguard-v1/internal/history"
	"github.com/ahnjh51-tft/deepguard-v1/internal/models"
)

var (
	// ErrInvalidToken is returned for a malformed, forged or expired token.
	ErrInvalidToken = errors.New("invalid or expired session token")
	// ErrSessionNotFound is returned when the token is valid but the session
	// has been logged out or swept.
	ErrSessionNotFound = errors.New("session not found")
)

// Session is one authenticated console session. The history store and the
// workflow live and die with it; logout tears both down.
type Session struct {
	ID        string
	User      models.User
	CreatedAt time.Time
	History   *history.Store
	Workflow  *detect.Workflow
}

// Claims is the JWT payload binding a token to a server-side session.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string      `json:"sid"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
}

// Manager authenticates users and tracks live sessions. Tokens carry the
// session ID; the server-side map is authoritative, so logout revokes a token
// before it expires.
type Manager struct {
	provider auth.Provider
	client   *detect.Client
	archive  database.Store // optional
	verdicts cache.Cache    // optional
	secret   []byte
	ttl      time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager. The archive store and verdict cache
// may be nil; they are handed to each session's workflow.
func NewManager(provider auth.Provider, client *detect.Client, archive database.Store, verdicts cache.Cache, secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Manager{
		provider: provider,
		client:   client,
		archive:  archive,
		verdicts: verdicts,
		secret:   []byte(secret),
		ttl:      ttl,
		sessions: make(map[string]*Session),
	}
}

// Login verifies the credentials and creates a fresh session with an empty
// history. It returns the session and the signed token for it.
func (m *Manager) Login(ctx context.Context, email, password string) (*Session, string, error) {
	user, err := m.provider.Authenticate(ctx, email, password)
	if err != nil {
		return nil, "", err
	}

	id := uuid.New().String()
	hist := history.NewStore()
	sess := &Session{
		ID:        id,
		User:      user,
		CreatedAt: time.Now().UTC(),
		History:   hist,
		Workflow:  detect.NewWorkflow(m.client, hist, m.archive, m.verdicts, id, user.Email),
	}

	token, err := m.signToken(sess)
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign session token: %w", err)
	}

	m.mu.Lock()
	m.pruneLocked(time.Now().UTC())
	m.sessions[id] = sess
	m.mu.Unlock()

	log.Info().Str("session_id", id).Str("email", user.Email).Str("role", string(user.Role)).Msg("session created")
	return sess, token, nil
}

// Logout removes the session, revoking its token and discarding its history.
func (m *Manager) Logout(sessionID string) {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		log.Info().Str("session_id", sessionID).Msg("session ended")
	}
}

// Resolve validates a token and returns the live session it refers to.
func (m *Manager) Resolve(token string) (*Session, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	m.mu.Lock()
	sess, ok := m.sessions[claims.SessionID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) signToken(sess *Session) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		SessionID: sess.ID,
		Email:     sess.User.Email,
		Role:      sess.User.Role,
	})
	return token.SignedString(m.secret)
}

// pruneLocked drops sessions past their lifetime. Their tokens are already
// rejected by the expiry claim; this keeps the map from growing unbounded.
func (m *Manager) pruneLocked(now time.Time) {
	for id, sess := range m.sessions {
		if now.Sub(sess.CreatedAt) > m.ttl {
			delete(m.sessions, id)
		}
	}
}
