package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jordanhubbard/momentum/internal/database"
	"golang.org/x/crypto/bcrypt"
)

// Session is the capability object handed to nudge/metrics operations. An
// anonymous session carries an empty user id; callers treat that as "no-op
// with empty/default results", never as an error.
type Session struct {
	userID string
}

// CurrentUserID returns the authenticated user id, or "" for anonymous
func (s *Session) CurrentUserID() string {
	if s == nil {
		return ""
	}
	return s.userID
}

// Anonymous returns a session with no user
func Anonymous() *Session {
	return &Session{}
}

// ForUser returns a session bound to userID. Used by tests and internal
// wiring that has already established identity.
func ForUser(userID string) *Session {
	return &Session{userID: userID}
}

// DefaultTokenTTL is how long issued tokens stay valid
const DefaultTokenTTL = 24 * time.Hour

// Manager issues and verifies session tokens against the user store
type Manager struct {
	db     *database.Database
	secret []byte
	ttl    time.Duration
}

// NewManager creates a session manager signing with secret
func NewManager(db *database.Database, secret []byte) *Manager {
	return &Manager{
		db:     db,
		secret: secret,
		ttl:    DefaultTokenTTL,
	}
}

// CreateUser registers a new account with a bcrypt-hashed password
func (m *Manager) CreateUser(email, password string) (*database.User, error) {
	if email == "" {
		return nil, fmt.Errorf("email cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &database.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	if err := m.db.CreateUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and returns a signed session token
func (m *Manager) Login(email, password string) (string, error) {
	user, err := m.db.GetUserByEmail(email)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", fmt.Errorf("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the session it represents. Any
// verification failure yields an anonymous session along with the error, so
// callers can degrade instead of failing.
func (m *Manager) Verify(tokenString string) (*Session, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return Anonymous(), fmt.Errorf("failed to verify token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return Anonymous(), fmt.Errorf("token has no subject")
	}
	return &Session{userID: claims.Subject}, nil
}
