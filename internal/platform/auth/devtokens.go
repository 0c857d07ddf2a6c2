package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DevService issues and verifies locally signed tokens for development
// deployments that have no Cognito pool. Accounts live in memory only.
type DevService struct {
	cfg Config

	mu    sync.RWMutex
	users map[string]devUser
}

type devUser struct {
	password string
	email    string
}

func NewDevService(cfg Config) (*DevService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeDev {
		return nil, fmt.Errorf("auth mode must be dev (got %q)", cfg.Mode)
	}
	return &DevService{cfg: cfg, users: map[string]devUser{}}, nil
}

func (s *DevService) Register(username, password, email string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return fmt.Errorf("user %q already exists", username)
	}
	s.users[username] = devUser{password: password, email: email}
	return nil
}

// Login checks the password and issues a signed token carrying the same
// claims a Cognito token would.
func (s *DevService) Login(username, password string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	user, ok := s.users[strings.TrimSpace(username)]
	s.mu.RUnlock()
	if !ok || user.password != password {
		return "", ErrUnauthenticated
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":            username,
		"email":          user.email,
		"cognito:groups": []string{s.cfg.RequiredGroup},
		"iat":            now.Unix(),
		"exp":            now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.DevSigningKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *DevService) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := tokenFromHeader(r)
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	var claims struct {
		jwt.RegisteredClaims
		Email  string   `json:"email"`
		Groups []string `json:"cognito:groups"`
	}
	_, err := jwt.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.DevSigningKey), nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	identity := Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Groups:  claims.Groups,
	}
	if s.cfg.RequiredGroup != "" && !identity.InGroup(s.cfg.RequiredGroup) {
		return Identity{}, fmt.Errorf("%w: not in group %q", ErrForbidden, s.cfg.RequiredGroup)
	}
	return identity, nil
}
