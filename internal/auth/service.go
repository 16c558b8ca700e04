package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/storage"
)

const (
	// DefaultTokenTTL matches the lifetime of access tokens issued by the web client's API.
	DefaultTokenTTL = 30 * time.Minute

	maxUsernameLen = 32
	// maxSuffixAttempts bounds the alice2, alice3, ... search on username collisions.
	maxSuffixAttempts = 1000
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Config holds configuration for the auth service
type Config struct {
	TokenTTL time.Duration
}

// Service implements signup, login and token authentication.
type Service struct {
	users    storage.UserStore
	gateway  *Gateway
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewService creates a new auth Service
func NewService(users storage.UserStore, gateway *Gateway, cfg Config, logger *slog.Logger) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	return &Service{
		users:    users,
		gateway:  gateway,
		tokenTTL: cfg.TokenTTL,
		logger:   logger,
	}
}

// Signup registers a new account and returns it with a fresh token.
// An empty username defaults to the local part of the email. When the
// username belongs to another account a numeric suffix is appended.
func (s *Service) Signup(ctx context.Context, email, password, username string) (*domain.AuthResponse, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, domain.ErrInvalidPassword
	}

	username = strings.TrimSpace(username)
	if username == "" {
		username = usernameFromEmail(email)
	} else if len(username) > maxUsernameLen || !usernamePattern.MatchString(username) {
		return nil, domain.ErrInvalidUsername
	}

	if _, err := s.users.UserByEmail(ctx, email); err == nil {
		return nil, domain.ErrEmailTaken
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("checking email: %w", err)
	}

	hash, err := s.gateway.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.createWithFreeUsername(ctx, username, email, hash)
	if err != nil {
		return nil, err
	}

	token, err := s.gateway.IssueToken(user.Email, s.tokenTTL)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user signed up", "user_id", user.ID, "username", user.Username)
	return &domain.AuthResponse{User: *user, Token: token}, nil
}

func (s *Service) createWithFreeUsername(ctx context.Context, base, email, hash string) (*domain.User, error) {
	candidate := base
	for n := 2; n < maxSuffixAttempts+2; n++ {
		user, err := s.users.CreateUser(ctx, candidate, email, hash)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, domain.ErrUsernameTaken) {
			return nil, err
		}
		suffix := strconv.Itoa(n)
		trimmed := base
		if len(trimmed)+len(suffix) > maxUsernameLen {
			trimmed = trimmed[:maxUsernameLen-len(suffix)]
		}
		candidate = trimmed + suffix
	}
	return nil, domain.ErrUsernameTaken
}

// Login checks credentials and returns the user with a fresh token. Unknown
// email and wrong password produce the same error.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.AuthResponse, error) {
	user, err := s.users.UserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	hash, err := s.users.PasswordHash(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("loading password hash: %w", err)
	}
	if !s.gateway.VerifyPassword(password, hash) {
		return nil, domain.ErrInvalidCredentials
	}

	token, err := s.gateway.IssueToken(user.Email, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &domain.AuthResponse{User: *user, Token: token}, nil
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	email, err := s.gateway.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("loading token subject: %w", err)
	}
	return user, nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return domain.ErrInvalidEmail
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 || !strings.Contains(email[at+1:], ".") {
		return domain.ErrInvalidEmail
	}
	return nil
}

// usernameFromEmail keeps the allowed characters of the email's local part.
func usernameFromEmail(email string) string {
	local := email[:strings.LastIndex(email, "@")]
	var b strings.Builder
	for _, r := range local {
		if r == '_' || r == '.' || r == '-' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" {
		name = "player"
	}
	if len(name) > maxUsernameLen {
		name = name[:maxUsernameLen]
	}
	return name
}
