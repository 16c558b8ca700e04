package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/snake-arena/internal/clock"
	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/storage/memory"
)

type ServiceSuite struct {
	suite.Suite
	store   *memory.Storage
	clock   *clock.MockClock
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = memory.New()
	s.clock = clock.NewMock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	gw := NewGateway("secret", bcrypt.MinCost, s.clock)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = NewService(s.store, gw, Config{TokenTTL: time.Hour}, logger)
	s.ctx = context.Background()
}

func (s *ServiceSuite) TestSignupReturnsUsableToken() {
	resp, err := s.service.Signup(s.ctx, "alice@example.com", "pw", "alice")
	s.Require().NoError(err)
	s.Equal("alice", resp.User.Username)
	s.Equal("alice@example.com", resp.User.Email)
	s.NotEmpty(resp.Token)

	user, err := s.service.Authenticate(s.ctx, resp.Token)
	s.Require().NoError(err)
	s.Equal(resp.User.ID, user.ID)
}

func (s *ServiceSuite) TestSignupDuplicateEmailConflicts() {
	_, err := s.service.Signup(s.ctx, "alice@example.com", "pw", "alice")
	s.Require().NoError(err)

	_, err = s.service.Signup(s.ctx, "alice@example.com", "other", "someone")
	s.ErrorIs(err, domain.ErrEmailTaken)
	s.ErrorIs(err, domain.ErrConflict)
}

func (s *ServiceSuite) TestSignupDefaultsUsernameToEmailLocalPart() {
	resp, err := s.service.Signup(s.ctx, "bob.smith+snake@example.com", "pw", "")
	s.Require().NoError(err)
	s.Equal("bob.smithsnake", resp.User.Username)
}

func (s *ServiceSuite) TestSignupSuffixesTakenUsername() {
	_, err := s.service.Signup(s.ctx, "alice@example.com", "pw", "alice")
	s.Require().NoError(err)

	second, err := s.service.Signup(s.ctx, "alice@work.example.com", "pw", "")
	s.Require().NoError(err)
	s.Equal("alice2", second.User.Username)

	third, err := s.service.Signup(s.ctx, "other@example.com", "pw", "alice")
	s.Require().NoError(err)
	s.Equal("alice3", third.User.Username)
}

func (s *ServiceSuite) TestSignupValidation() {
	tests := []struct {
		name     string
		email    string
		password string
		username string
		want     error
	}{
		{"missing email", "", "pw", "", domain.ErrInvalidEmail},
		{"no at sign", "alice.example.com", "pw", "", domain.ErrInvalidEmail},
		{"no domain dot", "alice@localhost", "pw", "", domain.ErrInvalidEmail},
		{"display name form", "Alice <alice@example.com>", "pw", "", domain.ErrInvalidEmail},
		{"empty password", "alice@example.com", "", "", domain.ErrInvalidPassword},
		{"bad username", "alice@example.com", "pw", "al ice", domain.ErrInvalidUsername},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.Signup(s.ctx, tt.email, tt.password, tt.username)
			s.ErrorIs(err, tt.want)
			s.ErrorIs(err, domain.ErrValidation)
		})
	}
}

func (s *ServiceSuite) TestLogin() {
	_, err := s.service.Signup(s.ctx, "alice@example.com", "correct", "alice")
	s.Require().NoError(err)

	resp, err := s.service.Login(s.ctx, "alice@example.com", "correct")
	s.Require().NoError(err)
	s.Equal("alice", resp.User.Username)
	s.NotEmpty(resp.Token)
}

func (s *ServiceSuite) TestLoginFailuresAreIndistinguishable() {
	_, err := s.service.Signup(s.ctx, "alice@example.com", "correct", "alice")
	s.Require().NoError(err)

	_, wrongPassword := s.service.Login(s.ctx, "alice@example.com", "wrong")
	_, unknownEmail := s.service.Login(s.ctx, "nobody@example.com", "correct")

	s.Equal(domain.ErrInvalidCredentials, wrongPassword)
	s.Equal(domain.ErrInvalidCredentials, unknownEmail)
}

func (s *ServiceSuite) TestAuthenticateRejectsExpiredToken() {
	resp, err := s.service.Signup(s.ctx, "alice@example.com", "pw", "alice")
	s.Require().NoError(err)

	s.clock.Advance(2 * time.Hour)
	_, err = s.service.Authenticate(s.ctx, resp.Token)
	s.ErrorIs(err, domain.ErrInvalidToken)
}

func (s *ServiceSuite) TestAuthenticateDeletedUser() {
	resp, err := s.service.Signup(s.ctx, "alice@example.com", "pw", "alice")
	s.Require().NoError(err)
	s.Require().NoError(s.store.DeleteUser(s.ctx, resp.User.ID))

	_, err = s.service.Authenticate(s.ctx, resp.Token)
	s.ErrorIs(err, domain.ErrInvalidToken)
}
