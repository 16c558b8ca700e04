// Package auth issues and checks bearer tokens and password hashes, and
// implements signup and login over a storage.UserStore.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/snake-arena/internal/clock"
	"github.com/snake-arena/internal/domain"
)

// Gateway signs and validates HS256 tokens whose subject is the user's email.
type Gateway struct {
	secret     []byte
	bcryptCost int
	clock      clock.Clock
}

// NewGateway creates a Gateway. A non-positive cost selects bcrypt.DefaultCost.
func NewGateway(secret string, bcryptCost int, clk clock.Clock) *Gateway {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Gateway{
		secret:     []byte(secret),
		bcryptCost: bcryptCost,
		clock:      clk,
	}
}

// HashPassword returns the bcrypt hash of pw.
func (g *Gateway) HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), g.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(b), nil
}

// VerifyPassword reports whether pw matches hash.
func (g *Gateway) VerifyPassword(pw, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// IssueToken signs a token for subject that expires after ttl.
func (g *Gateway) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := g.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	ss, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return ss, nil
}

// ValidateToken returns the subject of a well-formed, correctly signed,
// unexpired token. Every failure is reported as domain.ErrInvalidToken.
func (g *Gateway) ValidateToken(tokenStr string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.clock.Now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", domain.ErrInvalidToken
	}
	return claims.Subject, nil
}
