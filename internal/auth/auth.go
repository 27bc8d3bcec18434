// Package auth issues and verifies the bearer tokens used by players and the admin.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/victornm/questarena/internal/errors"
)

type Role string

const (
	RolePlayer Role = "player"
	RoleAdmin  Role = "admin"
)

const (
	defaultPlayerTTL = 10 * time.Hour
	defaultAdminTTL  = 12 * time.Hour
)

type Claims struct {
	SessionID string `json:"session_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Role      Role   `json:"role"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret string
	// AdminPassword is either a bcrypt hash or a plaintext password, which is hashed on start.
	AdminPassword string
	PlayerTTL     time.Duration
	AdminTTL      time.Duration
	Now           func() time.Time
}

type Authenticator struct {
	secret    []byte
	adminHash []byte
	playerTTL time.Duration
	adminTTL  time.Duration
	now       func() time.Time
}

func New(c Config) (*Authenticator, error) {
	if c.Secret == "" {
		return nil, fmt.Errorf("auth: secret is required")
	}
	if c.AdminPassword == "" {
		return nil, fmt.Errorf("auth: admin password is required")
	}

	hash := []byte(c.AdminPassword)
	if _, err := bcrypt.Cost(hash); err != nil {
		hash, err = bcrypt.GenerateFromPassword([]byte(c.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("auth: hash admin password: %w", err)
		}
	}

	a := &Authenticator{
		secret:    []byte(c.Secret),
		adminHash: hash,
		playerTTL: c.PlayerTTL,
		adminTTL:  c.AdminTTL,
		now:       c.Now,
	}
	if a.playerTTL <= 0 {
		a.playerTTL = defaultPlayerTTL
	}
	if a.adminTTL <= 0 {
		a.adminTTL = defaultAdminTTL
	}
	if a.now == nil {
		a.now = time.Now
	}

	return a, nil
}

// IssuePlayerToken signs a player token. Every call yields a distinct token.
func (a *Authenticator) IssuePlayerToken(playerID, sessionID, username string) (string, error) {
	return a.sign(Claims{
		SessionID: sessionID,
		Username:  username,
		Role:      RolePlayer,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: playerID,
		},
	}, a.playerTTL)
}

// AdminLogin exchanges the admin password for an admin token.
func (a *Authenticator) AdminLogin(password string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(a.adminHash, []byte(password)); err != nil {
		return "", errors.New(errors.CodeUnauthenticated, errors.WithMessagef("wrong password"))
	}

	return a.sign(Claims{Role: RoleAdmin}, a.adminTTL)
}

func (a *Authenticator) sign(c Claims, ttl time.Duration) (string, error) {
	now := a.now()
	c.ID = uuid.NewString()
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return s, nil
}

// Parse verifies the token signature and expiry and checks its role.
func (a *Authenticator) Parse(token string, role Role) (*Claims, error) {
	if token == "" {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("missing bearer token"))
	}

	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("invalid token"), errors.WithCause(err))
	}

	if c.Role != role {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("%s token required", role))
	}
	if role == RolePlayer && c.Subject == "" {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("invalid token"))
	}

	return &c, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
