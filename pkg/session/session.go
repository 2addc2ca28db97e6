package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleUser     Role = "user"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var ErrInvalidToken = errors.New("invalid session token")

type Claims struct {
	jwt.RegisteredClaims

	Role  Role   `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
}

// Session is the verified identity behind a bearer token or session cookie.
type Session struct {
	UserID    string
	Email     string
	Role      Role
	ExpiresAt time.Time
}

// IsOps reports whether the session belongs to an operations actor.
func (s *Session) IsOps() bool {
	return s != nil && (s.Role == RoleOperator || s.Role == RoleAdmin)
}

// Verify validates an HS256 token for the given audience and returns the session it carries.
func Verify(tokenString, secret, audience string, now time.Time) (*Session, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing token", ErrInvalidToken)
	}
	if secret == "" {
		return nil, fmt.Errorf("%w: missing secret", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	parser := jwt.NewParser(opts...)

	claims := &Claims{}
	tok, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	role := claims.Role
	if role == "" {
		role = RoleUser
	}

	return &Session{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Issue mints a token. The API itself never logs anyone in; this serves dev tooling and tests.
func Issue(s Session, secret, audience string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:  s.Role,
		Email: s.Email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Verifier checks tokens minted for either audience. Only ops-audience tokens may carry
// an operator or admin role; a user-audience token is always a plain user.
type Verifier struct {
	Secret       string
	UserAudience string
	OpsAudience  string
}

func (v Verifier) Verify(token string, now time.Time) (*Session, error) {
	if s, err := Verify(token, v.Secret, v.OpsAudience, now); err == nil && s.IsOps() {
		return s, nil
	}
	s, err := Verify(token, v.Secret, v.UserAudience, now)
	if err != nil {
		return nil, err
	}
	s.Role = RoleUser
	return s, nil
}
