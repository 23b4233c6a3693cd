package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrEmptySecret  = errors.New("signing secret is empty")
)

// Claims represents the claims carried by a chat platform access token.
type Claims struct {
	jwt.RegisteredClaims
	Instance string `json:"instance"`
	UserID   string `json:"sub_user,omitempty"`
	Su       bool   `json:"su,omitempty"`
}

// Signer issues and validates HS256 tokens with a shared key.
type Signer struct {
	secret   []byte
	issuer   string
	duration time.Duration
	now      func() time.Time
}

// NewSigner creates a signer. keyID identifies the key to the platform and
// is written to the issuer claim as "api_keys/<keyID>".
func NewSigner(keyID, secret string, duration time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if duration <= 0 {
		duration = 24 * time.Hour
	}
	return &Signer{
		secret:   []byte(secret),
		issuer:   "api_keys/" + keyID,
		duration: duration,
		now:      time.Now,
	}, nil
}

// Duration is the lifetime of tokens issued by this signer.
func (s *Signer) Duration() time.Duration {
	return s.duration
}

// Sign creates an access token for userID scoped to instanceID.
func (s *Signer) Sign(instanceID, userID string) (string, int64, error) {
	now := s.now()
	exp := now.Add(s.duration)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Instance: instanceID,
		UserID:   userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", 0, err
	}
	return signed, exp.Unix(), nil
}

// Validate parses a token issued by this signer and returns its claims.
func (s *Signer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
