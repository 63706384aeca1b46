package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/models"
	"github.com/stepdocs/stepdocs/backend/go-services/pkg/middleware"
)

// GenerateAccessToken creates a signed JWT access token for the user
func GenerateAccessToken(secret string, u *models.User, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":   u.Sub,
		"name":  u.Name,
		"email": u.Email,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(ttl).Unix(),
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return jt.SignedString([]byte(secret))
}

type mapToken jwt.MapClaims

func (t mapToken) Claims(v interface{}) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Verifier checks HS256 session tokens issued by the identity service.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("tokens: empty secret")
	}
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}, nil
}

func (v *Verifier) Verify(_ context.Context, raw string) (middleware.Token, error) {
	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) { return v.secret, nil }); err != nil {
		return nil, err
	}
	return mapToken(claims), nil
}
