package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/stepdocs/stepdocs/backend/go-services/pkg/middleware"
)

// claimsToken exposes an already decoded claim set.
type claimsToken map[string]interface{}

func (t claimsToken) Claims(v interface{}) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// InsecureVerifier implements a verifier that does NOT validate signatures.
// Only intended for local/integration tests under explicit opt-in via env var.
// Expired tokens are still rejected so test fixtures age like real ones.
type InsecureVerifier struct {
	now func() time.Time
}

func NewInsecureVerifier() *InsecureVerifier { return &InsecureVerifier{now: time.Now} }

func (v *InsecureVerifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, errors.New("invalid token format")
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, err
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, err
	}
	if exp, ok := claims["exp"].(float64); ok && v.now().After(time.Unix(int64(exp), 0)) {
		return nil, errors.New("token expired")
	}
	return claimsToken(claims), nil
}
