package tokens

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-32-bytes-should-be-long-enough"

func newVerifier(t *testing.T, secret string) *Verifier {
	t.Helper()
	v, err := NewVerifier(secret)
	require.NoError(t, err)
	return v
}

func TestGenerateAccessToken_ValidAndClaims(t *testing.T) {
	u := &models.User{Sub: "user-123", Name: "Test User", Email: "test@example.com"}
	tokenStr, err := GenerateAccessToken(testSecret, u, 2*time.Minute)
	require.NoError(t, err)

	tok, err := newVerifier(t, testSecret).Verify(context.Background(), tokenStr)
	require.NoError(t, err)
	var claims map[string]interface{}
	require.NoError(t, tok.Claims(&claims))
	assert.Equal(t, "user-123", claims["sub"])
	assert.Equal(t, "test@example.com", claims["email"])
}

func TestVerify_Expired(t *testing.T) {
	u := &models.User{Sub: "u2"}
	tokenStr, err := GenerateAccessToken(testSecret, u, -time.Minute)
	require.NoError(t, err)
	_, err = newVerifier(t, testSecret).Verify(context.Background(), tokenStr)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerify_WrongSecretFails(t *testing.T) {
	tokenStr, err := GenerateAccessToken("secret-one-32-bytes-xxxxxxxxxxxxxxxx", &models.User{Sub: "u3"}, 2*time.Minute)
	require.NoError(t, err)
	_, err = newVerifier(t, "different-secret-xxxxxxxxxxxxxxxx").Verify(context.Background(), tokenStr)
	require.Error(t, err)
}

func TestVerify_Malformed(t *testing.T) {
	_, err := newVerifier(t, testSecret).Verify(context.Background(), "not.a.jwt")
	require.Error(t, err)
}

// Rejected when alg=none (unsigned token)
func TestVerify_AlgNoneRejected(t *testing.T) {
	enc := base64.RawURLEncoding.EncodeToString
	tok := enc([]byte(`{"alg":"none"}`)) + "." + enc([]byte(`{"sub":"u-none","exp":9999999999}`)) + "."
	_, err := newVerifier(t, testSecret).Verify(context.Background(), tok)
	require.Error(t, err)
}

func TestVerify_MissingExpiryRejected(t *testing.T) {
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = newVerifier(t, testSecret).Verify(context.Background(), tokenStr)
	require.Error(t, err)
}

// Tampering with payload must fail signature verification
func TestVerify_TamperedPayload(t *testing.T) {
	u := &models.User{Sub: "user-t", Name: "Tamper", Email: "t@example.com"}
	tokenStr, err := GenerateAccessToken(testSecret, u, 5*time.Minute)
	require.NoError(t, err)

	parts := strings.Split(tokenStr, ".")
	require.Len(t, parts, 3)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(strings.Replace(string(payload), "user-t", "attacker", 1)))

	_, err = newVerifier(t, testSecret).Verify(context.Background(), strings.Join(parts, "."))
	require.Error(t, err)
}

func TestNewVerifier_EmptySecret(t *testing.T) {
	_, err := NewVerifier("")
	require.Error(t, err)
}
