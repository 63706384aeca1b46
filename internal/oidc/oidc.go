package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stepdocs/stepdocs/backend/go-services/pkg/middleware"
)

// Verifier wraps the OIDC provider and token verifier
type Verifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// KeycloakIssuer builds the issuer URL of a Keycloak realm. Older
// deployments put the realm path in the URL itself and leave realm empty.
func KeycloakIssuer(baseURL, realm string) string {
	if realm == "" {
		return baseURL
	}
	return strings.TrimRight(baseURL, "/") + "/realms/" + realm
}

// NewVerifier creates a new OIDC verifier for the given issuer and client ID
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return &Verifier{provider: provider, verifier: verifier}, nil
}

// Verify verifies the provided raw ID token using the provided context and returns a middleware.Token
func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return idToken, nil
}

// Chain accepts a token when any of its verifiers does, trying them in order.
type Chain []middleware.Verifier

func (c Chain) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	if len(c) == 0 {
		return nil, errors.New("no token verifier configured")
	}
	var errs []error
	for _, v := range c {
		tok, err := v.Verify(ctx, raw)
		if err == nil {
			return tok, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}
