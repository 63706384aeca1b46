package users

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stepdocs/stepdocs/backend/go-services/internal/document"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/models"
	"github.com/stepdocs/stepdocs/backend/go-services/pkg/logger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrNoGoogleCredentials is returned when a user never linked a Google account.
var ErrNoGoogleCredentials = errors.New("users: no google credentials")

// Service encapsulates user-related business logic
type Service struct {
	repo   UserRepository
	oauth  *oauth2.Config
	synced sync.Map // sub -> struct{}
}

func NewService(r UserRepository) *Service {
	return &Service{repo: r}
}

// WithGoogleOAuth enables TokenSource using the given OAuth client.
func (s *Service) WithGoogleOAuth(clientID, clientSecret string) *Service {
	s.oauth = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"https://www.googleapis.com/auth/drive.file"},
	}
	return s
}

// UpsertFromClaims creates or updates a user using OIDC claims map
func (s *Service) UpsertFromClaims(ctx context.Context, claims map[string]interface{}) (*models.User, error) {
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	if sub == "" {
		return nil, nil
	}
	u := &models.User{
		Sub:   sub,
		Email: email,
		Name:  name,
	}
	return s.repo.UpsertBySub(ctx, u)
}

// SyncFromClaims upserts the caller once per process so the owner directory
// knows every subject that ever authenticated. Usable as a middleware hook.
func (s *Service) SyncFromClaims(ctx context.Context, claims map[string]interface{}) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return
	}
	if _, done := s.synced.LoadOrStore(sub, struct{}{}); done {
		return
	}
	if _, err := s.UpsertFromClaims(ctx, claims); err != nil {
		s.synced.Delete(sub)
		logger.Warnf("user sync for %s failed: %v", sub, err)
	}
}

func (s *Service) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	return s.repo.GetBySub(ctx, sub)
}

// Owners resolves subjects to the identity embedded in documents.
func (s *Service) Owners(ctx context.Context, ids []string) (map[string]document.Owner, error) {
	list, err := s.repo.FindBySubs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]document.Owner, len(list))
	for _, u := range list {
		out[u.Sub] = document.Owner{ID: u.Sub, Name: u.Name, Email: u.Email}
	}
	return out, nil
}

// TokenSource returns a refreshing Google token source for the owner.
func (s *Service) TokenSource(ctx context.Context, ownerID string) (oauth2.TokenSource, error) {
	if s.oauth == nil {
		return nil, fmt.Errorf("%w: oauth client not configured", ErrNoGoogleCredentials)
	}
	u, err := s.repo.GetBySub(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if u == nil || u.GoogleRefreshToken == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoGoogleCredentials, ownerID)
	}
	tok := &oauth2.Token{RefreshToken: u.GoogleRefreshToken, Expiry: u.GoogleTokenExpiry}
	return s.oauth.TokenSource(ctx, tok), nil
}
