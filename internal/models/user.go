package models

import "time"

// User represents an application user (mapped from Keycloak claims)
type User struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	Sub       string    `bson:"sub" json:"sub"` // OIDC subject, used as owner ID by documents
	Email     string    `bson:"email" json:"email"`
	Name      string    `bson:"name" json:"name"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`

	// Written by the sign-in flow; the screenshot gateway refreshes access
	// tokens from it.
	GoogleRefreshToken string    `bson:"googleRefreshToken,omitempty" json:"-"`
	GoogleTokenExpiry  time.Time `bson:"googleTokenExpiry,omitempty" json:"-"`
}
