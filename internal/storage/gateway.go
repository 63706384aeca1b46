package storage

import (
	"context"
	"errors"
)

// ErrForeignObject is returned when an owner tries to touch an object that
// was uploaded by someone else.
var ErrForeignObject = errors.New("object belongs to another owner")

// UploadResult identifies a stored image.
type UploadResult struct {
	ExternalID string `json:"googleImageId"`
	PublicURL  string `json:"url"`
}

// Gateway is the external image store behind screenshots. Delete must
// succeed for IDs that are already gone.
type Gateway interface {
	Upload(ctx context.Context, ownerID string, data []byte, name, mimeType string) (UploadResult, error)
	Delete(ctx context.Context, externalID, ownerID string) error
}
