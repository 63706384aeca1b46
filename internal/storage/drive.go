package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// TokenSources hands out per-owner Google credentials.
type TokenSources interface {
	TokenSource(ctx context.Context, ownerID string) (oauth2.TokenSource, error)
}

// DriveStorage is a Gateway on the owner's Google Drive. Uploaded files are
// shared with "anyone with the link" so the image URL can be embedded.
type DriveStorage struct {
	cfg        DriveConfig
	newService func(ctx context.Context, ownerID string) (*drive.Service, error)
}

func NewDriveStorage(cfg DriveConfig, tokens TokenSources) *DriveStorage {
	if cfg.ImageURLPrefix == "" {
		cfg.ImageURLPrefix = DefaultImageURLPrefix
	}
	d := &DriveStorage{cfg: cfg}
	d.newService = func(ctx context.Context, ownerID string) (*drive.Service, error) {
		ts, err := tokens.TokenSource(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("drive credentials for %s: %w", ownerID, err)
		}
		opts := []option.ClientOption{option.WithTokenSource(ts)}
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		}
		return drive.NewService(ctx, opts...)
	}
	return d
}

func (d *DriveStorage) Upload(ctx context.Context, ownerID string, data []byte, name, mimeType string) (UploadResult, error) {
	svc, err := d.newService(ctx, ownerID)
	if err != nil {
		return UploadResult{}, err
	}
	meta := &drive.File{Name: name, MimeType: mimeType}
	if d.cfg.FolderID != "" {
		meta.Parents = []string{d.cfg.FolderID}
	}
	f, err := svc.Files.Create(meta).
		Media(bytes.NewReader(data), googleapi.ContentType(mimeType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return UploadResult{}, fmt.Errorf("drive upload %s: %w", name, err)
	}
	_, err = svc.Permissions.Create(f.Id, &drive.Permission{Type: "anyone", Role: "reader"}).Context(ctx).Do()
	if err != nil {
		return UploadResult{}, fmt.Errorf("drive share %s: %w", f.Id, err)
	}
	return UploadResult{ExternalID: f.Id, PublicURL: d.cfg.ImageURLPrefix + f.Id}, nil
}

func (d *DriveStorage) Delete(ctx context.Context, externalID, ownerID string) error {
	svc, err := d.newService(ctx, ownerID)
	if err != nil {
		return err
	}
	err = svc.Files.Delete(externalID).Context(ctx).Do()
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("drive delete %s: %w", externalID, err)
	}
	return nil
}
