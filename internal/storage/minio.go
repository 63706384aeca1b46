package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrInvalidOwner is returned for owner IDs that cannot form a key prefix.
var ErrInvalidOwner = errors.New("invalid owner id")

// MinIOStorage is a Gateway on an S3-compatible bucket. Object keys are
// "<owner>/<uuid><ext>" and double as external IDs. The bucket is made
// anonymously readable so stored screenshot URLs never expire.
type MinIOStorage struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

// NewMinIOStorage creates a new MinIO storage client and ensures the bucket
// exists with a public-read policy.
func NewMinIOStorage(cfg *MinIOConfig) (*MinIOStorage, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio config missing")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	s := newMinIOStorage(mc, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		// ignore "already exists" style errors
		exist, xerr := mc.BucketExists(ctx, s.bucket)
		if xerr != nil || !exist {
			return nil, fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	if err := mc.SetBucketPolicy(ctx, s.bucket, publicReadPolicy(s.bucket)); err != nil {
		return nil, fmt.Errorf("minio bucket policy: %w", err)
	}
	return s, nil
}

func newMinIOStorage(mc *minio.Client, cfg *MinIOConfig) *MinIOStorage {
	s := &MinIOStorage{client: mc, bucket: cfg.Bucket, publicBase: strings.TrimRight(cfg.PublicBaseURL, "/")}
	if s.bucket == "" {
		s.bucket = DefaultBucket
	}
	if s.publicBase == "" && mc != nil {
		s.publicBase = strings.TrimRight(mc.EndpointURL().String(), "/")
	}
	return s
}

// publicReadPolicy grants anonymous GetObject on every key in bucket.
func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, bucket)
}

func (s *MinIOStorage) Upload(ctx context.Context, ownerID string, data []byte, name, mimeType string) (UploadResult, error) {
	if !validOwner(ownerID) {
		return UploadResult{}, fmt.Errorf("%w: %q", ErrInvalidOwner, ownerID)
	}
	key := objectKey(ownerID, name)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: mimeType})
	if err != nil {
		return UploadResult{}, fmt.Errorf("minio put %s: %w", key, err)
	}
	return UploadResult{ExternalID: key, PublicURL: s.objectURL(key)}, nil
}

func (s *MinIOStorage) Delete(ctx context.Context, externalID, ownerID string) error {
	if !ownsKey(ownerID, externalID) {
		return fmt.Errorf("%w: %s", ErrForeignObject, externalID)
	}
	err := s.client.RemoveObject(ctx, s.bucket, externalID, minio.RemoveObjectOptions{})
	if err != nil && !isMissingObject(err) {
		return fmt.Errorf("minio remove %s: %w", externalID, err)
	}
	return nil
}

func (s *MinIOStorage) objectURL(key string) string {
	return s.publicBase + "/" + s.bucket + "/" + key
}

func objectKey(ownerID, name string) string {
	return ownerID + "/" + uuid.NewString() + strings.ToLower(path.Ext(name))
}

// validOwner rejects IDs containing the key separator, which would let one
// owner's prefix nest inside another's.
func validOwner(ownerID string) bool {
	return ownerID != "" && !strings.Contains(ownerID, "/")
}

func ownsKey(ownerID, key string) bool {
	if !validOwner(ownerID) {
		return false
	}
	rest, ok := strings.CutPrefix(key, ownerID+"/")
	return ok && rest != "" && !strings.Contains(rest, "/")
}

func isMissingObject(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
