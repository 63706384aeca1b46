package storage

// MinIOConfig holds MinIO connection configuration
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// PublicBaseURL replaces the endpoint in object URLs, e.g. for a CDN
	// or reverse proxy in front of MinIO.
	PublicBaseURL string
}

// DriveConfig holds Google Drive gateway configuration
type DriveConfig struct {
	// FolderID is the parent folder for uploads; empty means the Drive root.
	FolderID string
	// Endpoint overrides the API base path.
	Endpoint string
	// ImageURLPrefix is prepended to the file ID to form a public URL.
	ImageURLPrefix string
}

const (
	DefaultBucket         = "stepdocs-screenshots"
	DefaultImageURLPrefix = "https://lh3.googleusercontent.com/d/"
)
