// Package archive keeps a copy of every uploaded statement file.
package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"statement-reconciler/internal/models"
)

// Archiver stores raw statement bytes and returns where they were put
type Archiver interface {
	Archive(ctx context.Context, imp *models.StatementImport, content []byte) (string, error)
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Config configures the GCS archiver. An empty Bucket disables archiving.
type Config struct {
	Bucket          string        `mapstructure:"bucket"`
	Prefix          string        `mapstructure:"prefix"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a bucket is configured
func (c *Config) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if strings.HasPrefix(c.Bucket, "gs://") {
		return fmt.Errorf("bucket must be a bucket name, not a URI: %s", c.Bucket)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("archive timeout cannot be negative")
	}
	return nil
}

// bucketHandle is the part of a GCS bucket the archiver uses
type bucketHandle interface {
	NewWriter(ctx context.Context, object, contentType string) io.WriteCloser
	NewReader(ctx context.Context, object string) (io.ReadCloser, error)
}

type gcsBucket struct {
	bucket *storage.BucketHandle
}

func (b gcsBucket) NewWriter(ctx context.Context, object, contentType string) io.WriteCloser {
	w := b.bucket.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	return w
}

func (b gcsBucket) NewReader(ctx context.Context, object string) (io.ReadCloser, error) {
	return b.bucket.Object(object).NewReader(ctx)
}

// GCSArchiver writes statements to a Google Cloud Storage bucket
type GCSArchiver struct {
	client *storage.Client
	bucket bucketHandle
	config Config
}

// NewGCSArchiver creates an archiver. Without a credentials file the client
// uses Application Default Credentials.
func NewGCSArchiver(ctx context.Context, config Config) (*GCSArchiver, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &GCSArchiver{
		client: client,
		bucket: gcsBucket{bucket: client.Bucket(config.Bucket)},
		config: config,
	}, nil
}

// Close releases the storage client
func (a *GCSArchiver) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

// ObjectName returns the object path for an import:
// <prefix>/<account>/<yyyy-mm>/<import id>.<ext>
func (a *GCSArchiver) ObjectName(imp *models.StatementImport) string {
	created := imp.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	name := fmt.Sprintf("%s.%s", imp.ID, imp.FileType)
	return path.Join(strings.Trim(a.config.Prefix, "/"), imp.AccountID, created.UTC().Format("2006-01"), name)
}

// Archive implements Archiver
func (a *GCSArchiver) Archive(ctx context.Context, imp *models.StatementImport, content []byte) (string, error) {
	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	object := a.ObjectName(imp)
	w := a.bucket.NewWriter(ctx, object, contentType(imp.FileType))

	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write statement to GCS: %w", err)
	}
	// Close finalizes the upload
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", a.config.Bucket, object), nil
}

// Fetch implements Archiver
func (a *GCSArchiver) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if bucket != a.config.Bucket {
		return nil, fmt.Errorf("object %s is not in bucket %s", uri, a.config.Bucket)
	}

	r, err := a.bucket.NewReader(ctx, object)
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}

// ParseURI splits gs://bucket/path/to/object into bucket and object
func ParseURI(uri string) (string, string, error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

func contentType(fileType models.FileType) string {
	switch fileType {
	case models.FileTypePDF:
		return "application/pdf"
	case models.FileTypeOFX:
		return "application/x-ofx"
	default:
		return "application/octet-stream"
	}
}

// Nop discards statements. It is used when no bucket is configured.
type Nop struct{}

// Archive implements Archiver
func (Nop) Archive(ctx context.Context, imp *models.StatementImport, content []byte) (string, error) {
	return "", nil
}

// Fetch implements Archiver
func (Nop) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return nil, fmt.Errorf("archiving is disabled")
}
