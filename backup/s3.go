package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kjk/kvs"
	"github.com/kjk/kvs/log"
	"github.com/kjk/kvs/u"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Access   string
	Secret   string
	Bucket   string
	Endpoint string
	Region   string
	// use http instead of https, for local minio servers
	Insecure     bool
	RequestTrace io.Writer
}

// S3ConfigFromEnv reads config from KVS_S3_ACCESS, KVS_S3_SECRET,
// KVS_S3_BUCKET, KVS_S3_ENDPOINT and KVS_S3_REGION
func S3ConfigFromEnv() *S3Config {
	return &S3Config{
		Access:   os.Getenv("KVS_S3_ACCESS"),
		Secret:   os.Getenv("KVS_S3_SECRET"),
		Bucket:   os.Getenv("KVS_S3_BUCKET"),
		Endpoint: os.Getenv("KVS_S3_ENDPOINT"),
		Region:   os.Getenv("KVS_S3_REGION"),
	}
}

func (c *S3Config) Validate() error {
	if c == nil {
		return errors.New("must provide config")
	}
	var missing []string
	if c.Access == "" {
		missing = append(missing, "Access")
	}
	if c.Secret == "" {
		missing = append(missing, "Secret")
	}
	if c.Bucket == "" {
		missing = append(missing, "Bucket")
	}
	if c.Endpoint == "" {
		missing = append(missing, "Endpoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing S3 config values: %v", missing)
	}
	return nil
}

type S3 struct {
	Client *minio.Client
	Bucket string
}

// NewS3 connects to S3 and checks that the bucket exists
func NewS3(ctx context.Context, config *S3Config) (*S3, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	mc, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.Access, config.Secret, ""),
		Region: config.Region,
		Secure: !config.Insecure,
	})
	if err != nil {
		return nil, err
	}
	if config.RequestTrace != nil {
		mc.TraceOn(config.RequestTrace)
	}
	found, err := mc.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("bucket '%s' doesn't exist", config.Bucket)
	}
	return &S3{
		Client: mc,
		Bucket: config.Bucket,
	}, nil
}

func contentTypeFor(path string) string {
	switch u.CompressionFromPath(path) {
	case u.CompressionGzip:
		return "application/gzip"
	case u.CompressionZstd:
		return "application/zstd"
	case u.CompressionBrotli:
		return "application/x-brotli"
	}
	return "application/octet-stream"
}

// Upload uploads a local backup file as remotePath
func (c *S3) Upload(ctx context.Context, remotePath string, path string) (minio.UploadInfo, error) {
	opts := minio.PutObjectOptions{
		ContentType: contentTypeFor(remotePath),
	}
	info, err := c.Client.FPutObject(ctx, c.Bucket, remotePath, path, opts)
	if err != nil {
		return info, fmt.Errorf("upload of '%s' as '%s' failed: %w", path, remotePath, err)
	}
	log.Verbosef("backup: uploaded '%s' to s3://%s/%s (%s)\n", path, c.Bucket, remotePath, u.FormatSize(info.Size))
	log.Event("kvs.backup.s3", "bucket", c.Bucket, "remote", remotePath, "size", info.Size)
	return info, nil
}

// Download downloads remotePath to dstPath, atomically
func (c *S3) Download(ctx context.Context, dstPath string, remotePath string) error {
	obj, err := c.Client.GetObject(ctx, c.Bucket, remotePath, minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer obj.Close()

	if err = os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return err
	}
	return copyAtomically(dstPath, obj)
}

// Exists returns true if remotePath exists in the bucket
func (c *S3) Exists(ctx context.Context, remotePath string) bool {
	_, err := c.Client.StatObject(ctx, c.Bucket, remotePath, minio.StatObjectOptions{})
	return err == nil
}

// RestoreS3 downloads a backup from remotePath and restores it with Restore.
// Returns the number of keys in restored store
func RestoreS3(ctx context.Context, c *S3, remotePath string, opts *kvs.Options) (int, error) {
	if !c.Exists(ctx, remotePath) {
		return 0, fmt.Errorf("'%s' doesn't exist in bucket '%s'", remotePath, c.Bucket)
	}
	dir, err := os.MkdirTemp("", "kvs-restore-")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(dir)

	// keep the name so that compression is detected from extension
	path := filepath.Join(dir, filepath.Base(remotePath))
	if err = c.Download(ctx, path, remotePath); err != nil {
		return 0, fmt.Errorf("download of '%s' failed: %w", remotePath, err)
	}
	log.Verbosef("backup: downloaded s3://%s/%s (%s)\n", c.Bucket, remotePath, u.FormatSize(u.FileSize(path)))
	return Restore(path, opts)
}
