package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/facegate/internal/config"
)

const captureQuality = 90

// MinIOStore archives enrollment captures. Objects are written once per
// identity and read back by key; nothing lists or deletes them.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the capture bucket on first start.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// CaptureKey is the object key of an identity's enrollment capture.
func CaptureKey(identityID uuid.UUID) string {
	return "enrollments/" + identityID.String() + ".jpg"
}

// ArchiveCapture stores the normalized enrollment image as JPEG and returns its key.
func (s *MinIOStore) ArchiveCapture(ctx context.Context, identityID uuid.UUID, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: captureQuality}); err != nil {
		return "", fmt.Errorf("encode capture: %w", err)
	}

	key := CaptureKey(identityID)
	_, err := s.client.PutObject(ctx, s.bucket, key, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType:  "image/jpeg",
		UserMetadata: map[string]string{"identity-id": identityID.String()},
	})
	if err != nil {
		return "", fmt.Errorf("put capture %s: %w", key, err)
	}
	return key, nil
}

// GetCapture returns the archived capture for identityID, or (nil, nil) when
// none was archived.
func (s *MinIOStore) GetCapture(ctx context.Context, identityID uuid.UUID) ([]byte, error) {
	key := CaptureKey(identityID)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get capture %s: %w", key, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("read capture %s: %w", key, err)
	}
	return data, nil
}

// Ping checks MinIO connectivity.
func (s *MinIOStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
