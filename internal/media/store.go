// Package media stores listing images in MinIO after checking their magic
// bytes.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	MaxUploadBytes = 5 << 20
	PresignExpiry  = time.Hour
)

var ErrTooLarge = errors.New("upload exceeds 5 MiB")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// objectClient is the subset of *minio.Client used here.
type objectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration, params url.Values) (*url.URL, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
}

type Store struct {
	client objectClient
	bucket string
	now    func() time.Time
}

type Upload struct {
	Key         string    `json:"key"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	URL         string    `json:"url"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return newStoreWithClient(client, cfg.Bucket), nil
}

func newStoreWithClient(client objectClient, bucket string) *Store {
	return &Store{client: client, bucket: bucket, now: time.Now}
}

// EnsureBucket creates the bucket on first start.
func (s *Store) EnsureBucket(ctx context.Context) error {
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

// Put validates and stores an image for userID. r is read up to one byte past
// the limit so oversize uploads are rejected without buffering them whole.
func (s *Store) Put(ctx context.Context, userID string, r io.Reader) (Upload, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return Upload{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return Upload{}, ErrTooLarge
	}
	format, err := Detect(data)
	if err != nil {
		return Upload{}, err
	}

	key := ObjectKey(userID, uuid.NewString(), format)
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: format.ContentType,
	}); err != nil {
		return Upload{}, fmt.Errorf("put object %s: %w", key, err)
	}

	link, err := s.PresignedURL(ctx, key)
	if err != nil {
		return Upload{}, err
	}
	return Upload{
		Key:         key,
		ContentType: format.ContentType,
		Size:        int64(len(data)),
		URL:         link,
		ExpiresAt:   s.now().Add(PresignExpiry),
	}, nil
}

func (s *Store) PresignedURL(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, PresignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

func ObjectKey(userID, id string, format Format) string {
	return fmt.Sprintf("listings/%s/%s.%s", userID, id, format.Ext)
}

// OwnedBy reports whether key is an upload key for userID, i.e. exactly
// listings/<userID>/<uuid>.<ext> with a supported extension.
func OwnedBy(key, userID string) bool {
	if userID == "" {
		return false
	}
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != "listings" || parts[1] != userID {
		return false
	}
	name, ext, ok := strings.Cut(parts[2], ".")
	if !ok {
		return false
	}
	if _, err := uuid.Parse(name); err != nil || len(name) != 36 {
		return false
	}
	switch ext {
	case FormatJPEG.Ext, FormatPNG.Ext, FormatGIF.Ext, FormatWebP.Ext:
		return true
	default:
		return false
	}
}
