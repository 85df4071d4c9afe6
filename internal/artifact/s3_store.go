package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/nao1215/a11yscan/internal/report"
)

// manifestName is the object written last to complete an S3 bundle.
const manifestName = "manifest.json"

// S3Config holds the connection settings for an S3-compatible store.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// manifest lists the files of a complete bundle.
type manifest struct {
	ID        string    `json:"id"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"createdAt"`
}

// S3Store keeps bundles as objects in one bucket, one key prefix per ID.
//
// Objects are uploaded first and the manifest last; a bundle without a
// manifest does not exist for readers.
type S3Store struct {
	client     *minio.Client
	bucketName string
	region     string
	prefix     string

	mu          sync.Mutex
	initialized bool
}

// NewS3Store creates an S3Store. The bucket is created on first use.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, errors.New("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	prefix := strings.Trim(strings.TrimSpace(cfg.Prefix), "/")
	if prefix != "" {
		prefix += "/"
	}

	return &S3Store{
		client:     client,
		bucketName: bucket,
		region:     region,
		prefix:     prefix,
	}, nil
}

// ensureBucket creates the bucket if needed. Only success is remembered; a
// failed check runs again on the next call. Cancellation of ctx is ignored.
func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
	}
	s.initialized = true
	return nil
}

func (s *S3Store) objectKey(id, name string) string {
	return s.prefix + id + "/" + name
}

// Create implements Store.
func (s *S3Store) Create(ctx context.Context, id string, files map[string][]byte) (err error) {
	if err := validateFiles(id, files); err != nil {
		return err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	exists, err := s.Exists(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	uploaded := make([]string, 0, len(names)+1)
	defer func() {
		if err != nil {
			s.removeKeys(context.WithoutCancel(ctx), uploaded)
		}
	}()

	for _, name := range names {
		key := s.objectKey(id, name)
		if err = s.put(ctx, key, files[name], report.ContentTypeFor(name)); err != nil {
			return fmt.Errorf("failed to upload %s: %w", name, err)
		}
		uploaded = append(uploaded, key)
	}

	data, err := json.Marshal(manifest{ID: id, Files: names, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	key := s.objectKey(id, manifestName)
	if err = s.put(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("failed to upload manifest: %w", err)
	}
	return nil
}

func (s *S3Store) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s *S3Store) removeKeys(ctx context.Context, keys []string) {
	for _, key := range keys {
		_ = s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{})
	}
}

func (s *S3Store) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *S3Store) readManifest(ctx context.Context, id string) (*manifest, error) {
	data, err := s.get(ctx, s.objectKey(id, manifestName))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest of %s: %w", id, err)
	}
	return &m, nil
}

// Open implements Store.
func (s *S3Store) Open(ctx context.Context, id, name string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	m, err := s.readManifest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(m.Files, name) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, id, name)
	}

	data, err := s.get(ctx, s.objectKey(id, name))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, id, name)
	}
	return data, err
}

// Exists implements Store.
func (s *S3Store) Exists(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return false, err
	}

	_, err := s.client.StatObject(ctx, s.bucketName, s.objectKey(id, manifestName), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, err
}

// List implements Store.
func (s *S3Store) List(ctx context.Context, id string) ([]string, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	m, err := s.readManifest(ctx, id)
	if err != nil {
		return nil, err
	}
	names := append([]string(nil), m.Files...)
	sort.Strings(names)
	return names, nil
}

// Delete implements Store. The manifest goes first so that a partially
// deleted bundle is already invisible.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	manifestKey := s.objectKey(id, manifestName)
	if err := s.client.RemoveObject(ctx, s.bucketName, manifestKey, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("failed to remove manifest: %w", err)
	}

	prefix := s.objectKey(id, "")
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return obj.Err
		}
		if err := s.client.RemoveObject(ctx, s.bucketName, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to remove %s: %w", obj.Key, err)
		}
	}
	return nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}
