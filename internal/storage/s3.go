package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures an S3-compatible object store.
type S3Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	UsePathStyle  bool
}

// S3Store implements Store against S3-compatible object storage.
type S3Store struct {
	cfg    S3Config
	client *s3.Client
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &S3Store{cfg: cfg, client: s3.New(options)}, nil
}

func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no data to upload")
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	key = strings.TrimLeft(key, "/")
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	return key, nil
}

func (s *S3Store) Download(ctx context.Context, key string) ([]byte, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(strings.TrimLeft(key, "/")),
	})
	if err != nil {
		return nil, "", fmt.Errorf("download from s3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read s3 object: %w", err)
	}
	contentType := ""
	if out.ContentType != nil {
		contentType = *out.ContentType
	}
	return data, contentType, nil
}

func (s *S3Store) PublicURL(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}

// ParseKey recovers the object key from a public URL. It understands the
// configured public base URL, virtual-hosted S3 URLs and path-style URLs; the
// bucket embedded in the URL must match the store's bucket.
func (s *S3Store) ParseKey(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse storage url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("storage url %q is not absolute", rawURL)
	}

	if s.cfg.PublicBaseURL != "" {
		base := strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/"
		if full := u.Scheme + "://" + u.Host + u.Path; strings.HasPrefix(full, base) {
			return strings.TrimPrefix(full, base), nil
		}
	}

	path := strings.TrimLeft(u.Path, "/")

	// Virtual-hosted style: <bucket>.s3.<region>.amazonaws.com/<key> or
	// <bucket>.<endpoint-host>/<key>.
	if strings.HasPrefix(u.Host, s.cfg.Bucket+".") {
		if path == "" {
			return "", fmt.Errorf("storage url %q has no object key", rawURL)
		}
		return path, nil
	}

	// Path style: <host>/<bucket>/<key>.
	if strings.HasPrefix(path, s.cfg.Bucket+"/") {
		key := strings.TrimPrefix(path, s.cfg.Bucket+"/")
		if key == "" {
			return "", fmt.Errorf("storage url %q has no object key", rawURL)
		}
		return key, nil
	}

	return "", fmt.Errorf("url %q does not reference bucket %q", rawURL, s.cfg.Bucket)
}

var _ Store = (*S3Store)(nil)
