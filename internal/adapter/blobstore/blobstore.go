package blobstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/s3blob"
)

var _ port.BlobStore = (*Store)(nil)

const (
	ProviderS3   = "s3"
	ProviderFile = "file"
)

// Config 描述源码包/构建产物所在的对象存储。
type Config struct {
	Provider  string
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	PathStyle bool
	Insecure  bool
	// 本地目录存储，仅用于开发环境
	Dir         string
	SignBaseURL string
	SignSecret  string
}

// Store 基于 gocloud blob 为构建与运行时提供预签名地址。
type Store struct {
	bucket *blob.Bucket
}

func New(bucket *blob.Bucket) *Store {
	return &Store{bucket: bucket}
}

// Open 按配置打开 bucket。
func Open(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Provider {
	case ProviderS3, "":
		bkt, err := openS3(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return New(bkt), nil
	case ProviderFile:
		base, err := url.Parse(cfg.SignBaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse sign base url: %w", err)
		}
		bkt, err := fileblob.OpenBucket(cfg.Dir, &fileblob.Options{
			URLSigner: fileblob.NewURLSignerHMAC(base, []byte(cfg.SignSecret)),
		})
		if err != nil {
			return nil, fmt.Errorf("open file bucket %s: %w", cfg.Dir, err)
		}
		return New(bkt), nil
	default:
		return nil, fmt.Errorf("unsupported blob provider %q", cfg.Provider)
	}
}

func openS3(ctx context.Context, cfg Config) (*blob.Bucket, error) {
	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		DisableSSL:       aws.Bool(cfg.Insecure),
		S3ForcePathStyle: aws.Bool(cfg.PathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}
	bkt, err := s3blob.OpenBucket(ctx, sess, cfg.Bucket, nil)
	if err != nil {
		return nil, fmt.Errorf("open s3 bucket %s: %w", cfg.Bucket, err)
	}
	return bkt, nil
}

// SignedURL 生成上传（PUT）或下载（GET）的预签名地址。
func (s *Store) SignedURL(ctx context.Context, key string, sig port.SignatureType, expiry time.Duration) (string, error) {
	method := http.MethodGet
	if sig == port.SignUpload {
		method = http.MethodPut
	}
	u, err := s.bucket.SignedURL(ctx, key, &blob.SignedURLOptions{Expiry: expiry, Method: method})
	if err != nil {
		return "", fmt.Errorf("sign %s %s: %w", method, key, err)
	}
	return u, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

func (s *Store) Close() error {
	return s.bucket.Close()
}
