package port

import (
	"context"
	"time"
)

// SignatureType 是预签名 URL 的用途。
type SignatureType string

const (
	SignUpload   SignatureType = "UPLOAD"
	SignDownload SignatureType = "DOWNLOAD"
)

// BlobStore 为构建与运行时提供预签名访问地址。
type BlobStore interface {
	SignedURL(ctx context.Context, key string, sig SignatureType, expiry time.Duration) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
}
