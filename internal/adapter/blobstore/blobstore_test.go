package blobstore

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openFileStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Provider:    ProviderFile,
		Dir:         t.TempDir(),
		SignBaseURL: "http://blob.local/sign",
		SignSecret:  "secret",
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SignedURL(t *testing.T) {
	ctx := context.Background()
	s := openFileStore(t)

	tests := []struct {
		sig    port.SignatureType
		method string
	}{
		{port.SignUpload, "PUT"},
		{port.SignDownload, "GET"},
	}
	for _, tt := range tests {
		t.Run(string(tt.sig), func(t *testing.T) {
			raw, err := s.SignedURL(ctx, "slugs/foo/default/1.tgz", tt.sig, time.Hour)
			require.NoError(t, err)
			u, err := url.Parse(raw)
			require.NoError(t, err)
			assert.Equal(t, "blob.local", u.Host)
			assert.Equal(t, tt.method, u.Query().Get("method"))
			assert.NotEmpty(t, u.Query().Get("signature"))
		})
	}
}

func TestStore_Exists(t *testing.T) {
	ctx := context.Background()
	s := openFileStore(t)

	ok, err := s.Exists(ctx, "missing.tgz")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.bucket.WriteAll(ctx, "present.tgz", []byte("data"), nil))
	ok, err = s.Exists(ctx, "present.tgz")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen_UnknownProvider(t *testing.T) {
	_, err := Open(context.Background(), Config{Provider: "ftp"})
	assert.Error(t, err)
}
