package signature_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/offer-engine/signature"
)

// fakeS3 accepts PUT object requests and remembers what was uploaded.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.objects[r.URL.Path] = body
	f.types[r.URL.Path] = r.Header.Get("Content-Type")
	f.mu.Unlock()

	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

func newVault(t *testing.T, endpoint string) *signature.Vault {
	t.Helper()
	v, err := signature.NewVault(signature.Config{
		Endpoint:        endpoint,
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
		Bucket:          "offers",
		Region:          "us-east-1",
	})
	require.NoError(t, err)
	return v
}

func TestVault_StoreUploadsUnderOfferPrefix(t *testing.T) {
	// GIVEN: An S3 endpoint
	// WHEN: A PNG signature is stored for offer-1
	// THEN: The object lands in the bucket under signatures/offer-1 with an image content type

	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	server := httptest.NewServer(fake)
	defer server.Close()

	vault := newVault(t, strings.TrimPrefix(server.URL, "http://"))
	png := append([]byte("\x89PNG\r\n\x1a\n"), []byte("signature-bytes")...)

	key, err := vault.Store(context.Background(), "offer-1", png)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "signatures/offer-1/"))
	assert.True(t, strings.HasSuffix(key, ".png"))
	assert.True(t, vault.Holds("offer-1", key))
	assert.False(t, vault.Holds("offer-2", key))
	assert.False(t, vault.Holds("offer-1", "sig-001"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	// The body may be chunk-signed on plain HTTP; the payload is still in it.
	assert.True(t, bytes.Contains(fake.objects["/offers/"+key], png))
	assert.Equal(t, "image/png", fake.types["/offers/"+key])
}

func TestVault_StoreRejectsEmpty(t *testing.T) {
	vault := newVault(t, "localhost:9000")

	_, err := vault.Store(context.Background(), "offer-1", nil)

	assert.Error(t, err)
}

func TestVault_PresignedURL(t *testing.T) {
	vault := newVault(t, "localhost:9000")

	u, err := vault.PresignedURL(context.Background(), "signatures/offer-1/a.png", 15*time.Minute)
	require.NoError(t, err)

	assert.Contains(t, u, "/offers/signatures/offer-1/a.png")
	assert.Contains(t, u, "X-Amz-Signature=")
	assert.Contains(t, u, "X-Amz-Expires=900")
}
