// Package signature keeps the buyer's acceptance signatures in S3-compatible
// object storage. The offer itself only records the object key.
package signature

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/warp/offer-engine/offer"
)

type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	Prefix          string
}

// Enabled reports whether enough is configured to reach a bucket.
func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type Vault struct {
	raw    *minio.Client
	bucket string
	prefix string
}

func NewVault(cfg Config) (*Vault, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	return &Vault{
		raw:    client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Store uploads a signature image for the offer and returns its object key.
func (v *Vault) Store(ctx context.Context, offerID offer.OfferID, data []byte) (string, error) {
	if v == nil || v.raw == nil {
		return "", fmt.Errorf("signature vault is not configured")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty signature")
	}

	contentType := http.DetectContentType(data)
	key := path.Join(v.offerDir(offerID), uuid.NewString()+extension(contentType))

	_, err := v.raw.PutObject(ctx, v.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"offer-id": string(offerID),
		},
	})
	if err != nil {
		return "", fmt.Errorf("put object %q failed: %w", key, err)
	}

	return key, nil
}

// Holds reports whether key is a signature this vault stored for the offer.
// Accept also takes plain signature references, which live elsewhere.
func (v *Vault) Holds(offerID offer.OfferID, key string) bool {
	return strings.HasPrefix(key, v.offerDir(offerID)+"/")
}

func (v *Vault) offerDir(offerID offer.OfferID) string {
	return path.Join(v.prefix, "signatures", string(offerID))
}

// PresignedURL returns a temporary download link for a stored signature.
func (v *Vault) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if v == nil || v.raw == nil {
		return "", fmt.Errorf("signature vault is not configured")
	}

	u, err := v.raw.PresignedGetObject(ctx, v.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign get object %q failed: %w", key, err)
	}

	return u.String(), nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "application/pdf":
		return ".pdf"
	}
	return ".bin"
}
