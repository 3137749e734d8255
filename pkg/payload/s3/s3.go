package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/driftline/ledger/pkg/payload"
)

// PayloadStore implements payload.Store on an S3 bucket. Keys combine a
// content hash with a nanoid suffix, so identical payloads from different
// records stay independently erasable.
type PayloadStore struct {
	client *s3.Client
	bucket string
	prefix string
}

type PayloadStoreParams struct {
	Client *s3.Client
	Bucket string
	Prefix string
}

func NewPayloadStore(params PayloadStoreParams) *PayloadStore {
	prefix := params.Prefix
	if prefix == "" {
		prefix = "payloads"
	}
	return &PayloadStore{
		client: params.Client,
		bucket: params.Bucket,
		prefix: prefix,
	}
}

// Put stores the payload bytes and returns the locator. The locator is
// opaque to callers; only this store understands its shape.
func (p *PayloadStore) Put(ctx context.Context, data []byte) (string, error) {
	digest := sha256.Sum256(data)
	suffix, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate locator suffix: %w", err)
	}
	key := fmt.Sprintf("%s/%s-%s", p.prefix, hex.EncodeToString(digest[:8]), suffix)

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload payload: %w", err)
	}
	return key, nil
}

// Get returns the payload bytes, or payload.ErrNotFound once erased.
func (p *PayloadStore) Get(ctx context.Context, locator string) ([]byte, error) {
	result, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(locator),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, payload.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payload %s: %w", locator, err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, fmt.Errorf("failed to read payload %s: %w", locator, err)
	}
	return buf.Bytes(), nil
}

// Erase deletes the object behind the locator. Idempotent: erasing an
// already-erased locator succeeds.
func (p *PayloadStore) Erase(ctx context.Context, locator string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(locator),
	})
	if err != nil {
		return fmt.Errorf("failed to erase payload %s: %w", locator, err)
	}
	return nil
}
