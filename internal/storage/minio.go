// Package storage holds receipt images in an S3-compatible object store.
//
// The pipeline only ever reads bytes back through Fetch; uploads, presigned
// URLs and deletes serve the HTTP ingestion layer.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Client wraps a minio connection and its bucket.
type Client struct {
	mc     *minio.Client
	bucket string
}

// New connects using MINIO_* environment variables and verifies the bucket
// exists.
func New(ctx context.Context) (*Client, error) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "minio:9000"
	}
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	bucket := os.Getenv("MINIO_BUCKET")
	if bucket == "" {
		bucket = "receipts"
	}
	useSSL := os.Getenv("MINIO_USE_SSL") == "true"

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exists, err := mc.BucketExists(checkCtx, bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	return &Client{mc: mc, bucket: bucket}, nil
}

// Upload stores a receipt image under a date-partitioned key
// (YYYY/MM/{filename}) and returns the object reference.
func (c *Client) Upload(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	now := time.Now()
	objectName := fmt.Sprintf("%d/%02d/%s", now.Year(), now.Month(), filename)

	_, err := c.mc.PutObject(ctx, c.bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("uploading image: %w", err)
	}
	return objectName, nil
}

// Fetch reads an image back by reference, returning the bytes and stored
// content type. This is the single storage operation the pipeline uses.
func (c *Client) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("opening object %s: %w", ref, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("statting object %s: %w", ref, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("reading object %s: %w", ref, err)
	}
	return data, info.ContentType, nil
}

// PresignedURL generates a time-limited download URL for an image.
func (c *Client) PresignedURL(ctx context.Context, ref string) (string, error) {
	url, err := c.mc.PresignedGetObject(ctx, c.bucket, ref, 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("generating presigned URL: %w", err)
	}
	return url.String(), nil
}

// Delete removes an image from storage.
func (c *Client) Delete(ctx context.Context, ref string) error {
	return c.mc.RemoveObject(ctx, c.bucket, ref, minio.RemoveObjectOptions{})
}

// FileExtension maps an upload content type to the stored file extension.
func FileExtension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
