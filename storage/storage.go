// Package storage reads and writes message blobs in an S3-compatible
// object store, keyed by content hash.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/driftmail/keel/consts"
)

type S3Storage struct {
	client *s3.Client
	bucket string
}

// New builds an S3 client against the given endpoint. Path-style
// addressing keeps self-hosted stores (MinIO, Garage) working.
func New(endpoint, accessKey, secretKey, bucket string, useTLS bool) (*S3Storage, error) {
	if endpoint == "" || bucket == "" {
		return nil, fmt.Errorf("endpoint and bucket are required")
	}

	scheme := "https"
	if !useTLS {
		scheme = "http"
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = scheme + "://" + endpoint
	}

	cfg := aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &S3Storage{client: client, bucket: bucket}, nil
}

// Exists reports whether the blob for a content hash is present.
func (s *S3Storage) Exists(ctx context.Context, contentHash string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(contentHash)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// Put uploads a blob. Content-addressed keys make overwrites harmless,
// but the existence check skips redundant transfers of shared content.
func (s *S3Storage) Put(ctx context.Context, contentHash string, body io.Reader, size int64) error {
	exists, err := s.Exists(ctx, contentHash)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(contentHash)),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("message/rfc822"),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", consts.ErrS3UploadFailed, err)
	}
	return nil
}

// Get streams a blob. The caller must close the reader.
func (s *S3Storage) Get(ctx context.Context, contentHash string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(contentHash)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, consts.ErrNoSuchObject
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return out.Body, nil
}

// Delete removes a blob. Deleting an absent key is not an error.
func (s *S3Storage) Delete(ctx context.Context, contentHash string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(contentHash)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// key fans blobs out under a two-character prefix so object listings
// stay balanced.
func (s *S3Storage) key(contentHash string) string {
	if len(contentHash) < 2 {
		return contentHash
	}
	return contentHash[:2] + "/" + contentHash
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
