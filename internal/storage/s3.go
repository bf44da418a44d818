package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// FileStore holds uploaded submission files in S3. Downloads never go
// through the API process; the download endpoint redirects to a short-lived
// presigned GET instead.
type FileStore struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// NewFileStore creates the S3-backed file store using the SDK's default
// credential chain.
func NewFileStore(bucket, region string) (*FileStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("file store bucket not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &FileStore{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
	}, nil
}

// Upload stores one file under key.
func (fs *FileStore) Upload(ctx context.Context, key, contentType string, body io.Reader) error {
	_, err := fs.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(fs.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// PresignDownload returns a time-limited GET URL for key, forcing an
// attachment disposition so browsers download rather than render untrusted
// uploads.
func (fs *FileStore) PresignDownload(ctx context.Context, key, filename string, expires time.Duration) (string, error) {
	req, err := fs.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(fs.bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", filename)),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}
