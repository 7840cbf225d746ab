package backend

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/maxiofs/storehub/internal/provider"
	"github.com/sirupsen/logrus"
)

// S3API is the subset of the S3 client used by storehub
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// NewS3Client builds an S3 client with static credentials for p. Every kind
// except AWS itself is addressed path-style at its resolved endpoint.
func NewS3Client(p *provider.StorageProvider) (S3API, error) {
	endpoint := ResolveEndpoint(p)
	if endpoint == "" && p.Kind != provider.KindS3 {
		return nil, fmt.Errorf("%w: %s", ErrEndpointRequired, p.Kind)
	}

	cfg := aws.Config{
		Region:      ResolveRegion(p),
		Credentials: credentials.NewStaticCredentialsProvider(p.Credentials.AccessKey, p.Credentials.SecretKey, ""),
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Transfer stores objects in a bucket of an S3-compatible provider
type S3Transfer struct {
	client   S3API
	bucket   string
	endpoint string
}

// Put uploads the object
func (t *S3Transfer) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string, metadata map[string]string) (*PutResult, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return nil, ErrInvalidKey
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		Metadata:      metadata,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := t.client.PutObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to put object: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"endpoint": t.endpoint,
		"bucket":   t.bucket,
		"key":      key,
		"size":     size,
	}).Debug("Uploaded object to remote S3")

	result := &PutResult{
		Location: "s3://" + t.bucket + "/" + key,
		Size:     size,
	}
	if out != nil && out.ETag != nil {
		result.ETag = strings.Trim(*out.ETag, `"`)
	}
	return result, nil
}

// Probe checks that the bucket exists and the credentials can access it
func (t *S3Transfer) Probe(ctx context.Context) error {
	_, err := t.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(t.bucket)})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", t.bucket, err)
	}
	return nil
}
