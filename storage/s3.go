package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/qupskd/qupskd/chain"
)

// S3Sink writes derived secrets to Amazon S3 or a compatible object store,
// one <alias>.key object per relationship. S3 object puts are atomic, so a
// reader never observes a partial secret.
//
// Credentials come from the standard AWS environment/profile chain.
type S3Sink struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Sink creates an S3 sink writing under bucketName/prefix. An empty
// endpoint uses AWS; set it for S3-compatible services.
func NewS3Sink(bucketName, prefix, region, endpoint string, log *slog.Logger) (*S3Sink, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)

	return &S3Sink{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      prefix,
		log:         log,
		locationURI: uri,
	}, nil
}

// Put replaces the <prefix>/<alias>.key object with the encoded secret,
// requesting server-side encryption at rest.
func (s *S3Sink) Put(ctx context.Context, secret chain.DerivedSecret) error {
	start := time.Now()
	key := path.Join(s.prefix, secret.Alias+".key")

	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucketName),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(secret.Encode()),
		ContentType:          aws.String("application/octet-stream"),
		ServerSideEncryption: aws.String("AES256"),
	})
	if err != nil {
		return fmt.Errorf("failed to write secret to S3: %w", err)
	}

	s.log.Debug("Wrote derived secret to S3",
		slog.String("bucket", s.bucketName),
		slog.String("key", key),
		slog.Uint64("generation", secret.Generation),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Name returns a unique identifier for this sink.
func (s *S3Sink) Name() string {
	return fmt.Sprintf("s3-%s-%s", s.bucketName, s.prefix)
}
