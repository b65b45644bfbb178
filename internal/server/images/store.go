// Package images uploads user avatars to S3-compatible object storage.
package images

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store uploads an image under ownerKey and returns its public URL. Uploading
// again with the same key overwrites the previous image.
type Store interface {
	Upload(ctx context.Context, body io.Reader, ownerKey, contentType string) (string, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}
)

// S3Config points at the bucket; BaseEndpoint is set for MinIO and other
// S3-compatible servers.
type S3Config struct {
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	BaseEndpoint string
}

type S3Store struct {
	cfg    S3Config
	client *s3.Client
	now    func() time.Time
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{cfg: cfg, client: client, now: time.Now}, nil
}

func (s *S3Store) Upload(ctx context.Context, body io.Reader, ownerKey, contentType string) (string, error) {
	bucket := s.cfg.Bucket
	key := ownerKey

	_, err := putObject(s.client, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	return s.objectURL(key), nil
}

// objectURL is path-style; the version query busts caches after an overwrite.
func (s *S3Store) objectURL(key string) string {
	base := s.cfg.BaseEndpoint
	if base == "" {
		base = fmt.Sprintf("https://s3.%s.amazonaws.com/", s.cfg.Region)
	}
	base = strings.TrimSuffix(base, "/")
	return fmt.Sprintf("%s/%s/%s?v=%d", base, s.cfg.Bucket, key, s.now().Unix())
}
