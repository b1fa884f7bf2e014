package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/logging"
	"go.uber.org/zap"

	"github.com/jwulff/quill/internal/media"
	"github.com/jwulff/quill/internal/recording"
)

// S3Config locates a bucket. Endpoint is set for S3-compatible services.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
}

// s3API is the subset of the S3 client used by S3.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 stores blobs in an S3 bucket.
type S3 struct {
	client  s3API
	bucket  string
	baseURL string
}

type zapLogger struct{ log *zap.SugaredLogger }

func (z zapLogger) Logf(classification logging.Classification, format string, v ...interface{}) {
	if classification == logging.Warn {
		z.log.Warnf(format, v...)
		return
	}
	z.log.Debugf(format, v...)
}

// NewS3 loads AWS configuration and creates the client. Static keys, when
// given, override the default credential chain.
func NewS3(ctx context.Context, cfg S3Config, log *zap.SugaredLogger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithLogger(zapLogger{log: log}),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		switch {
		case cfg.Endpoint != "":
			base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
		default:
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, awsCfg.Region)
		}
	}
	return &S3{client: client, bucket: cfg.Bucket, baseURL: base}, nil
}

func (s *S3) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", path, err)
	}
	return path, nil
}

func (s *S3) PublicURL(ref string) string {
	return s.baseURL + "/" + ref
}

func (s *S3) Ref(assetURL string) (string, error) {
	return recording.RefUnder(assetURL, s.baseURL)
}

// Remove deletes the object. S3 deletes are idempotent; a NoSuchKey or
// NotFound answer from a compatible service is treated the same way.
func (s *S3) Remove(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "NoSuchKey", "NotFound":
				return nil
			}
		}
		return fmt.Errorf("delete object %s: %w", path, err)
	}
	return nil
}

// Fetch downloads the object behind a public asset URL.
func (s *S3) Fetch(ctx context.Context, assetURL string) ([]byte, string, error) {
	path, err := s.Ref(assetURL)
	if err != nil {
		return nil, "", err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, "", fmt.Errorf("get object %s: %w", path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read object %s: %w", path, err)
	}
	contentType := aws.ToString(out.ContentType)
	if contentType == "" {
		contentType = media.ContentTypeFor(path)
	}
	return data, contentType, nil
}
