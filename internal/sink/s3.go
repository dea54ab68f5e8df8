package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"price-aggregator/internal/config"
	"price-aggregator/internal/models"
)

// ObjectAPI is the subset of the S3 client the sink uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 archives each result under <prefix>/<jobId>.json and mirrors it to <prefix>/latest.json.
type S3 struct {
	client ObjectAPI
	bucket string
	prefix string
}

func NewS3(client ObjectAPI, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// NewS3Client builds an S3 client from config, honoring a custom endpoint for MinIO-style stores.
func NewS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	}), nil
}

func (s *S3) key(name string) string {
	if s.prefix == "" {
		return name + ".json"
	}
	return path.Join(s.prefix, name+".json")
}

func (s *S3) Write(ctx context.Context, result models.AggregateResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if result.JobID != "" {
		if err := s.put(ctx, s.key(result.JobID), body); err != nil {
			return err
		}
	}
	return s.put(ctx, s.key("latest"), body)
}

func (s *S3) put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *S3) ReadLatest(ctx context.Context) (models.AggregateResult, error) {
	return s.get(ctx, s.key("latest"))
}

func (s *S3) Read(ctx context.Context, jobID string) (models.AggregateResult, error) {
	if strings.TrimSpace(jobID) == "" {
		return models.AggregateResult{}, ErrNotFound
	}
	return s.get(ctx, s.key(jobID))
}

func (s *S3) get(ctx context.Context, key string) (models.AggregateResult, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return models.AggregateResult{}, ErrNotFound
		}
		return models.AggregateResult{}, fmt.Errorf("get object %s: %w", key, err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return models.AggregateResult{}, fmt.Errorf("read object %s: %w", key, err)
	}
	var res models.AggregateResult
	if err := json.Unmarshal(body, &res); err != nil {
		return models.AggregateResult{}, fmt.Errorf("decode object %s: %w", key, err)
	}
	return res, nil
}
