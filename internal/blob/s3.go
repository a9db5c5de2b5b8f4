package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Store struct {
	client  S3API
	bucket  string
	baseURL string
}

// S3Options configure NewS3Store. Endpoint selects an S3-compatible service
// such as localstack or MinIO and switches to path-style addressing.
type S3Options struct {
	Region        string
	Endpoint      string
	Bucket        string
	PublicBaseURL string
}

func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	cfg, err := awsCfg.LoadDefaultConfig(ctx, awsCfg.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreWithClient(client, opts), nil
}

func NewS3StoreWithClient(client S3API, opts S3Options) *S3Store {
	base := opts.PublicBaseURL
	switch {
	case base != "":
	case opts.Endpoint != "":
		base = strings.TrimRight(opts.Endpoint, "/") + "/" + opts.Bucket
	default:
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region)
	}
	return &S3Store{client: client, bucket: opts.Bucket, baseURL: strings.TrimRight(base, "/")}
}

func (s *S3Store) PutBlob(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(data),
		ContentLength:        aws.Int64(int64(len(data))),
		ContentType:          aws.String(contentType),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
		Metadata:             map[string]string{"source": "fieldops"},
	})
	if err != nil {
		return "", fmt.Errorf("blob: s3 put %s: %w", key, err)
	}
	return s.baseURL + "/" + key, nil
}
