package s3store

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"bioinsight-be/pkg/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultExpiry is the longest lifetime a SigV4 presigned URL may have.
const DefaultExpiry = 7 * 24 * time.Hour

type putAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store uploads to a bucket and hands back presigned GET URLs.
type Store struct {
	client  putAPI
	presign presignAPI
	bucket  string
	prefix  string
	expiry  time.Duration
}

var _ storage.BlobStore = (*Store)(nil)

func New(ctx context.Context, region, bucket, prefix string, expiry time.Duration) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return NewWithClients(client, s3.NewPresignClient(client), bucket, prefix, expiry), nil
}

func NewWithClients(client putAPI, presign presignAPI, bucket, prefix string, expiry time.Duration) *Store {
	if expiry <= 0 || expiry > DefaultExpiry {
		expiry = DefaultExpiry
	}
	return &Store{client: client, presign: presign, bucket: bucket, prefix: prefix, expiry: expiry}
}

func (s *Store) Put(ctx context.Context, data []byte, key, mime string) (storage.PutResult, error) {
	objectKey := key
	if s.prefix != "" {
		objectKey = path.Join(s.prefix, key)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mime),
	})
	if err != nil {
		return storage.PutResult{}, fmt.Errorf("put s3://%s/%s: %w", s.bucket, objectKey, err)
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return storage.PutResult{}, fmt.Errorf("presign s3://%s/%s: %w", s.bucket, objectKey, err)
	}
	return storage.PutResult{URL: req.URL}, nil
}
