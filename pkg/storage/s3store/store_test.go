package s3store

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePut struct {
	key, contentType string
	body             []byte
}

func (f *fakePut) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.key = aws.ToString(in.Key)
	f.contentType = aws.ToString(in.ContentType)
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

type fakePresign struct {
	expires time.Duration
}

func (f *fakePresign) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := &s3.PresignOptions{}
	for _, fn := range optFns {
		fn(opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://bucket.s3.amazonaws.com/" + aws.ToString(in.Key) + "?X-Amz-Signature=abc"}, nil
}

func TestStore_PutPresigns(t *testing.T) {
	put, presign := &fakePut{}, &fakePresign{}
	s := NewWithClients(put, presign, "bucket", "bioinsight", 0)

	res, err := s.Put(context.Background(), []byte("x"), "udi/a.csv", "text/csv")
	require.NoError(t, err)

	assert.Equal(t, "bioinsight/udi/a.csv", put.key)
	assert.Equal(t, "text/csv", put.contentType)
	assert.Equal(t, []byte("x"), put.body)
	assert.Equal(t, DefaultExpiry, presign.expires)
	assert.Contains(t, res.URL, "bioinsight/udi/a.csv")
}
