package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu        sync.Mutex
	parts     map[int32][]byte
	failPart  int32
	completed *s3.CompleteMultipartUploadInput
	aborted   int
	deleted   []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{parts: map[int32][]byte{}}
}

func (f *fakeS3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	n := aws.ToInt32(params.PartNumber)
	if n == f.failPart {
		return nil, errors.New("connection reset")
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.parts[n] = data
	f.mu.Unlock()
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", n))}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.completed = params
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.aborted++
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return nil, errors.New("api error NotFound: 404")
}

func TestS3Storage_UploadMultipart(t *testing.T) {
	fake := newFakeS3()
	s := &S3Storage{client: fake, bucket: "b"}
	data := []byte("0123456789abcdefghijXYZ")

	err := s.UploadMultipart(context.Background(), "A.jp2", bytes.NewReader(data), int64(len(data)), 10, DerivativeContentType)
	require.NoError(t, err)

	require.Len(t, fake.parts, 3)
	assert.Equal(t, []byte("0123456789"), fake.parts[1])
	assert.Equal(t, []byte("abcdefghij"), fake.parts[2])
	assert.Equal(t, []byte("XYZ"), fake.parts[3])

	require.NotNil(t, fake.completed)
	completed := fake.completed.MultipartUpload.Parts
	require.Len(t, completed, 3)
	for i, p := range completed {
		assert.Equal(t, int32(i+1), aws.ToInt32(p.PartNumber))
		assert.Equal(t, fmt.Sprintf("etag-%d", i+1), aws.ToString(p.ETag))
	}
	assert.Zero(t, fake.aborted)
}

func TestS3Storage_UploadMultipartAbortsOnPartFailure(t *testing.T) {
	fake := newFakeS3()
	fake.failPart = 2
	s := &S3Storage{client: fake, bucket: "b"}
	data := bytes.Repeat([]byte("x"), 30)

	err := s.UploadMultipart(context.Background(), "A.jp2", bytes.NewReader(data), int64(len(data)), 10, DerivativeContentType)
	require.Error(t, err)

	assert.Nil(t, fake.completed)
	assert.Equal(t, 1, fake.aborted)
}

func TestS3Storage_DeleteAndExists(t *testing.T) {
	fake := newFakeS3()
	s := &S3Storage{client: fake, bucket: "b"}

	require.NoError(t, s.Delete(context.Background(), "A/1.jp2"))
	assert.Equal(t, []string{"A/1.jp2"}, fake.deleted)

	exists, err := s.Exists(context.Background(), "A.jp2")
	require.NoError(t, err)
	assert.False(t, exists)
}
