package source

import (
	"context"
	stderr "errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statdash/statdash/internal/config"
	"github.com/statdash/statdash/pkg/errors"
)

type fakeS3 struct {
	objects map[string]string
	err     error
	keys    []string
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(params.Key)
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[key]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &s3.HeadBucketOutput{}, nil
}

func TestS3Store_Ping(t *testing.T) {
	store := newS3Store(&fakeS3{}, "sdg", "", nil)
	assert.NoError(t, store.Ping(context.Background()))

	store = newS3Store(&fakeS3{err: stderr.New("connection refused")}, "sdg", "", nil)
	err := store.Ping(context.Background())
	assert.True(t, errors.HasCode(err, errors.ErrCodeSourceUnavailable))
}

func TestS3Store_Load(t *testing.T) {
	client := &fakeS3{objects: map[string]string{
		"tables/SDG_1_1.csv": "year,value\n2020,3.5\n",
	}}
	store := newS3Store(client, "sdg", "tables/", nil)

	table, err := store.Load(context.Background(), "SDG_1_1")
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())
	assert.Equal(t, []string{"tables/SDG_1_1.csv"}, client.keys)
}

func TestS3Store_ErrorTranslation(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  errors.ErrorCode
		retryable bool
	}{
		{name: "missing key", err: nil, wantCode: errors.ErrCodeSourceNotFound},
		{name: "missing bucket", err: &s3types.NoSuchBucket{}, wantCode: errors.ErrCodeSourceRead},
		{name: "network failure", err: stderr.New("connection reset"), wantCode: errors.ErrCodeSourceUnavailable, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newS3Store(&fakeS3{objects: map[string]string{}, err: tt.err}, "sdg", "", nil)
			_, err := store.Load(context.Background(), "SDG_9_9")
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.CodeOf(err))
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
		})
	}
}

func TestS3Store_ContextCancelled(t *testing.T) {
	store := newS3Store(&fakeS3{err: stderr.New("request canceled")}, "sdg", "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Load(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.IsRetryable(err))
}

func TestNewS3Store(t *testing.T) {
	_, err := NewS3Store(context.Background(), config.S3SourceConfig{}, nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigValidation))

	store, err := NewS3Store(context.Background(), config.S3SourceConfig{
		Bucket:          "sdg",
		Prefix:          "tables/",
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		ForcePathStyle:  true,
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "tables/SDG_1_1.csv", store.ObjectKey("SDG_1_1"))
	assert.NoError(t, store.Close())
}
