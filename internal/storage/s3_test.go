package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockS3Client stores objects in memory and pages List results two at a time.
type mockS3Client struct {
	objects map[string][]byte
	putErr  error
	pages   int
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.pages++
	bucket := aws.ToString(in.Bucket) + "/"
	var matched []string
	for k := range m.objects {
		key := strings.TrimPrefix(k, bucket)
		if strings.HasPrefix(k, bucket) && strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched)
	start := 0
	if in.ContinuationToken != nil {
		for i, k := range matched {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	end := min(start+2, len(matched))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(matched))}
	for _, k := range matched[start:end] {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	if end < len(matched) {
		out.NextContinuationToken = aws.String(matched[end])
	}
	return out, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(m.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newMockS3Client()
	s := NewS3Store(client, "tiles-bucket")

	for _, k := range []string{"2020/tiles/1/2/a.tif", "2020/tiles/1/2/b.tif", "2020/tiles/1/2/c.tif", "2020/raw/1/2/x"} {
		require.NoError(t, s.Put(ctx, k, []byte(k)))
	}

	data, err := s.Get(ctx, "2020/tiles/1/2/b.tif")
	require.NoError(t, err)
	assert.Equal(t, "2020/tiles/1/2/b.tif", string(data))

	keys, err := s.List(ctx, "2020/tiles/1/2/")
	require.NoError(t, err)
	assert.Equal(t, []string{"2020/tiles/1/2/a.tif", "2020/tiles/1/2/b.tif", "2020/tiles/1/2/c.tif"}, keys)
	assert.Equal(t, 2, client.pages, "three keys at two per page need two requests")

	require.NoError(t, s.Delete(ctx, "2020/tiles/1/2/a.tif"))
	_, err = s.Get(ctx, "2020/tiles/1/2/a.tif")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestS3StorePutError(t *testing.T) {
	client := newMockS3Client()
	client.putErr = errors.New("SlowDown")
	err := NewS3Store(client, "b").Put(context.Background(), "k", []byte("v"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SlowDown")
	assert.False(t, errors.Is(err, ErrNotFound))
}
