package publisher

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu       sync.Mutex
	failures int
	objects  map[string][]byte
	calls    int
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("503 slow down")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func testPublisher(client objectPutter, retries int) *Publisher {
	p := newPublisher(client, Options{Bucket: "artifacts", Prefix: "models", MaxRetries: retries}, nil)
	p.backoff = func(int) time.Duration { return 0 }
	p.now = func() time.Time { return time.Date(2025, 12, 30, 10, 30, 0, 0, time.UTC) }
	return p
}

func TestVersionedKey(t *testing.T) {
	ts := time.Date(2025, 12, 30, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "models/2025/12/30/linear_regression-20251230103000.json", VersionedKey("models", "linear_regression", ts))
	assert.Equal(t, "2025/12/30/logistic_regression-20251230103000.json", VersionedKey("", "logistic_regression", ts))
}

func TestPublishWritesVersionedAndLatest(t *testing.T) {
	fake := &fakeS3{}
	p := testPublisher(fake, 3)

	key, err := p.Publish(context.Background(), []byte(`{"version":"1.0"}`), "linear_regression")
	require.NoError(t, err)
	assert.Equal(t, "models/2025/12/30/linear_regression-20251230103000.json", key)
	assert.Equal(t, []byte(`{"version":"1.0"}`), fake.objects["artifacts/"+key])
	assert.Equal(t, []byte(`{"version":"1.0"}`), fake.objects["artifacts/models/latest.json"])
}

func TestPublishRetries(t *testing.T) {
	fake := &fakeS3{failures: 2}
	p := testPublisher(fake, 3)

	_, err := p.Publish(context.Background(), []byte("{}"), "linear_regression")
	require.NoError(t, err)
	assert.Equal(t, 4, fake.calls)
}

func TestPublishGivesUp(t *testing.T) {
	fake := &fakeS3{failures: 10}
	p := testPublisher(fake, 2)

	_, err := p.Publish(context.Background(), []byte("{}"), "linear_regression")
	assert.ErrorContains(t, err, "after 3 attempts")
	assert.Equal(t, 3, fake.calls)
	assert.Empty(t, fake.objects)
}
