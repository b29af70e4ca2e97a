package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motoreg-bot/internal/models"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestUploadAndLatest(t *testing.T) {
	fake := newFakeS3()
	s := NewWithClient(fake, "bucket")
	s.now = func() time.Time { return time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC) }

	st := models.State{
		Participants:     []models.Participant{{ID: "p1", FullName: "Ana", MotoNumber: "I01", Category: models.Cat50cc}},
		RegistrationOpen: true,
		RaceName:         "Fecha 2",
	}
	key, err := s.Upload(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, "motoreg/snapshots/20260502T080000Z.json.gz", key)
	assert.Contains(t, fake.objects, "bucket/"+key)
	assert.Contains(t, fake.objects, "bucket/motoreg/latest.json.gz")

	got, ok, err := s.Latest(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Fecha 2", got.RaceName)
	require.Len(t, got.Participants, 1)
	assert.Equal(t, "I01", got.Participants[0].MotoNumber)
}

func TestLatestMissing(t *testing.T) {
	_, ok, err := NewWithClient(newFakeS3(), "bucket").Latest(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUploadError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("access denied")
	_, err := NewWithClient(fake, "bucket").Upload(context.Background(), models.State{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
