package s3cache

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*params.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*params.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestStoreLoadMissingKeyReturnsNil(t *testing.T) {
	s := &Store{client: newFakeS3(), bucket: "models", prefix: "cache"}
	data, err := s.Load(context.Background(), "model_cards")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil for missing key, got %q", data)
	}
}

func TestStoreSaveThenLoadRoundTrips(t *testing.T) {
	s := &Store{client: newFakeS3(), bucket: "models", prefix: "cache"}
	ctx := context.Background()
	if err := s.Save(ctx, "model_cards", []byte(`[{"id":"m"}]`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := s.Load(ctx, "model_cards")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != `[{"id":"m"}]` {
		t.Fatalf("unexpected data: %s", data)
	}
}

func TestObjectKeyAppliesPrefix(t *testing.T) {
	s := &Store{bucket: "models", prefix: "cache"}
	if got := s.objectKey("model_cards"); got != "cache/model_cards" {
		t.Fatalf("unexpected object key: %s", got)
	}
	s.prefix = ""
	if got := s.objectKey("model_cards"); got != "model_cards" {
		t.Fatalf("unexpected object key with no prefix: %s", got)
	}
}
