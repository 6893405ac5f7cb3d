package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestS3StoreRoundTrip(t *testing.T) {
	fake := newFakeS3()
	store := newTestS3Store(t, fake, "cats/")
	key := MustParseKey("200")

	if err := store.Write(context.Background(), key, []byte("meow")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if _, ok := fake.objects["cats/200.jpg"]; !ok {
		t.Fatalf("expected object at cats/200.jpg, got %v", fake.keys())
	}
	if fake.contentTypes["cats/200.jpg"] != ContentType {
		t.Fatalf("expected content type %s, got %s", ContentType, fake.contentTypes["cats/200.jpg"])
	}

	data, err := store.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(data) != "meow" {
		t.Fatalf("unexpected payload %q", data)
	}

	exists, err := store.Exists(context.Background(), key)
	if err != nil || !exists {
		t.Fatalf("expected object to exist, got %v %v", exists, err)
	}
}

func TestS3StoreMissing(t *testing.T) {
	store := newTestS3Store(t, newFakeS3(), "")
	key := MustParseKey("404")

	if _, err := store.Read(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	exists, err := store.Exists(context.Background(), key)
	if err != nil || exists {
		t.Fatalf("expected missing object, got %v %v", exists, err)
	}
	if err := store.Delete(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete of missing object should report ErrNotFound, got %v", err)
	}
}

func TestS3StoreDelete(t *testing.T) {
	fake := newFakeS3()
	store := newTestS3Store(t, fake, "")
	key := MustParseKey("410")

	if err := store.Write(context.Background(), key, []byte("gone")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := store.Delete(context.Background(), key); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if len(fake.objects) != 0 {
		t.Fatalf("object should be removed, got %v", fake.keys())
	}
	if err := store.Delete(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should report ErrNotFound, got %v", err)
	}
}

func TestS3StoreBackendFailureIsStorageError(t *testing.T) {
	fake := newFakeS3()
	fake.failWith = errors.New("connection reset")
	store := newTestS3Store(t, fake, "")
	key := MustParseKey("503")

	if err := store.Write(context.Background(), key, []byte("x")); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage on put failure, got %v", err)
	}
	if _, err := store.Read(context.Background(), key); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage on get failure, got %v", err)
	}
	if _, err := store.Exists(context.Background(), key); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage on head failure, got %v", err)
	}
}

func TestNewS3StoreValidatesArguments(t *testing.T) {
	if _, err := NewS3Store(nil, "bucket", ""); err == nil {
		t.Fatalf("nil client should be rejected")
	}
	if _, err := NewS3Store(newFakeS3(), "", ""); err == nil {
		t.Fatalf("empty bucket should be rejected")
	}
}

func TestNewS3ClientAppliesEndpoint(t *testing.T) {
	client, err := NewS3Client(context.Background(), S3Options{
		Region:       "eu-central-1",
		Endpoint:     "http://127.0.0.1:9001",
		UsePathStyle: true,
		AccessKey:    "minio",
		SecretKey:    "minio123",
	})
	if err != nil {
		t.Fatalf("NewS3Client error: %v", err)
	}
	opts := client.Options()
	if aws.ToString(opts.BaseEndpoint) != "http://127.0.0.1:9001" {
		t.Fatalf("unexpected endpoint %q", aws.ToString(opts.BaseEndpoint))
	}
	if !opts.UsePathStyle {
		t.Fatalf("path style should be enabled")
	}
	if opts.Region != "eu-central-1" {
		t.Fatalf("unexpected region %s", opts.Region)
	}
}

func newTestS3Store(t *testing.T, client S3API, prefix string) Store {
	t.Helper()
	store, err := NewS3Store(client, "http-cats", prefix)
	if err != nil {
		t.Fatalf("failed to create s3 store: %v", err)
	}
	return store
}

// fakeS3 是内存版 S3API，返回与 SDK 一致的 NoSuchKey/NotFound 错误类型。
type fakeS3 struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	failWith     error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	return keys
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.contentTypes[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}
