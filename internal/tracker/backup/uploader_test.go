package backup

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/go-cmp/cmp"
)

type fakePutter struct {
	mu   sync.Mutex
	keys []string
	body [][]byte
	err  error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.keys = append(f.keys, *in.Key)
	f.body = append(f.body, data)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakePutter) uploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func newUploader(t *testing.T, client Putter, content *string) *Uploader {
	t.Helper()
	u, err := New(client, Settings{Bucket: "shop", Prefix: "backups", Profile: "default"},
		func() ([]byte, error) { return []byte(*content), nil }, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	u.now = func() time.Time { return time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC) }
	return u
}

func TestUploadOnceSkipsUnchanged(t *testing.T) {
	client := &fakePutter{}
	content := `{"jobs":{"jobs":[]}}`
	u := newUploader(t, client, &content)

	key, err := u.UploadOnce(context.Background())
	if err != nil {
		t.Fatalf("UploadOnce failed: %v", err)
	}
	if key != "backups/default/jobs-20260301T103000Z.json" {
		t.Errorf("unexpected key %q", key)
	}

	if key, err := u.UploadOnce(context.Background()); err != nil || key != "" {
		t.Errorf("unchanged snapshot uploaded again: key=%q err=%v", key, err)
	}

	content = `{"jobs":{"jobs":[{"id":"1"}]}}`
	if key, err := u.UploadOnce(context.Background()); err != nil || key == "" {
		t.Errorf("changed snapshot not uploaded: key=%q err=%v", key, err)
	}

	if got := len(client.uploads()); got != 2 {
		t.Errorf("expected 2 uploads, got %d", got)
	}
	if diff := cmp.Diff(content, string(client.body[1])); diff != "" {
		t.Errorf("uploaded body (-want +got):\n%s", diff)
	}
}

func TestUploadOnceRetriesAfterFailure(t *testing.T) {
	client := &fakePutter{err: errors.New("access denied")}
	content := "{}"
	u := newUploader(t, client, &content)

	if _, err := u.UploadOnce(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}

	client.mu.Lock()
	client.err = nil
	client.mu.Unlock()

	if key, err := u.UploadOnce(context.Background()); err != nil || key == "" {
		t.Errorf("failed snapshot was not retried: key=%q err=%v", key, err)
	}
}

func TestUploadOnceSourceError(t *testing.T) {
	u, err := New(&fakePutter{}, Settings{Bucket: "shop"},
		func() ([]byte, error) { return nil, errors.New("no such file") }, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := u.UploadOnce(context.Background()); err == nil {
		t.Error("expected source error")
	}
}

func TestStartUploadsImmediately(t *testing.T) {
	client := &fakePutter{}
	content := "{}"
	u := newUploader(t, client, &content)
	u.settings.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("uploader did not stop")
	}

	if got := len(client.uploads()); got != 1 {
		t.Errorf("expected 1 upload on start, got %d", got)
	}
}

func TestNewValidation(t *testing.T) {
	source := func() ([]byte, error) { return nil, nil }

	if _, err := New(&fakePutter{}, Settings{}, source, nil); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
	if _, err := New(nil, Settings{Bucket: "b"}, source, nil); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := New(&fakePutter{}, Settings{Bucket: "b"}, nil, nil); err == nil {
		t.Error("expected error for nil source")
	}
}

func TestKeyWithoutPrefix(t *testing.T) {
	u, err := New(&fakePutter{}, Settings{Bucket: "b", Profile: "garage"},
		func() ([]byte, error) { return nil, nil }, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := u.Key(time.Date(2026, 12, 31, 23, 59, 59, 0, time.FixedZone("AEST", 10*3600)))
	if got != "garage/jobs-20261231T135959Z.json" {
		t.Errorf("Key = %q", got)
	}
}
