package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2026, time.March, 9, 12, 0, 0, 0, time.UTC)
}

func TestFilesystemSaveReadDelete(t *testing.T) {
	s, err := New(Config{BasePath: t.TempDir()})
	require.NoError(t, err)
	s.now = fixedNow

	ctx := context.Background()
	key, err := s.SaveProfile(ctx, "acme-test", []byte(`{"id":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, "profiles/2026/03/acme-test.json", key)

	data, err := s.ReadProfile(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1"}`, string(data))

	require.NoError(t, s.DeleteProfile(ctx, key))
	_, err = os.Stat(s.GetFullPath(key))
	assert.True(t, os.IsNotExist(err))

	// Deleting twice is not an error
	assert.NoError(t, s.DeleteProfile(ctx, key))
}

func TestFilesystemSaveMakesKeysUnique(t *testing.T) {
	s, err := New(Config{BasePath: t.TempDir()})
	require.NoError(t, err)
	s.now = fixedNow

	ctx := context.Background()
	first, err := s.SaveProfile(ctx, "acme", []byte("1"))
	require.NoError(t, err)
	second, err := s.SaveProfile(ctx, "acme", []byte("2"))
	require.NoError(t, err)
	third, err := s.SaveProfile(ctx, "acme", []byte("3"))
	require.NoError(t, err)

	assert.Equal(t, "profiles/2026/03/acme.json", first)
	assert.Equal(t, "profiles/2026/03/acme-1.json", second)
	assert.Equal(t, "profiles/2026/03/acme-2.json", third)
}

func TestFilesystemSaveKeepsMonthAcrossCollisions(t *testing.T) {
	s, err := New(Config{BasePath: t.TempDir()})
	require.NoError(t, err)

	ctx := context.Background()
	s.now = fixedNow
	_, err = s.SaveProfile(ctx, "acme", []byte("1"))
	require.NoError(t, err)

	// The clock moves into April while the collision is resolved
	calls := 0
	s.now = func() time.Time {
		calls++
		if calls == 1 {
			return fixedNow()
		}
		return fixedNow().AddDate(0, 1, 0)
	}
	key, err := s.SaveProfile(ctx, "acme", []byte("2"))
	require.NoError(t, err)
	assert.Equal(t, "profiles/2026/03/acme-1.json", key)
	assert.Equal(t, 1, calls)
}

func TestSaveRejectsPathSlugs(t *testing.T) {
	s, err := New(Config{BasePath: t.TempDir()})
	require.NoError(t, err)

	ctx := context.Background()
	for _, name := range []string{"../../x", "a/b", `..\x`, ".."} {
		_, err := s.SaveProfile(ctx, name, []byte("{}"))
		assert.ErrorIs(t, err, ErrInvalidKey, name)
	}

	s3s, err := NewS3Storage(ctx, S3Config{
		Region: "us-east-1", Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s",
	})
	require.NoError(t, err)
	_, err = s3s.SaveProfile(ctx, "../../x", []byte("{}"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestFilesystemRejectsEscapingKeys(t *testing.T) {
	s, err := New(Config{BasePath: t.TempDir()})
	require.NoError(t, err)

	ctx := context.Background()
	for _, key := range []string{"", "../secret", "/etc/passwd", "profiles/../../x"} {
		_, err := s.ReadProfile(ctx, key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
		assert.ErrorIs(t, s.DeleteProfile(ctx, key), ErrInvalidKey, key)
	}

	_, err = s.SaveProfile(ctx, "", nil)
	assert.Error(t, err)
}

func TestNewS3StorageValidation(t *testing.T) {
	valid := S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		Bucket:          "profiles",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	}

	ctx := context.Background()
	_, err := NewS3Storage(ctx, valid)
	require.NoError(t, err)

	missingBucket := valid
	missingBucket.Bucket = ""
	_, err = NewS3Storage(ctx, missingBucket)
	assert.Error(t, err)

	missingRegion := valid
	missingRegion.Region = ""
	_, err = NewS3Storage(ctx, missingRegion)
	assert.Error(t, err)

	missingCreds := valid
	missingCreds.SecretAccessKey = ""
	_, err = NewS3Storage(ctx, missingCreds)
	assert.Error(t, err)
}

// fakeS3 keeps objects uploaded with path-style addressing in memory
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = string(body)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	case http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3SaveReadDelete(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}}
	server := httptest.NewServer(fake)
	defer server.Close()

	ctx := context.Background()
	s, err := NewS3Storage(ctx, S3Config{
		Endpoint:        server.URL,
		Region:          "us-east-1",
		Bucket:          "profiles",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	s.now = fixedNow

	key, err := s.SaveProfile(ctx, "acme-test", []byte(`{"id":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, "profiles/2026/03/acme-test.json", key)

	fake.mu.Lock()
	stored, ok := fake.objects["/profiles/"+key]
	fake.mu.Unlock()
	require.True(t, ok)
	assert.True(t, strings.Contains(stored, `{"id":"1"}`))

	require.NoError(t, s.DeleteProfile(ctx, key))
	fake.mu.Lock()
	assert.Empty(t, fake.objects)
	fake.mu.Unlock()
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	archive, err := Open(ctx, Config{BasePath: t.TempDir()}, S3Config{})
	require.NoError(t, err)
	assert.IsType(t, &Storage{}, archive)

	archive, err = Open(ctx, Config{}, S3Config{
		Region: "us-east-1", Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s",
	})
	require.NoError(t, err)
	assert.IsType(t, &S3Storage{}, archive)
}
