package backup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert"
	"github.com/kjk/kvs"
	"github.com/kjk/kvs/u"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func createStore(t *testing.T, dir string, n int) *kvs.Store {
	s, err := kvs.Open(dir)
	assert.NoError(t, err)
	for i := 0; i < n; i++ {
		k := "key" + string(rune('a'+i%26))
		assert.NoError(t, s.Set(k, "some value that compresses well, some value that compresses well"))
	}
	assert.NoError(t, s.Set("removed", "v"))
	assert.NoError(t, s.Remove("removed"))
	return s
}

func testBackupRestore(t *testing.T, name string) {
	s := createStore(t, t.TempDir(), 100)
	defer s.Close()

	dst := filepath.Join(t.TempDir(), "backups", name)
	n, err := File(s, dst)
	assert.NoError(t, err)
	logSize := u.FileSize(s.Path())
	assert.Equal(t, logSize, n)
	if u.CompressionFromPath(name) != u.CompressionNone {
		assert.True(t, u.FileSize(dst) < logSize, "%s: %d >= %d", name, u.FileSize(dst), logSize)
	}

	dir := t.TempDir()
	nKeys, err := Restore(dst, &kvs.Options{Dir: dir})
	assert.NoError(t, err)
	assert.Equal(t, s.Len(), nKeys)

	orig, err := os.ReadFile(s.Path())
	assert.NoError(t, err)
	restored, err := os.ReadFile(filepath.Join(dir, kvs.DefaultFileName))
	assert.NoError(t, err)
	assert.Equal(t, string(orig), string(restored))
	assert.False(t, u.FileExists(filepath.Join(dir, kvs.DefaultFileName+".restore")))

	s2, err := kvs.Open(dir)
	assert.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, s.Keys(), s2.Keys())
	v, ok, err := s2.Get("keya")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "some value that compresses well, some value that compresses well", v)
}

func TestBackupRestore(t *testing.T) {
	testBackupRestore(t, "store.log")
	testBackupRestore(t, "store.log.gz")
	testBackupRestore(t, "store.log.zst")
	testBackupRestore(t, "store.log.br")
}

func TestRestoreOverwrites(t *testing.T) {
	s := createStore(t, t.TempDir(), 3)
	dst := filepath.Join(t.TempDir(), "store.log.zst")
	_, err := File(s, dst)
	assert.NoError(t, err)
	assert.NoError(t, s.Close())

	dir := t.TempDir()
	s2, err := kvs.Open(dir)
	assert.NoError(t, err)
	assert.NoError(t, s2.Set("other", "v"))
	assert.NoError(t, s2.Close())

	nKeys, err := Restore(dst, &kvs.Options{Dir: dir})
	assert.NoError(t, err)
	assert.Equal(t, 3, nKeys)

	s2, err = kvs.Open(dir)
	assert.NoError(t, err)
	defer s2.Close()
	_, ok, err := s2.Get("other")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRestoreInvalid(t *testing.T) {
	src := filepath.Join(t.TempDir(), "bad.log")
	assert.NoError(t, os.WriteFile(src, []byte("not a log\n"), 0644))

	dir := t.TempDir()
	s, err := kvs.Open(dir)
	assert.NoError(t, err)
	assert.NoError(t, s.Set("k", "v"))
	assert.NoError(t, s.Close())

	_, err = Restore(src, &kvs.Options{Dir: dir})
	assert.True(t, errors.Is(err, kvs.ErrCorruptLog), "err: %v", err)

	// existing log is untouched
	s, err = kvs.Open(dir)
	assert.NoError(t, err)
	defer s.Close()
	assert.Equal(t, []string{"k"}, s.Keys())

	_, err = Restore(filepath.Join(dir, "missing.gz"), &kvs.Options{Dir: dir})
	assert.True(t, os.IsNotExist(err))
}

func TestAtomicFile(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "file.txt")

	f, err := NewAtomicFile(dst)
	assert.NoError(t, err)
	_, err = f.Write([]byte("foo"))
	assert.NoError(t, err)
	assert.False(t, u.FileExists(dst))
	assert.True(t, u.FileExists(f.tmpPath))
	assert.NoError(t, f.Close())
	assert.NoError(t, f.Close())
	assert.Equal(t, int64(3), u.FileSize(dst))
	assert.False(t, u.FileExists(f.tmpPath))

	f, err = NewAtomicFile(dst)
	assert.NoError(t, err)
	_, err = f.Write([]byte("longer content"))
	assert.NoError(t, err)
	f.Cancel()
	assert.False(t, u.FileExists(f.tmpPath))
	assert.Equal(t, ErrCancelled, f.Close())
	_, err = f.Write([]byte("more"))
	assert.Equal(t, ErrCancelled, err)
	// destination not changed
	assert.Equal(t, int64(3), u.FileSize(dst))

	_, err = NewAtomicFile(dir + string(filepath.Separator))
	assert.Error(t, err)
}

func TestS3Config(t *testing.T) {
	var c *S3Config
	assert.Error(t, c.Validate())

	c = &S3Config{Access: "a", Secret: "s", Bucket: "b"}
	err := c.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Endpoint")

	c.Endpoint = "localhost:9000"
	assert.NoError(t, c.Validate())

	t.Setenv("KVS_S3_ACCESS", "access")
	t.Setenv("KVS_S3_SECRET", "secret")
	t.Setenv("KVS_S3_BUCKET", "bucket")
	t.Setenv("KVS_S3_ENDPOINT", "s3.example.com")
	t.Setenv("KVS_S3_REGION", "")
	c = S3ConfigFromEnv()
	assert.NoError(t, c.Validate())
	assert.Equal(t, "bucket", c.Bucket)
	assert.Equal(t, "application/zstd", contentTypeFor("backups/store.log.zst"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("store.log"))
}

func TestRestoreS3MissingObject(t *testing.T) {
	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	mc, err := minio.New(strings.TrimPrefix(srv.URL, "http://"), &minio.Options{
		Creds:  credentials.NewStaticV4("access", "secret", ""),
		Region: "us-east-1",
		Secure: false,
	})
	assert.NoError(t, err)
	c := &S3{Client: mc, Bucket: "bucket"}

	dir := t.TempDir()
	s := createStore(t, dir, 2)
	assert.NoError(t, s.Close())

	_, err = RestoreS3(context.Background(), c, "backups/store.log.gz", &kvs.Options{Dir: dir})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "doesn't exist")
	// only checked for existence, never downloaded
	for _, req := range requests {
		assert.True(t, strings.HasPrefix(req, "HEAD "), "request: %s", req)
	}

	s, err = kvs.Open(dir)
	assert.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.NoError(t, s.Close())
}

func TestParseSFTPRemote(t *testing.T) {
	c, err := ParseSFTPRemote("root@example.com:/root/backups", "~/.ssh/id_ed25519")
	assert.NoError(t, err)
	assert.Equal(t, &SFTPConfig{
		User:           "root",
		Host:           "example.com",
		Dir:            "/root/backups",
		PrivateKeyPath: "~/.ssh/id_ed25519",
	}, c)

	for _, s := range []string{"", "example.com:/dir", "root@example.com", "@host:/dir", "root@:/dir", "root@host:"} {
		_, err = ParseSFTPRemote(s, "")
		assert.Error(t, err, "remote: %q", s)
	}
}

func TestUploadSFTPMissingKey(t *testing.T) {
	c := &SFTPConfig{
		User:           "root",
		Host:           "example.com",
		Dir:            "/backups",
		PrivateKeyPath: filepath.Join(t.TempDir(), "missing_key"),
	}
	_, err := UploadSFTP(c, "store.log")
	assert.Error(t, err)
}
