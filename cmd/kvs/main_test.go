package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert"
)

type runResult struct {
	code   int
	stdout string
	stderr string
}

func runKvs(t *testing.T, dir string, args ...string) runResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"-dir", dir}, args...)
	code := run(args, &stdout, &stderr)
	return runResult{
		code:   code,
		stdout: stdout.String(),
		stderr: stderr.String(),
	}
}

func TestGetSetRemove(t *testing.T) {
	dir := t.TempDir()

	r := runKvs(t, dir, "get", "k")
	assert.Equal(t, 0, r.code)
	assert.Equal(t, "Key not found\n", r.stdout)

	r = runKvs(t, dir, "set", "k", "v 1")
	assert.Equal(t, 0, r.code, "stderr: %s", r.stderr)
	assert.Equal(t, "", r.stdout)

	r = runKvs(t, dir, "get", "k")
	assert.Equal(t, 0, r.code)
	assert.Equal(t, "v 1\n", r.stdout)

	r = runKvs(t, dir, "rm", "k")
	assert.Equal(t, 0, r.code)
	assert.Equal(t, "", r.stdout)

	r = runKvs(t, dir, "rm", "k")
	assert.Equal(t, 1, r.code)
	assert.Equal(t, "Key not found\n", r.stdout)

	r = runKvs(t, dir, "get", "k")
	assert.Equal(t, 0, r.code)
	assert.Equal(t, "Key not found\n", r.stdout)
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, 0, runKvs(t, dir, "set", "b", "2").code)
	assert.Equal(t, 0, runKvs(t, dir, "set", "a", "1").code)

	r := runKvs(t, dir, "ls")
	assert.Equal(t, 0, r.code)
	var m map[string]string
	assert.NoError(t, json.Unmarshal([]byte(r.stdout), &m))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, m)
	// pretty-printed, one key per line
	assert.True(t, strings.Contains(r.stdout, "\n  \"a\": \"1\""), "stdout: %s", r.stdout)
}

func TestUsage(t *testing.T) {
	dir := t.TempDir()
	tests := [][]string{
		{},
		{"get"},
		{"set", "k"},
		{"rm", "a", "b"},
		{"ls", "x"},
		{"restore"},
		{"restore", "a", "b"},
		{"restore", "-s3", "backups/backup.log", "extra"},
		{"backup"},
		{"frob"},
	}
	for _, args := range tests {
		r := runKvs(t, dir, args...)
		assert.Equal(t, 2, r.code, "args: %v", args)
		assert.True(t, r.stderr != "", "args: %v", args)
	}

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run([]string{"-nosuchflag", "ls"}, &stdout, &stderr))
}

func TestBackupRestore(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, 0, runKvs(t, dir, "set", "k", "v").code)

	dst := filepath.Join(t.TempDir(), "backup.log.gz")
	r := runKvs(t, dir, "-sync", "backup", dst)
	assert.Equal(t, 0, r.code, "stderr: %s", r.stderr)
	assert.True(t, strings.HasPrefix(r.stdout, "Backed up to"))

	dir2 := t.TempDir()
	r = runKvs(t, dir2, "restore", dst)
	assert.Equal(t, 0, r.code, "stderr: %s", r.stderr)
	assert.True(t, strings.HasPrefix(r.stdout, "Restored 1 keys"), "stdout: %s", r.stdout)

	r = runKvs(t, dir2, "get", "k")
	assert.Equal(t, "v\n", r.stdout)
}

func TestBackupS3MissingConfig(t *testing.T) {
	for _, name := range []string{"KVS_S3_ACCESS", "KVS_S3_SECRET", "KVS_S3_BUCKET", "KVS_S3_ENDPOINT"} {
		t.Setenv(name, "")
	}
	dir := t.TempDir()
	dst := filepath.Join(t.TempDir(), "backup.log")
	r := runKvs(t, dir, "backup", "-s3", "backups/backup.log", dst)
	assert.Equal(t, 1, r.code)
	assert.True(t, strings.Contains(r.stderr, "missing S3 config"), "stderr: %s", r.stderr)
}

func TestRestoreS3MissingConfig(t *testing.T) {
	for _, name := range []string{"KVS_S3_ACCESS", "KVS_S3_SECRET", "KVS_S3_BUCKET", "KVS_S3_ENDPOINT"} {
		t.Setenv(name, "")
	}
	dir := t.TempDir()
	assert.Equal(t, 0, runKvs(t, dir, "set", "k", "v").code)

	r := runKvs(t, dir, "restore", "-s3", "backups/backup.log.gz")
	assert.Equal(t, 1, r.code)
	assert.True(t, strings.Contains(r.stderr, "missing S3 config"), "stderr: %s", r.stderr)
	assert.Equal(t, "", r.stdout)

	// the store is untouched
	r = runKvs(t, dir, "get", "k")
	assert.Equal(t, "v\n", r.stdout)
}

func TestLogDir(t *testing.T) {
	dir := t.TempDir()
	logDir := t.TempDir()
	r := runKvs(t, dir, "-logdir", logDir, "-v", "set", "k", "v")
	assert.Equal(t, 0, r.code, "stderr: %s", r.stderr)
	// verbose logs go to stderr, not stdout
	assert.Equal(t, "", r.stdout)
	assert.True(t, strings.Contains(r.stderr, "replayed"), "stderr: %s", r.stderr)
}
