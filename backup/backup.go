// Package backup copies a store's command log to local files,
// S3-compatible storage and SFTP servers, and restores it.
//
// Backups are compressed based on file extension (see u.CompressionFromPath).
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kjk/kvs"
	"github.com/kjk/kvs/log"
	"github.com/kjk/kvs/u"
)

// File writes a copy of the store's log to dst, atomically.
// Returns the size of the uncompressed log
func File(s *kvs.Store, dst string) (int64, error) {
	timeStart := time.Now()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, err
	}
	c := u.CompressionFromPath(dst)
	f, err := NewAtomicFile(dst)
	if err != nil {
		return 0, err
	}
	defer f.Cancel()

	w, err := u.NewCompressWriter(f, c)
	if err != nil {
		return 0, err
	}
	n, err := s.Snapshot(w)
	if err != nil {
		return 0, err
	}
	if err = w.Close(); err != nil {
		return 0, err
	}
	if err = f.Close(); err != nil {
		return 0, err
	}
	log.Verbosef("backup: wrote '%s' (%s, %s compressed to %s) in %s\n", dst, c, u.FormatSize(n), u.FormatSize(u.FileSize(dst)), time.Since(timeStart))
	log.Event("kvs.backup", "dst", dst, "size", n, "compression", c.String())
	return n, nil
}

// Restore replaces the log of a store in opts.Dir with a backup in src.
// The backup is verified by replaying it before it replaces the log.
// The store must not be open. Returns the number of keys in restored store
func Restore(src string, opts *kvs.Options) (int, error) {
	if opts.Dir == "" {
		return 0, fmt.Errorf("data directory is not set. For current directory, use '.'")
	}
	fileName := opts.FileName
	if fileName == "" {
		fileName = kvs.DefaultFileName
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return 0, err
	}
	dst := filepath.Join(opts.Dir, fileName)
	staging := dst + ".restore"

	r, err := u.OpenFileMaybeCompressed(src)
	if err != nil {
		return 0, err
	}
	defer u.CloseNoError(r)
	if err = copyAtomically(staging, r); err != nil {
		return 0, err
	}
	defer os.Remove(staging)

	s, err := kvs.OpenWithOptions(&kvs.Options{
		Dir:      opts.Dir,
		FileName: filepath.Base(staging),
	})
	if err != nil {
		return 0, fmt.Errorf("backup '%s' is not valid: %w", src, err)
	}
	nKeys := s.Len()
	if err = s.Close(); err != nil {
		return 0, err
	}
	if err = os.Rename(staging, dst); err != nil {
		return 0, err
	}
	log.Verbosef("backup: restored '%s' from '%s', %d keys\n", dst, src, nKeys)
	log.Event("kvs.restore", "src", src, "dst", dst, "keys", nKeys)
	return nKeys, nil
}

func copyAtomically(dst string, r io.Reader) error {
	f, err := NewAtomicFile(dst)
	if err != nil {
		return err
	}
	defer f.Cancel()
	if _, err = io.Copy(f, r); err != nil {
		return err
	}
	return f.Close()
}
