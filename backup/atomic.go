package backup

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrCancelled is returned by calls subsequent to Cancel()
	ErrCancelled = errors.New("cancelled")

	_ io.WriteCloser = &AtomicFile{}
)

// AtomicFile writes to a temporary file in the destination directory
// and renames it to the destination on Close(). If any write fails
// the temporary file is deleted and destination is left untouched
type AtomicFile struct {
	dstPath string
	dir     string
	tmpFile *os.File
	tmpPath string
	err     error
}

// NewAtomicFile creates the temporary file for path
func NewAtomicFile(path string) (*AtomicFile, error) {
	dir, fName := filepath.Split(path)
	if fName == "" {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrInvalid}
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	tmpFile, err := os.CreateTemp(dir, fName+".tmp-*")
	if err != nil {
		return nil, err
	}
	return &AtomicFile{
		dstPath: path,
		dir:     dir,
		tmpFile: tmpFile,
		tmpPath: tmpFile.Name(),
	}, nil
}

// remember the first error and delete the temporary file
func (f *AtomicFile) fail(err error) error {
	if err == nil {
		return nil
	}
	if f.err == nil {
		f.err = err
	}
	_ = f.Close()
	return err
}

func (f *AtomicFile) Write(d []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n, err := f.tmpFile.Write(d)
	return n, f.fail(err)
}

// Cancel deletes the temporary file without creating the destination.
// Use with defer for cleanup on early returns. A no-op after Close()
func (f *AtomicFile) Cancel() {
	if f == nil || f.tmpFile == nil {
		return
	}
	f.err = ErrCancelled
	_ = f.Close()
}

// Close syncs the data and renames temporary file to destination.
// Can be called multiple times, returns the first error
func (f *AtomicFile) Close() error {
	if f.tmpFile == nil {
		return f.err
	}
	tmpFile := f.tmpFile
	f.tmpFile = nil

	errSync := tmpFile.Sync()
	errClose := tmpFile.Close()

	didRename := false
	defer func() {
		if !didRename {
			_ = os.Remove(f.tmpPath)
		}
	}()

	if f.err != nil {
		return f.err
	}
	err := errSync
	if err == nil {
		err = errClose
	}
	if err == nil {
		err = os.Rename(f.tmpPath, f.dstPath)
		didRename = err == nil
		// sync the directory so that the rename survives a crash
		if fdir, _ := os.Open(f.dir); fdir != nil {
			_ = fdir.Sync()
			_ = fdir.Close()
		}
	}
	f.err = err
	return err
}
