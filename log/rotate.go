package log

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// dailyFile is a file in Dir named ${prefix}YYYY-MM-DD.txt.
// A new file is started when the (UTC) day changes.
type dailyFile struct {
	sync.Mutex

	Dir    string
	Prefix string

	// Path is the path of the current file
	Path string

	day  int // YYYYMMDD format
	file *os.File
}

func newDailyFile(dir string, prefix string) *dailyFile {
	return &dailyFile{
		Dir:    dir,
		Prefix: prefix,
	}
}

// dayFromTime converts a time.Time to YYYYMMDD integer format
func dayFromTime(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

func (f *dailyFile) pathForTime(t time.Time) string {
	name := f.Prefix + t.Format("2006-01-02") + ".txt"
	return filepath.Join(f.Dir, name)
}

func (f *dailyFile) close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	f.day = 0
	return err
}

func (f *dailyFile) reopenIfNeeded(now time.Time) error {
	today := dayFromTime(now)
	if f.file != nil && f.day == today {
		return nil
	}
	if err := f.close(); err != nil {
		return err
	}
	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return err
	}
	// would be easier to open with os.O_APPEND but Seek() doesn't work in that case
	path := f.pathForTime(now)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err = file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return err
	}
	f.file = file
	f.Path = path
	f.day = today
	return nil
}

// Write writes d to today's file.
// it's safe to call on nil receiver
func (f *dailyFile) Write(d []byte) (int, error) {
	if f == nil {
		return len(d), nil
	}
	f.Lock()
	defer f.Unlock()

	if err := f.reopenIfNeeded(time.Now().UTC()); err != nil {
		return 0, err
	}
	return f.file.Write(d)
}

// Sync flushes the file to disk
// it's safe to call on nil receiver
func (f *dailyFile) Sync() error {
	if f == nil {
		return nil
	}
	f.Lock()
	defer f.Unlock()

	if f.file == nil {
		return nil
	}
	return f.file.Sync()
}

// Close closes the file
// it's safe to call on nil receiver
func (f *dailyFile) Close() error {
	if f == nil {
		return nil
	}
	f.Lock()
	defer f.Unlock()

	return f.close()
}
