package kvs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kjk/kvs/log"
)

// DefaultFileName is the name of the command log inside the store directory
const DefaultFileName = "store.log"

type Options struct {
	// directory where the log is stored. Created if doesn't exist.
	// For current directory, use "."
	Dir string
	// name of the log file inside Dir, DefaultFileName if empty
	FileName string
	// if true, every write is fsync()ed, not just flushed to the OS.
	// Survives power loss at a large cost in write speed
	SyncWrite bool
	// if true, Remove() of a key that doesn't exist doesn't write
	// anything to the log
	CheckBeforeRemove bool
}

type Store struct {
	opts Options
	path string
	log  *commandLog
	idx  *keyDir
}

// Open opens a store in dir with default options
func Open(dir string) (*Store, error) {
	return OpenWithOptions(&Options{Dir: dir})
}

func OpenWithOptions(opts *Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("data directory is not set. For current directory, use '.'")
	}
	s := &Store{
		opts: *opts,
	}
	if s.opts.FileName == "" {
		s.opts.FileName = DefaultFileName
	}
	err := os.MkdirAll(s.opts.Dir, 0755)
	if err != nil {
		return nil, err
	}
	s.path, err = filepath.Abs(filepath.Join(s.opts.Dir, s.opts.FileName))
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for log file: %w", err)
	}

	s.log, err = openCommandLog(s.path, s.opts.SyncWrite)
	if err != nil {
		return nil, err
	}
	s.idx = newKeyDir()
	if _, err = replay(s.log, s.idx); err != nil {
		_ = s.log.close()
		return nil, fmt.Errorf("failed to open '%s': %w", s.path, err)
	}
	return s, nil
}

// Path returns absolute path of the command log
func (s *Store) Path() string {
	return s.path
}

// Get returns the value for key. ok is false if key doesn't exist
func (s *Store) Get(key string) (string, bool, error) {
	if s.log == nil {
		return "", false, ErrClosed
	}
	pos, ok := s.idx.find(key)
	if !ok {
		return "", false, nil
	}
	d, err := s.log.readExact(pos.Offset, pos.Length)
	if err != nil {
		return "", false, err
	}
	cmd, err := decodeCommand(d)
	if err != nil {
		return "", false, err
	}
	c, ok := cmd.(SetCommand)
	if !ok || c.Key != key {
		return "", false, fmt.Errorf("%w: %T for key '%s' at offset %d", ErrUnexpectedCommandType, cmd, key, pos.Offset)
	}
	return c.Value, true, nil
}

func (s *Store) write(cmd Command) (int64, int64, error) {
	start, n, err := s.log.appendCommand(cmd)
	if err != nil {
		return 0, 0, err
	}
	if err = s.log.flush(); err != nil {
		return 0, 0, err
	}
	return start, n, nil
}

// Set sets the value for key, overwriting previous value.
// When it returns, the value is in the log file
func (s *Store) Set(key string, value string) error {
	if s.log == nil {
		return ErrClosed
	}
	start, n, err := s.write(SetCommand{Key: key, Value: value})
	if err != nil {
		return err
	}
	s.idx.update(key, recordPos{Offset: start, Length: n})
	return nil
}

// Remove deletes the key. Returns ErrKeyNotFound if key doesn't exist.
// Unless Options.CheckBeforeRemove is set, a remove command is written
// to the log even for keys that don't exist
func (s *Store) Remove(key string) error {
	if s.log == nil {
		return ErrClosed
	}
	_, exists := s.idx.find(key)
	if s.opts.CheckBeforeRemove && !exists {
		return ErrKeyNotFound
	}
	if _, _, err := s.write(RemoveCommand{Key: key}); err != nil {
		return err
	}
	if !s.idx.delete(key) {
		return ErrKeyNotFound
	}
	return nil
}

// Len returns number of keys
func (s *Store) Len() int {
	if s.idx == nil {
		return 0
	}
	return s.idx.len()
}

// Keys returns all keys, sorted
func (s *Store) Keys() []string {
	if s.idx == nil {
		return nil
	}
	return s.idx.keys()
}

// Snapshot writes a consistent copy of the log to w
func (s *Store) Snapshot(w io.Writer) (int64, error) {
	if s.log == nil {
		return 0, ErrClosed
	}
	return s.log.snapshot(w)
}

// Close flushes pending writes and closes the log file.
// Calling Close on a closed store is a no-op
func (s *Store) Close() error {
	if s.log == nil {
		return nil
	}
	err := s.log.close()
	s.log = nil
	s.idx = nil
	if err != nil {
		log.Errorf("kvs: failed to close '%s': %s\n", s.path, err)
		return err
	}
	log.Event("kvs.close", "path", s.path)
	return nil
}

// IsNotFound returns true if err is ErrKeyNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}
