package kvs

import "errors"

var (
	// ErrKeyNotFound is returned by Remove when the key has no live value
	ErrKeyNotFound = errors.New("key not found")

	// ErrUnexpectedCommandType is returned by Get when the index points
	// at a log record that isn't a set command for the key.
	// It means the index and the log disagree and should never happen
	ErrUnexpectedCommandType = errors.New("unexpected command type")

	// ErrCorruptLog is returned when a record in the middle of the log
	// can't be decoded
	ErrCorruptLog = errors.New("corrupt command log")

	// ErrClosed is returned by operations on a closed store
	ErrClosed = errors.New("store is closed")
)
