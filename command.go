package kvs

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/kjk/kvs/siser"
)

// names of siser records in the log
const (
	recNameSet    = "set"
	recNameRemove = "rm"
)

// Command is a record in the command log: either SetCommand or RemoveCommand
type Command interface {
	recordName() string
}

type SetCommand struct {
	Key   string
	Value string
}

type RemoveCommand struct {
	Key string
}

func (SetCommand) recordName() string    { return recNameSet }
func (RemoveCommand) recordName() string { return recNameRemove }

// marshalCommand writes cmd fields to rec. rec must be empty
func marshalCommand(cmd Command, rec *siser.Record) error {
	rec.Name = cmd.recordName()
	switch c := cmd.(type) {
	case SetCommand:
		return rec.Write("key", c.Key, "value", c.Value)
	case RemoveCommand:
		return rec.Write("key", c.Key)
	}
	return fmt.Errorf("unknown command %T", cmd)
}

func commandFromRecord(rec *siser.ReadRecord) (Command, error) {
	key, ok := rec.Get("key")
	if !ok {
		return nil, fmt.Errorf("%w: '%s' record without key", ErrCorruptLog, rec.Name)
	}
	switch rec.Name {
	case recNameSet:
		v, ok := rec.Get("value")
		if !ok {
			return nil, fmt.Errorf("%w: set record for key '%s' without value", ErrCorruptLog, key)
		}
		return SetCommand{Key: key, Value: v}, nil
	case recNameRemove:
		return RemoveCommand{Key: key}, nil
	}
	return nil, fmt.Errorf("%w: unknown record '%s'", ErrCorruptLog, rec.Name)
}

// decodeCommand decodes d which must be exactly one serialized command
func decodeCommand(d []byte) (Command, error) {
	r := siser.NewReader(bufio.NewReader(bytes.NewReader(d)))
	r.MaxSize = int64(len(d))
	if !r.ReadNextRecord() {
		if err := r.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: no record in %d bytes", ErrCorruptLog, len(d))
	}
	if r.NextRecordPos != int64(len(d)) {
		return nil, fmt.Errorf("%w: record is %d bytes, expected %d", ErrCorruptLog, r.NextRecordPos, len(d))
	}
	return commandFromRecord(r.Record)
}
