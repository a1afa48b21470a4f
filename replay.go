package kvs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/kjk/kvs/log"
	"github.com/kjk/kvs/siser"
	"github.com/kjk/kvs/u"
)

type replayStats struct {
	Records int
	Sets    int
	Removes int
	// bytes taken by records that no longer hold a live value
	SupersededBytes int64
	// bytes of incomplete record cut from the end of the log
	TruncatedBytes int64
	End            int64
}

// replay rebuilds kd by reading all commands in the log and positions
// the log for appending after the last complete record
func replay(l *commandLog, kd *keyDir) (*replayStats, error) {
	stats := &replayStats{}
	cmds, errFn := l.scan(0)
	for sc := range cmds {
		stats.Records++
		switch cmd := sc.Cmd.(type) {
		case SetCommand:
			stats.Sets++
			kd.update(cmd.Key, recordPos{Offset: sc.Start, Length: sc.End - sc.Start})
		case RemoveCommand:
			stats.Removes++
			kd.delete(cmd.Key)
		}
		stats.End = sc.End
	}

	err := errFn()
	switch {
	case err == nil:
		// no-op
	case errors.Is(err, siser.ErrTruncated):
		if err = cutIncompleteTail(l, stats, err); err != nil {
			return nil, err
		}
	case errors.Is(err, ErrCorruptLog):
		return nil, err
	case errors.Is(err, siser.ErrCorrupt):
		return nil, fmt.Errorf("%w: %w", ErrCorruptLog, err)
	default:
		return nil, err
	}

	if err = l.setWriteOffset(stats.End); err != nil {
		return nil, err
	}

	var live int64
	for _, k := range kd.keys() {
		pos, _ := kd.find(k)
		live += pos.Length
	}
	stats.SupersededBytes = stats.End - live

	log.Verbosef("kvs: replayed '%s': %d records (%d set, %d rm), %d keys, %s superseded\n", l.path, stats.Records, stats.Sets, stats.Removes, kd.len(), u.FormatSize(stats.SupersededBytes))
	log.Event("kvs.open", "path", l.path, "records", stats.Records, "keys", kd.len(), "superseded", stats.SupersededBytes)
	return stats, nil
}

var recordStart = []byte("\n--- ")

// findCompleteRecord returns offset of the first complete record in d
// that starts at a line boundary after d[0], -1 if there isn't one
func findCompleteRecord(d []byte) int {
	i := 0
	for {
		idx := bytes.Index(d[i:], recordStart)
		if idx < 0 {
			return -1
		}
		pos := i + idx + 1
		r := siser.NewReader(bufio.NewReader(bytes.NewReader(d[pos:])))
		r.MaxSize = int64(len(d) - pos)
		if r.ReadNextData() {
			return pos
		}
		i = pos
	}
}

// cutIncompleteTail removes the incomplete record at the end of the log
// left by an interrupted write. The removed bytes are appended to
// ${path}.corrupt.
// If a complete record follows, the log is corrupt (e.g. a damaged
// size in a record header) and nothing is removed
func cutIncompleteTail(l *commandLog, stats *replayStats, readErr error) error {
	size, err := l.size()
	if err != nil {
		return err
	}
	tail, err := l.readExact(stats.End, size-stats.End)
	if err != nil {
		return err
	}
	if off := findCompleteRecord(tail); off >= 0 {
		return fmt.Errorf("%w: %w followed by a complete record at offset %d", ErrCorruptLog, readErr, stats.End+int64(off))
	}

	stats.TruncatedBytes = int64(len(tail))
	corruptPath := l.path + ".corrupt"
	f, err := os.OpenFile(corruptPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	_, err = f.Write(tail)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return fmt.Errorf("failed to save incomplete record to '%s': %w", corruptPath, err)
	}

	log.Errorf("kvs: %s: %s, moved last %d bytes to '%s'\n", l.path, readErr, stats.TruncatedBytes, corruptPath)
	log.Event("kvs.truncated-tail", "path", l.path, "offset", stats.End, "bytes", stats.TruncatedBytes)
	if err = l.truncate(stats.End); err != nil {
		return fmt.Errorf("failed to truncate '%s' to %d bytes: %w", l.path, stats.End, err)
	}
	return nil
}
