package kvs

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/kjk/kvs/siser"
)

// posWriter is a buffered writer that tracks the file offset
// at which the next write will land
type posWriter struct {
	f   *os.File
	w   *bufio.Writer
	pos int64
}

func (p *posWriter) Write(d []byte) (int, error) {
	n, err := p.w.Write(d)
	p.pos += int64(n)
	return n, err
}

func (p *posWriter) Flush() error {
	return p.w.Flush()
}

// Seek flushes buffered data and moves the write position to pos
func (p *posWriter) Seek(pos int64) error {
	if err := p.w.Flush(); err != nil {
		return err
	}
	if _, err := p.f.Seek(pos, io.SeekStart); err != nil {
		return err
	}
	p.pos = pos
	return nil
}

// posReader is a buffered reader with its own file handle so that
// reading doesn't move the write position
type posReader struct {
	f *os.File
	r *bufio.Reader
	// -1 means unknown, next read must seek
	pos int64
}

func (p *posReader) Read(d []byte) (int, error) {
	n, err := p.r.Read(d)
	p.pos += int64(n)
	return n, err
}

func (p *posReader) Seek(pos int64) error {
	if pos == p.pos {
		return nil
	}
	if _, err := p.f.Seek(pos, io.SeekStart); err != nil {
		p.pos = -1
		return err
	}
	p.r.Reset(p.f)
	p.pos = pos
	return nil
}

// commandLog is an append-only file of serialized commands
type commandLog struct {
	path      string
	syncWrite bool

	writer *posWriter
	reader *posReader

	siser *siser.Writer
	rec   siser.Record
}

type scannedCommand struct {
	Cmd Command
	// Start is offset of the record, End is offset of the next record
	Start int64
	End   int64
}

func openCommandLog(path string, syncWrite bool) (*commandLog, error) {
	wf, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	rf, err := os.Open(path)
	if err != nil {
		wf.Close()
		return nil, err
	}
	l := &commandLog{
		path:      path,
		syncWrite: syncWrite,
		writer: &posWriter{
			f: wf,
			w: bufio.NewWriter(wf),
		},
		reader: &posReader{
			f: rf,
			r: bufio.NewReader(rf),
		},
	}
	l.siser = siser.NewWriter(l.writer)
	return l, nil
}

// writeOffset returns offset at which the next command will be written
func (l *commandLog) writeOffset() int64 {
	return l.writer.pos
}

func (l *commandLog) setWriteOffset(off int64) error {
	return l.writer.Seek(off)
}

// appendCommand serializes cmd at the end of the log.
// Returns offset of the record and its size. The data is buffered
// until flush()
func (l *commandLog) appendCommand(cmd Command) (int64, int64, error) {
	l.rec.Reset()
	if err := marshalCommand(cmd, &l.rec); err != nil {
		return 0, 0, err
	}
	start := l.writer.pos
	n, err := l.siser.WriteRecord(&l.rec)
	if err != nil {
		return 0, 0, err
	}
	return start, int64(n), nil
}

// flush writes buffered data to the file. If syncWrite is set, it also
// makes the OS write it to stable storage which is much slower
func (l *commandLog) flush() error {
	if err := l.writer.Flush(); err != nil {
		return err
	}
	if l.syncWrite {
		return l.writer.f.Sync()
	}
	return nil
}

// readExact reads length bytes at offset. It's an error if the file
// has fewer bytes
func (l *commandLog) readExact(offset int64, length int64) ([]byte, error) {
	if err := l.reader.Seek(offset); err != nil {
		return nil, fmt.Errorf("failed to seek to offset %d: %w", offset, err)
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(l.reader, buf)
	if err != nil {
		l.reader.pos = -1
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("reached end of file after reading %d bytes, expected %d: %w", n, length, io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("failed to read %d bytes: %w", length, err)
	}
	return buf, nil
}

// scan returns an iterator over commands starting at offset.
// Call the returned error function after iteration to check for errors.
// A record that extends past the end of the file is reported as an
// error matching siser.ErrTruncated
func (l *commandLog) scan(offset int64) (iter.Seq[scannedCommand], func() error) {
	var iterErr error

	seq := func(yield func(scannedCommand) bool) {
		// the siser reader reads from l.reader's buffer directly so
		// we no longer know the position
		defer func() {
			l.reader.pos = -1
		}()
		if err := l.reader.Seek(offset); err != nil {
			iterErr = err
			return
		}
		size, err := l.size()
		if err != nil {
			iterErr = err
			return
		}
		r := siser.NewReaderAt(l.reader.r, offset)
		r.MaxSize = size
		for r.ReadNextRecord() {
			cmd, err := commandFromRecord(r.Record)
			if err != nil {
				iterErr = fmt.Errorf("record at offset %d: %w", r.CurrRecordPos, err)
				return
			}
			sc := scannedCommand{
				Cmd:   cmd,
				Start: r.CurrRecordPos,
				End:   r.NextRecordPos,
			}
			if !yield(sc) {
				return
			}
		}
		iterErr = r.Err()
	}

	return seq, func() error { return iterErr }
}

// size returns size of the file, including not yet flushed data
func (l *commandLog) size() (int64, error) {
	st, err := l.writer.f.Stat()
	if err != nil {
		return 0, err
	}
	return max(st.Size(), l.writer.pos), nil
}

// truncate cuts the file at off and moves write position there
func (l *commandLog) truncate(off int64) error {
	if err := l.writer.Flush(); err != nil {
		return err
	}
	if err := l.writer.f.Truncate(off); err != nil {
		return err
	}
	l.reader.pos = -1
	return l.writer.Seek(off)
}

// snapshot copies the log up to the current write position to w
func (l *commandLog) snapshot(w io.Writer) (int64, error) {
	if err := l.writer.Flush(); err != nil {
		return 0, err
	}
	sr := io.NewSectionReader(l.reader.f, 0, l.writer.pos)
	return io.Copy(w, sr)
}

func (l *commandLog) close() error {
	err := l.writer.Flush()
	if l.syncWrite && err == nil {
		err = l.writer.f.Sync()
	}
	if err2 := l.writer.f.Close(); err == nil {
		err = err2
	}
	if err2 := l.reader.f.Close(); err == nil {
		err = err2
	}
	return err
}
