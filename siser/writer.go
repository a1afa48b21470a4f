package siser

import (
	"bytes"
	"io"
	"strconv"
	"time"
)

var hdrPrefix = []byte("--- ")

// Writer writes records to an io.Writer.
// It's not safe for concurrent use.
type Writer struct {
	w io.Writer
	// NoTimestamp disables writing timestamp, which
	// makes serialized data not depend on when they were written
	NoTimestamp bool

	writeBuf bytes.Buffer
}

// NewWriter creates a writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w: w,
	}
}

// WriteRecord writes a record and resets it.
// Returns number of bytes written, including the header
func (w *Writer) WriteRecord(r *Record) (int, error) {
	d := r.Marshal()
	n, err := w.Write(d, r.Timestamp, r.Name)
	r.Reset()
	return n, err
}

// Write writes a block of data with optional timestamp and name.
// Returns number of bytes written (length of d + length of header)
func (w *Writer) Write(d []byte, t time.Time, name string) (int, error) {
	// most writes are small. if buffer gets big, don't keep it
	// around (unbounded cache is a mem leak)
	if w.writeBuf.Cap() > 100*1024 && len(d) < 50*1024 {
		w.writeBuf = bytes.Buffer{}
	}

	if w.NoTimestamp {
		t = zeroTime
	} else if t.IsZero() {
		t = time.Now()
	}

	d2 := MarshalLine(name, t, d, &w.writeBuf)
	return w.w.Write(d2)
}

// MarshalLine serializes a block of data with a header:
// "--- ${size} ${timestamp_in_unix_epoch_ms} ${name}\n${data}"
// If t is zero time, timestamp is omitted. If name is empty, it's omitted.
// If wb is not nil, it's re-used for the result.
func MarshalLine(name string, t time.Time, d []byte, wb *bytes.Buffer) []byte {
	if wb == nil {
		wb = &bytes.Buffer{}
	} else {
		wb.Reset()
	}
	// it's ok to estimate more, estimating less will require an alloc
	wb.Grow(len(hdrPrefix) + len(name) + len(d) + 32)

	wb.Write(hdrPrefix)
	dataLen := len(d)
	wb.WriteString(strconv.Itoa(dataLen))
	if !t.IsZero() {
		wb.WriteByte(' ')
		wb.WriteString(strconv.FormatInt(TimeToUnixMillisecond(t), 10))
	}
	if name != "" {
		wb.WriteByte(' ')
		wb.WriteString(name)
	}
	wb.WriteByte('\n')
	// for readability, if the data doesn't end with newline,
	// we add one at the end. Reader knows to skip it
	if dataLen > 0 {
		wb.Write(d)
		if d[dataLen-1] != '\n' {
			wb.WriteByte('\n')
		}
	}
	return wb.Bytes()
}
