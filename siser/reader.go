package siser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

var (
	// ErrTruncated is returned by Reader.Err() when the data ends in the
	// middle of a record, e.g. after an interrupted write.
	// It also matches io.ErrUnexpectedEOF.
	ErrTruncated = fmt.Errorf("siser: truncated record: %w", io.ErrUnexpectedEOF)

	// ErrCorrupt is returned by Reader.Err() when a record header can't be parsed
	ErrCorrupt = errors.New("siser: corrupt record")
)

// Reader is for reading (deserializing) records from a bufio.Reader
type Reader struct {
	r *bufio.Reader

	// hints that the data was written without a timestamp
	// (see Writer.NoTimestamp). We're permissive i.e. we'll
	// read timestamp if it's written even if NoTimestamp is true
	NoTimestamp bool

	// Record is available after ReadNextRecord().
	// It's over-written in next ReadNextRecord().
	Record *ReadRecord

	// Data / Name / Timestamp are available after ReadNextData.
	// They are over-written in next ReadNextData.
	Data      []byte
	Name      string
	Timestamp time.Time

	// position of the current record within the underlying stream.
	// We keep track of it so that callers can index records
	// by offset and seek to it
	CurrRecordPos int64

	// position of the next record i.e. end of the current record
	NextRecordPos int64

	// if > 0, position of the end of data. A record that claims
	// to extend past it is reported as truncated without reading it
	MaxSize int64

	err error

	// true if reached end of data cleanly, on a record boundary
	done bool
}

// NewReader creates a new reader
func NewReader(r *bufio.Reader) *Reader {
	return NewReaderAt(r, 0)
}

// NewReaderAt creates a reader for a stream that was positioned at pos
// in the underlying file. Record positions are reported relative to
// the start of the file, not relative to pos
func NewReaderAt(r *bufio.Reader, pos int64) *Reader {
	return &Reader{
		r:             r,
		Record:        &ReadRecord{},
		CurrRecordPos: pos,
		NextRecordPos: pos,
	}
}

// Done returns true if we're finished reading from the reader
func (r *Reader) Done() bool {
	return r.err != nil || r.done
}

func (r *Reader) truncated(what string) {
	r.err = fmt.Errorf("%w: incomplete %s of record at offset %d", ErrTruncated, what, r.CurrRecordPos)
}

func (r *Reader) corrupt(hdr []byte) {
	r.err = fmt.Errorf("%w: unexpected header '%s' at offset %d", ErrCorrupt, string(bytes.TrimSpace(hdr)), r.CurrRecordPos)
}

// ReadNextData reads next block from the reader, returns false
// when no more records. If returns false, check Err() to see
// if there were errors.
// After reading Data contains data, and Timestamp and (optional) Name
// contain meta-data
func (r *Reader) ReadNextData() bool {
	if r.Done() {
		return false
	}
	r.Name = ""
	r.Timestamp = zeroTime
	r.CurrRecordPos = r.NextRecordPos

	// read header in the format:
	// "--- ${size} ${timestamp_in_unix_epoch_ms} ${name}\n"
	// or (if NoTimestamp):
	// "--- ${size} ${name}\n"
	// ${name} is optional
	hdr, err := r.r.ReadBytes('\n')
	if err != nil {
		if err != io.EOF {
			r.err = err
			return false
		}
		if len(hdr) == 0 {
			r.done = true
			return false
		}
		// data ended in the middle of the header line
		r.truncated("header")
		return false
	}
	recSize := len(hdr)

	if !bytes.HasPrefix(hdr, hdrPrefix) {
		r.corrupt(hdr)
		return false
	}
	hdr = hdr[len(hdrPrefix):]

	rest := hdr[:len(hdr)-1] // remove '\n' from end
	idx := bytes.IndexByte(rest, ' ')
	var dataSize []byte
	if idx == -1 {
		if !r.NoTimestamp {
			// with timestamp, we need at least 2 values separated by space
			r.corrupt(hdr)
			return false
		}
		dataSize = rest
		rest = nil
	} else {
		dataSize = rest[:idx]
		rest = rest[idx+1:]
	}
	var name []byte
	var timestamp []byte
	idx = bytes.IndexByte(rest, ' ')
	if idx == -1 {
		if r.NoTimestamp {
			name = rest
		} else {
			timestamp = rest
		}
	} else {
		timestamp = rest[:idx]
		name = rest[idx+1:]
	}

	size, err := strconv.ParseInt(string(dataSize), 10, 64)
	if err != nil || size < 0 {
		r.corrupt(hdr)
		return false
	}

	if len(timestamp) > 0 {
		timeMs, err := strconv.ParseInt(string(timestamp), 10, 64)
		if err != nil {
			r.corrupt(hdr)
			return false
		}
		r.Timestamp = TimeFromUnixMillisecond(timeMs)
	}
	r.Name = string(name)

	if r.MaxSize > 0 && size > r.MaxSize-r.CurrRecordPos-int64(recSize) {
		r.truncated("data")
		return false
	}

	// we try to re-use r.Data as long as it doesn't grow too much
	// (limit to 1 MB)
	if cap(r.Data) > 1024*1024 {
		r.Data = nil
	}
	if size > int64(cap(r.Data)) {
		r.Data = make([]byte, size)
	} else {
		r.Data = r.Data[:size]
	}
	n, err := io.ReadFull(r.r, r.Data)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			r.truncated("data")
		} else {
			r.err = err
		}
		return false
	}
	recSize += n

	// account for the padding '\n' added by the writer
	// (same logic as in MarshalLine)
	if n > 0 && r.Data[n-1] != '\n' {
		b, err := r.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				r.truncated("padding")
			} else {
				r.err = err
			}
			return false
		}
		if b != '\n' {
			r.err = fmt.Errorf("%w: missing newline after data of record at offset %d", ErrCorrupt, r.CurrRecordPos)
			return false
		}
		recSize++
	}
	r.NextRecordPos += int64(recSize)
	return true
}

// ReadNextRecord reads a key / value record.
// Returns false if there are no more records.
// Check Err() for errors.
// After reading information is in Record (valid until
// next read).
func (r *Reader) ReadNextRecord() bool {
	if !r.ReadNextData() {
		return false
	}

	_, err := UnmarshalRecord(r.Data, r.Record)
	if err != nil {
		r.err = fmt.Errorf("%w: record at offset %d: %w", ErrCorrupt, r.CurrRecordPos, err)
		return false
	}
	r.Record.Name = r.Name
	r.Record.Timestamp = r.Timestamp
	return true
}

// Err returns error from last Read. Reaching the end of data
// on a record boundary is not an error
func (r *Reader) Err() error {
	return r.err
}
