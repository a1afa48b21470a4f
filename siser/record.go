package siser

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

/*
Serialize/Deserialize array of key/value pairs in a format that is easy
to serialize/parse and human-readable.

The basic format is line-oriented: "key: value\n"

When value is empty, long (> 120 chars) or has bytes outside of
printable ascii, we serialize it as:
key:+$len\n
value\n
*/

// Entry is a single key/value pair of a record
type Entry struct {
	Key   string
	Value string
}

var zeroTime time.Time

// Record is a list of key/value pairs being built for writing
type Record struct {
	buf  bytes.Buffer
	Name string
	// when writing, if not provided we use current time
	Timestamp time.Time
}

// ReadRecord is a decoded record
type ReadRecord struct {
	Name      string
	Timestamp time.Time
	// Entries are in the order they were written
	Entries []Entry
}

// perf: re-use buf
func toStr(v any, buf *[]byte) string {
	if s, ok := v.(string); ok {
		return s
	}
	*buf = (*buf)[:0]
	switch n := v.(type) {
	case int:
		*buf = strconv.AppendInt(*buf, int64(n), 10)
	case int64:
		*buf = strconv.AppendInt(*buf, n, 10)
	default:
		*buf = fmt.Appendf(*buf, "%v", v)
	}
	return string(*buf)
}

// Write appends key/value pairs to a record.
// After writing all pairs call Marshal() to get serialized value
// (valid until next Reset())
func (r *Record) Write(args ...any) error {
	n := len(args)
	if n == 0 || n%2 != 0 {
		return fmt.Errorf("invalid number of args: %d. Should be multiple of 2", len(args))
	}

	var buf []byte
	for i := 0; i < n; i += 2 {
		k := toStr(args[i], &buf)
		if err := validateKey(k); err != nil {
			return err
		}
		v := toStr(args[i+1], &buf)
		r.marshalKeyVal(k, v)
	}
	return nil
}

// keys are always written in the short form so they can't contain
// the separators used by the line format
func validateKey(k string) error {
	for i := 0; i < len(k); i++ {
		if k[i] == '\n' || k[i] == ':' {
			return fmt.Errorf("invalid key '%s': can't contain ':' or newline", k)
		}
	}
	return nil
}

// Reset to re-use the record. Doesn't reset Name because the common
// use case is writing many records of the same type
func (r *Record) Reset() {
	r.Timestamp = zeroTime
	r.buf.Reset()
}

// Reset prepares ReadRecord for re-use, keeping allocated Entries
func (r *ReadRecord) Reset() {
	r.Name = ""
	r.Timestamp = zeroTime
	r.Entries = r.Entries[:0]
}

// Get returns a value for a given key
func (r *ReadRecord) Get(key string) (string, bool) {
	for _, e := range r.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

func serializableOnLine(s string) bool {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b < 32 || b > 127 {
			return false
		}
	}
	return true
}

// return true if value needs to be serialized in long,
// size-prefixed format
func needsLongFormat(s string) bool {
	return len(s) == 0 || len(s) > 120 || !serializableOnLine(s)
}

func (r *Record) marshalKeyVal(key, val string) {
	r.buf.WriteString(key)

	if !needsLongFormat(val) {
		r.buf.WriteString(": ")
		r.buf.WriteString(val)
		r.buf.WriteByte('\n')
		return
	}

	r.buf.WriteString(":+")
	r.buf.WriteString(strconv.Itoa(len(val)))
	r.buf.WriteByte('\n')
	r.buf.WriteString(val)
	// for readability: ensure the next key always starts on a new line
	n := len(val)
	if n > 0 && val[n-1] != '\n' {
		r.buf.WriteByte('\n')
	}
}

// Marshal returns serialized record
func (r *Record) Marshal() []byte {
	return r.buf.Bytes()
}

// UnmarshalRecord decodes record body as created by Record.Marshal.
// Re-uses r if not nil.
func UnmarshalRecord(d []byte, r *ReadRecord) (*ReadRecord, error) {
	if r == nil {
		r = &ReadRecord{}
	} else {
		r.Reset()
	}

	for len(d) > 0 {
		idx := bytes.IndexByte(d, '\n')
		if idx == -1 {
			return nil, fmt.Errorf("missing '\\n' at the end of '%s'", string(d))
		}
		line := d[:idx]
		d = d[idx+1:]
		idx = bytes.IndexByte(line, ':')
		if idx == -1 {
			return nil, fmt.Errorf("line in unrecognized format: '%s'", line)
		}
		key := line[:idx]
		val := line[idx+1:]
		// at this point val must be at least one character (' ' or '+')
		if len(val) < 1 {
			return nil, fmt.Errorf("line in unrecognized format: '%s'", line)
		}
		kind := val[0]
		val = val[1:]
		switch kind {
		case ' ':
			r.Entries = append(r.Entries, Entry{Key: string(key), Value: string(val)})
			continue
		case '+':
			// long format, handled below
		default:
			return nil, fmt.Errorf("line in unrecognized format: '%s'", line)
		}

		n, err := strconv.Atoi(string(val))
		if err != nil {
			return nil, fmt.Errorf("invalid length in '%s': %w", line, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("negative length %d of data", n)
		}
		if n > len(d) {
			return nil, fmt.Errorf("length of value %d greater than remaining data of size %d", n, len(d))
		}
		val = d[:n]
		d = d[n:]
		// skip optional padding newline
		if n > 0 && val[n-1] != '\n' && len(d) > 0 && d[0] == '\n' {
			d = d[1:]
		}
		r.Entries = append(r.Entries, Entry{Key: string(key), Value: string(val)})
	}
	return r, nil
}
