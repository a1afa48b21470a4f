package siser

import (
	"bytes"
	"strconv"
	"testing"
	"time"
)

func TestMarshalLine(t *testing.T) {
	fixedTime := time.Date(2024, 1, 15, 10, 30, 45, 123000000, time.UTC)
	fixedTimeMs := strconv.FormatInt(TimeToUnixMillisecond(fixedTime), 10)

	data := []byte("test data")
	dataWithNewline := []byte("test data\n")

	tests := []struct {
		name     string
		dataName string
		t        time.Time
		d        []byte
		expected string
	}{
		{
			name:     "all fields present",
			dataName: "set",
			t:        fixedTime,
			d:        data,
			expected: "--- 9 " + fixedTimeMs + " set\ntest data\n",
		},
		{
			name:     "empty name",
			dataName: "",
			t:        fixedTime,
			d:        data,
			expected: "--- 9 " + fixedTimeMs + "\ntest data\n",
		},
		{
			name:     "zero time",
			dataName: "set",
			t:        time.Time{},
			d:        data,
			expected: "--- 9 set\ntest data\n",
		},
		{
			name:     "nil data",
			dataName: "rm",
			t:        fixedTime,
			d:        nil,
			expected: "--- 0 " + fixedTimeMs + " rm\n",
		},
		{
			name:     "data already has newline",
			dataName: "set",
			t:        fixedTime,
			d:        dataWithNewline,
			expected: "--- 10 " + fixedTimeMs + " set\ntest data\n",
		},
		{
			name:     "all optional fields empty",
			dataName: "",
			t:        time.Time{},
			d:        nil,
			expected: "--- 0\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			result := MarshalLine(tt.dataName, tt.t, tt.d, &buf)

			if string(result) != tt.expected {
				t.Errorf("MarshalLine() = %q, want %q", string(result), tt.expected)
			}
			if !bytes.Equal(result, buf.Bytes()) {
				t.Errorf("MarshalLine() didn't use the provided buffer correctly")
			}
		})
	}
}

func TestMarshalLineNilBuffer(t *testing.T) {
	fixedTime := time.Date(2024, 1, 15, 10, 30, 45, 123000000, time.UTC)
	fixedTimeMs := TimeToUnixMillisecond(fixedTime)

	result := MarshalLine("name", fixedTime, []byte("test"), nil)
	expected := "--- 4 " + strconv.FormatInt(fixedTimeMs, 10) + " name\ntest\n"
	if string(result) != expected {
		t.Errorf("MarshalLine() with nil buffer = %q, want %q", string(result), expected)
	}
}

func TestWriterReturnsBytesWritten(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.NoTimestamp = true
	var rec Record
	rec.Name = "set"
	if err := rec.Write("key", "k", "value", "v"); err != nil {
		t.Fatalf("rec.Write() failed with '%s'", err)
	}
	n, err := w.WriteRecord(&rec)
	if err != nil {
		t.Fatalf("WriteRecord() failed with '%s'", err)
	}
	exp := "--- 16 set\nkey: k\nvalue: v\n"
	if buf.String() != exp {
		t.Fatalf("got %q, want %q", buf.String(), exp)
	}
	if n != len(exp) {
		t.Fatalf("n: %d, want %d", n, len(exp))
	}
	// WriteRecord resets the record
	if len(rec.Marshal()) != 0 {
		t.Fatalf("record not reset after WriteRecord")
	}
}
