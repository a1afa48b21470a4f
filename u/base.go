package u

import (
	"fmt"
	"strings"
)

func fmtArgs(args ...any) string {
	if len(args) == 0 {
		return ""
	}
	s := fmt.Sprintf("%s", args[0])
	if len(args) > 1 {
		s = fmt.Sprintf(s, args[1:]...)
	}
	return s
}

// PanicIf panics if cond is true. args are optional format string and values
func PanicIf(cond bool, args ...any) {
	if !cond {
		return
	}
	s := fmtArgs(args...)
	if s == "" {
		s = "condition failed"
	}
	panic(s)
}

// FormatSize formats a number in a human-readable form e.g. 1.24 kB
func FormatSize(n int64) string {
	sizes := []int64{1024 * 1024 * 1024, 1024 * 1024, 1024}
	suffixes := []string{"GB", "MB", "kB"}
	for i, size := range sizes {
		if n >= size {
			s := fmt.Sprintf("%.2f", float64(n)/float64(size))
			return strings.TrimSuffix(s, ".00") + " " + suffixes[i]
		}
	}
	return fmt.Sprintf("%d bytes", n)
}
