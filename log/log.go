// Package log is a minimal logging library.
//
// Logf() writes to Output (stderr by default) and, after Init(),
// to daily log files. Event() writes structured events as siser records.
//
// All functions are safe to call before Init(), in which case
// nothing is written to files.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

var (
	mu        sync.Mutex
	logFile   *dailyFile
	errorsLog *dailyFile
	events    *eventsFile

	// Output is where Logf() writes in addition to log files
	// Set to nil to disable
	Output io.Writer = os.Stderr

	// if true, Verbosef() will log messages
	Verbose bool
)

type Config struct {
	// directory where log files are stored
	// each log type (regular, errors, events) has its own subdirectory
	Dir string
}

// Init enables logging to files in config.Dir
func Init(config *Config) error {
	dir, err := filepath.Abs(config.Dir)
	if err != nil {
		return err
	}
	Close()

	mu.Lock()
	defer mu.Unlock()
	logFile = newDailyFile(filepath.Join(dir, "log"), "")
	errorsLog = newDailyFile(filepath.Join(dir, "errors"), "")
	// events are only written if there are events so it's
	// a no-op for apps that don't log them
	events = newEventsFile(filepath.Join(dir, "events"))
	return nil
}

func closeDailyFile(f **dailyFile) {
	if *f == nil {
		return
	}
	_ = (*f).Sync()
	_ = (*f).Close()
	*f = nil
}

// Close flushes and closes log files
func Close() {
	mu.Lock()
	defer mu.Unlock()

	closeDailyFile(&logFile)
	closeDailyFile(&errorsLog)
	if events != nil {
		closeDailyFile(&events.file)
		events = nil
	}
}

func logs() (*dailyFile, *dailyFile) {
	mu.Lock()
	defer mu.Unlock()
	return logFile, errorsLog
}

func eventsLog() *eventsFile {
	mu.Lock()
	defer mu.Unlock()
	return events
}

func Logf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	if Output != nil {
		_, _ = io.WriteString(Output, s)
	}
	lf, _ := logs()
	_, _ = lf.Write([]byte(s))
}

func Verbosef(format string, args ...any) {
	if !Verbose {
		return
	}
	Logf(format, args...)
}

func GetCallstackFrames(skip int) []string {
	var callers [32]uintptr
	n := runtime.Callers(skip+1, callers[:])
	frames := runtime.CallersFrames(callers[:n])
	var cs []string
	for {
		frame, more := frames.Next()
		if !more {
			break
		}
		s := frame.File + ":" + strconv.Itoa(frame.Line)
		cs = append(cs, s)
	}
	return cs
}

func GetCallstack(skip int) string {
	frames := GetCallstackFrames(skip + 1)
	return strings.Join(frames, "\n")
}

// Errorf logs an error message along with the callstack.
// Errors also go to a separate errors log
func Errorf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	cs := GetCallstack(1)
	if Verbose {
		Logf("%s%s\n", s, cs)
	} else {
		Logf("%s", s)
	}
	_, el := logs()
	_, _ = el.Write([]byte(s + cs + "\n"))
}

// if err != nil, log and return true
// IfErrf(err) => logs err.Error()
// IfErrf(err, "error is: %v", err) => logs message formatted
func IfErrf(err error, a ...any) bool {
	if err == nil {
		return false
	}
	if len(a) == 0 {
		Errorf("%s", err.Error())
		return true
	}
	s, ok := a[0].(string)
	if !ok {
		s = fmt.Sprintf("%s", a[0])
	}
	if len(a) > 1 {
		s = fmt.Sprintf(s, a[1:]...)
	}
	Errorf("%s", s)
	return true
}
