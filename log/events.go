package log

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/kjk/kvs/siser"
	"github.com/toon-format/toon-go"
)

// eventsFile writes events as siser records to a daily file
type eventsFile struct {
	mu    sync.Mutex
	file  *dailyFile
	siser *siser.Writer
}

func newEventsFile(dir string) *eventsFile {
	f := newDailyFile(dir, "")
	return &eventsFile{
		file:  f,
		siser: siser.NewWriter(f),
	}
}

// it's safe to call on nil receiver
func (e *eventsFile) write(name string, t time.Time, d []byte) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.siser.Write(d, t, name)
	return err
}

// simpleTypeToStr converts simple types to string
// panics if v is of complex type
func simpleTypeToStr(v any) string {
	rt := reflect.TypeOf(v)
	kind := rt.Kind()
	switch kind {
	case reflect.Array, reflect.Slice, reflect.Struct, reflect.Map, reflect.Chan, reflect.Interface, reflect.Pointer:
		panic(fmt.Sprintf("simpleTypeToStr: value is of kind %v", kind))
	case reflect.String:
		return v.(string)
	}
	return fmt.Sprintf("%v", v)
}

// EncodeEvent encodes key / value pairs in toon format
func EncodeEvent(vals ...any) ([]byte, error) {
	n := len(vals)
	if n%2 != 0 {
		return nil, fmt.Errorf("odd number of values: %d", n)
	}
	if n == 0 {
		return nil, nil
	}
	m := map[string]any{}
	for i := 0; i < n; i += 2 {
		k := simpleTypeToStr(vals[i])
		m[k] = vals[i+1]
	}
	return toon.Marshal(m)
}

// Event logs an event with key / value pairs.
// It's a no-op if events log wasn't enabled with Init()
func Event(name string, vals ...any) {
	d, err := EncodeEvent(vals...)
	if err != nil {
		Errorf("log.Event('%s'): %s\n", name, err)
		return
	}
	t := time.Now().UTC()
	IfErrf(eventsLog().write(name, t, d))
	Verbosef("event: %s %s\n", name, d)
}
