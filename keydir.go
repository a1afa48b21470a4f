package kvs

import (
	"slices"

	"github.com/kjk/kvs/u"
)

// recordPos is location of a serialized command in the log
type recordPos struct {
	Offset int64
	Length int64
}

// keyDir maps a key to the log record with its latest value
type keyDir struct {
	m map[string]recordPos
}

func newKeyDir() *keyDir {
	return &keyDir{
		m: map[string]recordPos{},
	}
}

func (kd *keyDir) find(key string) (recordPos, bool) {
	pos, ok := kd.m[key]
	return pos, ok
}

func (kd *keyDir) update(key string, pos recordPos) {
	u.PanicIf(pos.Offset < 0 || pos.Length <= 0, "invalid position %d:%d for key '%s'", pos.Offset, pos.Length, key)
	kd.m[key] = pos
}

// delete returns false if key wasn't present
func (kd *keyDir) delete(key string) bool {
	if _, ok := kd.m[key]; !ok {
		return false
	}
	delete(kd.m, key)
	return true
}

func (kd *keyDir) len() int {
	return len(kd.m)
}

// keys returns all keys, sorted
func (kd *keyDir) keys() []string {
	res := make([]string, 0, len(kd.m))
	for k := range kd.m {
		res = append(res, k)
	}
	slices.Sort(res)
	return res
}
