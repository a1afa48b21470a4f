// Package kvs is a persistent key-value store backed by an append-only
// command log.
//
// # Store Structure
//
// A store is a directory with a single file (default: "store.log").
// Every Set and Remove appends a command to the log and flushes it
// before returning. The log is a stream of siser records:
//
//	--- 26 1718000000000 set
//	key: name
//	value: John Doe
//	--- 10 1718000000100 rm
//	key: name
//
// An in-memory index maps each key to the offset and length of its most
// recent set record. The index is never persisted: Open rebuilds it by
// replaying the whole log. Get is a single positional read.
//
// If the last record in the log is incomplete (e.g. the process crashed
// in the middle of a write) Open drops it and cuts the file back to the
// end of the last complete record. Any other undecodable record fails
// Open with ErrCorruptLog.
//
// # Basic Usage
//
//	s, err := kvs.Open("./data")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	err = s.Set("name", "John Doe")
//	v, ok, err := s.Get("name")
//	err = s.Remove("name")
//
// # Thread Safety
//
// A Store is not safe for concurrent use and only one Store should
// have a given directory open at a time.
package kvs
