package record

import "fmt"

// Iterator walks the raw entries of one producer table. The returned slices
// may be reused by the next call to Next.
type Iterator interface {
	Next() (key, value []byte, ok bool)
	Err() error
}

// Snapshot is one tick's decoded view of a producer table
type Snapshot map[Key]uint64

// BuildSnapshot drains it into a Snapshot. Duplicate keys overwrite earlier
// ones. A key with the wrong size aborts the build.
func BuildSnapshot(it Iterator) (Snapshot, error) {
	snap := make(Snapshot)
	for {
		rawKey, rawValue, ok := it.Next()
		if !ok {
			break
		}
		key, err := DecodeKey(rawKey)
		if err != nil {
			return nil, err
		}
		snap[key] = DecodeValue(rawValue)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("iterate table: %w", err)
	}
	return snap, nil
}

// Entry is a raw key/value pair
type Entry struct {
	Key   []byte
	Value []byte
}

// SliceIterator iterates over entries already held in memory
type SliceIterator struct {
	entries []Entry
	pos     int
}

// NewSliceIterator returns an Iterator over entries
func NewSliceIterator(entries []Entry) *SliceIterator {
	return &SliceIterator{entries: entries}
}

func (s *SliceIterator) Next() ([]byte, []byte, bool) {
	if s.pos >= len(s.entries) {
		return nil, nil, false
	}
	e := s.entries[s.pos]
	s.pos++
	return e.Key, e.Value, true
}

func (s *SliceIterator) Err() error { return nil }
