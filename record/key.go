// Package record decodes the fixed-layout entries the BPF producer writes
// into its counter tables.
package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Raw key layout, mirroring the producer's struct:
//
//	struct key_t {
//	    int  cpu;
//	    int  pid;
//	    char name[TASK_COMM_LEN];
//	};
const (
	cpuOffset  = 0
	pidOffset  = 4
	nameOffset = 8

	// NameLen is TASK_COMM_LEN
	NameLen = 16
	// KeySize is the size of the raw key in bytes
	KeySize = nameOffset + NameLen
	// ValueSize is the size of the counter value in bytes
	ValueSize = 8
)

// ErrKeySize is returned when a raw key does not match the producer's layout
var ErrKeySize = errors.New("record: raw key has unexpected size")

// Key identifies one tracked series
type Key struct {
	CPU  int32
	PID  int32
	Name string
}

func (k Key) String() string {
	return fmt.Sprintf("cpu=%d pid=%d name=%q", k.CPU, k.PID, k.Name)
}

// DecodeKey reinterprets a raw producer key. The name is cut at the first NUL;
// a name that is not valid UTF-8 decodes to "".
func DecodeKey(b []byte) (Key, error) {
	if len(b) != KeySize {
		return Key{}, fmt.Errorf("%w: got %d bytes, want %d", ErrKeySize, len(b), KeySize)
	}

	return Key{
		CPU:  int32(binary.NativeEndian.Uint32(b[cpuOffset:pidOffset])),
		PID:  int32(binary.NativeEndian.Uint32(b[pidOffset:nameOffset])),
		Name: decodeName(b[nameOffset:KeySize]),
	}, nil
}

func decodeName(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	if !utf8.Valid(b) {
		return ""
	}
	return string(b)
}

// EncodeKey produces the raw producer layout for k. Names longer than NameLen
// are truncated.
func EncodeKey(k Key) []byte {
	b := make([]byte, KeySize)
	binary.NativeEndian.PutUint32(b[cpuOffset:], uint32(k.CPU))
	binary.NativeEndian.PutUint32(b[pidOffset:], uint32(k.PID))
	copy(b[nameOffset:KeySize], k.Name)
	return b
}

// DecodeValue reads a native-endian uint64. Short buffers are zero-extended,
// bytes past the eighth are ignored.
func DecodeValue(b []byte) uint64 {
	var v [ValueSize]byte
	copy(v[:], b)
	return binary.NativeEndian.Uint64(v[:])
}
