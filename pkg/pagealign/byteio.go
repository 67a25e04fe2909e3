package pagealign

import (
	"encoding/binary"
	"io"
)

// skipper is implemented by readers that can advance without copying, such as
// zipstream entries. Skip may deliver fewer bytes than requested.
type skipper interface {
	Skip(n int64) (int64, error)
}

// readExact fills buf from r. It returns false if the stream ends before buf is full.
func readExact(r io.Reader, buf []byte) bool {
	off := 0
	for off < len(buf) {
		n, err := r.Read(buf[off:])
		off += n
		if err != nil {
			return off == len(buf)
		}
	}
	return true
}

func readU16LE(r io.Reader) (uint16, bool) {
	var b [2]byte
	if !readExact(r, b[:]) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b[:]), true
}

func readU32LE(r io.Reader) (uint32, bool) {
	var b [4]byte
	if !readExact(r, b[:]) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b[:]), true
}

func readU64LE(r io.Reader) (uint64, bool) {
	var b [8]byte
	if !readExact(r, b[:]) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b[:]), true
}

// skipFully advances r by exactly n bytes. A negative n fails. Entry streams of compressed archives
// often skip less than asked, or nothing at all, so a skip that makes no
// progress falls back to reading a single byte.
func skipFully(r io.Reader, n int64) bool {
	if n < 0 {
		return false
	}
	s, ok := r.(skipper)
	if !ok {
		copied, _ := io.CopyN(io.Discard, r, n)
		return copied == n
	}
	var one [1]byte
	remaining := n
	for remaining > 0 {
		skipped, _ := s.Skip(remaining)
		if skipped > 0 {
			remaining -= skipped
			continue
		}
		if !readExact(r, one[:]) {
			return false
		}
		remaining--
	}
	return true
}
