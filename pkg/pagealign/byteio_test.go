package pagealign

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

// stingyReader skips at most max bytes per call, and nothing every other call.
type stingyReader struct {
	io.Reader
	max   int64
	calls int
}

func (s *stingyReader) Skip(n int64) (int64, error) {
	s.calls++
	if s.calls%2 == 0 {
		return 0, nil
	}
	if n > s.max {
		n = s.max
	}
	return io.CopyN(io.Discard, s.Reader, n)
}

func Test_readLittleEndian(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e}
	r := iotest.OneByteReader(bytes.NewReader(data))

	u16, ok := readU16LE(r)
	require.True(t, ok)
	require.Equal(t, uint16(0x0201), u16)

	u32, ok := readU32LE(r)
	require.True(t, ok)
	require.Equal(t, uint32(0x06050403), u32)

	u64, ok := readU64LE(r)
	require.True(t, ok)
	require.Equal(t, uint64(0x0e0d0c0b0a090807), u64)

	_, ok = readU16LE(r)
	require.False(t, ok)
}

func Test_readLittleEndian_ShortStream(t *testing.T) {
	_, ok := readU64LE(bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7}))
	require.False(t, ok)
	_, ok = readU32LE(bytes.NewReader([]byte{1, 2, 3}))
	require.False(t, ok)
	_, ok = readU16LE(bytes.NewReader(nil))
	require.False(t, ok)
}

func Test_readExact(t *testing.T) {
	buf := make([]byte, 4)
	require.True(t, readExact(iotest.HalfReader(bytes.NewReader([]byte{1, 2, 3, 4})), buf))
	require.Equal(t, []byte{1, 2, 3, 4}, buf)

	require.True(t, readExact(iotest.DataErrReader(bytes.NewReader([]byte{5, 6, 7, 8})), buf))
	require.Equal(t, []byte{5, 6, 7, 8}, buf)

	require.False(t, readExact(bytes.NewReader([]byte{1, 2, 3}), buf))
}

func Test_skipFully(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}

	testcases := []struct {
		name string
		r    func() io.Reader
	}{
		{"plain reader", func() io.Reader { return bytes.NewReader(data) }},
		{"one byte reads", func() io.Reader { return iotest.OneByteReader(bytes.NewReader(data)) }},
		{"partial skips", func() io.Reader { return &stingyReader{Reader: bytes.NewReader(data), max: 7} }},
		{"skips nothing", func() io.Reader { return &stingyReader{Reader: bytes.NewReader(data), max: 0} }},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			r := tc.r()
			require.True(t, skipFully(r, 42))
			b, ok := readU16LE(r)
			require.True(t, ok)
			require.Equal(t, uint16(43)<<8|42, b)

			require.True(t, skipFully(r, 56))
			require.False(t, skipFully(r, 1))
		})
	}
}

func Test_skipFully_Zero(t *testing.T) {
	require.True(t, skipFully(bytes.NewReader(nil), 0))
	require.True(t, skipFully(&stingyReader{Reader: bytes.NewReader(nil)}, 0))
}

func Test_skipFully_Negative(t *testing.T) {
	require.False(t, skipFully(bytes.NewReader([]byte{1, 2, 3}), -1))
	require.False(t, skipFully(&stingyReader{Reader: bytes.NewReader([]byte{1, 2, 3}), max: 8}, -1))
}
