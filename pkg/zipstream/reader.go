// Package zipstream reads ZIP archives sequentially through their local file
// headers, without seeking and without the central directory.
//
// It exists for callers that need the physical position of every entry while
// streaming an archive, such as checking that stored native libraries of an APK
// are page aligned.
package zipstream

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Compression methods understood by Reader.
const (
	Store   uint16 = 0
	Deflate uint16 = 8
	Zstd    uint16 = 93
)

const (
	localFileHeaderSignature  = 0x04034b50
	centralDirectorySignature = 0x02014b50
	dataDescriptorSignature   = 0x08074b50
	endOfCentralDirSignature  = 0x06054b50
	zip64EndSignature         = 0x06064b50
	archiveExtraDataSignature = 0x08064b50
	splitArchiveSignature     = 0x30304b50

	localFileHeaderLen = 30
	zip64ExtraID       = 0x0001
	uint32Max          = 0xffffffff

	flagEncrypted      = 0x1
	flagDataDescriptor = 0x8
)

var (
	// ErrUnsupportedFeature is returned when reading an entry whose content
	// cannot be decoded, for example an encrypted entry or an unknown method.
	ErrUnsupportedFeature = errors.New("zipstream: unsupported feature")
	// ErrFormat is returned when the archive structure is corrupt.
	ErrFormat = errors.New("zipstream: not a valid zip file")
)

// Entry describes a local file header.
type Entry struct {
	Name             string
	Method           uint16
	Flags            uint16
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
	// DataOffset is the position of the entry data within the archive.
	DataOffset int64

	zip64 bool
}

func (e *Entry) Encrypted() bool {
	return e.Flags&flagEncrypted != 0
}

func (e *Entry) hasDataDescriptor() bool {
	return e.Flags&flagDataDescriptor != 0
}

// sizeKnown reports whether the compressed size is available from the local header.
func (e *Entry) sizeKnown() bool {
	return !e.hasDataDescriptor() || e.CompressedSize != 0
}

// Reader iterates the entries of an archive. Read returns the decompressed
// content of the entry last returned by Next.
type Reader struct {
	cr *countingReader

	cur     *Entry
	raw     *io.LimitedReader // compressed data, nil when the size is unknown
	content io.Reader
	closer  func() error
	readErr error

	err     error
	started bool
}

func NewReader(r io.Reader) *Reader {
	return &Reader{cr: &countingReader{r: bufio.NewReader(r)}}
}

// BytesRead returns the number of archive bytes consumed so far.
func (z *Reader) BytesRead() int64 {
	return z.cr.n
}

// Next advances to the next entry, skipping whatever is left of the current
// one. It returns io.EOF once the central directory is reached. Any other error
// means the archive is corrupt or cannot be walked further, and is returned by
// all later calls.
func (z *Reader) Next() (*Entry, error) {
	if z.err != nil {
		return nil, z.err
	}
	if z.cur != nil {
		if err := z.closeEntry(); err != nil {
			z.err = err
			return nil, err
		}
	}
	e, err := z.readLocalHeader()
	if err != nil {
		z.err = err
		return nil, err
	}
	z.open(e)
	return e, nil
}

// Read reads the content of the current entry.
func (z *Reader) Read(p []byte) (int, error) {
	if z.cur == nil {
		return 0, io.EOF
	}
	if z.readErr != nil {
		return 0, z.readErr
	}
	return z.content.Read(p)
}

// Skip advances up to n bytes within the current entry. Stored entries are
// skipped without copying; compressed ones are decompressed and discarded.
func (z *Reader) Skip(n int64) (int64, error) {
	if z.cur == nil || z.readErr != nil || n <= 0 {
		return 0, nil
	}
	if z.cur.Method != Store {
		skipped, err := io.CopyN(io.Discard, z.content, n)
		if err == io.EOF {
			err = nil
		}
		return skipped, err
	}
	if n > z.raw.N {
		n = z.raw.N
	}
	skipped, err := z.cr.discard(n)
	z.raw.N -= skipped
	return skipped, err
}

func (z *Reader) readLocalHeader() (*Entry, error) {
	sig, err := z.readSignature()
	if err != nil {
		return nil, err
	}
	if !z.started {
		z.started = true
		// Archives once split into spans may start with a marker before the first entry.
		if sig == dataDescriptorSignature || sig == splitArchiveSignature {
			if sig, err = z.readSignature(); err != nil {
				return nil, err
			}
		}
	}
	switch sig {
	case localFileHeaderSignature:
	case centralDirectorySignature, endOfCentralDirSignature, zip64EndSignature, archiveExtraDataSignature:
		return nil, io.EOF
	default:
		return nil, errors.Wrapf(ErrFormat, "unexpected signature 0x%08x at offset %d", sig, z.cr.n-4)
	}

	var buf [localFileHeaderLen - 4]byte
	if _, err := io.ReadFull(z.cr, buf[:]); err != nil {
		return nil, errors.Wrap(ErrFormat, "truncated local file header")
	}
	le := binary.LittleEndian
	e := &Entry{
		Flags:            le.Uint16(buf[2:]),
		Method:           le.Uint16(buf[4:]),
		CRC32:            le.Uint32(buf[10:]),
		CompressedSize:   uint64(le.Uint32(buf[14:])),
		UncompressedSize: uint64(le.Uint32(buf[18:])),
	}
	nameLen := int(le.Uint16(buf[22:]))
	extraLen := int(le.Uint16(buf[24:]))

	b := make([]byte, nameLen+extraLen)
	if _, err := io.ReadFull(z.cr, b); err != nil {
		return nil, errors.Wrap(ErrFormat, "truncated local file header")
	}
	e.Name = string(b[:nameLen])
	parseExtra(e, b[nameLen:])
	e.DataOffset = z.cr.n
	return e, nil
}

func (z *Reader) readSignature() (uint32, error) {
	var b [4]byte
	n, err := io.ReadFull(z.cr, b[:])
	if err != nil {
		if n == 0 && err == io.EOF {
			return 0, io.EOF
		}
		return 0, errors.Wrap(ErrFormat, "truncated signature")
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// parseExtra picks the 64-bit sizes out of a zip64 extra field.
func parseExtra(e *Entry, extra []byte) {
	le := binary.LittleEndian
	for len(extra) >= 4 {
		id := le.Uint16(extra)
		size := int(le.Uint16(extra[2:]))
		extra = extra[4:]
		if size > len(extra) {
			return
		}
		field := extra[:size]
		extra = extra[size:]
		if id != zip64ExtraID {
			continue
		}
		e.zip64 = true
		if e.UncompressedSize == uint32Max && len(field) >= 8 {
			e.UncompressedSize = le.Uint64(field)
			field = field[8:]
		}
		if e.CompressedSize == uint32Max && len(field) >= 8 {
			e.CompressedSize = le.Uint64(field)
		}
	}
}

func (z *Reader) open(e *Entry) {
	z.cur = e
	z.raw = nil
	z.content = nil
	z.closer = nil
	z.readErr = nil

	if e.sizeKnown() {
		z.raw = &io.LimitedReader{R: z.cr, N: int64(e.CompressedSize)}
	}
	if e.Encrypted() {
		z.readErr = errors.Wrapf(ErrUnsupportedFeature, "%s: encrypted entry", e.Name)
		return
	}

	switch e.Method {
	case Store:
		if z.raw == nil {
			z.readErr = errors.Wrapf(ErrUnsupportedFeature, "%s: stored entry with data descriptor", e.Name)
			return
		}
		z.content = z.raw
	case Deflate:
		var src io.Reader = z.cr
		if z.raw != nil {
			src = z.raw
		}
		fr := flate.NewReader(src)
		z.content = fr
		z.closer = fr.Close
	case Zstd:
		if z.raw == nil {
			z.readErr = errors.Wrapf(ErrUnsupportedFeature, "%s: zstd entry with data descriptor", e.Name)
			return
		}
		dec, err := zstd.NewReader(z.raw, zstd.WithDecoderConcurrency(1))
		if err != nil {
			z.readErr = errors.Wrapf(ErrUnsupportedFeature, "%s: %v", e.Name, err)
			return
		}
		z.content = dec
		z.closer = func() error {
			dec.Close()
			return nil
		}
	default:
		z.readErr = errors.Wrapf(ErrUnsupportedFeature, "%s: compression method %d", e.Name, e.Method)
	}
}

// closeEntry moves the stream to the header following the current entry.
func (z *Reader) closeEntry() error {
	e := z.cur
	defer func() {
		if z.closer != nil {
			_ = z.closer()
		}
		z.cur = nil
		z.raw = nil
		z.content = nil
		z.closer = nil
	}()

	if z.raw == nil && (z.readErr != nil || e.Method != Deflate) {
		return errors.Wrapf(ErrUnsupportedFeature, "%s: cannot find the end of the entry", e.Name)
	}
	if z.content != nil && z.raw == nil {
		// Deflate without a known size: only the decompressor knows where the data ends.
		if _, err := io.Copy(io.Discard, z.content); err != nil {
			return errors.Wrapf(ErrFormat, "%s: %v", e.Name, err)
		}
	}
	if z.raw != nil && z.raw.N > 0 {
		skipped, err := z.cr.discard(z.raw.N)
		z.raw.N -= skipped
		if err != nil || z.raw.N > 0 {
			return errors.Wrapf(ErrFormat, "%s: truncated entry data", e.Name)
		}
	}
	if e.hasDataDescriptor() {
		return z.skipDataDescriptor(e)
	}
	return nil
}

func (z *Reader) skipDataDescriptor(e *Entry) error {
	var b [4]byte
	if _, err := io.ReadFull(z.cr, b[:]); err != nil {
		return errors.Wrapf(ErrFormat, "%s: truncated data descriptor", e.Name)
	}
	// The signature is optional; without it the first word is the CRC.
	n := int64(8)
	if e.zip64 {
		n = 16
	}
	if binary.LittleEndian.Uint32(b[:]) == dataDescriptorSignature {
		n += 4
	}
	if skipped, err := z.cr.discard(n); err != nil || skipped != n {
		return errors.Wrapf(ErrFormat, "%s: truncated data descriptor", e.Name)
	}
	return nil
}

// countingReader counts the archive bytes handed out. It implements
// io.ByteReader so the inflater never reads past the end of an entry.
type countingReader struct {
	r *bufio.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

func (c *countingReader) discard(n int64) (int64, error) {
	var total int64
	for total < n {
		chunk := n - total
		if chunk > 1<<30 {
			chunk = 1 << 30
		}
		d, err := c.r.Discard(int(chunk))
		total += int64(d)
		c.n += int64(d)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
