package testhelper

import (
	"archive/zip"
	"bytes"
	"hash/crc32"

	"github.com/klauspost/compress/zstd"
)

const methodZstd = 93

// ZipEntry is one file of a test archive.
type ZipEntry struct {
	Name   string
	Data   []byte
	Method uint16
	// Align pads the local header extra field so that the data of the entry
	// starts at a multiple of Align. Deflated entries are never padded.
	Align int
	// Misalign shifts the data by this many bytes after alignment.
	Misalign int
	// Encrypted sets the encryption flag. The data is written as is.
	Encrypted bool
}

func (e ZipEntry) raw() bool {
	return e.Method != zip.Deflate || e.Encrypted
}

// Zip builds an archive from entries, in order. Stored, zstd and encrypted
// entries carry their sizes in the local header; deflated entries use a data
// descriptor, as archive/zip writes them.
func Zip(entries ...ZipEntry) ([]byte, error) {
	extras := make([]int, len(entries))
	for i, e := range entries {
		if e.raw() {
			extras[i] = e.Misalign
		}
	}
	// Padding an entry only moves the ones after it, so offsets are settled in order.
	for i, e := range entries {
		if !e.raw() || e.Align <= 0 {
			continue
		}
		b, err := buildZip(entries, extras)
		if err != nil {
			return nil, err
		}
		offsets, err := ZipDataOffsets(b)
		if err != nil {
			return nil, err
		}
		base := int(offsets[i]) - extras[i]
		extras[i] = (e.Align-base%e.Align)%e.Align + e.Misalign
	}
	return buildZip(entries, extras)
}

// MustZip is like Zip but panics on error.
func MustZip(entries ...ZipEntry) []byte {
	b, err := Zip(entries...)
	if err != nil {
		panic(err)
	}
	return b
}

// ZipDataOffsets returns the data offset of every entry of an archive, in
// central directory order.
func ZipDataOffsets(b []byte) ([]int64, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, err
	}
	offsets := make([]int64, 0, len(zr.File))
	for _, f := range zr.File {
		off, err := f.DataOffset()
		if err != nil {
			return nil, err
		}
		offsets = append(offsets, off)
	}
	return offsets, nil
}

func buildZip(entries []ZipEntry, extras []int) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, e := range entries {
		if err := addEntry(zw, e, extras[i]); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addEntry(zw *zip.Writer, e ZipEntry, extra int) error {
	if !e.raw() {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Deflate})
		if err != nil {
			return err
		}
		_, err = w.Write(e.Data)
		return err
	}

	data := e.Data
	if e.Method == methodZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return err
		}
		data = enc.EncodeAll(e.Data, nil)
		if err := enc.Close(); err != nil {
			return err
		}
	}

	fh := &zip.FileHeader{
		Name:               e.Name,
		Method:             e.Method,
		CRC32:              crc32.ChecksumIEEE(e.Data),
		CompressedSize64:   uint64(len(data)),
		UncompressedSize64: uint64(len(e.Data)),
		Extra:              make([]byte, extra),
	}
	if e.Encrypted {
		fh.Flags |= 0x1
	}
	w, err := zw.CreateRaw(fh)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
