package zipfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/require"
)

// testEntry describes one record for buildZip, which writes headers verbatim so tests can exercise both compliant
// and deliberately broken layouts.
type testEntry struct {
	name           string
	data           []byte // bytes as stored in the file (already deflated / "encrypted" garbage where relevant)
	crc            uint32
	compressed     uint32 // value written to the CDH; defaults to len(data)
	uncompressed   uint32
	versionMadeBy  uint16
	versionNeeded  uint16
	flags          uint16
	method         uint16
	modTime        uint16
	modDate        uint16
	lfhExtra       []byte
	cdhExtra       []byte
	comment        []byte
	zeroLocalSizes bool // write zeroes for CRC and sizes in the LFH (Archive Utility style)
	dataDescriptor bool // append a 16-byte data descriptor after the file data
	badCDHSig      bool

	headerOffset int64 // filled in by buildZip
}

// buildZip assembles a complete single-disk archive from the given entries. The central directory claims are
// derived from the physical layout, truncated to their wire widths exactly the way Archive Utility would.
func buildZip(entries []*testEntry, comment []byte) []byte {
	var buf bytes.Buffer

	for _, e := range entries {
		if e.compressed == 0 && len(e.data) > 0 {
			e.compressed = uint32(len(e.data))
		}

		e.headerOffset = int64(buf.Len())
		writeLE(&buf, sigLFH, e.versionNeeded, e.flags, e.method, e.modTime, e.modDate)
		if e.zeroLocalSizes {
			writeLE(&buf, uint32(0), uint32(0), uint32(0))
		} else {
			writeLE(&buf, e.crc, e.compressed, e.uncompressed)
		}
		writeLE(&buf, uint16(len(e.name)), uint16(len(e.lfhExtra)))
		buf.WriteString(e.name)
		buf.Write(e.lfhExtra)
		buf.Write(e.data)
		if e.dataDescriptor {
			writeLE(&buf, sigDD, e.crc, e.compressed, e.uncompressed)
		}
	}

	cdOffset := int64(buf.Len())
	for _, e := range entries {
		sig := sigCDFH
		if e.badCDHSig {
			sig = 0x02014b51
		}
		writeLE(&buf, sig, e.versionMadeBy, e.versionNeeded, e.flags, e.method, e.modTime, e.modDate,
			e.crc, e.compressed, e.uncompressed,
			uint16(len(e.name)), uint16(len(e.cdhExtra)), uint16(len(e.comment)),
			uint16(0), uint16(0), uint32(0), uint32(e.headerOffset))
		buf.WriteString(e.name)
		buf.Write(e.cdhExtra)
		buf.Write(e.comment)
	}

	cdSize := int64(buf.Len()) - cdOffset
	writeLE(&buf, sigEOCD, uint16(0), uint16(0), uint16(len(entries)), uint16(len(entries)),
		uint32(cdSize), uint32(cdOffset), uint16(len(comment)))
	buf.Write(comment)

	return buf.Bytes()
}

func writeLE(w io.Writer, values ...any) {
	for _, v := range values {
		_ = binary.Write(w, binary.LittleEndian, v)
	}
}

// macExtraLFH and macExtraCDH are the extra field blobs Archive Utility writes: 16 bytes in the local header,
// 12 in the central directory, both with id 22613.
func macExtraLFH() []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint16(b, extraIDMac)
	binary.LittleEndian.PutUint16(b[2:], 12)
	return b
}

func macExtraCDH() []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint16(b, extraIDMac)
	binary.LittleEndian.PutUint16(b[2:], 8)
	return b
}

// macFile returns a testEntry shaped like an Archive Utility file: deflated, sizes deferred to a data descriptor.
func macFile(t *testing.T, name string, content []byte) *testEntry {
	return &testEntry{
		name:           name,
		data:           deflate(t, content),
		crc:            crc32.ChecksumIEEE(content),
		uncompressed:   uint32(len(content)),
		versionMadeBy:  789,
		versionNeeded:  20,
		flags:          flagDataDescriptor,
		method:         methodDeflate,
		lfhExtra:       macExtraLFH(),
		cdhExtra:       macExtraCDH(),
		zeroLocalSizes: true,
		dataDescriptor: true,
	}
}

// macFolder returns a testEntry shaped like an Archive Utility folder.
func macFolder(name string) *testEntry {
	return &testEntry{
		name:           name,
		versionMadeBy:  789,
		versionNeeded:  10,
		flags:          0,
		method:         methodStore,
		lfhExtra:       macExtraLFH(),
		cdhExtra:       macExtraCDH(),
		zeroLocalSizes: true,
	}
}

// macSymlink returns a testEntry shaped like an Archive Utility symlink: stored target bytes, no extra fields.
func macSymlink(target string, name string) *testEntry {
	return &testEntry{
		name:           name,
		data:           []byte(target),
		crc:            crc32.ChecksumIEEE([]byte(target)),
		uncompressed:   uint32(len(target)),
		versionMadeBy:  789,
		versionNeeded:  10,
		flags:          0,
		method:         methodStore,
		zeroLocalSizes: true,
	}
}

func deflate(t *testing.T, content []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	return buf.Bytes()
}

// segment is a run of real bytes inside an otherwise all-zero virtual file; segmentReader serves such sparse
// layouts so tests can place records at multi-GiB offsets without materialising them.
type segment struct {
	off  int64
	data []byte
}

type segmentReader struct {
	size     int64
	segments []segment
}

func newSegmentReader(size int64, segments ...segment) *segmentReader {
	sort.Slice(segments, func(i, j int) bool { return segments[i].off < segments[j].off })
	return &segmentReader{size: size, segments: segments}
}

var _ Reader = (*segmentReader)(nil)

func (r *segmentReader) Open() error {
	return nil
}

func (r *segmentReader) Close() error {
	return nil
}

func (r *segmentReader) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if off < 0 || off+int64(len(p)) > r.size {
		return 0, fmt.Errorf("read [%d, %d) of %d-byte virtual file: %w", off, off+int64(len(p)), r.size, ErrUnexpectedEOF)
	}

	for i := range p {
		p[i] = 0
	}

	end := off + int64(len(p))
	for _, s := range r.segments {
		sEnd := s.off + int64(len(s.data))
		if sEnd <= off || s.off >= end {
			continue
		}

		from := max(off, s.off)
		copy(p[from-off:], s.data[from-s.off:min(sEnd, end)-s.off])
	}

	return len(p), nil
}

func (r *segmentReader) OpenRange(off, length int64) (io.ReadCloser, error) {
	if length == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	return &segmentStream{r: r, off: off, remaining: length}, nil
}

type segmentStream struct {
	r         *segmentReader
	off       int64
	remaining int64
}

func (s *segmentStream) Read(p []byte) (int, error) {
	if s.remaining == 0 {
		return 0, io.EOF
	}

	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}

	n, err := s.r.ReadAt(p, s.off)
	s.off += int64(n)
	s.remaining -= int64(n)
	return n, err
}

func (s *segmentStream) Close() error {
	return nil
}
