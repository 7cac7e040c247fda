package zipfile

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindFooter_Comment(t *testing.T) {
	data := buildZip(nil, []byte("hello zip"))

	f, err := findFooter(NewBufferReader(data), int64(len(data)), true)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello zip"), f.rawComment)
	assert.EqualValues(t, 0, f.entryCount)
	assert.False(t, f.isZip64)
}

func TestFindFooter_FalseSignatureInComment(t *testing.T) {
	// the comment embeds a full fake EOCDR whose comment-length field does not agree with the bytes that
	// follow it; the scan must skip it and land on the real record.
	fake := make([]byte, eocdLen)
	binary.LittleEndian.PutUint32(fake, sigEOCD)
	binary.LittleEndian.PutUint16(fake[10:], 999)
	comment := append([]byte("prefix"), fake...)
	comment = append(comment, []byte("suffix")...)

	data := buildZip(nil, comment)

	f, err := findFooter(NewBufferReader(data), int64(len(data)), true)
	require.NoError(t, err)
	assert.EqualValues(t, 0, f.entryCount)
	assert.Equal(t, comment, f.rawComment)
}

func TestFindFooter_NotFound(t *testing.T) {
	_, err := findFooter(NewBufferReader(bytes.Repeat([]byte{0}, 1024)), 1024, true)
	assert.ErrorIs(t, err, ErrNoEOCDFound)

	_, err = findFooter(NewBufferReader([]byte("PK")), 2, true)
	assert.ErrorIs(t, err, ErrNoEOCDFound)
}

func TestFindFooter_MultiDisk(t *testing.T) {
	data := buildZip(nil, nil)
	binary.LittleEndian.PutUint16(data[len(data)-18:], 1) // disk number field

	_, err := findFooter(NewBufferReader(data), int64(len(data)), true)
	assert.ErrorIs(t, err, ErrMultiDisk)
}

// buildZip64 lays out one stored entry whose central directory uses ZIP64 sentinels, followed by the ZIP64
// end-of-central-directory record, its locator, and the classic EOCDR.
func buildZip64(t *testing.T, name string, content []byte) []byte {
	t.Helper()

	var buf bytes.Buffer

	// local file header with honest 32-bit sizes; the ZIP64 indirection is exercised via the directory.
	e := &testEntry{
		name:          name,
		data:          content,
		crc:           crc32.ChecksumIEEE(content),
		compressed:    uint32(len(content)),
		uncompressed:  uint32(len(content)),
		versionMadeBy: 45,
		versionNeeded: 45,
		method:        methodStore,
	}
	writeLE(&buf, sigLFH, e.versionNeeded, e.flags, e.method, e.modTime, e.modDate, e.crc, e.compressed, e.uncompressed,
		uint16(len(e.name)), uint16(0))
	buf.WriteString(e.name)
	buf.Write(e.data)

	cdOffset := int64(buf.Len())

	// ZIP64 extended information carries the sizes and offset; the 32-bit fields hold sentinels.
	extra := make([]byte, 4+24)
	binary.LittleEndian.PutUint16(extra, extraIDZip64)
	binary.LittleEndian.PutUint16(extra[2:], 24)
	binary.LittleEndian.PutUint64(extra[4:], uint64(len(content)))  // uncompressed
	binary.LittleEndian.PutUint64(extra[12:], uint64(len(content))) // compressed
	binary.LittleEndian.PutUint64(extra[20:], 0)                    // header offset

	writeLE(&buf, sigCDFH, e.versionMadeBy, e.versionNeeded, e.flags, e.method, e.modTime, e.modDate,
		e.crc, uint32(0xffffffff), uint32(0xffffffff),
		uint16(len(e.name)), uint16(len(extra)), uint16(0),
		uint16(0), uint16(0), uint32(0), uint32(0xffffffff))
	buf.WriteString(e.name)
	buf.Write(extra)

	cdSize := int64(buf.Len()) - cdOffset
	eocd64Offset := int64(buf.Len())

	writeLE(&buf, sigEOCD64, uint64(44), uint16(45), uint16(45), uint32(0), uint32(0),
		uint64(1), uint64(1), uint64(cdSize), uint64(cdOffset))
	writeLE(&buf, sigEOCD64Locator, uint32(0), uint64(eocd64Offset), uint32(1))
	writeLE(&buf, sigEOCD, uint16(0), uint16(0), uint16(0xffff), uint16(0xffff),
		uint32(0xffffffff), uint32(0xffffffff), uint16(0))

	return buf.Bytes()
}

func TestFindFooter_Zip64(t *testing.T) {
	content := []byte("hello zip64\n")
	data := buildZip64(t, "a.txt", content)

	f, err := findFooter(NewBufferReader(data), int64(len(data)), true)
	require.NoError(t, err)
	assert.True(t, f.isZip64)
	assert.EqualValues(t, 1, f.entryCount)

	// the footer must start at the ZIP64 EOCDR since it abuts the locator.
	assert.EqualValues(t, len(data)-eocdLen-eocd64LocatorLen-eocd64Len, f.offset)
}

func TestOpenBuffer_Zip64(t *testing.T) {
	content := []byte("hello zip64\n")
	a, err := OpenBuffer(buildZip64(t, "a.txt", content))
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.IsZip64())
	assert.False(t, a.IsMacArchive())
	assert.False(t, a.IsMaybeMacArchive())

	e, err := a.ReadEntry()
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "a.txt", e.Name)
	assert.EqualValues(t, len(content), e.UncompressedSize)
	assert.EqualValues(t, 0, e.FileHeaderOffset)

	r, err := e.Open()
	require.NoError(t, err)
	b, err := ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, b)

	e, err = a.ReadEntry()
	require.NoError(t, err)
	assert.Nil(t, e)
}
