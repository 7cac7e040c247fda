package zipfile

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"math/rand"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMacArchive_Folders(t *testing.T) {
	content := []byte("hello from the mac\n")
	entries := []*testEntry{
		macFolder("dir/"),
		macFile(t, "dir/a.txt", content),
		macFolder("dir/empty/"),
		{
			// an empty file: stored, zero bytes, with the mandatory extra field.
			name:           "dir/empty.txt",
			versionMadeBy:  789,
			versionNeeded:  10,
			method:         methodStore,
			lfhExtra:       macExtraLFH(),
			cdhExtra:       macExtraCDH(),
			zeroLocalSizes: true,
		},
		macSymlink("a.txt", "dir/link"),
	}

	a, err := OpenBuffer(buildZip(entries, nil))
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.IsMacArchive())
	assert.True(t, a.IsMaybeMacArchive())

	var names []string
	for e, err := range a.Entries() {
		require.NoError(t, err)
		names = append(names, e.Name)

		switch e.Name {
		case "dir/a.txt":
			r, err := e.Open()
			require.NoError(t, err)
			b, err := ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, content, b)
		case "dir/":
			assert.True(t, e.IsDirectory())
		case "dir/link":
			r, err := e.Open()
			require.NoError(t, err)
			b, err := ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "a.txt", string(b))
		}
	}

	assert.Equal(t, []string{"dir/", "dir/a.txt", "dir/empty/", "dir/empty.txt", "dir/link"}, names)
	assert.True(t, a.IsMaybeMacArchive(), "nothing in this archive proves truncation")
}

func TestMacArchive_UncertainUncompressedSize(t *testing.T) {
	// incompressible content past 2^32/1032 compressed bytes: the stated uncompressed size could have been
	// truncated, so it stays uncertain until a stream runs to the end.
	content := make([]byte, 4_500_000)
	_, _ = rand.New(rand.NewSource(1)).Read(content)

	a, err := OpenBuffer(buildZip([]*testEntry{macFile(t, "big.bin", content)}, nil))
	require.NoError(t, err)
	defer a.Close()

	e, err := a.ReadEntry()
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.False(t, e.UncompressedSizeIsCertain())

	r, err := e.Open()
	require.NoError(t, err)
	b, err := ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, b)

	assert.True(t, e.UncompressedSizeIsCertain())
	assert.True(t, a.IsMaybeMacArchive(), "a complete stream is not proof of truncation")
}

func TestMacArchive_Demotion(t *testing.T) {
	// the first entry could pass for Archive Utility output, the second cannot; evidence resolves the
	// archive as spec-compliant.
	content := []byte("plain\n")
	entries := []*testEntry{
		macSymlink("target", "link"),
		{
			name:          "plain.txt",
			data:          content,
			crc:           crc32.ChecksumIEEE(content),
			uncompressed:  uint32(len(content)),
			versionMadeBy: 20,
			versionNeeded: 20,
			method:        methodStore,
		},
	}

	a, err := OpenBuffer(buildZip(entries, nil))
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.IsMaybeMacArchive())

	es, err := a.ReadEntries(0)
	require.NoError(t, err)
	require.Len(t, es, 2)

	assert.False(t, a.IsMaybeMacArchive())
	assert.False(t, a.IsMacArchive())

	r, err := es[1].Open()
	require.NoError(t, err)
	b, err := ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, b)
}

func TestMacArchive_DemotionAtLocalHeader(t *testing.T) {
	// central directory shape says maybe-Mac, but the local file header carries real sizes where Archive
	// Utility writes zeroes; opening the stream settles the question.
	target := "some/target"
	e := macSymlink(target, "link")
	e.zeroLocalSizes = false
	e.compressed = uint32(len(target))

	a, err := OpenBuffer(buildZip([]*testEntry{e}, nil))
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.IsMaybeMacArchive())

	entry, err := a.ReadEntry()
	require.NoError(t, err)

	r, err := entry.Open()
	require.NoError(t, err)
	b, err := ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, target, string(b))

	assert.False(t, a.IsMaybeMacArchive())
	assert.False(t, a.IsMacArchive())
}

// buildManyMacFiles builds an Archive Utility style archive of n files named "0.txt" through "N.txt", each
// containing its own index and a newline.
func buildManyMacFiles(t *testing.T, n int) []byte {
	t.Helper()

	var scratch bytes.Buffer
	fw, err := flate.NewWriter(&scratch, flate.DefaultCompression)
	require.NoError(t, err)

	entries := make([]*testEntry, n)
	for i := range entries {
		content := fmt.Appendf(nil, "%d\n", i)

		scratch.Reset()
		fw.Reset(&scratch)
		_, err = fw.Write(content)
		require.NoError(t, err)
		require.NoError(t, fw.Close())

		entries[i] = &testEntry{
			name:           fmt.Sprintf("%d.txt", i),
			data:           append([]byte(nil), scratch.Bytes()...),
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

	return buildZip(entries, nil)
}

func TestMacArchive_EntryCountWraparound(t *testing.T) {
	tests := []struct {
		count     int
		expectMac bool
	}{
		{count: 65534, expectMac: false},
		{count: 65535, expectMac: false},
		{count: 65536, expectMac: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d entries", tt.count), func(t *testing.T) {
			a, err := OpenBuffer(buildManyMacFiles(t, tt.count))
			require.NoError(t, err)
			defer a.Close()

			assert.Equal(t, tt.expectMac, a.IsMacArchive())

			var read int
			for e, err := range a.Entries() {
				require.NoError(t, err)
				require.Equal(t, fmt.Sprintf("%d.txt", read), e.Name)

				// spot-check contents at the front, around the wrap boundary, and at the end.
				if read < 2 || read == 65533 || read == tt.count-1 {
					r, err := e.Open()
					require.NoError(t, err)
					b, err := ReadAll(r)
					require.NoError(t, err)
					require.Equal(t, fmt.Sprintf("%d\n", read), string(b))
				}

				read++
			}

			assert.Equal(t, tt.count, read)
			count, certain := a.EntryCount()
			assert.True(t, certain)
			assert.EqualValues(t, tt.count, count)
			assert.Equal(t, tt.expectMac, a.IsMacArchive())
			assert.Equal(t, !tt.expectMac, a.IsMaybeMacArchive())
		})
	}
}

// truncated-offset layouts below place records beyond 4 GiB with segmentReader, so no multi-gigabyte buffers are
// ever materialised.

func TestMacArchive_TruncatedOffsets_LastEntry(t *testing.T) {
	const (
		statedCompressed = 100
		uncompressed     = 5000
		name             = "big.bin"
	)
	trueCompressed := int64(statedCompressed) + 1<<32

	dataStart := int64(lfhLen + len(name) + 16)
	ddOffset := dataStart + trueCompressed
	cdOffset := ddOffset + ddLen

	var cd bytes.Buffer
	writeLE(&cd, sigCDFH, uint16(789), uint16(20), flagDataDescriptor, methodDeflate, uint16(0), uint16(0),
		uint32(0x11111111), uint32(statedCompressed), uint32(uncompressed),
		uint16(len(name)), uint16(12), uint16(0), uint16(0), uint16(0), uint32(0), uint32(0))
	cd.WriteString(name)
	cd.Write(macExtraCDH())

	var eocd bytes.Buffer
	writeLE(&eocd, sigEOCD, uint16(0), uint16(0), uint16(1), uint16(1),
		uint32(cd.Len()), uint32(cdOffset), uint16(0))

	size := cdOffset + int64(cd.Len()) + int64(eocd.Len())
	r := newSegmentReader(size,
		segment{off: cdOffset, data: cd.Bytes()},
		segment{off: cdOffset + int64(cd.Len()), data: eocd.Bytes()},
	)

	a, err := OpenReader(r, size)
	require.NoError(t, err)
	defer a.Close()

	// the stated offset held nothing; the 4-GiB-stride search is proof positive.
	assert.True(t, a.IsMacArchive())

	e, err := a.ReadEntry()
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "big.bin", e.Name)
	assert.EqualValues(t, 0, e.FileHeaderOffset)

	// the final entry must consume the whole data area, so its compressed size grows by 2^32.
	assert.Equal(t, trueCompressed, e.CompressedSize)
	assert.False(t, e.UncompressedSizeIsCertain())

	e, err = a.ReadEntry()
	require.NoError(t, err)
	assert.Nil(t, e)

	count, certain := a.EntryCount()
	assert.True(t, certain)
	assert.EqualValues(t, 1, count)
}

func TestMacArchive_TruncatedOffsets_DataDescriptorHunt(t *testing.T) {
	const (
		name1             = "big.bin"
		statedCompressed1 = 100
		uncompressed1     = 5000
		crc1              = uint32(0x11111111)
		name2             = "small.txt"
	)
	content2 := []byte("hello from beyond 4 GiB\n")
	data2 := deflate(t, content2)
	crc2 := crc32.ChecksumIEEE(content2)

	trueCompressed1 := int64(statedCompressed1) + 1<<32

	dataStart1 := int64(lfhLen + len(name1) + 16)
	dd1Offset := dataStart1 + trueCompressed1
	lfh2Offset := dd1Offset + ddLen
	dataStart2 := lfh2Offset + int64(lfhLen+len(name2)+16)
	dd2Offset := dataStart2 + int64(len(data2))
	cdOffset := dd2Offset + ddLen

	var dd1 bytes.Buffer
	writeLE(&dd1, sigDD, crc1, uint32(statedCompressed1), uint32(uncompressed1))

	var lfh2 bytes.Buffer
	writeLE(&lfh2, sigLFH, uint16(20), flagDataDescriptor, methodDeflate, uint16(0), uint16(0),
		uint32(0), uint32(0), uint32(0), uint16(len(name2)), uint16(16))
	lfh2.WriteString(name2)
	lfh2.Write(macExtraLFH())
	lfh2.Write(data2)
	writeLE(&lfh2, sigDD, crc2, uint32(len(data2)), uint32(len(content2)))

	var cd bytes.Buffer
	writeLE(&cd, sigCDFH, uint16(789), uint16(20), flagDataDescriptor, methodDeflate, uint16(0), uint16(0),
		crc1, uint32(statedCompressed1), uint32(uncompressed1),
		uint16(len(name1)), uint16(12), uint16(0), uint16(0), uint16(0), uint32(0), uint32(0))
	cd.WriteString(name1)
	cd.Write(macExtraCDH())
	writeLE(&cd, sigCDFH, uint16(789), uint16(20), flagDataDescriptor, methodDeflate, uint16(0), uint16(0),
		crc2, uint32(len(data2)), uint32(len(content2)),
		uint16(len(name2)), uint16(12), uint16(0), uint16(0), uint16(0), uint32(0), uint32(lfh2Offset))
	cd.WriteString(name2)
	cd.Write(macExtraCDH())

	var eocd bytes.Buffer
	writeLE(&eocd, sigEOCD, uint16(0), uint16(0), uint16(2), uint16(2),
		uint32(cd.Len()), uint32(cdOffset), uint16(0))

	size := cdOffset + int64(cd.Len()) + int64(eocd.Len())
	r := newSegmentReader(size,
		segment{off: dd1Offset, data: dd1.Bytes()},
		segment{off: lfh2Offset, data: lfh2.Bytes()},
		segment{off: cdOffset, data: cd.Bytes()},
		segment{off: cdOffset + int64(cd.Len()), data: eocd.Bytes()},
	)

	a, err := OpenReader(r, size)
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.IsMacArchive())

	e1, err := a.ReadEntry()
	require.NoError(t, err)
	require.NotNil(t, e1)
	assert.Equal(t, name1, e1.Name)

	// the data descriptor was found one 4-GiB stride beyond the stated size.
	assert.Equal(t, trueCompressed1, e1.CompressedSize)
	assert.False(t, e1.UncompressedSizeIsCertain())

	e2, err := a.ReadEntry()
	require.NoError(t, err)
	require.NotNil(t, e2)
	assert.Equal(t, name2, e2.Name)
	assert.Equal(t, lfh2Offset, e2.FileHeaderOffset)
	assert.EqualValues(t, len(data2), e2.CompressedSize)
	assert.True(t, e2.UncompressedSizeIsCertain())

	rc, err := e2.Open()
	require.NoError(t, err)
	b, err := ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content2, b)

	e3, err := a.ReadEntry()
	require.NoError(t, err)
	assert.Nil(t, e3)
}
