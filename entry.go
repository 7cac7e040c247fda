package zipfile

import (
	"fmt"
	"io"
	"time"

	"github.com/valyala/bytebufferpool"
)

// ExtraField is one tagged blob from a header's extra field area.
type ExtraField struct {
	ID   uint16
	Data []byte
}

// Entry is one file, folder, or symlink record from the central directory.
//
// Entries are produced by [Archive.ReadEntry] and remain tied to their archive; open contents with [Entry.Open] or
// [Archive.OpenReadStream].
type Entry struct {
	// VersionMadeBy is 789 for every entry written by Mac OS Archive Utility.
	VersionMadeBy uint16
	VersionNeeded uint16
	Flags         uint16
	Method        uint16

	// ModifiedTime and ModifiedDate are the MS-DOS encoded timestamp; see [Entry.LastModified].
	ModifiedTime uint16
	ModifiedDate uint16

	CRC32 uint32

	// CompressedSize may be corrected upward by a multiple of 2^32 while reading a Mac archive.
	CompressedSize int64

	// UncompressedSize may likewise grow while streaming; [Entry.UncompressedSizeIsCertain] reports whether it
	// is final.
	UncompressedSize int64

	DiskNumber    uint16
	InternalAttrs uint16
	ExternalAttrs uint32

	// FileHeaderOffset locates the entry's local file header. For a confirmed Mac archive this is the recovered
	// 64-bit offset, not the truncated value on the wire.
	FileHeaderOffset int64

	// RawName and RawComment are the undecoded bytes; Name and Comment are set only when decoding strings is
	// enabled (the default).
	RawName    []byte
	Name       string
	RawComment []byte
	Comment    string

	Extra []ExtraField

	archive                 *Archive
	isZip64                 bool
	uncompressedSizeCertain bool
	tracked                 bool
	fileDataOffset          int64 // -1 until the local file header has been read and validated
	cdhLength               int64 // bytes this record occupies in the central directory
}

// IsEncrypted reports whether the entry content is encrypted (general-purpose bit 0).
func (e *Entry) IsEncrypted() bool {
	return e.Flags&flagEncrypted != 0
}

// IsCompressed reports whether the entry content is compressed (any method other than store).
func (e *Entry) IsCompressed() bool {
	return e.Method != methodStore
}

// IsDirectory reports whether the entry denotes a directory by the trailing-slash convention.
func (e *Entry) IsDirectory() bool {
	n := e.RawName
	return len(n) > 0 && n[len(n)-1] == '/'
}

// LastModified returns the entry's modification time decoded from its MS-DOS date and time fields, in UTC.
func (e *Entry) LastModified() time.Time {
	return MSDOSTimeToTime(e.ModifiedDate, e.ModifiedTime)
}

// UncompressedSizeIsCertain reports whether UncompressedSize is final.
//
// It can be false only for entries of a possibly-Mac archive whose compressed size admits a DEFLATE output beyond
// 4 GiB; streaming the entry to the end settles the size.
func (e *Entry) UncompressedSizeIsCertain() bool {
	a := e.archive
	a.mu.Lock()
	defer a.mu.Unlock()
	return e.uncompressedSizeCertain
}

// Open opens a stream of the entry's contents; it is shorthand for [Archive.OpenReadStream] on the owning archive.
func (e *Entry) Open(optFns ...func(*StreamOptions)) (io.ReadCloser, error) {
	return e.archive.OpenReadStream(e, optFns...)
}

// readCDH parses the central directory file header at offset. It does not advance any archive state; callers do.
//
// ErrInvalidCDH is returned (wrapped) when the bytes at offset cannot be a file header at all, so the anchor's probes
// can distinguish "no header here" from harder failures.
func (a *Archive) readCDH(offset int64) (*Entry, error) {
	if offset < 0 || offset+cdhLen > a.footerOffset {
		return nil, fmt.Errorf("central directory file header at offset %d overflows archive: %w", offset, ErrUnexpectedEOF)
	}

	buf := make([]byte, cdhLen)
	if _, err := a.reader.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("read central directory file header error: %w", err)
	}

	if sig := le32(buf); sig != sigCDFH {
		return nil, fmt.Errorf("expected 0x%08x at offset %d, got 0x%08x: %w", sigCDFH, offset, sig, ErrInvalidCDH)
	}

	e := &Entry{
		archive:                 a,
		VersionMadeBy:           le16(buf[4:]),
		VersionNeeded:           le16(buf[6:]),
		Flags:                   le16(buf[8:]),
		Method:                  le16(buf[10:]),
		ModifiedTime:            le16(buf[12:]),
		ModifiedDate:            le16(buf[14:]),
		CRC32:                   le32(buf[16:]),
		CompressedSize:          int64(le32(buf[20:])),
		UncompressedSize:        int64(le32(buf[24:])),
		DiskNumber:              le16(buf[34:]),
		InternalAttrs:           le16(buf[36:]),
		ExternalAttrs:           le32(buf[38:]),
		FileHeaderOffset:        int64(le32(buf[42:])),
		uncompressedSizeCertain: true,
		fileDataOffset:          -1,
	}

	n, m, k := int64(le16(buf[28:])), int64(le16(buf[30:])), int64(le16(buf[32:]))
	e.cdhLength = cdhLen + n + m + k
	if offset+e.cdhLength > a.footerOffset {
		return nil, fmt.Errorf("central directory file header at offset %d overflows archive: %w", offset, ErrUnexpectedEOF)
	}

	if nmk := int(n + m + k); nmk > 0 {
		bb := bytebufferpool.Get()
		defer bytebufferpool.Put(bb)

		if cap(bb.B) < nmk {
			bb.B = make([]byte, nmk)
		} else {
			bb.B = bb.B[:nmk]
		}

		if _, err := a.reader.ReadAt(bb.B, offset+cdhLen); err != nil {
			return nil, fmt.Errorf("read central directory file header variable data error: %w", err)
		}

		// the pooled buffer is reused; everything kept on the entry must be copied out.
		e.RawName = append([]byte(nil), bb.B[:n]...)
		e.RawComment = append([]byte(nil), bb.B[n+m:]...)

		var err error
		if e.Extra, err = parseExtraFields(bb.B[n : n+m]); err != nil {
			return nil, err
		}
	}

	e.applyZip64Extra(le32(buf[20:]), le32(buf[24:]), le32(buf[42:]))
	return e, nil
}

func parseExtraFields(data []byte) ([]ExtraField, error) {
	var fields []ExtraField
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("extra field header exceeds extra field area: %w", ErrInvalidCDH)
		}

		id, size := le16(data), int(le16(data[2:]))
		if 4+size > len(data) {
			return nil, fmt.Errorf("extra field 0x%04x length %d exceeds extra field area: %w", id, size, ErrInvalidCDH)
		}

		fields = append(fields, ExtraField{ID: id, Data: append([]byte(nil), data[4:4+size]...)})
		data = data[4+size:]
	}

	return fields, nil
}

// applyZip64Extra replaces sentinel u32 fields with their 64-bit values from the ZIP64 extended information extra
// field, if present.
//
// The field is treated as optional even where the specification requires it, and truncated value lists are
// tolerated: only the values actually present are consumed, in the mandated order.
func (e *Entry) applyZip64Extra(rawCompressed, rawUncompressed, rawOffset uint32) {
	needUncompressed := rawUncompressed == 0xffffffff
	needCompressed := rawCompressed == 0xffffffff
	needOffset := rawOffset == 0xffffffff
	if !needUncompressed && !needCompressed && !needOffset {
		return
	}

	e.isZip64 = true

	for _, f := range e.Extra {
		if f.ID != extraIDZip64 {
			continue
		}

		data := f.Data
		if needUncompressed && len(data) >= 8 {
			e.UncompressedSize = int64(le64(data))
			data = data[8:]
		}
		if needCompressed && len(data) >= 8 {
			e.CompressedSize = int64(le64(data))
			data = data[8:]
		}
		if needOffset && len(data) >= 8 {
			e.FileHeaderOffset = int64(le64(data))
		}

		return
	}
}

// entryLooksMac reports whether the entry is consistent with Mac OS Archive Utility output: version-made-by 789, no
// comment, no ZIP64, and one of the three shapes the utility produces. Non-symlink entries carry exactly one 8-byte
// extra field with id 22613; symlinks carry none. The first entry of an archive must sit at offset zero.
func entryLooksMac(e *Entry, first bool) bool {
	if e.VersionMadeBy != 789 || len(e.RawComment) != 0 || e.isZip64 {
		return false
	}

	if first && e.FileHeaderOffset != 0 {
		return false
	}

	macExtra := len(e.Extra) == 1 && e.Extra[0].ID == extraIDMac && len(e.Extra[0].Data) == 8
	trailingSlash := e.IsDirectory()

	switch {
	case e.VersionNeeded == 20 && e.Flags == flagDataDescriptor && e.Method == methodDeflate && !trailingSlash:
		// a normal file, deflated, sizes deferred to the data descriptor.
		return macExtra

	case e.VersionNeeded == 10 && e.Flags == 0 && e.Method == methodStore && e.UncompressedSize == e.CompressedSize:
		// a folder or empty file (with the extra field), or a symlink (without; its target bytes are stored,
		// so a non-zero size is admitted as long as the name has no trailing slash).
		if macExtra {
			return e.CompressedSize == 0
		}

		return len(e.Extra) == 0 && !trailingSlash
	}

	return false
}

// macDataDescriptorLen returns the data descriptor length that follows the entry's file data in a Mac archive.
func macDataDescriptorLen(e *Entry) int64 {
	if e.Method == methodDeflate {
		return ddLen
	}

	return 0
}

// macLocalExtraLen returns the local file header extra area length Archive Utility writes for the entry, 16 bytes
// per extra field (the central directory counterpart carries 12).
func macLocalExtraLen(e *Entry) int64 {
	return int64(len(e.Extra)) * 16
}

// macFileAdvance is the number of bytes between consecutive local file headers in a Mac archive.
func macFileAdvance(e *Entry) int64 {
	return lfhLen + int64(len(e.RawName)) + macLocalExtraLen(e) + e.CompressedSize + macDataDescriptorLen(e)
}
