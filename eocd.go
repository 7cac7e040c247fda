package zipfile

import "fmt"

// footer carries what the end-of-central-directory records claim, before the anchor has reconciled the claims with
// the physical layout.
type footer struct {
	// offset is the start of the earliest footer record: the EOCDR, or the ZIP64 EOCDL / EOCDR when those are
	// contiguous with it. Nothing of the central directory may live at or beyond it.
	offset int64

	entryCount int64
	cdSize     int64
	cdOffset   int64
	isZip64    bool

	// noEOCDL is set when ZIP64 sentinels were present but the ZIP64 locator signature was missing and Mac
	// support is on: some Archive Utility files with exactly 65535 entries trigger spurious ZIP64 detection.
	noEOCDL bool

	rawComment []byte
}

// findFooter scans the tail of the source backward for the end-of-central-directory record and parses it, following
// the ZIP64 locator and record when the sentinels demand it.
func findFooter(r Reader, size int64, supportMac bool) (*footer, error) {
	if size < eocdLen {
		return nil, fmt.Errorf("file is only %d bytes long: %w", size, ErrNoEOCDFound)
	}

	tailLen := min(size, int64(eocdLen+maxCommentLen))
	tail := make([]byte, tailLen)
	if _, err := r.ReadAt(tail, size-tailLen); err != nil {
		return nil, fmt.Errorf("read archive tail error: %w", err)
	}

	// the EOCDR has a variable-length trailing comment, and that comment can itself contain bytes that look
	// like an EOCDR. A candidate counts only when its comment-length field agrees with the bytes that actually
	// follow it.
	for p := tailLen - eocdLen; p >= 0; p-- {
		if le32(tail[p:]) != sigEOCD || int64(le16(tail[p+20:])) != tailLen-p-eocdLen {
			continue
		}

		return parseFooter(r, size-tailLen+p, tail[p:], supportMac)
	}

	return nil, ErrNoEOCDFound
}

func parseFooter(r Reader, eocdOffset int64, eocd []byte, supportMac bool) (*footer, error) {
	if disk, cdDisk := le16(eocd[4:]), le16(eocd[6:]); disk != 0 || cdDisk != 0 {
		return nil, fmt.Errorf("disk numbers %d and %d: %w", disk, cdDisk, ErrMultiDisk)
	}

	f := &footer{
		offset:     eocdOffset,
		entryCount: int64(le16(eocd[10:])),
		cdSize:     int64(le32(eocd[12:])),
		cdOffset:   int64(le32(eocd[16:])),
		rawComment: append([]byte(nil), eocd[eocdLen:]...),
	}

	if f.entryCount != 0xffff && f.cdSize != 0xffffffff && f.cdOffset != 0xffffffff {
		return f, nil
	}

	// at least one field is pinned at its sentinel; the 64-bit truth lives in the ZIP64 records.
	f.isZip64 = true

	locatorOffset := eocdOffset - eocd64LocatorLen
	locator := make([]byte, eocd64LocatorLen)
	if locatorOffset >= 0 {
		if _, err := r.ReadAt(locator, locatorOffset); err != nil {
			return nil, fmt.Errorf("read ZIP64 end of central directory locator error: %w", err)
		}
	}

	if locatorOffset < 0 || le32(locator) != sigEOCD64Locator {
		if supportMac {
			// an Archive Utility file with 65535 entries modulo 2^16 looks ZIP64 without being one.
			// Leave the 32-bit claims in place and let the anchor sort it out.
			f.isZip64 = false
			f.noEOCDL = true
			return f, nil
		}

		return nil, fmt.Errorf("invalid ZIP64 end of central directory locator signature: %w", ErrCDNotFound)
	}

	if disks := le32(locator[16:]); disks > 1 {
		return nil, fmt.Errorf("%d disks: %w", disks, ErrMultiDisk)
	}

	eocd64Offset := int64(le64(locator[8:]))
	if eocd64Offset < 0 || eocd64Offset+eocd64Len > locatorOffset {
		return nil, fmt.Errorf("ZIP64 end of central directory record offset %d is out of bounds: %w", eocd64Offset, ErrCDNotFound)
	}

	eocd64 := make([]byte, eocd64Len)
	if _, err := r.ReadAt(eocd64, eocd64Offset); err != nil {
		return nil, fmt.Errorf("read ZIP64 end of central directory record error: %w", err)
	}

	if sig := le32(eocd64); sig != sigEOCD64 {
		return nil, fmt.Errorf("expected 0x%08x at offset %d, got 0x%08x: %w", sigEOCD64, eocd64Offset, sig, ErrCDNotFound)
	}

	if disk, cdDisk := le32(eocd64[16:]), le32(eocd64[20:]); disk != 0 || cdDisk != 0 {
		return nil, fmt.Errorf("ZIP64 disk numbers %d and %d: %w", disk, cdDisk, ErrMultiDisk)
	}

	// only the fields still pinned at their sentinels are replaced.
	if f.entryCount == 0xffff {
		f.entryCount = int64(le64(eocd64[32:]))
	}
	if f.cdSize == 0xffffffff {
		f.cdSize = int64(le64(eocd64[40:]))
	}
	if f.cdOffset == 0xffffffff {
		f.cdOffset = int64(le64(eocd64[48:]))
	}

	// the footer starts at the ZIP64 EOCDR when it directly abuts the locator; otherwise at the locator. The
	// record's size-of-record field excludes its signature and itself.
	if sizeOfRecord := int64(le64(eocd64[4:])); eocd64Offset+12+sizeOfRecord == locatorOffset {
		f.offset = eocd64Offset
	} else {
		f.offset = locatorOffset
	}

	return f, nil
}
