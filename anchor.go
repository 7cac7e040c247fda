package zipfile

import (
	"errors"
	"fmt"
)

// anchorCentralDirectory reconciles the footer's claims with the physical layout of the file.
//
// Three outcomes are possible: the archive is spec-compliant and the claims hold verbatim; the archive is
// consistent with Mac OS Archive Utility output but small enough that truncation cannot be proven (macMaybe); or
// truncation is proven and the true offset, size, and count are recovered (macYes). A spec-compliant archive is
// never misclassified: every Mac conclusion here requires the claims to be physically impossible, or an
// Archive-Utility-shaped header to be found at an offset congruent to the claimed one modulo 2^32 after the claimed
// offset itself held none. Such a header at the claimed offset yields only macMaybe.
func (a *Archive) anchorCentralDirectory() error {
	// spec-compliant fast path: ZIP64 archives, archives with a trailing comment, and archives whose
	// directory does not end at the footer even modulo 2^32 are never Archive Utility output.
	if !a.opts.SupportMacArchive || a.isZip64 || len(a.rawComment) > 0 ||
		uint32(a.cdOffset+a.cdSize) != uint32(a.footerOffset) {
		return a.acceptSpecCompliant()
	}

	// a directory too short for even one record: genuinely empty, or garbage.
	if a.entryCount == 0 && a.cdOffset+cdhLen > a.footerOffset {
		if a.cdSize != 0 {
			return fmt.Errorf("empty archive claims central directory of %d bytes: %w", a.cdSize, ErrCDInconsistent)
		}

		return a.acceptSpecCompliant()
	}

	// the claimed size cannot hold the claimed count at 46 bytes per record. Either the size was truncated
	// modulo 2^32 and there is room to grow it up to the footer, or the archive is broken.
	if a.cdSize < a.entryCount*cdhLen {
		if a.cdOffset+a.entryCount*cdhLen > a.footerOffset {
			return fmt.Errorf("%d entries cannot fit in %d bytes of central directory: %w", a.entryCount, a.cdSize, ErrCDInconsistent)
		}

		a.cdSize = a.footerOffset - a.cdOffset
		a.mac.kind = macYes
	}

	// conversely, the claimed count may be impossibly low for the size: Archive Utility truncates counts
	// modulo 2^16.
	before := a.entryCount
	a.raiseEntryCountToMin()
	if a.entryCount != before {
		a.mac.kind = macYes
	}

	// probe the stated offset. A parseable record that does not look like Archive Utility output settles the
	// archive as spec-compliant on the spot.
	var first *Entry
	if a.cdOffset+cdhLen <= a.footerOffset {
		if e, err := a.readCDH(a.cdOffset); err == nil {
			switch {
			case entryLooksMac(e, true):
				first = e
			case a.mac.kind != macYes:
				a.firstEntry = e
				return a.acceptSpecCompliant()
			}
		} else if !errors.Is(err, ErrInvalidCDH) && !errors.Is(err, ErrUnexpectedEOF) {
			return err
		}
	}

	if first == nil {
		var err error
		if first, err = a.searchCentralDirectory(); err != nil {
			return err
		}

		if first == nil {
			// nothing found anywhere. Acceptable only for an archive that claimed nothing.
			if a.entryCount > 0 || a.cdSize > 0 {
				return fmt.Errorf("no central directory at offset %d or any offset congruent modulo 2^32: %w", a.cdOffset, ErrCDNotFound)
			}

			return a.acceptSpecCompliant()
		}

		a.mac.kind = macYes
	}

	a.firstEntry = first
	a.fileCursor = 0
	a.uncompressedSizesCertain = false
	a.cdOffsetCertain = true

	if a.mac.kind == macYes {
		a.cdSize = a.footerOffset - a.cdOffset
		a.cdSizeCertain = true
		a.raiseEntryCountToMin()
		a.entryCountCertain = (a.entryCount+65536)*cdhLen > a.cdSize

		// when the data area could hide 4 GiB more than the first entry and its siblings account for,
		// compressed sizes are suspect too.
		minTotalDataSize := a.entryCount*cdhLen + first.CompressedSize + int64(len(first.RawName)) + int64(len(first.Extra))*16
		if minTotalDataSize+1<<32 <= a.cdOffset {
			a.compressedSizesCertain = false
		}

		return nil
	}

	// the stated offset held an Archive-Utility-shaped record, but nothing proves truncation yet.
	a.mac.kind = macMaybe
	if a.cdOffset+a.cdSize < a.footerOffset {
		// the directory may extend beyond what was claimed.
		a.cdSizeCertain = false
		a.entryCountCertain = false
	} else {
		a.cdSizeCertain = true
		a.entryCountCertain = (a.entryCount+65536)*cdhLen > a.cdSize
	}

	return nil
}

// searchCentralDirectory hunts for the directory at offsets congruent to the claimed one modulo 2^32, highest
// first, since Archive Utility stores offsets truncated to 32 bits. Returns nil, nil when no candidate matches.
func (a *Archive) searchCentralDirectory() (*Entry, error) {
	needed := max(a.cdSize, a.entryCount*cdhLen)
	limit := a.footerOffset - needed
	base := a.cdOffset & 0xffffffff
	if limit < base {
		return nil, nil
	}

	for o := base + (limit-base)>>32<<32; o >= base; o -= 1 << 32 {
		e, err := a.readCDH(o)
		if err != nil {
			if errors.Is(err, ErrInvalidCDH) || errors.Is(err, ErrUnexpectedEOF) {
				continue
			}

			return nil, err
		}

		if entryLooksMac(e, true) {
			a.cdOffset = o
			a.cdOffsetCertain = true
			return e, nil
		}
	}

	return nil, nil
}

// acceptSpecCompliant takes the footer's claims verbatim, after validating them against the file's physical bounds.
func (a *Archive) acceptSpecCompliant() error {
	if a.cdOffset < 0 || a.cdOffset+a.cdSize > a.footerOffset {
		return fmt.Errorf("central directory [%d, %d) overlaps footer at %d: %w", a.cdOffset, a.cdOffset+a.cdSize, a.footerOffset, ErrCDInconsistent)
	}

	if a.cdSize < a.entryCount*cdhLen {
		return fmt.Errorf("%d entries cannot fit in %d bytes of central directory: %w", a.entryCount, a.cdSize, ErrCDInconsistent)
	}

	a.mac.kind = macNo
	a.cdOffsetCertain = true
	a.cdSizeCertain = true
	a.entryCountCertain = true
	a.compressedSizesCertain = true
	a.uncompressedSizesCertain = true
	a.fileCursor = -1
	return nil
}
