package zipfile

import "fmt"

// resolveCompressedSize confirms or corrects the entry's compressed size while the archive may still hide files
// more than 4 GiB bigger than their truncated claims.
//
// Mac OS Archive Utility writes a data descriptor after every deflated file, so the descriptor's true location
// betrays the true compressed size: the resolver hunts for it at the stated size and then at every 2^32 stride
// beyond. It is called with a.mu held and releases the mutex around I/O; because concurrently running streams can
// settle the Mac question in the meantime, the flag is re-checked after every read.
func (a *Archive) resolveCompressedSize(e *Entry) error {
	dataStart := a.fileCursor + lfhLen + int64(len(e.RawName)) + macLocalExtraLen(e)
	next := dataStart + e.CompressedSize + macDataDescriptorLen(e)
	remaining := a.entryCount - a.entriesRead - 1

	// when the space between this entry and the central directory cannot hide another 4 GiB, no later entry
	// can have been truncated either.
	if a.cdOffset-next < remaining*lfhLen+1<<32 {
		a.compressedSizesCertain = true
		return nil
	}

	// the last entry of a confirmed Mac archive must consume the data area exactly; any leftover is a
	// truncation artifact and must be a whole number of 4 GiB blocks.
	if a.mac.kind == macYes && remaining == 0 {
		extra := a.cdOffset - next
		if extra%(1<<32) != 0 {
			return fmt.Errorf("final entry leaves %d bytes before the central directory: %w", extra, ErrCDInconsistent)
		}

		e.CompressedSize += extra
		return nil
	}

	// a stored entry is a folder, empty file, or symlink; its stated size is accurate. Later entries remain
	// in question.
	if e.Method == methodStore {
		return nil
	}

	for pos := dataStart + e.CompressedSize; pos+ddLen <= a.cdOffset; pos += 1 << 32 {
		buf := make([]byte, ddLen+4)
		probeLen := int64(len(buf))
		if pos+probeLen > a.cdOffset {
			probeLen = ddLen
		}

		a.mu.Unlock()
		_, err := a.reader.ReadAt(buf[:probeLen], pos)
		a.mu.Lock()

		if err != nil {
			return fmt.Errorf("read data descriptor candidate error: %w", err)
		}

		// a concurrent stream may have settled the sizes while the mutex was released.
		if a.compressedSizesCertain {
			return nil
		}

		if le32(buf) != sigDD ||
			le32(buf[4:]) != e.CRC32 ||
			le32(buf[8:]) != uint32(pos-dataStart) ||
			le32(buf[12:]) != uint32(e.UncompressedSize) {
			continue
		}

		// the descriptor must be terminated by the next local file header or by the central directory
		// starting right after it.
		if probeLen > ddLen {
			if le32(buf[ddLen:]) != sigLFH {
				continue
			}
		} else if pos+ddLen != a.cdOffset {
			continue
		}

		if size := pos - dataStart; size != e.CompressedSize {
			e.CompressedSize = size
			a.setAsMacArchive()
		}

		return nil
	}

	// no descriptor anywhere a Mac archive could have put one.
	if a.mac.kind == macMaybe {
		a.setAsNotMacArchive()
		return nil
	}

	return fmt.Errorf(`entry "%s": %w`, e.RawName, ErrMissingDataDescriptor)
}
