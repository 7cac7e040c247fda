package zipfile

import (
	"fmt"
	"iter"
	"os"
	"sync"
)

// Archive is an open ZIP file being read through a [Reader].
//
// Entries are produced strictly serially by [Archive.ReadEntry]; entry content streams from
// [Archive.OpenReadStream] may be open and read concurrently.
type Archive struct {
	mu     sync.Mutex
	reader Reader
	opts   Options

	size         int64
	footerOffset int64

	cdOffset   int64
	cdSize     int64
	entryCount int64

	// certainty flags: true means the value to the left is confirmed, false means later evidence may still
	// revise it. Post-anchor these are monotone; they only move false to true.
	cdOffsetCertain          bool
	cdSizeCertain            bool
	entryCountCertain        bool
	compressedSizesCertain   bool
	uncompressedSizesCertain bool

	isZip64 bool
	mac     macState

	rawComment []byte
	comment    string

	entryCursor int64 // next central directory file header
	fileCursor  int64 // next expected local file header; -1 unless the archive may be a Mac archive
	entriesRead int64
	firstEntry  *Entry // cached by the anchor's probe so ReadEntry need not re-read it

	readingEntry bool
	closed       bool
}

// Open opens the named ZIP file.
func Open(path string, optFns ...func(*Options)) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf(`open file "%s" error: %w`, path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf(`stat file "%s" error: %w`, path, err)
	}

	a, err := OpenReader(NewFileReader(f, true), fi.Size(), optFns...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return a, nil
}

// OpenFile reads the ZIP archive in an already opened file.
//
// The caller retains ownership of the file: neither closing the archive nor cancelling any of its streams will
// close the descriptor.
func OpenFile(f *os.File, optFns ...func(*Options)) (*Archive, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file error: %w", err)
	}

	return OpenReader(NewFileReader(f, false), fi.Size(), optFns...)
}

// OpenBuffer reads the ZIP archive held in b. The slice is not copied.
func OpenBuffer(b []byte, optFns ...func(*Options)) (*Archive, error) {
	return OpenReader(NewBufferReader(b), int64(len(b)), optFns...)
}

// OpenReader reads a ZIP archive of the given total size through an arbitrary [Reader].
//
// The archive takes ownership of the Reader; [Archive.Close] closes it.
func OpenReader(r Reader, size int64, optFns ...func(*Options)) (*Archive, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := r.Open(); err != nil {
		return nil, fmt.Errorf("open reader error: %w", err)
	}

	f, err := findFooter(r, size, opts.SupportMacArchive)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		reader:                   r,
		opts:                     opts,
		size:                     size,
		footerOffset:             f.offset,
		cdOffset:                 f.cdOffset,
		cdSize:                   f.cdSize,
		entryCount:               f.entryCount,
		isZip64:                  f.isZip64,
		compressedSizesCertain:   true,
		uncompressedSizesCertain: true,
		rawComment:               f.rawComment,
		fileCursor:               -1,
	}

	if opts.DecodeStrings {
		// the end-of-central-directory comment has no language-encoding flag; CP437 it is.
		if a.comment, err = decodeString(f.rawComment, false); err != nil {
			return nil, err
		}
	}

	if err = a.anchorCentralDirectory(); err != nil {
		return nil, err
	}

	a.entryCursor = a.cdOffset
	return a, nil
}

// ReadEntry returns the next entry from the central directory, or nil, nil when the directory is exhausted.
//
// Calls are strictly serial: a second call before the first returns fails with [ErrReadEntryReentry]. On error the
// directory cursor does not advance, so the same entry can be retried, although after structural errors that rarely
// helps.
func (a *Archive) ReadEntry() (*Entry, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrClosed
	}
	if a.readingEntry {
		a.mu.Unlock()
		return nil, ErrReadEntryReentry
	}
	a.readingEntry = true
	a.mu.Unlock()

	e, err := a.readEntry()

	a.mu.Lock()
	a.readingEntry = false
	a.mu.Unlock()
	return e, err
}

// ReadEntries reads up to n entries, or every remaining entry when n <= 0.
func (a *Archive) ReadEntries(n int) ([]*Entry, error) {
	var entries []*Entry
	for n <= 0 || len(entries) < n {
		e, err := a.ReadEntry()
		if err != nil {
			return entries, err
		}
		if e == nil {
			break
		}

		entries = append(entries, e)
	}

	return entries, nil
}

// Entries returns an iterator over the remaining entries. Any error stops the iterator.
func (a *Archive) Entries() iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		for {
			e, err := a.ReadEntry()
			if err != nil {
				yield(nil, err)
				return
			}
			if e == nil {
				return
			}

			if !yield(e, nil) {
				return
			}
		}
	}
}

// Close closes the archive and its Reader. It is idempotent and safe after any sequence of reads and stream
// cancellations; streams that are still open keep reading until they are closed themselves.
func (a *Archive) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	return a.reader.Close()
}

// IsOpen reports whether the archive is still open.
func (a *Archive) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.closed
}

// IsMacArchive reports whether the archive has been positively identified as Mac OS Archive Utility output.
func (a *Archive) IsMacArchive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mac.kind == macYes
}

// IsMaybeMacArchive reports whether the archive layout is consistent with Mac OS Archive Utility output without
// proof either way yet. Mutually exclusive with [Archive.IsMacArchive].
func (a *Archive) IsMaybeMacArchive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mac.kind == macMaybe
}

// IsZip64 reports whether the archive used the ZIP64 end-of-central-directory records.
func (a *Archive) IsZip64() bool {
	return a.isZip64
}

// Size returns the total size in bytes of the underlying source.
func (a *Archive) Size() int64 {
	return a.size
}

// Comment returns the archive comment decoded as CP437, or "" when string decoding is disabled.
func (a *Archive) Comment() string {
	return a.comment
}

// RawComment returns the raw bytes of the archive comment.
func (a *Archive) RawComment() []byte {
	return a.rawComment
}

// EntriesRead returns how many entries ReadEntry has returned so far.
func (a *Archive) EntriesRead() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entriesRead
}

// EntryCount returns the number of entries in the archive and whether that number is certain. The count is uncertain
// for an archive that may be Mac OS Archive Utility output while its central directory could hold 65536 more records
// than counted, or may extend past its claimed size; iteration reaching the end of the central directory settles it.
func (a *Archive) EntryCount() (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entryCount, a.entryCountCertain
}

func (a *Archive) readEntry() (*Entry, error) {
	a.mu.Lock()
	if a.entryCountCertain && a.entriesRead == a.entryCount {
		a.mu.Unlock()
		return nil, nil
	}

	cursor := a.entryCursor
	first := a.firstEntry
	atFirst := a.entriesRead == 0

	// while the directory size is still in question the directory may extend all the way to the footer.
	cdEnd := a.footerOffset
	if a.cdSizeCertain {
		cdEnd = min(a.cdOffset+a.cdSize, a.footerOffset)
	}
	a.mu.Unlock()

	var e *Entry
	if atFirst && first != nil {
		e = first
	} else {
		if cursor+cdhLen > cdEnd {
			return nil, a.finishIteration()
		}

		var sig [4]byte
		if _, err := a.reader.ReadAt(sig[:], cursor); err != nil {
			return nil, err
		}

		switch le32(sig[:]) {
		case sigEOCD, sigEOCD64, sigEOCD64Locator:
			// the directory ended earlier than its uncertain claims allowed.
			return nil, a.finishIteration()
		}

		var err error
		if e, err = a.readCDH(cursor); err != nil {
			return nil, err
		}
	}

	if err := a.processEntry(e); err != nil {
		return nil, err
	}

	return e, nil
}

// finishIteration settles the entry count when the cursor reaches the physical end of the central directory.
func (a *Archive) finishIteration() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.entryCountCertain {
		a.entryCount = a.entriesRead
		a.entryCountCertain = true
		return nil
	}

	if a.entriesRead < a.entryCount {
		return fmt.Errorf("central directory ended after %d of %d entries: %w", a.entriesRead, a.entryCount, ErrCDInconsistent)
	}

	return nil
}

// processEntry runs every post-parse obligation on a freshly decoded central directory record: encryption policy,
// the Mac evidence rules, size reconciliation, string decoding, and filename validation. Cursors advance only when
// all of it succeeds.
func (a *Archive) processEntry(e *Entry) error {
	if e.Flags&flagStrongEncryption != 0 {
		return fmt.Errorf(`entry "%s": %w`, e.RawName, ErrStrongEncryption)
	}

	a.mu.Lock()

	first := a.entriesRead == 0
	switch a.mac.kind {
	case macYes:
		// in a confirmed Mac archive every entry must keep matching the dialect, and its stored header
		// offset must be the file cursor truncated to 32 bits.
		if !entryLooksMac(e, first) || uint32(e.FileHeaderOffset) != uint32(a.fileCursor) {
			n := a.entriesRead
			a.mu.Unlock()
			return fmt.Errorf("central directory entry %d does not match Archive Utility layout: %w", n, ErrMisidentifiedMacArchive)
		}

		e.FileHeaderOffset = a.fileCursor

	case macMaybe:
		looks := entryLooksMac(e, first)
		congruent := uint32(e.FileHeaderOffset) == uint32(a.fileCursor)
		switch {
		case !looks || !congruent:
			a.setAsNotMacArchive()

		case a.fileCursor >= 1<<32:
			// the stored offset can only match modulo 2^32 because it was truncated.
			a.setAsMacArchive()
			e.FileHeaderOffset = a.fileCursor

		default:
			next := a.entryCursor + e.cdhLength
			remaining := a.cdOffset + a.cdSize - next
			declared := a.entryCount - a.entriesRead - 1
			minRemaining := (remaining + cdhMaxLenMac - 1) / cdhMaxLenMac
			if remaining < declared*cdhLen || minRemaining > declared {
				// the declared count cannot be reconciled with the directory bytes that
				// remain; only a truncated count explains it.
				a.setAsMacArchive()
				e.FileHeaderOffset = a.fileCursor
			}
		}

	case macNo:

	default:
		a.mu.Unlock()
		return ErrLogicFailure
	}

	if !a.compressedSizesCertain {
		if err := a.resolveCompressedSize(e); err != nil {
			a.mu.Unlock()
			return err
		}
	}

	if !a.uncompressedSizesCertain {
		switch {
		case e.Method == methodStore:
			// encryption is already excluded for Mac entries; a stored entry's sizes coincide.
			e.UncompressedSize = e.CompressedSize

		case e.CompressedSize*maxDeflateRatio >= 1<<32:
			// the true size may exceed 4 GiB and thus have been truncated; the streaming validator
			// settles it.
			e.uncompressedSizeCertain = false
			a.trackUncertain(e)
		}
	}
	a.mu.Unlock()

	if a.opts.DecodeStrings {
		if err := a.decodeEntryStrings(e); err != nil {
			return err
		}
	}

	if a.opts.ValidateEntrySizes && e.Method == methodStore {
		expected := e.UncompressedSize
		if e.IsEncrypted() {
			expected += 12
		}
		if e.CompressedSize != expected {
			return fmt.Errorf(`entry "%s" has compressed size %d but expected %d: %w`, e.RawName, e.CompressedSize, expected, ErrSizeMismatch)
		}
	}

	a.mu.Lock()
	a.entryCursor += e.cdhLength
	a.entriesRead++
	a.firstEntry = nil
	if a.mac.kind == macMaybe || a.mac.kind == macYes {
		a.fileCursor += macFileAdvance(e)
	}
	a.mu.Unlock()

	return nil
}

func (a *Archive) decodeEntryStrings(e *Entry) error {
	utf8Flag := e.Flags&flagUTF8 != 0

	if name, ok := unicodePathName(e); ok {
		e.Name = name
	} else if name, err := decodeString(e.RawName, utf8Flag); err != nil {
		return fmt.Errorf(`decode filename "%s" error: %w`, e.RawName, err)
	} else {
		e.Name = name
	}

	var err error
	if e.Comment, err = decodeString(e.RawComment, utf8Flag); err != nil {
		return fmt.Errorf("decode entry comment error: %w", err)
	}

	if a.opts.ValidateFilenames {
		if e.Name, err = ValidateFilename(e.Name, a.opts.StrictFilenames); err != nil {
			return err
		}
	}

	return nil
}
