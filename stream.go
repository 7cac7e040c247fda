package zipfile

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
)

// StreamOptions customises one [Archive.OpenReadStream] call. Nil pointer fields pick the documented defaults;
// the helper functions [Decompress], [Decrypt], [ValidateCRC32], and [Range] set them.
type StreamOptions struct {
	// Decompress controls whether the stream inflates entry contents.
	//
	// By default, contents are inflated exactly when the entry is compressed. Pass false to read the raw
	// stored bytes of any entry.
	Decompress *bool

	// Decrypt must be explicitly false to read the raw bytes of an encrypted entry; decryption itself is not
	// supported and any other setting fails with [ErrDecryptionUnsupported].
	Decrypt *bool

	// ValidateCRC32 controls the streaming CRC32 check against the central directory.
	//
	// By default, the check runs for whole-range raw reads of unencrypted stored entries; inflating streams
	// are already covered by the uncompressed-size validator. An explicit true combined with a partial range
	// is an error, since the CRC covers the whole file.
	ValidateCRC32 *bool

	// Start and End bound the read in compressed-stream byte offsets, [Start, End). Defaults are 0 and the
	// compressed size. Partial ranges require raw (non-decompressing) reads.
	Start *int64
	End   *int64
}

// Decompress returns an option that sets [StreamOptions.Decompress].
func Decompress(v bool) func(*StreamOptions) {
	return func(o *StreamOptions) {
		o.Decompress = &v
	}
}

// Decrypt returns an option that sets [StreamOptions.Decrypt].
func Decrypt(v bool) func(*StreamOptions) {
	return func(o *StreamOptions) {
		o.Decrypt = &v
	}
}

// ValidateCRC32 returns an option that sets [StreamOptions.ValidateCRC32].
func ValidateCRC32(v bool) func(*StreamOptions) {
	return func(o *StreamOptions) {
		o.ValidateCRC32 = &v
	}
}

// Range returns an option bounding the read to compressed bytes [start, end).
func Range(start, end int64) func(*StreamOptions) {
	return func(o *StreamOptions) {
		o.Start = &start
		o.End = &end
	}
}

// OpenReadStream opens a stream over the entry's contents.
//
// The default stream inflates compressed entries and validates their uncompressed size (and, for raw reads of
// stored entries, their CRC32) as it goes; see [StreamOptions] for raw reads, partial ranges, and validation
// control. Multiple streams may be open and read concurrently on the same archive. Closing a stream never closes
// the archive's underlying descriptor.
func (a *Archive) OpenReadStream(e *Entry, optFns ...func(*StreamOptions)) (io.ReadCloser, error) {
	if e == nil || e.archive != a {
		return nil, ErrForeignEntry
	}

	var opts StreamOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrClosed
	}
	compressedSize := e.CompressedSize
	a.mu.Unlock()

	decompress := e.IsCompressed()
	if opts.Decompress != nil {
		decompress = *opts.Decompress
	}

	if e.IsEncrypted() {
		if opts.Decrypt == nil || *opts.Decrypt {
			return nil, fmt.Errorf(`entry "%s" is encrypted: %w`, e.RawName, ErrDecryptionUnsupported)
		}
		if decompress {
			return nil, fmt.Errorf(`cannot decompress entry "%s" without decrypting it first: %w`, e.RawName, ErrDecryptionUnsupported)
		}
	} else if opts.Decrypt != nil && *opts.Decrypt {
		return nil, fmt.Errorf(`entry "%s" is not encrypted: %w`, e.RawName, ErrDecryptionUnsupported)
	}

	if decompress && e.Method != methodDeflate {
		return nil, fmt.Errorf("cannot decompress method %d: %w", e.Method, ErrUnsupportedMethod)
	}

	start, end := int64(0), compressedSize
	if opts.Start != nil {
		start = *opts.Start
	}
	if opts.End != nil {
		end = *opts.End
	}
	if start < 0 || start > end || end > compressedSize {
		return nil, fmt.Errorf("range [%d, %d) of %d compressed bytes: %w", start, end, compressedSize, ErrInvalidRange)
	}

	partial := start != 0 || end != compressedSize
	if partial && decompress {
		return nil, fmt.Errorf("cannot decompress a partial range: %w", ErrInvalidRange)
	}

	var validateCRC bool
	if opts.ValidateCRC32 != nil {
		validateCRC = *opts.ValidateCRC32
		if validateCRC && partial {
			return nil, fmt.Errorf("CRC32 validation covers the whole entry: %w", ErrInvalidRange)
		}
	} else {
		validateCRC = !decompress && e.Method == methodStore && !e.IsEncrypted() && !partial
	}

	fdo, err := a.resolveFileDataOffset(e)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	footerOffset := a.footerOffset
	compressedSize = e.CompressedSize
	a.mu.Unlock()
	if fdo+compressedSize > footerOffset {
		return nil, fmt.Errorf("file data [%d, %d) extends past %d: %w", fdo, fdo+compressedSize, footerOffset, ErrBadFileDataLocation)
	}

	base, err := a.reader.OpenRange(fdo+start, end-start)
	if err != nil {
		return nil, err
	}

	var r io.Reader = base
	var fl io.ReadCloser
	if decompress {
		fl = flate.NewReader(base)
		r = fl
	}

	if decompress && a.opts.ValidateEntrySizes {
		r = &sizeValidatingReader{r: r, a: a, e: e}
	}

	if validateCRC {
		r = &crcValidatingReader{r: r, want: e.CRC32}
	}

	return &entryStream{r: r, flate: fl, base: base}, nil
}

// resolveFileDataOffset reads and validates the entry's local file header and caches where the file data begins.
// The result is idempotent: concurrent streams race benignly to set the same value.
func (a *Archive) resolveFileDataOffset(e *Entry) (int64, error) {
	a.mu.Lock()
	if e.fileDataOffset >= 0 {
		fdo := e.fileDataOffset
		a.mu.Unlock()
		return fdo, nil
	}
	headerOffset := e.FileHeaderOffset
	kind := a.mac.kind
	footerOffset := a.footerOffset
	a.mu.Unlock()

	if headerOffset < 0 || headerOffset+lfhLen > footerOffset {
		return 0, fmt.Errorf("local file header at offset %d: %w", headerOffset, ErrBadFileDataLocation)
	}

	buf := make([]byte, lfhLen)
	if _, err := a.reader.ReadAt(buf, headerOffset); err != nil {
		return 0, fmt.Errorf("read local file header error: %w", err)
	}

	if sig := le32(buf); sig != sigLFH {
		return 0, fmt.Errorf("expected 0x%08x at offset %d, got 0x%08x: %w", sigLFH, headerOffset, sig, ErrInvalidLFH)
	}

	fnLen, exLen := int64(le16(buf[26:])), int64(le16(buf[28:]))

	if kind == macMaybe || kind == macYes {
		// Archive Utility defers sizes and CRC to the data descriptor, so its local headers carry zeroes
		// and an extra area of exactly 16 bytes per field.
		macLocal := le32(buf[14:]) == 0 && le32(buf[18:]) == 0 && le32(buf[22:]) == 0 &&
			fnLen == int64(len(e.RawName)) && exLen == macLocalExtraLen(e)

		if !macLocal {
			a.mu.Lock()
			switch a.mac.kind {
			case macYes:
				a.mu.Unlock()
				return 0, fmt.Errorf(`local file header of entry "%s": %w`, e.RawName, ErrMisidentifiedMacArchive)
			case macMaybe:
				a.setAsNotMacArchive()
			}
			a.mu.Unlock()
		}
	}

	fdo := headerOffset + lfhLen + fnLen + exLen

	a.mu.Lock()
	if e.fileDataOffset < 0 {
		e.fileDataOffset = fdo
	} else {
		fdo = e.fileDataOffset
	}
	a.mu.Unlock()

	return fdo, nil
}

// entryStream is the composed read pipeline handed to callers.
type entryStream struct {
	r      io.Reader
	flate  io.ReadCloser
	base   io.ReadCloser
	closed bool
}

func (s *entryStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}

	return s.r.Read(p)
}

// Close releases the stream. Other streams on the same archive, and the archive itself, are unaffected.
func (s *entryStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.flate != nil {
		_ = s.flate.Close()
	}

	return s.base.Close()
}

// sizeValidatingReader counts post-inflate bytes against the entry's expected uncompressed size.
//
// Overflowing a certain size is fatal; overflowing an uncertain size is the streaming proof that Archive Utility
// truncated it, so the expectation grows by 2^32 and a maybe-Mac archive is promoted on the spot.
type sizeValidatingReader struct {
	r     io.Reader
	a     *Archive
	e     *Entry
	count int64
	done  bool
}

func (v *sizeValidatingReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	if n > 0 {
		v.count += int64(n)

		v.a.mu.Lock()
		if v.count > v.e.UncompressedSize {
			if v.e.uncompressedSizeCertain {
				expected := v.e.UncompressedSize
				v.a.mu.Unlock()
				return n, fmt.Errorf("expected %d uncompressed bytes, got at least %d: %w", expected, v.count, ErrTooManyBytes)
			}

			v.e.UncompressedSize += 1 << 32
			if v.a.mac.kind == macMaybe {
				v.a.setAsMacArchive()
			}
		}
		v.a.mu.Unlock()
	}

	if errors.Is(err, io.EOF) && !v.done {
		v.done = true

		v.a.mu.Lock()
		expected := v.e.UncompressedSize
		if v.count == expected {
			v.a.settleUncompressedSize(v.e)
			v.a.mu.Unlock()
		} else {
			v.a.mu.Unlock()
			return n, fmt.Errorf("expected %d uncompressed bytes, got %d: %w", expected, v.count, ErrTooFewBytes)
		}
	}

	return n, err
}

// crcValidatingReader hashes the stream and compares against the central directory at end of stream.
type crcValidatingReader struct {
	r    io.Reader
	sum  uint32
	want uint32
	done bool
}

func (v *crcValidatingReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	if n > 0 {
		v.sum = crc32.Update(v.sum, crc32.IEEETable, p[:n])
	}

	if errors.Is(err, io.EOF) && !v.done {
		v.done = true
		if v.sum != v.want {
			return n, fmt.Errorf("expected CRC32 0x%08x, got 0x%08x: %w", v.want, v.sum, ErrCRC32Mismatch)
		}
	}

	return n, err
}
