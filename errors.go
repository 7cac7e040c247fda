package zipfile

import "errors"

// Sentinel errors returned (possibly wrapped with more context) by the package. Test with [errors.Is].
var (
	// ErrNoEOCDFound is returned if no end-of-central-directory signature was found.
	ErrNoEOCDFound = errors.New("end of central directory record not found; most likely not a ZIP file")

	// ErrMultiDisk is returned for archives that span multiple disks.
	ErrMultiDisk = errors.New("multi-disk ZIP files are not supported")

	// ErrStrongEncryption is returned for entries using strong (AES) encryption.
	ErrStrongEncryption = errors.New("strong encryption is not supported")

	// ErrDecryptionUnsupported is returned when a stream would have to decrypt entry contents.
	//
	// The raw, still-encrypted bytes of a traditionally encrypted entry can be read by explicitly passing
	// Decrypt=false and Decompress=false to [Archive.OpenReadStream].
	ErrDecryptionUnsupported = errors.New("decryption is not supported")

	// ErrUnsupportedMethod is returned when decompression of anything other than DEFLATE is requested.
	ErrUnsupportedMethod = errors.New("unsupported compression method")

	// ErrInvalidCDH is returned when a central directory file header has a bad signature.
	ErrInvalidCDH = errors.New("invalid central directory file header signature")

	// ErrInvalidLFH is returned when a local file header has a bad signature.
	ErrInvalidLFH = errors.New("invalid local file header signature")

	// ErrCDInconsistent is returned when the end-of-central-directory claims cannot be reconciled with the
	// physical layout of the file.
	ErrCDInconsistent = errors.New("invalid central directory size or entry count")

	// ErrCDNotFound is returned when the central directory is not at its stated offset nor at any offset
	// congruent to it modulo 2^32.
	ErrCDNotFound = errors.New("central directory could not be located")

	// ErrBadFileDataLocation is returned when an entry's file data would fall outside the archive.
	ErrBadFileDataLocation = errors.New("invalid location for file data")

	// ErrCRC32Mismatch is returned at the end of a validating stream whose content hashed differently than the
	// central directory claimed.
	ErrCRC32Mismatch = errors.New("CRC32 mismatch")

	// ErrTooManyBytes is returned when inflation produces more bytes than the entry's uncompressed size.
	ErrTooManyBytes = errors.New("too many bytes in the stream")

	// ErrTooFewBytes is returned when inflation produces fewer bytes than the entry's uncompressed size.
	ErrTooFewBytes = errors.New("too few bytes in the stream")

	// ErrSizeMismatch is returned by ReadEntry for stored entries whose compressed and uncompressed sizes differ.
	ErrSizeMismatch = errors.New("compressed size does not match uncompressed size for stored entry")

	// ErrMissingDataDescriptor is returned when a Mac archive entry has no data descriptor where one must exist.
	ErrMissingDataDescriptor = errors.New("data descriptor not found")

	// ErrMisidentifiedMacArchive is returned when an archive positively identified as a Mac OS Archive Utility
	// ZIP file turns out to violate that dialect after all.
	ErrMisidentifiedMacArchive = errors.New("misidentified Mac OS Archive Utility ZIP file")

	// ErrReadEntryReentry is returned by ReadEntry if a previous ReadEntry call has not completed yet.
	ErrReadEntryReentry = errors.New("cannot call ReadEntry before the previous call has completed")

	// ErrInvalidRange is returned for out-of-range or otherwise impossible Start/End stream options.
	ErrInvalidRange = errors.New("invalid byte range")

	// ErrForeignEntry is returned when an entry is passed to an archive it did not come from.
	ErrForeignEntry = errors.New("entry does not belong to this archive")

	// ErrClosed is returned by operations on a closed archive or reader.
	ErrClosed = errors.New("already closed")

	// ErrReadInProgress is returned by Close while reads are still in flight.
	ErrReadInProgress = errors.New("cannot close while reading is in progress")

	// ErrUnexpectedEOF is returned when the underlying source runs out of bytes mid-record.
	ErrUnexpectedEOF = errors.New("unexpected end of file")

	// ErrLogicFailure guards branches that should be unreachable in the Mac inference state machine.
	ErrLogicFailure = errors.New("logic failure; please raise an issue at https://github.com/nguyengg/zipfile/issues")
)
