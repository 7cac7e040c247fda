package zipfile

// Options customises how an archive is opened and how its entries are parsed.
type Options struct {
	// DecodeStrings controls whether filenames and comments are decoded to text.
	//
	// By default, true: [Entry.Name] and [Entry.Comment] are decoded from the Info-ZIP Unicode Path extra field,
	// UTF-8, or CP437 as appropriate. Set to false to leave only the raw bytes ([Entry.RawName],
	// [Entry.RawComment]) populated; filename validation is skipped in that case.
	DecodeStrings bool

	// ValidateEntrySizes controls size consistency checks.
	//
	// By default, true: stored (method 0) entries must have equal compressed and uncompressed sizes (plus 12
	// bytes of encryption header when the traditional-encryption bit is set), and decompressing streams verify
	// the uncompressed size at end of stream.
	ValidateEntrySizes bool

	// ValidateFilenames rejects unsafe paths.
	//
	// By default, true: absolute paths, Windows drive prefixes, and ".." path segments cause ReadEntry to fail.
	// Only meaningful while DecodeStrings is also true.
	ValidateFilenames bool

	// StrictFilenames rejects backslashes in filenames.
	//
	// By default, false: backslashes are translated to forward slashes. When true, a backslash fails the entry
	// with an invalid-characters error.
	StrictFilenames bool

	// SupportMacArchive enables the Mac OS Archive Utility heuristics.
	//
	// By default, true. When false, every archive is parsed strictly by the ZIP specification and Archive
	// Utility files beyond the 32-bit limits will fail to open or to stream.
	SupportMacArchive bool
}

func defaultOptions() Options {
	return Options{
		DecodeStrings:      true,
		ValidateEntrySizes: true,
		ValidateFilenames:  true,
		StrictFilenames:    false,
		SupportMacArchive:  true,
	}
}
