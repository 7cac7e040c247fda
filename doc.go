// Package zipfile reads ZIP archives from any random-access byte source without ever holding the whole archive in
// memory or extracting it to disk.
//
// The package scans backwards for the end-of-central-directory record, walks the central directory one entry at a
// time, and opens each entry's contents as a stream that inflates and validates on the fly. ZIP64 archives are
// supported, as are the out-of-spec archives produced by Mac OS Archive Utility, which silently truncates sizes,
// offsets, and entry counts modulo 2^32 / 2^16 instead of using ZIP64. Detection of the Mac dialect is evidence-based:
// a spec-compliant archive is never misread as a Mac archive, and an ambiguous archive is resolved as more entries and
// streams are observed.
//
// Use [Open], [OpenFile], or [OpenBuffer] for the common cases, or [OpenReader] with any [Reader] implementation
// (package s3reader provides one backed by ranged S3 GetObject).
package zipfile
