package zipfile

import "encoding/binary"

// Record signatures and fixed sizes, little-endian on the wire.
// See https://pkware.cachefly.net/webdocs/casestudies/APPNOTE.TXT.
const (
	sigEOCD          uint32 = 0x06054b50 // end of central directory record
	sigEOCD64Locator uint32 = 0x07064b50 // ZIP64 end of central directory locator
	sigEOCD64        uint32 = 0x06064b50 // ZIP64 end of central directory record
	sigCDFH          uint32 = 0x02014b50 // central directory file header
	sigLFH           uint32 = 0x04034b50 // local file header
	sigDD            uint32 = 0x08074b50 // data descriptor

	eocdLen          = 22
	eocd64LocatorLen = 20
	eocd64Len        = 56
	cdhLen           = 46
	lfhLen           = 30
	ddLen            = 16

	maxCommentLen = 0xffff

	// cdhMaxLenMac is the largest central directory file header Archive Utility ever writes: the fixed part, a
	// maximal filename, and its mandatory 12-byte extra field. It never writes comments.
	cdhMaxLenMac = cdhLen + 0xffff + 12

	extraIDZip64       uint16 = 0x0001 // ZIP64 extended information
	extraIDUnicodePath uint16 = 0x7075 // Info-ZIP Unicode Path
	extraIDMac         uint16 = 22613  // Archive Utility's mandatory extra field (0x5855)

	// flagEncrypted and friends are general-purpose bit flags in file headers.
	flagEncrypted        uint16 = 0x0001
	flagDataDescriptor   uint16 = 0x0008
	flagStrongEncryption uint16 = 0x0040
	flagUTF8             uint16 = 0x0800

	methodStore   uint16 = 0
	methodDeflate uint16 = 8

	// maxDeflateRatio is DEFLATE's maximum expansion ratio (1032:1, from run-length encoding of a single
	// repeated byte). An entry's uncompressed size can never exceed its compressed size times this.
	maxDeflateRatio = 1032
)

func le16(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

func le32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func le64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}
