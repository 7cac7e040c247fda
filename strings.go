package zipfile

import (
	"fmt"
	"hash/crc32"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// decodeString decodes raw filename or comment bytes per the language-encoding flag (general-purpose bit 11):
// UTF-8 when set, CP437 otherwise.
func decodeString(b []byte, utf8Flag bool) (string, error) {
	if utf8Flag {
		return string(b), nil
	}

	s, err := charmap.CodePage437.NewDecoder().String(string(b))
	if err != nil {
		return "", fmt.Errorf("decode CP437 string error: %w", err)
	}

	return s, nil
}

// unicodePathName returns the filename from an Info-ZIP Unicode Path extra field (id 0x7075) if the entry carries a
// valid one: version byte 1 and a CRC32 over the raw filename that matches.
func unicodePathName(e *Entry) (string, bool) {
	for _, f := range e.Extra {
		if f.ID != extraIDUnicodePath || len(f.Data) < 5 || f.Data[0] != 1 {
			continue
		}

		if crc32.ChecksumIEEE(e.RawName) != le32(f.Data[1:5]) {
			continue
		}

		return string(f.Data[5:]), true
	}

	return "", false
}

// ValidateFilename checks name against the path policies applied by ReadEntry and returns the sanitized name.
//
// Backslashes are translated to forward slashes, or rejected when strict is true. Absolute paths (a leading slash
// or a Windows drive prefix) and ".." path segments are always rejected.
func ValidateFilename(name string, strict bool) (string, error) {
	if strings.ContainsRune(name, '\\') {
		if strict {
			return "", fmt.Errorf(`invalid characters in filename "%s": backslashes are not allowed`, name)
		}

		name = strings.ReplaceAll(name, "\\", "/")
	}

	if len(name) >= 2 && name[1] == ':' && isDriveLetter(name[0]) {
		return "", fmt.Errorf(`absolute path "%s" is not allowed`, name)
	}

	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf(`absolute path "%s" is not allowed`, name)
	}

	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return "", fmt.Errorf(`invalid relative path "%s"`, name)
		}
	}

	return name, nil
}

func isDriveLetter(c byte) bool {
	return ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z')
}
