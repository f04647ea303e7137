package core

// streaming.go prepares uploaded bytes for parsing.
//
// Spreadsheet exports arrive in a few shapes:
//
//   - UTF-8 with a BOM (Excel "CSV UTF-8"): the BOM is stripped
//   - Plain UTF-8: passed through
//   - Windows-1252 (Excel "CSV" on Windows): decoded to UTF-8
//
// Files are buffered whole; imports larger than the configured upload limit
// are refused before they reach this point.

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeInput returns the file contents as UTF-8 text.
func DecodeInput(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data)
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return string(bytes.ToValidUTF8(data, []byte("�")))
	}
	return string(decoded)
}
