package replay

import (
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
)

// Decompress detects the container format of a raw replay file by magic bytes
// (gzip, bzip2) and returns the decoded UTF-8 text. A buffer with no known
// magic is treated as already-decoded text. No partial output is returned on
// failure.
func Decompress(raw []byte) (string, error) {
	switch {
	case len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b:
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return "", fmt.Errorf("%w: gzip header: %v", ErrCorruptArchive, err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return "", fmt.Errorf("%w: gzip stream: %v", ErrCorruptArchive, err)
		}
		return asText(out)
	case len(raw) >= 3 && raw[0] == 'B' && raw[1] == 'Z' && raw[2] == 'h':
		out, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return "", fmt.Errorf("%w: bzip2 stream: %v", ErrCorruptArchive, err)
		}
		return asText(out)
	default:
		return asText(raw)
	}
}

func asText(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrUnsupportedFormat
	}
	return string(b), nil
}
