package replay

import "errors"

var (
	// ErrUnsupportedFormat means the file matched no known container magic
	// and is not valid text.
	ErrUnsupportedFormat = errors.New("unsupported replay format")
	// ErrCorruptArchive means a matched decoder rejected the stream.
	ErrCorruptArchive = errors.New("corrupt replay archive")
)
