package request

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// DefaultAcceptEncoding lists the content codings decoded transparently.
const DefaultAcceptEncoding = "gzip, deflate, zstd"

// readBody reads r fully, undoing the given Content-Encoding.
func readBody(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.ReadAll(r)
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "deflate":
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("deflate reader: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		// Unknown coding: hand back the bytes as received.
		return io.ReadAll(r)
	}
}
