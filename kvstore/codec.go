package kvstore

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// Compression is how values are stored in the file
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionBrotli
)

func (c Compression) String() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionBrotli:
		return "br"
	}
	return "-"
}

func parseCodec(s string) (Compression, error) {
	switch s {
	case "-":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "br":
		return CompressionBrotli, nil
	}
	return CompressionNone, fmt.Errorf("unknown codec '%s'", s)
}

// ParseCompression parses compression name as given on the command line
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "-":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "brotli", "br":
		return CompressionBrotli, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression '%s', must be none, zstd or brotli", s)
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

// EncodeAll / DecodeAll are safe for concurrent use so we share them
func initZstd() error {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdErr
}

// empty values are stored as-is regardless of compression
func encodeValue(c Compression, d []byte) ([]byte, error) {
	if len(d) == 0 {
		return d, nil
	}
	switch c {
	case CompressionNone:
		return d, nil
	case CompressionZstd:
		if err := initZstd(); err != nil {
			return nil, err
		}
		return zstdEnc.EncodeAll(d, nil), nil
	case CompressionBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(d); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown compression %d", c)
}

func decodeValue(c Compression, d []byte) ([]byte, error) {
	if len(d) == 0 {
		return d, nil
	}
	switch c {
	case CompressionNone:
		return d, nil
	case CompressionZstd:
		if err := initZstd(); err != nil {
			return nil, err
		}
		return zstdDec.DecodeAll(d, nil)
	case CompressionBrotli:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(d)))
	}
	return nil, fmt.Errorf("unknown compression %d", c)
}
