// Payload compression codecs.

package snapshot

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec identifies how the payload of a snapshot is compressed.
type Codec byte

const (
	// CodecNone stores the payload as is.
	CodecNone Codec = 0
	// CodecSnappy uses snappy block compression.
	CodecSnappy Codec = 1
	// CodecZstd uses zstandard.
	CodecZstd Codec = 2
	// CodecGzip uses gzip.
	CodecGzip Codec = 3
)

// Codecs lists every supported codec.
var Codecs = []Codec{CodecNone, CodecSnappy, CodecZstd, CodecGzip}

// ParseCodec returns the codec by its name. An empty name maps to CodecNone.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CodecNone, nil
	case "snappy":
		return CodecSnappy, nil
	case "zstd":
		return CodecZstd, nil
	case "gzip":
		return CodecGzip, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", s)
	}
}

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecSnappy:
		return "snappy"
	case CodecZstd:
		return "zstd"
	case CodecGzip:
		return "gzip"
	default:
		return fmt.Sprintf("codec(%d)", byte(c))
	}
}

// Valid reports whether c is a known codec.
func (c Codec) Valid() bool {
	return c <= CodecGzip
}

// The zstd encoder and decoder are safe for concurrent EncodeAll/DecodeAll.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func (c Codec) compress(b []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return b, nil
	case CodecSnappy:
		return snappy.Encode(nil, b), nil
	case CodecZstd:
		return zstdEncoder.EncodeAll(b, nil), nil
	case CodecGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(b); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown codec %d", byte(c))
	}
}

func (c Codec) decompress(b []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return b, nil
	case CodecSnappy:
		return snappy.Decode(nil, b)
	case CodecZstd:
		return zstdDecoder.DecodeAll(b, nil)
	case CodecGzip:
		r, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		out, err := io.ReadAll(r)
		if err2 := r.Close(); err == nil {
			err = err2
		}
		return out, err
	default:
		return nil, fmt.Errorf("unknown codec %d", byte(c))
	}
}
