package storage

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the codec applied to a stored object. The value is
// written into each object header, so existing values must never change.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("storage: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("storage: zstd decoder: " + err.Error())
	}
}

// compress returns the encoded bytes and the codec actually used. Data that
// does not shrink is stored raw.
func compress(data []byte, c Compression) ([]byte, Compression, error) {
	var (
		out []byte
		err error
	)
	switch c {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		out, err = compressLZ4(data)
	case CompressionZstd:
		out, err = compressZstd(data)
	default:
		return nil, 0, fmt.Errorf("unsupported compression %s", c)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return out, c, nil
}

func decompress(data []byte, c Compression, size int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(data) != size {
			return nil, fmt.Errorf("raw object: size %d, expected %d", len(data), size)
		}
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
		}
		return dst, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func compressZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}
