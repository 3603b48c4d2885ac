// Package compress provides the decompression codecs entries are stored
// with: zlib and LZ4 block via the index record, zstd at the sink.
package compress

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/absencelul/neox-tools/pkg/npk"
)

// Shared zstd decoder; read-only after init and safe for concurrent
// DecodeAll calls.
var zstdDecoder, _ = zstd.NewReader(nil)

// Entry decompresses an entry payload per its index record codec.
// originalLength is the logical size recorded in the index; the LZ4
// block format needs it to size the destination.
func Entry(data []byte, codec npk.Compression, originalLength uint32) ([]byte, error) {
	switch codec {
	case npk.CompressionNone:
		return data, nil
	case npk.CompressionZlib:
		out, err := Zlib(data)
		if err != nil {
			return nil, &npk.DecompressError{Codec: "zlib", Err: err}
		}
		return out, nil
	case npk.CompressionLZ4:
		out, err := LZ4Block(data, originalLength)
		if err != nil {
			return nil, &npk.DecompressError{Codec: "lz4", Err: err}
		}
		return out, nil
	}
	return nil, &npk.DecompressError{Codec: "unknown", Err: errUnknownCodec(codec)}
}

type errUnknownCodec npk.Compression

func (e errUnknownCodec) Error() string { return "unknown compression codec" }

// Zlib inflates an RFC 1950 stream.
func Zlib(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// LZ4Block decompresses one LZ4 block of known uncompressed size.
func LZ4Block(data []byte, uncompressedSize uint32) ([]byte, error) {
	out := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(data, out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// Zstd decompresses a zstd frame.
func Zstd(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, &npk.DecompressError{Codec: "zstd", Err: err}
	}
	return out, nil
}
