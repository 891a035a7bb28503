package compression

import (
	"bytes"
	"encoding/binary"
	"hash/adler32"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	leanify "github.com/samghub/Leanify"
)

// candidateLevels lists the deflate encoders tried by Deflate, strongest
// first. An effort of N tries the first N of them.
var candidateLevels = []int{
	flate.BestCompression, 8, 7, 6, 5, 4, 3, 2, flate.BestSpeed, flate.HuffmanOnly,
}

// zlibHeader is CMF=0x78 (deflate, 32K window) and FLG=0xDA (maximum
// compression, check bits set so that the 16-bit value is a multiple of 31).
var zlibHeader = []byte{0x78, 0xda}

// Deflate encodes raw as a raw deflate stream, trying as many encoders as the
// configured effort allows and returning the smallest result. Fast mode tries
// only the strongest one.
func Deflate(ctx leanify.Context, raw []byte) []byte {
	effort := 1
	if !ctx.Config().Fast {
		effort = min(ctx.Config().Iterations, len(candidateLevels))
	}

	var best []byte
	for _, level := range candidateLevels[:effort] {
		encoded, err := deflateLevel(raw, level)
		if err != nil {
			ctx.Logger().Warn("deflate failed", "level", level, "error", err)
			continue
		}
		if best == nil || len(encoded) < len(best) {
			best = encoded
		}
	}
	return best
}

// Zlib is Deflate wrapped in a zlib container.
func Zlib(ctx leanify.Context, raw []byte) []byte {
	body := Deflate(ctx, raw)
	out := make([]byte, 0, len(zlibHeader)+len(body)+4)
	out = append(out, zlibHeader...)
	out = append(out, body...)
	return binary.BigEndian.AppendUint32(out, adler32.Checksum(raw))
}

func deflateLevel(raw []byte, level int) ([]byte, error) {
	var out bytes.Buffer
	writer, err := flate.NewWriter(&out, level)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(raw); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// RecompressZlib decodes a zlib stream and re-encodes it with the configured
// effort. It returns the new stream and true only if it is strictly smaller
// than the original. In fast mode it returns immediately.
//
// A stream that fails to decode is reported and left alone; it never aborts
// the caller.
func RecompressZlib(ctx leanify.Context, compressed []byte) ([]byte, bool) {
	if ctx.Config().Fast {
		return nil, false
	}

	raw, err := InflateZlib(compressed)
	if err != nil {
		ctx.Logger().Warn("decompress zlib data failed", "error", err)
		return nil, false
	}

	recompressed := Zlib(ctx, raw)
	if len(recompressed) < len(compressed) {
		return recompressed, true
	}
	return nil, false
}

// RecompressDeflate is RecompressZlib for a raw deflate stream.
func RecompressDeflate(ctx leanify.Context, compressed []byte) ([]byte, bool) {
	if ctx.Config().Fast {
		return nil, false
	}

	raw, _, err := Inflate(compressed)
	if err != nil {
		ctx.Logger().Warn("decompress deflate data failed", "error", err)
		return nil, false
	}

	recompressed := Deflate(ctx, raw)
	if len(recompressed) < len(compressed) {
		return recompressed, true
	}
	return nil, false
}

// Inflate decodes a raw deflate stream from the beginning of src. It also
// returns how many bytes of src the stream occupied, so callers can find
// whatever follows it.
func Inflate(src []byte) ([]byte, int, error) {
	source := bytes.NewReader(src)
	reader := flate.NewReader(source)
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, 0, leanify.ErrDecompress.Wrap(err)
	}
	return raw, len(src) - source.Len(), nil
}

// InflateZlib decodes a zlib stream, verifying its checksum.
func InflateZlib(src []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, leanify.ErrDecompress.Wrap(err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, leanify.ErrDecompress.Wrap(err)
	}
	return raw, nil
}
