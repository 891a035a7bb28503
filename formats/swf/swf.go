// Package swf recompresses zlib-compressed Flash movies.
//
// A CWS movie is an 8-byte header followed by a zlib stream holding the rest
// of the file. The stream is recompressed; the header, which records the
// uncompressed length, stays the same. Uncompressed (FWS) and LZMA (ZWS)
// movies are recognized but left as they are.
package swf

import (
	"bytes"

	leanify "github.com/samghub/Leanify"
	"github.com/samghub/Leanify/utilities/compression"
)

var (
	HeaderMagic        = []byte("FWS")
	HeaderMagicDeflate = []byte("CWS")
	HeaderMagicLZMA    = []byte("ZWS")
)

const headerSize = 8

// Movie is an SWF region.
type Movie struct {
	ctx    leanify.Context
	region leanify.Region
}

func Open(ctx leanify.Context, region leanify.Region) (*Movie, error) {
	data := region.Bytes()
	if len(data) < headerSize {
		return nil, leanify.ErrMalformed.WithMessage("swf: truncated header")
	}
	if !bytes.HasPrefix(data, HeaderMagic) &&
		!bytes.HasPrefix(data, HeaderMagicDeflate) &&
		!bytes.HasPrefix(data, HeaderMagicLZMA) {
		return nil, leanify.ErrMalformed.WithMessage("swf: bad signature")
	}
	return &Movie{ctx: ctx, region: region}, nil
}

func (movie *Movie) Format() leanify.Format {
	return leanify.FormatSWF
}

func (movie *Movie) Compact(leanified int) int {
	data := movie.region.Bytes()
	if !bytes.HasPrefix(data, HeaderMagicDeflate) {
		return movie.region.Move(leanified)
	}

	recompressed, ok := compression.RecompressZlib(movie.ctx, data[headerSize:])
	if !ok {
		return movie.region.Move(leanified)
	}

	// The header's length field counts uncompressed bytes, so it carries over.
	out := make([]byte, 0, headerSize+len(recompressed))
	out = append(out, data[:headerSize]...)
	out = append(out, recompressed...)
	return movie.region.Commit(leanified, out)
}
