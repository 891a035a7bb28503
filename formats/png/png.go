// Package png compacts PNG images.
//
// Ancillary chunks that don't affect how the image renders are dropped, the
// image data is gathered into a single IDAT chunk and its zlib stream is
// recompressed, and anything following IEND is discarded. Pixel data is never
// re-filtered, so the decoded image is bit-for-bit unchanged.
package png

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	leanify "github.com/samghub/Leanify"
	"github.com/samghub/Leanify/utilities/compression"
)

// HeaderMagic is the PNG file signature.
var HeaderMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// chunkOverhead is the length, type and CRC around each chunk's data.
const chunkOverhead = 12

// keptAncillary lists the ancillary chunks that change how the image is
// displayed, plus the APNG animation chunks. All other ancillary chunks are
// dropped. Critical chunks are always kept.
var keptAncillary = map[string]bool{
	"tRNS": true,
	"gAMA": true,
	"cHRM": true,
	"sRGB": true,
	"iCCP": true,
	"sBIT": true,
	"pHYs": true,
	"bKGD": true,
	"acTL": true,
	"fcTL": true,
	"fdAT": true,
}

// Chunk locates one chunk within the image region.
type Chunk struct {
	Type string
	// Offset is the position of the chunk's length field within the region.
	Offset int
	// Length is the size of the chunk's data.
	Length int
}

// Image is a validated PNG region.
type Image struct {
	ctx    leanify.Context
	region leanify.Region
	chunks []Chunk
}

// Open walks the chunk list, checking that it starts with IHDR, ends with
// IEND, and that every chunk fits in the region.
func Open(ctx leanify.Context, region leanify.Region) (*Image, error) {
	data := region.Bytes()
	if !bytes.HasPrefix(data, HeaderMagic) {
		return nil, leanify.ErrMalformed.WithMessage("png: bad signature")
	}

	image := &Image{ctx: ctx, region: region}
	offset := len(HeaderMagic)
	for {
		if offset+chunkOverhead > len(data) {
			return nil, leanify.ErrMalformed.WithMessage("png: truncated before IEND")
		}
		length := binary.BigEndian.Uint32(data[offset:])
		if int64(length) > int64(len(data)-offset-chunkOverhead) {
			return nil, leanify.ErrMalformed.WithMessage(
				fmt.Sprintf("png: chunk at %d overruns the file", offset))
		}

		chunk := Chunk{
			Type:   string(data[offset+4 : offset+8]),
			Offset: offset,
			Length: int(length),
		}
		if len(image.chunks) == 0 && chunk.Type != "IHDR" {
			return nil, leanify.ErrMalformed.WithMessage("png: first chunk is not IHDR")
		}
		image.chunks = append(image.chunks, chunk)
		offset += chunk.Length + chunkOverhead

		if chunk.Type == "IEND" {
			return image, nil
		}
	}
}

func (image *Image) Format() leanify.Format {
	return leanify.FormatPNG
}

// Chunks returns the chunks in file order.
func (image *Image) Chunks() []Chunk {
	return image.chunks
}

func (image *Image) Compact(leanified int) int {
	cursor := image.region.Cursor(leanified)
	_, _ = cursor.Write(HeaderMagic)

	for i := 0; i < len(image.chunks); i++ {
		chunk := image.chunks[i]
		switch {
		case chunk.Type == "IDAT":
			last := i
			for last+1 < len(image.chunks) && image.chunks[last+1].Type == "IDAT" {
				last++
			}
			image.writeIDAT(cursor, image.chunks[i:last+1])
			i = last
		case chunk.Type == "iCCP":
			image.writeICCP(cursor, chunk)
		case isCritical(chunk.Type) || keptAncillary[chunk.Type]:
			cursor.Copy(image.raw(chunk))
		default:
			image.ctx.Logger().Debug("png: dropping chunk", "type", chunk.Type)
		}
	}
	return cursor.Len()
}

func (image *Image) raw(chunk Chunk) leanify.Region {
	return image.region.Slice(chunk.Offset, chunk.Length+chunkOverhead)
}

func (image *Image) chunkData(chunk Chunk) []byte {
	return image.region.Bytes()[chunk.Offset+8 : chunk.Offset+8+chunk.Length]
}

// writeIDAT merges a run of IDAT chunks into one. The stream is gathered into
// scratch memory first because the merged chunk overwrites the later chunks'
// input.
func (image *Image) writeIDAT(cursor *leanify.Cursor, run []Chunk) {
	var stream []byte
	for _, chunk := range run {
		stream = append(stream, image.chunkData(chunk)...)
	}

	if recompressed, ok := compression.RecompressZlib(image.ctx, stream); ok {
		image.ctx.Logger().Debug("png: IDAT recompressed",
			"before", len(stream), "after", len(recompressed))
		stream = recompressed
	}
	writeChunk(cursor, "IDAT", stream)
}

// writeICCP recompresses the embedded color profile. The chunk holds a
// null-terminated profile name, a compression method byte and a zlib stream.
func (image *Image) writeICCP(cursor *leanify.Cursor, chunk Chunk) {
	data := image.chunkData(chunk)
	nul := bytes.IndexByte(data, 0)
	if nul < 0 || nul+2 > len(data) || data[nul+1] != 0 {
		cursor.Copy(image.raw(chunk))
		return
	}

	recompressed, ok := compression.RecompressZlib(image.ctx, data[nul+2:])
	if !ok {
		cursor.Copy(image.raw(chunk))
		return
	}
	rebuilt := make([]byte, 0, nul+2+len(recompressed))
	rebuilt = append(rebuilt, data[:nul+2]...)
	rebuilt = append(rebuilt, recompressed...)
	writeChunk(cursor, "iCCP", rebuilt)
}

func writeChunk(cursor *leanify.Cursor, chunkType string, data []byte) {
	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(data)))
	copy(header[4:], chunkType)

	crc := crc32.NewIEEE()
	crc.Write(header[4:])
	crc.Write(data)

	_, _ = cursor.Write(header[:])
	_, _ = cursor.Write(data)
	_, _ = cursor.Write(binary.BigEndian.AppendUint32(nil, crc.Sum32()))
}

// isCritical reports whether a chunk must be understood by every decoder,
// which PNG marks with an uppercase first letter.
func isCritical(chunkType string) bool {
	return chunkType[0] >= 'A' && chunkType[0] <= 'Z'
}
