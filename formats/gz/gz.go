// Package gz compacts gzip files.
//
// The member's contents are leanified as a file of their own, using the
// stored file name as a hint, and deflated again with more effort. Optional
// header fields other than the file name are dropped.
package gz

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	leanify "github.com/samghub/Leanify"
	"github.com/samghub/Leanify/utilities/compression"
)

// HeaderMagic is the gzip ID bytes followed by the deflate method.
var HeaderMagic = []byte{0x1f, 0x8b, 0x08}

const (
	flagText    = 1 << 0
	flagHCRC    = 1 << 1
	flagExtra   = 1 << 2
	flagName    = 1 << 3
	flagComment = 1 << 4

	headerSize  = 10
	trailerSize = 8
	// xflBest marks the stream as compressed with maximum effort.
	xflBest = 2
)

// Member is a validated gzip region.
type Member struct {
	ctx    leanify.Context
	region leanify.Region
	header [headerSize]byte
	name   []byte
	// bodyStart and bodyEnd delimit the deflate stream.
	bodyStart int
	bodyEnd   int
	contents  []byte
}

// Open parses the gzip header and inflates the member. Decoding happens here
// so that a corrupt stream makes the dispatcher fall back instead of failing
// later.
func Open(ctx leanify.Context, region leanify.Region) (*Member, error) {
	data := region.Bytes()
	if len(data) < headerSize+trailerSize || !bytes.HasPrefix(data, HeaderMagic) {
		return nil, leanify.ErrMalformed.WithMessage("gz: bad header")
	}

	member := &Member{ctx: ctx, region: region}
	copy(member.header[:], data)
	flags := data[3]
	offset := headerSize

	if flags&flagExtra != 0 {
		if offset+2 > len(data) {
			return nil, leanify.ErrMalformed.WithMessage("gz: truncated extra field")
		}
		offset += 2 + int(binary.LittleEndian.Uint16(data[offset:]))
	}
	if flags&flagName != 0 {
		end := bytes.IndexByte(data[min(offset, len(data)):], 0)
		if end < 0 {
			return nil, leanify.ErrMalformed.WithMessage("gz: unterminated file name")
		}
		member.name = bytes.Clone(data[offset : offset+end])
		offset += end + 1
	}
	if flags&flagComment != 0 {
		end := bytes.IndexByte(data[min(offset, len(data)):], 0)
		if end < 0 {
			return nil, leanify.ErrMalformed.WithMessage("gz: unterminated comment")
		}
		offset += end + 1
	}
	if flags&flagHCRC != 0 {
		offset += 2
	}
	if offset+trailerSize > len(data) {
		return nil, leanify.ErrMalformed.WithMessage("gz: truncated header")
	}

	contents, consumed, err := compression.Inflate(data[offset:])
	if err != nil {
		return nil, err
	}
	member.bodyStart = offset
	member.bodyEnd = offset + consumed
	if member.bodyEnd+trailerSize > len(data) {
		return nil, leanify.ErrMalformed.WithMessage("gz: missing trailer")
	}

	trailer := data[member.bodyEnd:]
	if binary.LittleEndian.Uint32(trailer) != crc32.ChecksumIEEE(contents) {
		return nil, leanify.ErrChecksum.WithMessage("gz: CRC of contents doesn't match")
	}
	member.contents = contents
	return member, nil
}

func (member *Member) Format() leanify.Format {
	return leanify.FormatGZ
}

// Name returns the original file name stored in the header, if any.
func (member *Member) Name() string {
	return string(member.name)
}

func (member *Member) Compact(leanified int) int {
	fast := member.ctx.Config().Fast
	body := member.region.Slice(member.bodyStart, member.bodyEnd-member.bodyStart).Bytes()

	contents := member.contents
	if member.ctx.CanDescend() {
		size := member.ctx.Descend().Leanify(leanify.NewRegion(contents), 0, member.Name())
		contents = contents[:size]
	}

	checksum := crc32.ChecksumIEEE(contents)
	original := binary.LittleEndian.Uint32(member.region.Bytes()[member.bodyEnd:])
	changed := len(contents) < len(member.contents) || checksum != original
	if changed || !fast {
		deflated := compression.Deflate(member.ctx, contents)
		if changed || len(deflated) < len(body) {
			body = deflated
		}
	}

	header := member.header
	header[3] &= flagName | flagText
	header[8] = xflBest

	nameSize := 0
	if header[3]&flagName != 0 {
		nameSize = len(member.name) + 1
	}
	// Anything after the first member (more members, or padding) is kept.
	tail := member.region.Slice(member.bodyEnd+trailerSize,
		member.region.Len()-member.bodyEnd-trailerSize)

	total := headerSize + nameSize + len(body) + trailerSize + tail.Len()
	if total > member.region.Len() {
		return member.region.Move(leanified)
	}

	// The new header is never longer than the old one, so writing it can't
	// clobber the body if the body is still the original one.
	cursor := member.region.Cursor(leanified)
	_, _ = cursor.Write(header[:])
	if nameSize > 0 {
		_, _ = cursor.Write(member.name)
		_, _ = cursor.Write([]byte{0})
	}
	_, _ = cursor.Write(body)

	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint32(trailer[:4], checksum)
	binary.LittleEndian.PutUint32(trailer[4:], uint32(len(contents)))
	_, _ = cursor.Write(trailer[:])
	cursor.Copy(tail)
	return cursor.Len()
}
