// Package ico compacts Windows icon files.
//
// An icon is a directory of images, each either a PNG file or a headerless
// BMP. Every image is leanified as a file of its own, gaps between images are
// dropped and the directory is rewritten with the new sizes and offsets.
package ico

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"

	leanify "github.com/samghub/Leanify"
	"github.com/xaionaro-go/bytesextra"
)

// HeaderMagic is the reserved word followed by the icon resource type.
var HeaderMagic = []byte{0x00, 0x00, 0x01, 0x00}

const (
	headerSize   = 6
	dirEntrySize = 16
)

// RawHeader is the icon file header. All values are little-endian.
type RawHeader struct {
	Reserved uint16
	Type     uint16
	Count    uint16
}

// RawDirEntry describes one image in the icon.
type RawDirEntry struct {
	Width      uint8
	Height     uint8
	Colors     uint8
	Reserved   uint8
	Planes     uint16
	BitCount   uint16
	BytesInRes uint32
	Offset     uint32
}

// Icon is a validated icon region.
type Icon struct {
	ctx     leanify.Context
	region  leanify.Region
	header  RawHeader
	entries []RawDirEntry
	// order lists entry indices by image offset.
	order []int
}

// Open reads the image directory and checks that every image lies after it,
// inside the region, and that no two images overlap.
func Open(ctx leanify.Context, region leanify.Region) (*Icon, error) {
	data := region.Bytes()
	if !bytes.HasPrefix(data, HeaderMagic) {
		return nil, leanify.ErrMalformed.WithMessage("ico: bad header")
	}

	icon := &Icon{ctx: ctx, region: region}
	reader := bytesextra.NewReadWriteSeeker(data)
	if err := binary.Read(reader, binary.LittleEndian, &icon.header); err != nil {
		return nil, leanify.ErrMalformed.Wrap(err)
	}
	if icon.header.Count == 0 {
		return nil, leanify.ErrMalformed.WithMessage("ico: no images")
	}

	dirEnd := headerSize + int(icon.header.Count)*dirEntrySize
	if dirEnd > len(data) {
		return nil, leanify.ErrMalformed.WithMessage("ico: truncated directory")
	}
	icon.entries = make([]RawDirEntry, icon.header.Count)
	if err := binary.Read(reader, binary.LittleEndian, icon.entries); err != nil {
		return nil, leanify.ErrMalformed.Wrap(err)
	}

	icon.order = make([]int, len(icon.entries))
	for i := range icon.order {
		icon.order[i] = i
	}
	slices.SortFunc(icon.order, func(a, b int) int {
		return int(icon.entries[a].Offset) - int(icon.entries[b].Offset)
	})

	previousEnd := dirEnd
	for _, i := range icon.order {
		entry := icon.entries[i]
		offset, size := int(entry.Offset), int(entry.BytesInRes)
		if offset < previousEnd || size == 0 || offset+size > len(data) {
			return nil, leanify.ErrMalformed.WithMessage(
				fmt.Sprintf("ico: image %d at %d (%d bytes) out of place", i, offset, size))
		}
		previousEnd = offset + size
	}
	return icon, nil
}

func (icon *Icon) Format() leanify.Format {
	return leanify.FormatICO
}

// Entries returns the image directory in file order.
func (icon *Icon) Entries() []RawDirEntry {
	return icon.entries
}

func (icon *Icon) Compact(leanified int) int {
	cursor := icon.region.Cursor(leanified)
	_ = binary.Write(cursor, binary.LittleEndian, &icon.header)

	// The directory keeps its size, so it's written up front and patched once
	// the images have been placed.
	dirMark := cursor.Pos()
	_ = binary.Write(cursor, binary.LittleEndian, icon.entries)

	descend := icon.ctx.CanDescend()
	child := icon.ctx.Descend()
	for _, i := range icon.order {
		entry := &icon.entries[i]
		image := icon.region.Slice(int(entry.Offset), int(entry.BytesInRes))
		entry.Offset = uint32(cursor.Len())
		if !descend {
			cursor.Copy(image)
			continue
		}
		icon.ctx.Logger().Debug("ico image", "index", i,
			"width", entry.Width, "height", entry.Height)
		entry.BytesInRes = uint32(cursor.Leanify(child, image, ""))
	}

	var directory bytes.Buffer
	_ = binary.Write(&directory, binary.LittleEndian, icon.entries)
	copy(cursor.Since(dirMark), directory.Bytes())
	return cursor.Len()
}
