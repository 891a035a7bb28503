// Package jpeg strips metadata segments from JPEG images.
//
// The entropy-coded image data is copied untouched; only marker segments
// ahead of the first scan are considered for removal.
package jpeg

import (
	"bytes"
	"encoding/binary"
	"fmt"

	leanify "github.com/samghub/Leanify"
)

// HeaderMagic is the SOI marker followed by the first byte of the next marker.
var HeaderMagic = []byte{0xff, 0xd8, 0xff}

const (
	markerSOS  = 0xda
	markerAPP0 = 0xe0
	markerAPP1 = 0xe1
	markerAPP2 = 0xe2
	markerAP14 = 0xee
	markerAP15 = 0xef
	markerCOM  = 0xfe
)

// Segment locates one marker segment, marker bytes included.
type Segment struct {
	Marker byte
	Offset int
	Length int
}

// Image is a validated JPEG region.
type Image struct {
	ctx      leanify.Context
	region   leanify.Region
	segments []Segment
	// scan is where the first SOS segment starts. Everything from here on is
	// copied verbatim.
	scan int
}

// Open walks the marker segments up to the first scan.
func Open(ctx leanify.Context, region leanify.Region) (*Image, error) {
	data := region.Bytes()
	if !bytes.HasPrefix(data, HeaderMagic) {
		return nil, leanify.ErrMalformed.WithMessage("jpeg: missing SOI marker")
	}

	image := &Image{ctx: ctx, region: region}
	offset := 2
	for {
		if offset+4 > len(data) {
			return nil, leanify.ErrMalformed.WithMessage("jpeg: truncated before first scan")
		}
		if data[offset] != 0xff {
			return nil, leanify.ErrMalformed.WithMessage(
				fmt.Sprintf("jpeg: expected marker at %d, got %#02x", offset, data[offset]))
		}
		marker := data[offset+1]
		if marker == 0xff {
			// Fill byte.
			offset++
			continue
		}
		if marker == markerSOS {
			image.scan = offset
			return image, nil
		}

		length := int(binary.BigEndian.Uint16(data[offset+2:]))
		if length < 2 || offset+2+length > len(data) {
			return nil, leanify.ErrMalformed.WithMessage(
				fmt.Sprintf("jpeg: segment %#02x at %d overruns the file", marker, offset))
		}
		image.segments = append(
			image.segments, Segment{Marker: marker, Offset: offset, Length: length + 2})
		offset += length + 2
	}
}

func (image *Image) Format() leanify.Format {
	return leanify.FormatJPEG
}

func (image *Image) Compact(leanified int) int {
	cursor := image.region.Cursor(leanified)
	cursor.Copy(image.region.Slice(0, 2))

	for _, segment := range image.segments {
		if image.isMetadata(segment) {
			image.ctx.Logger().Debug("jpeg: dropping segment",
				"marker", fmt.Sprintf("%#02x", segment.Marker), "bytes", segment.Length)
			continue
		}
		cursor.Copy(image.region.Slice(segment.Offset, segment.Length))
	}

	cursor.Copy(image.region.Slice(image.scan, image.region.Len()-image.scan))
	return cursor.Len()
}

// isMetadata reports whether a segment can be dropped without changing the
// decoded image. JFIF, ICC profiles and the Adobe color transform segment are
// needed to decode colors correctly; Exif is kept only on request since it
// may carry the orientation.
func (image *Image) isMetadata(segment Segment) bool {
	payload := image.region.Bytes()[segment.Offset+4 : segment.Offset+segment.Length]
	switch {
	case segment.Marker == markerCOM:
		return true
	case segment.Marker == markerAPP0:
		return false
	case segment.Marker == markerAPP1:
		exif := bytes.HasPrefix(payload, []byte("Exif\x00"))
		return !(exif && image.ctx.Config().KeepExif)
	case segment.Marker == markerAPP2:
		return !bytes.HasPrefix(payload, []byte("ICC_PROFILE\x00"))
	case segment.Marker == markerAP14:
		return !bytes.HasPrefix(payload, []byte("Adobe"))
	case segment.Marker > markerAPP0 && segment.Marker <= markerAP15:
		return true
	}
	return false
}
