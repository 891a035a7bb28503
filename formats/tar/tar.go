// Package tar compacts tar archives.
//
// Tar has no magic number (the "ustar" marker is optional), so an archive is
// recognized by checking the checksum of its first header. Regular file
// contents are leanified in place and their headers updated; everything else
// is copied. The archive ends with two zero blocks and any trailing record
// padding is dropped.
package tar

import (
	"bytes"
	"fmt"
	"strconv"

	leanify "github.com/samghub/Leanify"
)

const (
	blockSize = 512

	typeRegular    = '0'
	typeRegularOld = 0
	typeContiguous = '7'
	typeLongName   = 'L'
	typePAX        = 'x'
)

// Header field locations within a block.
var (
	fieldName     = [2]int{0, 100}
	fieldSize     = [2]int{124, 136}
	fieldChecksum = [2]int{148, 156}
	fieldPrefix   = [2]int{345, 500}
)

const fieldType = 156

// Entry locates one header block and the data that follows it.
type Entry struct {
	Offset int
	Size   int
	Type   byte
	Name   string
}

// Archive is a validated tar region.
type Archive struct {
	ctx     leanify.Context
	region  leanify.Region
	entries []Entry
	end     int
}

// Open checks every header's checksum and that all entries fit in the region.
func Open(ctx leanify.Context, region leanify.Region) (*Archive, error) {
	data := region.Bytes()
	if len(data) < blockSize || !IsValidHeader(data[:blockSize]) {
		return nil, leanify.ErrMalformed.WithMessage("tar: first header checksum mismatch")
	}

	archive := &Archive{ctx: ctx, region: region, end: len(data)}
	offset := 0
	for offset+blockSize <= len(data) {
		header := data[offset : offset+blockSize]
		if isZeroBlock(header) {
			archive.end = offset
			break
		}
		if !IsValidHeader(header) {
			return nil, leanify.ErrChecksum.WithMessage(
				fmt.Sprintf("tar: header at %d has a bad checksum", offset))
		}

		size, ok := parseOctal(field(header, fieldSize))
		if !ok {
			return nil, leanify.ErrUnsupported.WithMessage(
				fmt.Sprintf("tar: unsupported size field at %d", offset))
		}
		if align(size) > len(data)-offset-blockSize {
			return nil, leanify.ErrMalformed.WithMessage(
				fmt.Sprintf("tar: entry at %d overruns the archive", offset))
		}

		entry := Entry{
			Offset: offset,
			Size:   size,
			Type:   header[fieldType],
			Name:   headerName(header),
		}
		if entry.Type == typePAX {
			if bytes.Contains(data[offset+blockSize:offset+blockSize+size], []byte(" size=")) {
				return nil, leanify.ErrUnsupported.WithMessage("tar: PAX size override")
			}
		}
		archive.entries = append(archive.entries, entry)
		offset += blockSize + align(size)
	}
	if offset+blockSize > len(data) {
		// Ran out of data without an end-of-archive block.
		archive.end = offset
	}
	return archive, nil
}

func (archive *Archive) Format() leanify.Format {
	return leanify.FormatTar
}

// Entries returns the archive's entries in order.
func (archive *Archive) Entries() []Entry {
	return archive.entries
}

func (archive *Archive) Compact(leanified int) int {
	cursor := archive.region.Cursor(leanified)
	descend := archive.ctx.CanDescend()
	child := archive.ctx.Descend()
	data := archive.region.Bytes()

	nextName := ""
	for _, entry := range archive.entries {
		var header [blockSize]byte
		copy(header[:], data[entry.Offset:])

		name := entry.Name
		if nextName != "" {
			name = nextName
			nextName = ""
		}

		contents := archive.region.Slice(entry.Offset+blockSize, entry.Size)
		switch entry.Type {
		case typeLongName:
			nextName = cString(contents.Bytes())
		case typePAX:
			if path := paxPath(contents.Bytes()); path != "" {
				nextName = path
			}
		}

		mark := cursor.Pos()
		_, _ = cursor.Write(header[:])

		if descend && isRegular(entry.Type) {
			archive.ctx.Logger().Debug("tar entry", "name", name)
			size := cursor.Leanify(child, contents, name)
			if size != entry.Size {
				written := cursor.Since(mark)[:blockSize]
				setField(written, fieldSize, fmt.Sprintf("%011o\x00", size))
				setField(written, fieldChecksum, fmt.Sprintf("%06o\x00 ", checksum(written)))
			}
			cursor.Pad(align(size) - size)
			continue
		}

		cursor.Copy(contents)
		cursor.Pad(align(entry.Size) - entry.Size)
	}

	cursor.Pad(min(2*blockSize, archive.region.Len()-archive.end))
	return cursor.Len()
}

// IsValidHeader reports whether a header block's stored checksum matches its
// contents. An all-zero block is not a valid header.
func IsValidHeader(header []byte) bool {
	if len(header) < blockSize || isZeroBlock(header) {
		return false
	}
	stored, ok := parseOctal(field(header, fieldChecksum))
	return ok && stored == checksum(header)
}

// checksum sums the header's bytes with the checksum field counted as
// spaces.
func checksum(header []byte) int {
	sum := 0
	for i, c := range header[:blockSize] {
		if i >= fieldChecksum[0] && i < fieldChecksum[1] {
			c = ' '
		}
		sum += int(c)
	}
	return sum
}

func parseOctal(value []byte) (int, bool) {
	value = bytes.Trim(value, " \x00")
	if len(value) == 0 {
		return 0, true
	}
	n, err := strconv.ParseInt(string(value), 8, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return int(n), true
}

func field(header []byte, location [2]int) []byte {
	return header[location[0]:location[1]]
}

func setField(header []byte, location [2]int, value string) {
	copy(header[location[0]:location[1]], value)
}

func headerName(header []byte) string {
	name := cString(field(header, fieldName))
	if prefix := cString(field(header, fieldPrefix)); prefix != "" && bytes.Equal(header[257:262], []byte("ustar")) {
		return prefix + "/" + name
	}
	return name
}

// paxPath returns the path record of a PAX extended header, if it has one.
// Records have the form "<length> <key>=<value>\n".
func paxPath(records []byte) string {
	for len(records) > 0 {
		space := bytes.IndexByte(records, ' ')
		if space < 0 {
			return ""
		}
		length, err := strconv.Atoi(string(records[:space]))
		if err != nil || length <= space+1 || length > len(records) {
			return ""
		}
		record := records[space+1 : length-1]
		if value, ok := bytes.CutPrefix(record, []byte("path=")); ok {
			return string(value)
		}
		records = records[length:]
	}
	return ""
}

func cString(value []byte) string {
	if end := bytes.IndexByte(value, 0); end >= 0 {
		value = value[:end]
	}
	return string(value)
}

func isRegular(entryType byte) bool {
	return entryType == typeRegular || entryType == typeRegularOld || entryType == typeContiguous
}

func isZeroBlock(block []byte) bool {
	for _, c := range block[:blockSize] {
		if c != 0 {
			return false
		}
	}
	return true
}

func align(size int) int {
	return (size + blockSize - 1) / blockSize * blockSize
}
