// Package zip compacts ZIP archives and the many formats built on them
// (OOXML documents, JARs, EPUBs, APKs...).
//
// The central directory is the authority on what the archive contains. Each
// entry's data is leanified as a file of its own and stored with whichever of
// the original encoding, a re-deflated encoding or no compression at all is
// smallest. Extra fields, comments, data descriptors and any slack between
// records are dropped, and the central directory is rebuilt to match.
//
// Zip64, encrypted and multi-disk archives are rejected by Open so the
// dispatcher can move on.
package zip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"slices"
	"strings"

	leanify "github.com/samghub/Leanify"
	"github.com/samghub/Leanify/utilities/compression"
	"github.com/xaionaro-go/bytesextra"
)

// HeaderMagic is the signature of a local file header, which a ZIP archive
// starts with.
var HeaderMagic = []byte{'P', 'K', 0x03, 0x04}

const (
	signatureLocal      = 0x04034b50
	signatureCentral    = 0x02014b50
	signatureEnd        = 0x06054b50
	signatureDescriptor = 0x08074b50

	localHeaderSize   = 30
	centralHeaderSize = 46
	endRecordSize     = 22
	maxCommentSize    = 0xffff

	flagEncrypted      = 1 << 0
	flagDataDescriptor = 1 << 3

	methodStored   = 0
	methodDeflated = 8
)

// RawLocalHeader is the fixed part of a local file header. All values are
// little-endian.
type RawLocalHeader struct {
	Signature        uint32
	VersionNeeded    uint16
	Flags            uint16
	Method           uint16
	ModTime          uint16
	ModDate          uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	NameLength       uint16
	ExtraLength      uint16
}

// RawCentralHeader is the fixed part of a central directory record.
type RawCentralHeader struct {
	Signature        uint32
	VersionMadeBy    uint16
	VersionNeeded    uint16
	Flags            uint16
	Method           uint16
	ModTime          uint16
	ModDate          uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	NameLength       uint16
	ExtraLength      uint16
	CommentLength    uint16
	DiskStart        uint16
	InternalAttrs    uint16
	ExternalAttrs    uint32
	LocalOffset      uint32
}

// RawEndRecord is the end of central directory record.
type RawEndRecord struct {
	Signature       uint32
	Disk            uint16
	DirectoryDisk   uint16
	DiskEntries     uint16
	Entries         uint16
	DirectorySize   uint32
	DirectoryOffset uint32
	CommentLength   uint16
}

// Entry is one archive member.
type Entry struct {
	Central RawCentralHeader
	Local   RawLocalHeader
	Name    string

	dataOffset int
	// recordEnd is where the member's data, and data descriptor if it has
	// one, ends.
	recordEnd int
}

// Archive is a validated ZIP region.
type Archive struct {
	ctx     leanify.Context
	region  leanify.Region
	entries []Entry
	// order lists entry indices by position in the file.
	order []int
}

// Open reads the central directory and checks that every member it lists can
// be located and that no two members overlap.
func Open(ctx leanify.Context, region leanify.Region) (*Archive, error) {
	data := region.Bytes()
	if !bytes.HasPrefix(data, HeaderMagic) {
		return nil, leanify.ErrMalformed.WithMessage("zip: missing local file header")
	}

	end, endOffset, err := readEndRecord(data)
	if err != nil {
		return nil, err
	}

	reader := bytesextra.NewReadWriteSeeker(data)
	if _, err := reader.Seek(int64(end.DirectoryOffset), io.SeekStart); err != nil {
		return nil, leanify.ErrMalformed.Wrap(err)
	}

	archive := &Archive{ctx: ctx, region: region}
	for i := 0; i < int(end.Entries); i++ {
		var entry Entry
		if err := binary.Read(reader, binary.LittleEndian, &entry.Central); err != nil {
			return nil, leanify.ErrMalformed.Wrap(err)
		}
		central := &entry.Central
		if central.Signature != signatureCentral {
			return nil, leanify.ErrMalformed.WithMessage(
				fmt.Sprintf("zip: bad central directory record %d", i))
		}
		if central.Flags&flagEncrypted != 0 {
			return nil, leanify.ErrUnsupported.WithMessage("zip: encrypted entry")
		}
		if central.CompressedSize == 0xffffffff || central.UncompressedSize == 0xffffffff ||
			central.LocalOffset == 0xffffffff || central.DiskStart != 0 {
			return nil, leanify.ErrUnsupported.WithMessage("zip: zip64 or multi-disk entry")
		}

		name := make([]byte, central.NameLength)
		if _, err := io.ReadFull(reader, name); err != nil {
			return nil, leanify.ErrMalformed.Wrap(err)
		}
		entry.Name = string(name)
		skip := int64(central.ExtraLength) + int64(central.CommentLength)
		if _, err := reader.Seek(skip, io.SeekCurrent); err != nil {
			return nil, leanify.ErrMalformed.Wrap(err)
		}

		if err := archive.locate(&entry, reader, int(end.DirectoryOffset)); err != nil {
			return nil, err
		}
		archive.entries = append(archive.entries, entry)
	}

	pos, err := reader.Seek(0, io.SeekCurrent)
	if err != nil || int(pos) > endOffset {
		return nil, leanify.ErrMalformed.WithMessage("zip: central directory overruns end record")
	}

	archive.order = make([]int, len(archive.entries))
	for i := range archive.order {
		archive.order[i] = i
	}
	slices.SortFunc(archive.order, func(a, b int) int {
		return archive.entries[a].dataOffset - archive.entries[b].dataOffset
	})
	previousEnd := 0
	for _, i := range archive.order {
		entry := &archive.entries[i]
		if int(entry.Central.LocalOffset) < previousEnd {
			return nil, leanify.ErrMalformed.WithMessage(
				fmt.Sprintf("zip: entry %q overlaps the previous one", entry.Name))
		}
		previousEnd = entry.recordEnd
	}
	return archive, nil
}

// locate reads an entry's local header and works out where its data lies.
// The reader's position is restored afterward.
func (archive *Archive) locate(entry *Entry, reader io.ReadSeeker, directoryOffset int) error {
	data := archive.region.Bytes()
	resume, err := reader.Seek(0, io.SeekCurrent)
	if err != nil {
		return leanify.ErrMalformed.Wrap(err)
	}
	defer reader.Seek(resume, io.SeekStart)

	offset := int(entry.Central.LocalOffset)
	if offset+localHeaderSize > directoryOffset {
		return leanify.ErrMalformed.WithMessage(
			fmt.Sprintf("zip: local header of %q out of range", entry.Name))
	}
	if _, err := reader.Seek(int64(offset), io.SeekStart); err != nil {
		return leanify.ErrMalformed.Wrap(err)
	}
	if err := binary.Read(reader, binary.LittleEndian, &entry.Local); err != nil {
		return leanify.ErrMalformed.Wrap(err)
	}
	if entry.Local.Signature != signatureLocal {
		return leanify.ErrMalformed.WithMessage(
			fmt.Sprintf("zip: bad local header for %q", entry.Name))
	}
	// The rewritten header carries the central directory's name and no extra
	// field. It must fit where the old one was or it would overwrite the data.
	if len(entry.Name) > int(entry.Local.NameLength)+int(entry.Local.ExtraLength) {
		return leanify.ErrMalformed.WithMessage(
			fmt.Sprintf("zip: local header of %q is shorter than its name", entry.Name))
	}

	entry.dataOffset = offset + localHeaderSize +
		int(entry.Local.NameLength) + int(entry.Local.ExtraLength)
	dataEnd := entry.dataOffset + int(entry.Central.CompressedSize)
	entry.recordEnd = dataEnd
	if entry.Local.Flags&flagDataDescriptor != 0 {
		entry.recordEnd += 12
		if dataEnd+4 <= len(data) &&
			binary.LittleEndian.Uint32(data[dataEnd:]) == signatureDescriptor {
			entry.recordEnd += 4
		}
	}
	if entry.recordEnd > directoryOffset {
		return leanify.ErrMalformed.WithMessage(
			fmt.Sprintf("zip: data of %q overruns the central directory", entry.Name))
	}
	return nil
}

func readEndRecord(data []byte) (RawEndRecord, int, error) {
	var end RawEndRecord
	if len(data) < endRecordSize {
		return end, 0, leanify.ErrMalformed.WithMessage("zip: too short for an end record")
	}

	searchFrom := max(0, len(data)-endRecordSize-maxCommentSize)
	signature := binary.LittleEndian.AppendUint32(nil, signatureEnd)
	index := bytes.LastIndex(data[searchFrom:len(data)-endRecordSize+4], signature)
	if index < 0 {
		return end, 0, leanify.ErrMalformed.WithMessage("zip: end of central directory not found")
	}
	offset := searchFrom + index

	if err := binary.Read(bytes.NewReader(data[offset:]), binary.LittleEndian, &end); err != nil {
		return end, 0, leanify.ErrMalformed.Wrap(err)
	}
	if end.Disk != 0 || end.DirectoryDisk != 0 || end.DiskEntries != end.Entries {
		return end, 0, leanify.ErrUnsupported.WithMessage("zip: multi-disk archive")
	}
	if end.Entries == 0xffff || end.DirectoryOffset == 0xffffffff {
		return end, 0, leanify.ErrUnsupported.WithMessage("zip: zip64 archive")
	}
	if int64(end.DirectoryOffset)+int64(end.DirectorySize) > int64(offset) {
		return end, 0, leanify.ErrMalformed.WithMessage("zip: central directory out of range")
	}
	return end, offset, nil
}

func (archive *Archive) Format() leanify.Format {
	return leanify.FormatZIP
}

// Entries returns the archive's members in central directory order.
func (archive *Archive) Entries() []Entry {
	return archive.entries
}

func (archive *Archive) Compact(leanified int) int {
	cursor := archive.region.Cursor(leanified)

	for _, i := range archive.order {
		archive.writeEntry(cursor, &archive.entries[i])
	}

	directoryOffset := cursor.Len()
	for i := range archive.entries {
		entry := &archive.entries[i]
		entry.Central.ExtraLength = 0
		entry.Central.CommentLength = 0
		entry.Central.NameLength = uint16(len(entry.Name))
		_ = binary.Write(cursor, binary.LittleEndian, &entry.Central)
		_, _ = io.WriteString(cursor, entry.Name)
	}

	end := RawEndRecord{
		Signature:       signatureEnd,
		DiskEntries:     uint16(len(archive.entries)),
		Entries:         uint16(len(archive.entries)),
		DirectorySize:   uint32(cursor.Len() - directoryOffset),
		DirectoryOffset: uint32(directoryOffset),
	}
	_ = binary.Write(cursor, binary.LittleEndian, &end)
	return cursor.Len()
}

// writeEntry writes one member's local header and data at the cursor and
// updates its central directory record to match.
func (archive *Archive) writeEntry(cursor *leanify.Cursor, entry *Entry) {
	central := &entry.Central
	central.LocalOffset = uint32(cursor.Len())
	central.Flags &^= flagDataDescriptor

	data := archive.region.Slice(entry.dataOffset, int(central.CompressedSize))

	// Open checked that the new header is no longer than the old one, so the
	// entry's data is still intact after writing it.
	headerMark := cursor.Pos()
	local := RawLocalHeader{
		Signature:     signatureLocal,
		VersionNeeded: entry.Local.VersionNeeded,
		Flags:         central.Flags,
		ModTime:       entry.Local.ModTime,
		ModDate:       entry.Local.ModDate,
		NameLength:    uint16(len(entry.Name)),
	}
	_ = binary.Write(cursor, binary.LittleEndian, &local)
	_, _ = io.WriteString(cursor, entry.Name)

	dataMark := cursor.Pos()
	descend := archive.ctx.CanDescend() && !strings.HasSuffix(entry.Name, "/")
	switch {
	case descend && central.Method == methodStored:
		archive.ctx.Logger().Debug("zip entry", "name", entry.Name)
		size := cursor.Leanify(archive.ctx.Descend(), data, entry.Name)
		central.CRC32 = crc32.ChecksumIEEE(cursor.Since(dataMark))
		central.CompressedSize = uint32(size)
		central.UncompressedSize = uint32(size)
	case central.Method == methodDeflated:
		archive.ctx.Logger().Debug("zip entry", "name", entry.Name)
		archive.writeDeflated(cursor, entry, data, descend)
	default:
		cursor.Copy(data)
	}

	header := cursor.Since(headerMark)
	binary.LittleEndian.PutUint16(header[8:], central.Method)
	binary.LittleEndian.PutUint32(header[14:], central.CRC32)
	binary.LittleEndian.PutUint32(header[18:], central.CompressedSize)
	binary.LittleEndian.PutUint32(header[22:], central.UncompressedSize)
}

// writeDeflated inflates a member into scratch memory, leanifies it there and
// keeps the smallest of the original stream, a fresh deflate stream and the
// raw bytes.
func (archive *Archive) writeDeflated(
	cursor *leanify.Cursor, entry *Entry, data leanify.Region, descend bool,
) {
	central := &entry.Central
	raw, _, err := compression.Inflate(data.Bytes())
	if err != nil || len(raw) != int(central.UncompressedSize) ||
		crc32.ChecksumIEEE(raw) != central.CRC32 {
		archive.ctx.Logger().Warn("zip: can't decode entry", "name", entry.Name, "error", err)
		cursor.Copy(data)
		return
	}

	size := len(raw)
	if descend {
		size = archive.ctx.Descend().Leanify(leanify.NewRegion(raw), 0, entry.Name)
	}
	contents := raw[:size]
	checksum := crc32.ChecksumIEEE(contents)
	changed := size < len(raw) || checksum != central.CRC32

	var best []byte
	method := uint16(methodDeflated)
	bestSize := data.Len()
	if changed || !archive.ctx.Config().Fast {
		if deflated := compression.Deflate(archive.ctx, contents); len(deflated) < bestSize {
			best, bestSize = deflated, len(deflated)
		}
	}
	if size < bestSize {
		best, bestSize, method = contents, size, methodStored
	}

	// The original stream still decodes to the original contents, which is
	// as valid as the leanified version.
	if best == nil {
		cursor.Copy(data)
		return
	}
	_, _ = cursor.Write(best)
	central.Method = method
	central.CRC32 = checksum
	central.CompressedSize = uint32(bestSize)
	central.UncompressedSize = uint32(size)
}
