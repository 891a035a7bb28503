// Package testing holds fixture builders shared by the format tests. Every
// builder fails the test instead of returning an error.
package testing

import (
	"archive/tar"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zlib"
	leanify "github.com/samghub/Leanify"
	"github.com/samghub/Leanify/dispatch"
	"github.com/stretchr/testify/require"
)

// File is one member of an archive fixture.
type File struct {
	Name string
	Data []byte
}

// Config returns the default configuration with the given maximum depth.
func Config(maxDepth int) *leanify.Config {
	config := leanify.DefaultConfig()
	config.MaxDepth = maxDepth
	return &config
}

// Compact runs a copy of input through a fresh dispatcher and returns the
// output. It fails the test if the output is longer than the input, and leaves
// input itself untouched.
func Compact(t *testing.T, config *leanify.Config, input []byte, filename string) []byte {
	buf := bytes.Clone(input)
	size := dispatch.Leanify(config, nil, buf, filename)
	require.LessOrEqual(t, size, len(input), "output grew")
	return buf[:size]
}

// Identify returns the format the dispatcher picks for data at depth 0.
func Identify(config *leanify.Config, data []byte, filename string) leanify.Format {
	dispatcher := dispatch.New()
	ctx := leanify.NewContext(config, dispatcher, nil)
	region := leanify.NewRegion(bytes.Clone(data))
	return dispatcher.Identify(ctx, region, filename).Format()
}

// Text returns compressible, mildly varied ASCII text of about n bytes.
func Text(n int) []byte {
	var out bytes.Buffer
	for i := 0; out.Len() < n; i++ {
		fmt.Fprintf(&out, "line %d: the quick brown fox jumps over %d lazy dogs\n", i, i%7)
	}
	return out.Bytes()[:n]
}

// Deflate encodes raw as a raw deflate stream at the given level.
func Deflate(t *testing.T, raw []byte, level int) []byte {
	var out bytes.Buffer
	writer, err := flate.NewWriter(&out, level)
	require.NoError(t, err)
	_, err = writer.Write(raw)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return out.Bytes()
}

// Zlib encodes raw as a zlib stream at the given level.
func Zlib(t *testing.T, raw []byte, level int) []byte {
	var out bytes.Buffer
	writer, err := zlib.NewWriterLevel(&out, level)
	require.NoError(t, err)
	_, err = writer.Write(raw)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return out.Bytes()
}

// Gzip encodes contents as a single gzip member with a file name and comment
// in its header.
func Gzip(t *testing.T, contents []byte, name string, level int) []byte {
	var out bytes.Buffer
	writer, err := gzip.NewWriterLevel(&out, level)
	require.NoError(t, err)
	writer.Name = name
	writer.Comment = "fixture"
	_, err = writer.Write(contents)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return out.Bytes()
}

// Gunzip decodes a gzip member and returns its contents and stored name.
func Gunzip(t *testing.T, data []byte) ([]byte, string) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	contents, err := io.ReadAll(reader)
	require.NoError(t, err)
	return contents, reader.Name
}

// Tar builds a ustar archive of regular files.
func Tar(t *testing.T, files []File) []byte {
	var out bytes.Buffer
	writer := tar.NewWriter(&out)
	for _, file := range files {
		require.NoError(t, writer.WriteHeader(&tar.Header{
			Name:     file.Name,
			Mode:     0o644,
			Size:     int64(len(file.Data)),
			Typeflag: tar.TypeReg,
			Format:   tar.FormatUSTAR,
		}))
		_, err := writer.Write(file.Data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return out.Bytes()
}

// Untar returns the regular files in a tar archive.
func Untar(t *testing.T, data []byte) []File {
	var files []File
	reader := tar.NewReader(bytes.NewReader(data))
	for {
		header, err := reader.Next()
		if err == io.EOF {
			return files
		}
		require.NoError(t, err)
		contents, err := io.ReadAll(reader)
		require.NoError(t, err)
		files = append(files, File{Name: header.Name, Data: contents})
	}
}

// Zip builds an archive with every member stored using method. Deflated
// members use the fastest encoder so there is something left to gain.
func Zip(t *testing.T, files []File, method uint16) []byte {
	var out bytes.Buffer
	writer := zip.NewWriter(&out)
	writer.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestSpeed)
	})
	for _, file := range files {
		member, err := writer.CreateHeader(&zip.FileHeader{
			Name:    file.Name,
			Method:  method,
			Comment: "fixture",
		})
		require.NoError(t, err)
		_, err = member.Write(file.Data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.SetComment("archive comment"))
	require.NoError(t, writer.Close())
	return out.Bytes()
}

// Unzip returns every member of a ZIP archive, verifying their checksums.
func Unzip(t *testing.T, data []byte) []File {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var files []File
	for _, member := range reader.File {
		handle, err := member.Open()
		require.NoError(t, err)
		contents, err := io.ReadAll(handle)
		require.NoError(t, err, "reading %q", member.Name)
		require.NoError(t, handle.Close())
		files = append(files, File{Name: member.Name, Data: contents})
	}
	return files
}

// PNGChunk is a chunk to add to a PNG fixture ahead of its image data.
type PNGChunk struct {
	Type string
	Data []byte
}

// PNG builds an 8-bit grayscale image of a vertical gradient. The image data
// is stored uncompressed and split across two IDAT chunks, and some trailing
// junk follows IEND.
func PNG(t *testing.T, width, height int, extra ...PNGChunk) []byte {
	var raw bytes.Buffer
	for y := 0; y < height; y++ {
		raw.WriteByte(0) // filter: none
		for x := 0; x < width; x++ {
			raw.WriteByte(byte(y * 255 / max(height-1, 1)))
		}
	}
	stream := Zlib(t, raw.Bytes(), zlib.NoCompression)

	var out bytes.Buffer
	out.Write([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})

	ihdr := binary.BigEndian.AppendUint32(nil, uint32(width))
	ihdr = binary.BigEndian.AppendUint32(ihdr, uint32(height))
	ihdr = append(ihdr, 8, 0, 0, 0, 0)
	WritePNGChunk(&out, "IHDR", ihdr)
	for _, chunk := range extra {
		WritePNGChunk(&out, chunk.Type, chunk.Data)
	}
	half := len(stream) / 2
	WritePNGChunk(&out, "IDAT", stream[:half])
	WritePNGChunk(&out, "IDAT", stream[half:])
	WritePNGChunk(&out, "IEND", nil)
	out.WriteString("trailing junk")
	return out.Bytes()
}

// WritePNGChunk appends one chunk with a valid CRC.
func WritePNGChunk(out *bytes.Buffer, chunkType string, data []byte) {
	_ = binary.Write(out, binary.BigEndian, uint32(len(data)))
	out.WriteString(chunkType)
	out.Write(data)
	crc := crc32.NewIEEE()
	crc.Write([]byte(chunkType))
	crc.Write(data)
	_ = binary.Write(out, binary.BigEndian, crc.Sum32())
}

// ICO builds an icon holding the given images, with some slack between the
// directory and the first image.
func ICO(t *testing.T, images [][]byte) []byte {
	require.NotEmpty(t, images)

	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, []uint16{0, 1, uint16(len(images))})

	const slack = 16
	offset := 6 + 16*len(images) + slack
	for _, image := range images {
		_ = binary.Write(&out, binary.LittleEndian, []uint8{16, 16, 0, 0})
		_ = binary.Write(&out, binary.LittleEndian, []uint16{1, 32})
		_ = binary.Write(&out, binary.LittleEndian, []uint32{uint32(len(image)), uint32(offset)})
		offset += len(image)
	}
	out.Write(make([]byte, slack))
	for _, image := range images {
		out.Write(image)
	}
	return out.Bytes()
}
