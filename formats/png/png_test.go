package png_test

import (
	"bytes"
	"encoding/binary"
	stdpng "image/png"
	"testing"

	"github.com/klauspost/compress/flate"
	leanify "github.com/samghub/Leanify"
	"github.com/samghub/Leanify/formats/png"
	lt "github.com/samghub/Leanify/testing"
	"github.com/samghub/Leanify/utilities/compression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkTypes(t *testing.T, data []byte) []string {
	config := leanify.DefaultConfig()
	image, err := png.Open(leanify.NewContext(&config, nil, nil), leanify.NewRegion(data))
	require.NoError(t, err)

	var types []string
	for _, chunk := range image.Chunks() {
		types = append(types, chunk.Type)
	}
	return types
}

func TestCompact(t *testing.T) {
	input := lt.PNG(t, 64, 48,
		lt.PNGChunk{Type: "tEXt", Data: []byte("Comment\x00made by a test")},
		lt.PNGChunk{Type: "gAMA", Data: []byte{0, 0, 0xb1, 0x8f}},
		lt.PNGChunk{Type: "tIME", Data: []byte{0x07, 0xe8, 1, 2, 3, 4, 5}},
	)
	require.Equal(t, []string{"IHDR", "tEXt", "gAMA", "tIME", "IDAT", "IDAT", "IEND"},
		chunkTypes(t, input))

	output := lt.Compact(t, lt.Config(leanify.DefaultMaxDepth), input, "")
	assert.Less(t, len(output), len(input))
	assert.Equal(t, []string{"IHDR", "gAMA", "IDAT", "IEND"}, chunkTypes(t, output))
	assert.True(t, bytes.HasSuffix(output, []byte("IEND\xae\x42\x60\x82")), "trailing data kept")

	before, err := stdpng.Decode(bytes.NewReader(input))
	require.NoError(t, err)
	after, err := stdpng.Decode(bytes.NewReader(output))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCompactFastKeepsStream(t *testing.T) {
	input := lt.PNG(t, 16, 16)
	config := lt.Config(leanify.DefaultMaxDepth)
	config.Fast = true

	output := lt.Compact(t, config, input, "")
	assert.Equal(t, []string{"IHDR", "IDAT", "IEND"}, chunkTypes(t, output))
	// Merging the IDAT chunks saves one chunk's framing and dropping the
	// trailing junk saves the rest.
	assert.Equal(t, len(input)-12-len("trailing junk"), len(output))
}

func TestCompactRecompressesICCP(t *testing.T) {
	profile := lt.Text(4000)
	iccp := append([]byte("profile\x00\x00"), lt.Zlib(t, profile, flate.NoCompression)...)
	input := lt.PNG(t, 8, 8, lt.PNGChunk{Type: "iCCP", Data: iccp})

	output := lt.Compact(t, lt.Config(leanify.DefaultMaxDepth), input, "")
	require.Equal(t, []string{"IHDR", "iCCP", "IDAT", "IEND"}, chunkTypes(t, output))

	header := []byte("profile\x00\x00")
	typeAt := bytes.Index(output, []byte("iCCP"))
	length := int(binary.BigEndian.Uint32(output[typeAt-4:]))
	data := output[typeAt+4 : typeAt+4+length]
	require.True(t, bytes.HasPrefix(data, header))

	stream := data[len(header):]
	assert.Less(t, len(stream), len(iccp)-len(header))
	decoded, err := compression.InflateZlib(stream)
	require.NoError(t, err)
	assert.Equal(t, profile, decoded)

	_, err = stdpng.Decode(bytes.NewReader(output))
	assert.NoError(t, err)
}

func TestOpenRejects(t *testing.T) {
	valid := lt.PNG(t, 4, 4)
	end := bytes.Index(valid, []byte("IEND")) - 4

	noIHDR := bytes.Clone(valid)
	copy(noIHDR[12:16], "IHDX")

	tests := []struct {
		Name string
		Data []byte
	}{
		{"signature only", png.HeaderMagic},
		{"missing IEND", valid[:end]},
		{"first chunk not IHDR", noIHDR},
		{"chunk overruns", valid[:40]},
	}

	config := leanify.DefaultConfig()
	ctx := leanify.NewContext(&config, nil, nil)
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			_, err := png.Open(ctx, leanify.NewRegion(test.Data))
			assert.ErrorIs(t, err, leanify.ErrMalformed)
		})
	}
}
