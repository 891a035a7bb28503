package dispatch_test

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/flate"
	kzip "github.com/klauspost/compress/zip"
	leanify "github.com/samghub/Leanify"
	"github.com/samghub/Leanify/dispatch"
	lt "github.com/samghub/Leanify/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const document = "<r>\n  <p> text </p>\n</r>\n"

func TestIdentify(t *testing.T) {
	tests := []struct {
		Name     string
		Data     []byte
		Filename string
		Expected leanify.Format
	}{
		{"png", lt.PNG(t, 2, 2), "", leanify.FormatPNG},
		{"jpeg", []byte("\xff\xd8\xff\xda\x00\x02\xff\xd9"), "", leanify.FormatJPEG},
		{"zip", lt.Zip(t, []lt.File{{Name: "a", Data: []byte("a")}}, kzip.Store), "", leanify.FormatZIP},
		{"gzip", lt.Gzip(t, []byte("a"), "", 9), "", leanify.FormatGZ},
		{"ico", lt.ICO(t, [][]byte{[]byte("image")}), "", leanify.FormatICO},
		{"swf", []byte("FWS\x0a\x0c\x00\x00\x00body"), "", leanify.FormatSWF},
		{"tar", lt.Tar(t, []lt.File{{Name: "a", Data: []byte("a")}}), "", leanify.FormatTar},
		{"xml", []byte(document), "", leanify.FormatXML},
		{"xml with bom", append([]byte("\xef\xbb\xbf"), document...), "", leanify.FormatXML},
		{"html by extension", []byte(document), "page.HTML", leanify.FormatDataURI},
		{"css by extension", []byte("a{}"), "dir/site.css", leanify.FormatDataURI},
		{"extension wins over magic", lt.PNG(t, 2, 2), "x.js", leanify.FormatDataURI},
		{"unrelated extension", []byte(document), "notes.txt", leanify.FormatXML},
		{"text", []byte("just some text"), "", leanify.FormatPassthrough},
		{"empty", []byte{}, "", leanify.FormatPassthrough},
		{"binary", []byte{0x00, 0x01, 0x02, 0x03}, "", leanify.FormatPassthrough},
	}

	config := lt.Config(leanify.DefaultMaxDepth)
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			assert.Equal(t, test.Expected, lt.Identify(config, test.Data, test.Filename))
		})
	}
}

func TestIdentifyFallsThroughBrokenSignature(t *testing.T) {
	tests := []struct {
		Name     string
		Data     []byte
		Expected leanify.Format
	}{
		{"truncated png", lt.PNG(t, 2, 2)[:20], leanify.FormatPassthrough},
		{"gzip with bad crc", corruptTrailer(lt.Gzip(t, []byte("a"), "", 9)), leanify.FormatPassthrough},
		{"zip without directory", []byte("PK\x03\x04 not really a zip"), leanify.FormatPassthrough},
	}

	config := lt.Config(leanify.DefaultMaxDepth)
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			assert.Equal(t, test.Expected, lt.Identify(config, test.Data, ""))
		})
	}
}

func corruptTrailer(data []byte) []byte {
	data[len(data)-8] ^= 0xff
	return data
}

func TestIdentifyPastDepthLimit(t *testing.T) {
	config := lt.Config(1)
	dispatcher := dispatch.New()
	ctx := leanify.NewContext(config, dispatcher, nil).Descend().Descend()

	handler := dispatcher.Identify(ctx, leanify.NewRegion(lt.PNG(t, 2, 2)), "")
	assert.Equal(t, leanify.FormatPassthrough, handler.Format())

	handler = dispatcher.Identify(ctx.Descend(), leanify.NewRegion([]byte(document)), "a.html")
	assert.Equal(t, leanify.FormatPassthrough, handler.Format())
}

// nest wraps contents in gzip members, levels deep.
func nest(t *testing.T, contents []byte, levels int) []byte {
	for i := 0; i < levels; i++ {
		contents = lt.Gzip(t, contents, "", flate.NoCompression)
	}
	return contents
}

// unnest strips levels gzip members.
func unnest(t *testing.T, data []byte, levels int) []byte {
	for i := 0; i < levels; i++ {
		data, _ = lt.Gunzip(t, data)
	}
	return data
}

func TestDepthGuard(t *testing.T) {
	lean := "<r><p>text</p></r>"

	tests := []struct {
		Name     string
		MaxDepth int
		Expected string
	}{
		// The document sits at depth 3 inside three gzip members.
		{"within limit", 3, lean},
		{"deeper than limit", 2, document},
		{"file itself only", 0, document},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			input := nest(t, []byte(document), 3)
			output := lt.Compact(t, lt.Config(test.MaxDepth), input, "")
			assert.Equal(t, test.Expected, string(unnest(t, output, 3)))
		})
	}
}

func TestDepthGuardRestoresSiblings(t *testing.T) {
	// Two entries in one archive: the first is deeply nested, the second is
	// not. Descending into the first must not use up the second's budget.
	deep := nest(t, []byte(document), 2)
	input := lt.Tar(t, []lt.File{
		{Name: "deep.gz", Data: deep},
		{Name: "shallow.xml", Data: []byte(document)},
	})

	output := lt.Compact(t, lt.Config(1), input, "")
	files := lt.Untar(t, output)
	require.Len(t, files, 2)
	assert.Equal(t, document, string(unnest(t, files[0].Data, 2)))
	assert.Equal(t, "<r><p>text</p></r>", string(files[1].Data))
}

func TestLeanify(t *testing.T) {
	buf := []byte(document)
	n := dispatch.Leanify(lt.Config(leanify.DefaultMaxDepth), nil, buf, "")
	assert.Equal(t, "<r><p>text</p></r>", string(buf[:n]))
}

func TestLeanifyNeverGrows(t *testing.T) {
	inputs := [][]byte{
		[]byte("<a b='\"'/>"),
		lt.PNG(t, 1, 1),
		lt.Gzip(t, lt.Text(100), "", 9),
		lt.Zip(t, []lt.File{{Name: "x", Data: lt.Text(10)}}, kzip.Deflate),
		bytes.Repeat([]byte{0xff}, 100),
	}

	for _, input := range inputs {
		lt.Compact(t, lt.Config(leanify.DefaultMaxDepth), input, "")
	}
}
