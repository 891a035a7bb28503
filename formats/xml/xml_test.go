package xml_test

import (
	"encoding/base64"
	"strings"
	"testing"

	leanify "github.com/samghub/Leanify"
	"github.com/samghub/Leanify/formats/xml"
	lt "github.com/samghub/Leanify/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compactString(t *testing.T, input string) string {
	return string(lt.Compact(t, lt.Config(leanify.DefaultMaxDepth), []byte(input), ""))
}

func TestShrinkSpace(t *testing.T) {
	tests := []struct {
		Input    string
		Expected string
	}{
		{"a \n\t  b", "a b"},
		{"  leading", "leading"},
		{"trailing \r\n", "trailing"},
		{" \t\n ", ""},
		{"no-space", "no-space"},
		{"1  2   3", "1 2 3"},
	}

	for _, test := range tests {
		t.Run(test.Input, func(t *testing.T) {
			assert.Equal(t, test.Expected, xml.ShrinkSpace(test.Input))
		})
	}
}

func TestWhitespaceCollapse(t *testing.T) {
	tests := []struct {
		Name     string
		Input    string
		Expected string
	}{
		{
			"collapsed",
			"<r>a \n\t  b</r>",
			"<r>a b</r>",
		},
		{
			"preserved",
			"<r xml:space=\"preserve\">a \n\t  b</r>",
			"<r xml:space=\"preserve\">a \n\t  b</r>",
		},
		{
			"preserved by ancestor",
			"<r xml:space=\"preserve\"><p>a \n\t  b</p></r>",
			"<r xml:space=\"preserve\"><p>a \n\t  b</p></r>",
		},
		{
			"indentation removed",
			"<r>\n  <p>x</p>\n  <p>y</p>\n</r>",
			"<r><p>x</p><p>y</p></r>",
		},
		{
			"mixed content trimmed",
			"<p>Hello <b>world</b> again</p>",
			"<p>Hello<b>world</b>again</p>",
		},
		{
			"comments removed",
			"<r><!-- note --><p>x</p></r>",
			"<r><p>x</p></r>",
		},
		{
			"cdata kept",
			"<r><![CDATA[  a  b  ]]></r>",
			"<r><![CDATA[  a  b  ]]></r>",
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			assert.Equal(t, test.Expected, compactString(t, test.Input))
		})
	}
}

func TestDeclarationKeptOutsideSVG(t *testing.T) {
	output := compactString(t, "<?xml version=\"1.0\"?>\n<r>\n  <p/>\n</r>\n")
	assert.Equal(t, "<?xml version=\"1.0\"?><r><p/></r>", output)
}

func TestSVGPruning(t *testing.T) {
	tests := []struct {
		Name     string
		Input    string
		Expected string
	}{
		{
			"empty group",
			"<svg><g/></svg>",
			"<svg/>",
		},
		{
			"nested empty containers",
			"<svg><defs><g>\n  </g></defs><rect width=\"1\"/></svg>",
			"<svg><rect width=\"1\"/></svg>",
		},
		{
			"metadata",
			"<svg><metadata><rdf>x</rdf></metadata><circle r=\"2\"/></svg>",
			"<svg><circle r=\"2\"/></svg>",
		},
		{
			"tref without href",
			"<svg><text>a<tref/></text></svg>",
			"<svg><text>a</text></svg>",
		},
		{
			"tref with href",
			"<svg><text><tref xlink:href=\"#t\"/></text></svg>",
			"<svg><text><tref xlink:href=\"#t\"/></text></svg>",
		},
		{
			"empty and padded attributes",
			"<svg><path d=\"  M 0 0\n   L 1 1 \" class=\"\"/></svg>",
			"<svg><path d=\"M 0 0 L 1 1\"/></svg>",
		},
		{
			"preamble dropped",
			"<?xml version=\"1.0\"?>\n<!DOCTYPE svg>\n<svg><rect/></svg>",
			"<svg><rect/></svg>",
		},
		{
			"non-empty group kept",
			"<svg><g><rect/></g></svg>",
			"<svg><g><rect/></g></svg>",
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			assert.Equal(t, test.Expected, compactString(t, test.Input))
		})
	}
}

func TestEmptyAttributesKeptOutsideSVG(t *testing.T) {
	output := compactString(t, "<r a=\"\"><p/></r>")
	assert.Equal(t, "<r a=\"\"><p/></r>", output)
}

func TestFictionBookBinaries(t *testing.T) {
	svg := "<svg>\n    <g>\n        <rect width=\"10\"/>\n    </g>\n    <g/>\n</svg>\n"
	encoded := base64.StdEncoding.EncodeToString([]byte(svg))

	book := "<FictionBook>\n" +
		"  <body><p>text</p></body>\n" +
		"  <binary content-type=\"image/svg+xml\">" + encoded + "</binary>\n" +
		"  <binary id=\"\" content-type=\"image/svg+xml\">" + encoded + "</binary>\n" +
		"  <binary id=\"cover\" content-type=\"image/svg+xml\">" + encoded + "</binary>\n" +
		"</FictionBook>\n"

	output := compactString(t, book)

	assert.Equal(t, 1, strings.Count(output, "<binary"), "id-less binaries should be dropped")
	assert.Contains(t, output, "id=\"cover\"")

	binaryStart := strings.Index(output, "<binary")
	require.GreaterOrEqual(t, binaryStart, 0)
	start := binaryStart + strings.Index(output[binaryStart:], ">") + 1
	end := strings.Index(output, "</binary>")
	payload := output[start:end]

	assert.Less(t, len(payload), len(encoded))
	decoded, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	assert.Equal(t, "<svg><g><rect width=\"10\"/></g></svg>", string(decoded))
}

func TestFictionBookBinaryAtDepthLimit(t *testing.T) {
	svg := "<svg>\n    <g/>\n</svg>\n"
	encoded := base64.StdEncoding.EncodeToString([]byte(svg))
	book := "<FictionBook><binary id=\"x\">" + encoded + "</binary></FictionBook>"

	output := lt.Compact(t, lt.Config(0), []byte(book), "")
	assert.Equal(t, book, string(output), "payload was compacted past the depth limit")
}

func TestIdempotence(t *testing.T) {
	inputs := []string{
		"<svg>\n  <g>\n    <g/>\n  </g>\n  <rect x=\" 1 \"/>\n</svg>\n",
		"<?xml version=\"1.0\"?>\n<doc>\n  <a>  b  c </a>\n  <!-- x -->\n</doc>\n",
		"<r xml:space=\"preserve\">  keep  </r>",
	}

	for _, input := range inputs {
		once := compactString(t, input)
		twice := compactString(t, once)
		assert.Equal(t, once, twice)
	}
}

func TestEncodingPreserved(t *testing.T) {
	input := []byte("<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n<r>\n  caf\xe9\n</r>\n")
	output := lt.Compact(t, lt.Config(leanify.DefaultMaxDepth), input, "")
	assert.Equal(t, "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><r>caf\xe9</r>", string(output))
}

func TestOpenRejects(t *testing.T) {
	config := leanify.DefaultConfig()
	ctx := leanify.NewContext(&config, nil, nil)

	tests := []struct {
		Name  string
		Input string
	}{
		{"plain text", "hello world"},
		{"binary", "\x00\x01\x02"},
		{"unterminated", "<r><p>"},
		{"no root", "<?xml version=\"1.0\"?>"},
		{"text after root", "<r/>trailing"},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			_, err := xml.Open(ctx, leanify.NewRegion([]byte(test.Input)))
			assert.ErrorIs(t, err, leanify.ErrMalformed)
		})
	}
}

func TestCompactAfterUpstreamSavings(t *testing.T) {
	config := leanify.DefaultConfig()
	ctx := leanify.NewContext(&config, nil, nil)

	buf := []byte("PADDING<r>\n  <p> x </p>\n</r>")
	region := leanify.NewRegion(buf).Slice(7, len(buf)-7)
	document, err := xml.Open(ctx, region)
	require.NoError(t, err)

	n := document.Compact(7)
	assert.Equal(t, "<r><p>x</p></r>", string(buf[:n]))
}

func TestOriginalKeptWhenSerializationGrows(t *testing.T) {
	// The quotes come back out as &quot;, which outweighs the dropped text.
	input := "<r a='\"\"\"'>&#x20;</r>"
	assert.Equal(t, input, compactString(t, input))
}
