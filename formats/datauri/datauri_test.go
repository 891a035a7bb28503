package datauri_test

import (
	"encoding/base64"
	"strings"
	"testing"

	leanify "github.com/samghub/Leanify"
	lt "github.com/samghub/Leanify/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const icon = "<svg>\n    <g/>\n    <circle r=\"4\"/>\n</svg>\n"

func dataURI(mediaType, payload string) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString([]byte(payload))
}

func TestDataURIsCompacted(t *testing.T) {
	compacted := dataURI("image/svg+xml", "<svg><circle r=\"4\"/></svg>")
	page := "<html><body>\n" +
		"<img src=\"" + dataURI("image/svg+xml", icon) + "\">\n" +
		"<img src='" + dataURI("image/svg+xml", icon) + "'>\n" +
		"</body></html>\n"

	output := lt.Compact(t, lt.Config(leanify.DefaultMaxDepth), []byte(page), "index.html")

	expected := "<html><body>\n" +
		"<img src=\"" + compacted + "\">\n" +
		"<img src='" + compacted + "'>\n" +
		"</body></html>\n"
	assert.Equal(t, expected, string(output))
}

func TestDataURIsInStylesheet(t *testing.T) {
	css := ".a{background:url(" + dataURI("image/svg+xml", icon) + ")}\n"
	output := lt.Compact(t, lt.Config(leanify.DefaultMaxDepth), []byte(css), "style.CSS")

	assert.Less(t, len(output), len(css))
	assert.True(t, strings.HasPrefix(string(output), ".a{background:url(data:image/svg+xml;base64,"))
	assert.True(t, strings.HasSuffix(string(output), ")}\n"))
}

func TestTextWithoutDataURIsUnchanged(t *testing.T) {
	tests := []struct {
		Name  string
		Input string
	}{
		{"no uri", "function f() { return 1; }\n"},
		{"not base64", "var s = \"data:text/plain,hello\";\n"},
		{"bad media type", "var s = \"data:te xt;base64,aGVsbG8=\";\n"},
		{"empty payload", "var s = \"data:image/png;base64,\";\n"},
		{"prefix at end", "var s = \"data:"},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			output := lt.Compact(t, lt.Config(leanify.DefaultMaxDepth), []byte(test.Input), "app.js")
			assert.Equal(t, test.Input, string(output))
		})
	}
}

func TestDataURIsAtDepthLimit(t *testing.T) {
	page := "<img src=\"" + dataURI("image/svg+xml", icon) + "\">"
	output := lt.Compact(t, lt.Config(0), []byte(page), "a.htm")
	require.Equal(t, page, string(output))
}
