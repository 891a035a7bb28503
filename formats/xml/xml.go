// Package xml compacts XML documents, with extra rules for SVG images and
// FictionBook (FB2) e-books.
//
// XML has no magic number, so a region is only treated as XML if it parses.
// The parsed tree is rewritten in a fixed sequence of passes and serialized
// back without indentation, in the character encoding it was read in.
package xml

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/beevik/etree"
	"github.com/noxer/bytewriter"
	leanify "github.com/samghub/Leanify"
	"github.com/samghub/Leanify/formats/b64"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// svgDeadWhenEmpty lists the SVG elements that render nothing once they have
// no children.
var svgDeadWhenEmpty = map[string]bool{
	"text":          true,
	"tspan":         true,
	"a":             true,
	"defs":          true,
	"g":             true,
	"marker":        true,
	"mask":          true,
	"missing-glyph": true,
	"pattern":       true,
	"switch":        true,
	"symbol":        true,
}

// Document is a parsed XML region.
type Document struct {
	ctx      leanify.Context
	region   leanify.Region
	doc      *etree.Document
	bom      bool
	encoding encoding.Encoding
}

// Open parses region as XML. It fails if the region isn't well-formed, has no
// root element, or has text outside the root element.
func Open(ctx leanify.Context, region leanify.Region) (*Document, error) {
	data := region.Bytes()
	bom := bytes.HasPrefix(data, utf8BOM)
	if bom {
		data = data[len(utf8BOM):]
	}

	// Cheap rejection of binary data before running the parser on it.
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return nil, leanify.ErrMalformed.WithMessage("xml: no markup at start of data")
	}

	d := &Document{ctx: ctx, region: region, bom: bom}
	d.doc = etree.NewDocument()
	d.doc.ReadSettings.PreserveCData = true
	d.doc.ReadSettings.CharsetReader = d.charsetReader
	d.doc.WriteSettings.CanonicalText = true
	d.doc.WriteSettings.CanonicalAttrVal = true

	if err := d.doc.ReadFromBytes(data); err != nil {
		return nil, leanify.ErrMalformed.Wrap(err)
	}
	if d.doc.Root() == nil {
		return nil, leanify.ErrMalformed.WithMessage("xml: no root element")
	}
	for _, token := range d.doc.Child {
		if text, ok := token.(*etree.CharData); ok && !text.IsWhitespace() {
			return nil, leanify.ErrMalformed.WithMessage("xml: text outside root element")
		}
	}
	return d, nil
}

// charsetReader decodes documents declared in a non-UTF-8 encoding and
// remembers the encoding so the output can use it again.
func (d *Document) charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", label)
	}
	d.encoding = enc
	return enc.NewDecoder().Reader(input), nil
}

func (d *Document) Format() leanify.Format {
	return leanify.FormatXML
}

// Compact rewrites the tree and serializes it at the region's output
// position. If the serialized tree would be longer than the input, the input
// is kept as it was.
func (d *Document) Compact(leanified int) int {
	logger := d.ctx.Logger()

	collapseWhitespace(&d.doc.Element, false)

	root := d.doc.Root()
	switch root.FullTag() {
	case "FictionBook":
		logger.Debug("FB2 detected", "depth", d.ctx.Depth())
		d.compactBinaries(root)
	case "svg":
		logger.Debug("SVG detected", "depth", d.ctx.Depth())
		dropPreamble(d.doc)
		pruneSVG(root)
	}

	var size countingWriter
	if err := d.writeTo(&size); err != nil {
		logger.Warn("xml serialization failed", "error", err)
		return d.region.Move(leanified)
	}
	if int(size) > d.region.Len() {
		return d.region.Move(leanified)
	}

	// The whole input now lives in the tree, so the output can go straight
	// into the shared buffer over it.
	if err := d.writeTo(bytewriter.New(d.region.Window(leanified))); err != nil {
		logger.Error("xml serialization into buffer failed", "error", err)
	}
	return int(size)
}

func (d *Document) writeTo(w io.Writer) error {
	if d.bom {
		if _, err := w.Write(utf8BOM); err != nil {
			return err
		}
	}
	if d.encoding == nil {
		_, err := d.doc.WriteTo(w)
		return err
	}

	encoded := encoding.HTMLEscapeUnsupported(d.encoding.NewEncoder()).Writer(w)
	if _, err := d.doc.WriteTo(encoded); err != nil {
		return err
	}
	if closer, ok := encoded.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// compactBinaries handles the attachments of an FB2 book. An attachment
// without an id can't be referenced and is dropped; the others have their
// base64 payload compacted.
func (d *Document) compactBinaries(root *etree.Element) {
	if !d.ctx.CanDescend() {
		return
	}
	child := d.ctx.Descend()

	for _, binary := range root.SelectElements("binary") {
		id := binary.SelectAttrValue("id", "")
		if id == "" {
			root.RemoveChild(binary)
			continue
		}

		d.ctx.Logger().Debug("FB2 binary", "id", id)
		payload := binary.Text()
		if payload == "" {
			d.ctx.Logger().Debug("no data found", "id", id)
			continue
		}

		compacted := b64.Compact(child, []byte(payload))
		if len(compacted) < len(payload) {
			binary.SetText(string(compacted))
		}
	}
}

// collapseWhitespace shrinks whitespace runs in text nodes and removes text
// nodes left empty, except under xml:space="preserve". Comments are removed.
// Every text node is trimmed, mixed content included: "<p>Hello <b>" loses
// the space before the tag.
func collapseWhitespace(element *etree.Element, preserve bool) {
	preserve = preserve || element.SelectAttrValue("xml:space", "") == "preserve"

	for _, token := range slices.Clone(element.Child) {
		switch token := token.(type) {
		case *etree.CharData:
			if preserve || token.IsCData() {
				continue
			}
			token.Data = ShrinkSpace(token.Data)
			if token.Data == "" {
				element.RemoveChild(token)
			}
		case *etree.Comment:
			element.RemoveChild(token)
		case *etree.Element:
			collapseWhitespace(token, preserve)
		}
	}
}

// dropPreamble removes the XML declaration and the doctype.
func dropPreamble(doc *etree.Document) {
	for _, token := range slices.Clone(doc.Child) {
		switch token := token.(type) {
		case *etree.ProcInst:
			if token.Target == "xml" {
				doc.RemoveChild(token)
			}
		case *etree.Directive:
			doc.RemoveChild(token)
		}
	}
}

// pruneSVG visits children before their parent, so a container whose
// children were all removed is itself seen as empty. It walks a copy of each
// child list because children can remove themselves.
func pruneSVG(element *etree.Element) {
	for _, token := range slices.Clone(element.Child) {
		if child, ok := token.(*etree.Element); ok {
			pruneSVG(child)
		}
	}

	attrs := element.Attr[:0]
	for _, attr := range element.Attr {
		attr.Value = ShrinkSpace(attr.Value)
		if attr.Value != "" {
			attrs = append(attrs, attr)
		}
	}
	element.Attr = attrs

	parent := element.Parent()
	if parent == nil {
		return
	}

	tag := element.FullTag()
	switch {
	case len(element.Child) == 0 && svgDeadWhenEmpty[tag]:
		parent.RemoveChild(element)
	case tag == "tref" && element.SelectAttr("xlink:href") == nil:
		parent.RemoveChild(element)
	case tag == "metadata":
		parent.RemoveChild(element)
	}
}

// ShrinkSpace collapses every run of spaces, tabs and line breaks into one
// space and trims the ends.
func ShrinkSpace(value string) string {
	var out strings.Builder
	out.Grow(len(value))

	pendingSpace := false
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			pendingSpace = true
			continue
		}
		if pendingSpace && out.Len() > 0 {
			out.WriteByte(' ')
		}
		pendingSpace = false
		out.WriteByte(c)
	}
	return out.String()
}

type countingWriter int

func (c *countingWriter) Write(p []byte) (int, error) {
	*c += countingWriter(len(p))
	return len(p), nil
}
