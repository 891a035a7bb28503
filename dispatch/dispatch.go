// Package dispatch decides which handler owns a region.
//
// Magic signatures are tried first, in a fixed order. A signature match whose
// structure doesn't check out falls through to the next candidate. Regions
// with no signature are probed as tar, then as XML. Anything else is passed
// through untouched.
package dispatch

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"

	leanify "github.com/samghub/Leanify"
	"github.com/samghub/Leanify/formats/datauri"
	"github.com/samghub/Leanify/formats/gz"
	"github.com/samghub/Leanify/formats/ico"
	"github.com/samghub/Leanify/formats/jpeg"
	"github.com/samghub/Leanify/formats/png"
	"github.com/samghub/Leanify/formats/swf"
	"github.com/samghub/Leanify/formats/tar"
	"github.com/samghub/Leanify/formats/xml"
	"github.com/samghub/Leanify/formats/zip"
)

// OpenFunc validates a region and returns the handler for it.
type OpenFunc func(ctx leanify.Context, region leanify.Region) (leanify.Handler, error)

// Candidate is a format recognized by a leading signature.
type Candidate struct {
	Format leanify.Format
	Magic  [][]byte
	Open   OpenFunc
}

// Probe is a format recognized only by validating its structure.
type Probe struct {
	Format leanify.Format
	Open   OpenFunc
}

// textExtensions are file name extensions of text formats that may embed
// base64 data URIs.
var textExtensions = map[string]bool{
	".html": true,
	".htm":  true,
	".js":   true,
	".css":  true,
}

// Dispatcher implements [leanify.Dispatcher].
type Dispatcher struct {
	candidates []Candidate
	probes     []Probe
}

// New returns a dispatcher that knows every built-in format.
func New() *Dispatcher {
	return &Dispatcher{
		candidates: []Candidate{
			{leanify.FormatPNG, [][]byte{png.HeaderMagic}, openPNG},
			{leanify.FormatJPEG, [][]byte{jpeg.HeaderMagic}, openJPEG},
			{leanify.FormatZIP, [][]byte{zip.HeaderMagic}, openZIP},
			{leanify.FormatGZ, [][]byte{gz.HeaderMagic}, openGZ},
			{leanify.FormatICO, [][]byte{ico.HeaderMagic}, openICO},
			{
				leanify.FormatSWF,
				[][]byte{swf.HeaderMagic, swf.HeaderMagicDeflate, swf.HeaderMagicLZMA},
				openSWF,
			},
		},
		probes: []Probe{
			{leanify.FormatTar, openTar},
			{leanify.FormatXML, openXML},
		},
	}
}

// Identify returns the handler for region. It never fails: an unrecognized
// region gets the passthrough handler.
func (d *Dispatcher) Identify(
	ctx leanify.Context, region leanify.Region, filename string,
) leanify.Handler {
	logger := ctx.Logger()
	if ctx.Exceeded() {
		logger.Debug("depth limit reached", "depth", ctx.Depth())
		return leanify.Passthrough(region)
	}

	if filename != "" && textExtensions[strings.ToLower(filepath.Ext(filename))] {
		logger.Debug("detected", "format", leanify.FormatDataURI,
			"depth", ctx.Depth(), "name", filename)
		return datauri.New(ctx, region)
	}

	data := region.Bytes()
	for _, candidate := range d.candidates {
		if !hasAnyPrefix(data, candidate.Magic) {
			continue
		}
		handler, err := candidate.Open(ctx, region)
		if err != nil {
			logger.Debug("signature matched but structure didn't",
				"format", candidate.Format, "depth", ctx.Depth(), "error", err)
			continue
		}
		logDetected(logger, ctx, handler, filename)
		return handler
	}

	for _, probe := range d.probes {
		handler, err := probe.Open(ctx, region)
		if err != nil {
			continue
		}
		logDetected(logger, ctx, handler, filename)
		return handler
	}

	logger.Debug("format not recognized", "depth", ctx.Depth(), "name", filename,
		"bytes", region.Len())
	return leanify.Passthrough(region)
}

// Leanify compacts a whole file held in buf and returns the new size. The
// result occupies buf[:n].
func Leanify(config *leanify.Config, logger *slog.Logger, buf []byte, filename string) int {
	ctx := leanify.NewContext(config, New(), logger)
	return ctx.Leanify(leanify.NewRegion(buf), 0, filename)
}

func logDetected(
	logger *slog.Logger, ctx leanify.Context, handler leanify.Handler, filename string,
) {
	logger.Debug("detected", "format", handler.Format(), "depth", ctx.Depth(),
		"name", filename)
}

func hasAnyPrefix(data []byte, prefixes [][]byte) bool {
	for _, prefix := range prefixes {
		if bytes.HasPrefix(data, prefix) {
			return true
		}
	}
	return false
}

// The format packages return concrete types; these adapt them to OpenFunc.

func openPNG(ctx leanify.Context, region leanify.Region) (leanify.Handler, error) {
	return png.Open(ctx, region)
}

func openJPEG(ctx leanify.Context, region leanify.Region) (leanify.Handler, error) {
	return jpeg.Open(ctx, region)
}

func openZIP(ctx leanify.Context, region leanify.Region) (leanify.Handler, error) {
	return zip.Open(ctx, region)
}

func openGZ(ctx leanify.Context, region leanify.Region) (leanify.Handler, error) {
	return gz.Open(ctx, region)
}

func openICO(ctx leanify.Context, region leanify.Region) (leanify.Handler, error) {
	return ico.Open(ctx, region)
}

func openSWF(ctx leanify.Context, region leanify.Region) (leanify.Handler, error) {
	return swf.Open(ctx, region)
}

func openTar(ctx leanify.Context, region leanify.Region) (leanify.Handler, error) {
	return tar.Open(ctx, region)
}

func openXML(ctx leanify.Context, region leanify.Region) (leanify.Handler, error) {
	return xml.Open(ctx, region)
}
