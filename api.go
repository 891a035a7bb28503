// Package leanify shrinks container and document files without changing what
// they decode to.
//
// A whole file is loaded into one buffer and handed to a [Dispatcher], which
// picks the [Handler] that understands its format. Handlers for container
// formats re-enter the dispatcher for the payloads they carry, so a PNG inside
// an ICO inside a ZIP is compacted at every level.
//
// No handler ever gets its own output buffer. Every handler writes its result
// into the same buffer it reads from, starting `leanified` bytes before its
// input, where `leanified` is the number of bytes already reclaimed by the
// handlers that ran before it in the same chain. Because no level ever grows,
// the output window never overtakes input that is still unread.
package leanify

// Format identifies which handler owns a region.
type Format int

const (
	FormatPassthrough Format = iota
	FormatXML
	FormatDataURI
	FormatPNG
	FormatJPEG
	FormatZIP
	FormatGZ
	FormatICO
	FormatSWF
	FormatTar
)

var formatNames = map[Format]string{
	FormatPassthrough: "passthrough",
	FormatXML:         "XML",
	FormatDataURI:     "data URI",
	FormatPNG:         "PNG",
	FormatJPEG:        "JPEG",
	FormatZIP:         "ZIP",
	FormatGZ:          "GZ",
	FormatICO:         "ICO",
	FormatSWF:         "SWF",
	FormatTar:         "tar",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unknown"
}

// Handler is the per-format unit of logic that compacts one region.
//
// Compact writes the compacted representation of the handler's region into
// the shared buffer, starting `leanified` bytes before the region, and
// returns the number of bytes written. The result is never longer than the
// region. Compact must be called at most once.
type Handler interface {
	Format() Format
	Compact(leanified int) int
}

// Dispatcher picks the handler for a region. Implementations must never fail:
// an unrecognized region resolves to [Passthrough].
type Dispatcher interface {
	Identify(ctx Context, region Region, filename string) Handler
}

type passthrough struct {
	region Region
}

// Passthrough returns the handler that only moves a region to its output
// position.
func Passthrough(region Region) Handler {
	return passthrough{region: region}
}

func (p passthrough) Format() Format {
	return FormatPassthrough
}

func (p passthrough) Compact(leanified int) int {
	return p.region.Move(leanified)
}
