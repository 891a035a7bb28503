package leanify

import (
	"io"
)

// Region is a window into the shared buffer. It never owns memory; copying a
// Region copies the descriptor, not the bytes.
type Region struct {
	buf   []byte
	start int
	size  int
}

// NewRegion returns a region covering all of buf.
func NewRegion(buf []byte) Region {
	return Region{buf: buf, size: len(buf)}
}

// Bytes returns the region's input bytes. The capacity is clipped so that an
// append can never spill into a neighbor.
func (r Region) Bytes() []byte {
	end := r.start + r.size
	return r.buf[r.start:end:end]
}

// Len returns the region's size in bytes.
func (r Region) Len() int {
	return r.size
}

// Start returns the absolute offset of the region in the shared buffer.
func (r Region) Start() int {
	return r.start
}

// Slice returns the sub-region of `size` bytes beginning `offset` bytes into
// r. It panics if the sub-region doesn't fit, the same as slicing would.
func (r Region) Slice(offset, size int) Region {
	if offset < 0 || size < 0 || offset+size > r.size {
		panic("leanify: sub-region out of range")
	}
	return Region{buf: r.buf, start: r.start + offset, size: size}
}

// Move copies the region unchanged to its output position and returns its
// size. This is all a passthrough handler does.
func (r Region) Move(leanified int) int {
	if leanified != 0 {
		copy(r.buf[r.start-leanified:], r.Bytes())
	}
	return r.size
}

// Commit writes p at the region's output position and returns len(p). If p is
// longer than the region the original bytes are kept instead, so a handler
// can hand any candidate to Commit without checking its size first.
//
// The region's input may be overwritten, so p must not be a sub-slice of the
// region's input that the handler still needs afterward.
func (r Region) Commit(leanified int, p []byte) int {
	if len(p) > r.size {
		return r.Move(leanified)
	}
	copy(r.buf[r.start-leanified:], p)
	return len(p)
}

// Window returns the writable span a handler may fill: from its output
// position up to the end of its input.
func (r Region) Window(leanified int) []byte {
	return r.buf[r.start-leanified : r.start+r.size]
}

// Output returns the first n bytes of the region's output once Compact has
// run.
func (r Region) Output(leanified, n int) []byte {
	return r.buf[r.start-leanified : r.start-leanified+n]
}

// Cursor returns a sequential writer over the region's output window.
func (r Region) Cursor(leanified int) *Cursor {
	pos := r.start - leanified
	return &Cursor{buf: r.buf, base: pos, pos: pos, limit: r.start + r.size}
}

// Cursor writes a handler's output left to right into the shared buffer. The
// handler is responsible for never moving the cursor past input it still has
// to read; the cursor itself only refuses to run past the end of the region.
type Cursor struct {
	buf   []byte
	base  int
	pos   int
	limit int
}

// Write implements io.Writer.
func (c *Cursor) Write(p []byte) (int, error) {
	if c.pos+len(p) > c.limit {
		n := copy(c.buf[c.pos:c.limit], p)
		c.pos += n
		return n, io.ErrShortWrite
	}
	copy(c.buf[c.pos:], p)
	c.pos += len(p)
	return len(p), nil
}

// Copy moves the input bytes of src to the cursor. The regions may overlap.
func (c *Cursor) Copy(src Region) {
	if c.pos != src.start {
		copy(c.buf[c.pos:], src.Bytes())
	}
	c.pos += src.size
}

// Pad writes n zero bytes.
func (c *Cursor) Pad(n int) {
	clear(c.buf[c.pos : c.pos+n])
	c.pos += n
}

// Leanify dispatches child, which must lie at or after the cursor, and lets it
// compact itself directly at the cursor's position. It returns the size the
// child now occupies.
func (c *Cursor) Leanify(ctx Context, child Region, filename string) int {
	n := ctx.Leanify(child, child.start-c.pos, filename)
	c.pos += n
	return n
}

// Pos returns the absolute write position. Use it as a mark for Since.
func (c *Cursor) Pos() int {
	return c.pos
}

// Len returns the number of bytes written so far.
func (c *Cursor) Len() int {
	return c.pos - c.base
}

// Since returns the bytes written since mark, which must be a value returned
// by Pos. The slice aliases the shared buffer and may be patched in place.
func (c *Cursor) Since(mark int) []byte {
	return c.buf[mark:c.pos]
}
