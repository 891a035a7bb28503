// Package compression recompresses deflate streams found inside other formats.
//
// Most container formats store their payloads with deflate, usually written by
// an encoder tuned for speed. Decoding such a stream and encoding it again with
// more effort gives a byte-for-byte identical payload in fewer bytes. The
// effort is bounded by the configured iteration count, and a re-encoded stream
// is only ever returned when it is strictly smaller than the one it replaces.

package compression
