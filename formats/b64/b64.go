// Package b64 compacts base64-encoded payloads embedded in text formats.
package b64

import (
	"encoding/base64"

	"github.com/boljen/go-bitmap"
	leanify "github.com/samghub/Leanify"
)

const alphabetChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/="

var alphabet = newAlphabet()

func newAlphabet() bitmap.Bitmap {
	set := bitmap.New(256)
	for i := 0; i < len(alphabetChars); i++ {
		set.Set(int(alphabetChars[i]), true)
	}
	return set
}

// IsAlphabet reports whether c can appear in a standard base64 payload,
// padding included.
func IsAlphabet(c byte) bool {
	return alphabet.Get(int(c))
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// Compact decodes a base64 payload, leanifies the decoded bytes through ctx,
// and encodes them again without line breaks. It returns the new encoding if
// it is strictly shorter than encoded; otherwise, or if the payload doesn't
// decode, it returns encoded itself.
//
// ctx must already be one level deeper than the document holding the payload.
func Compact(ctx leanify.Context, encoded []byte) []byte {
	clean := make([]byte, 0, len(encoded))
	for _, c := range encoded {
		if !isSpace(c) {
			clean = append(clean, c)
		}
	}

	encoding := base64.StdEncoding
	if len(clean)%4 != 0 {
		encoding = base64.RawStdEncoding
	}

	decoded := make([]byte, encoding.DecodedLen(len(clean)))
	n, err := encoding.Decode(decoded, clean)
	if err != nil {
		ctx.Logger().Warn("base64 payload does not decode", "error", err)
		return encoded
	}

	size := ctx.Leanify(leanify.NewRegion(decoded[:n]), 0, "")

	out := make([]byte, encoding.EncodedLen(size))
	encoding.Encode(out, decoded[:size])
	if len(out) < len(encoded) {
		return out
	}
	return encoded
}
