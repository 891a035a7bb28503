// Package datauri compacts the base64 data URIs embedded in HTML, CSS and
// JavaScript sources.
//
// Only the payloads are touched. Everything between them is copied verbatim,
// since rewriting markup or scripts is beyond what can be done losslessly
// without parsing them.
package datauri

import (
	"bytes"

	leanify "github.com/samghub/Leanify"
	"github.com/samghub/Leanify/formats/b64"
	"github.com/zeebo/xxh3"
)

// maxMediaTypeLen bounds how far past "data:" the ";base64," marker is looked
// for.
const maxMediaTypeLen = 128

var (
	schemePrefix = []byte("data:")
	base64Marker = []byte(";base64,")
)

// Handler compacts the data URIs of one text region.
type Handler struct {
	ctx    leanify.Context
	region leanify.Region
	// results remembers what each distinct payload compacted to, so that an
	// image inlined many times is only processed once.
	results map[uint64]result
}

type result struct {
	payload []byte
	// compacted is nil when the payload couldn't be made smaller.
	compacted []byte
}

func New(ctx leanify.Context, region leanify.Region) *Handler {
	return &Handler{
		ctx:     ctx,
		region:  region,
		results: make(map[uint64]result),
	}
}

func (h *Handler) Format() leanify.Format {
	return leanify.FormatDataURI
}

func (h *Handler) Compact(leanified int) int {
	data := h.region.Bytes()
	cursor := h.region.Cursor(leanified)
	child := h.ctx.Descend()

	copied := 0
	search := 0
	for search < len(data) {
		i := bytes.Index(data[search:], schemePrefix)
		if i < 0 {
			break
		}
		mediaStart := search + i + len(schemePrefix)
		search = mediaStart

		window := data[mediaStart:min(len(data), mediaStart+maxMediaTypeLen)]
		sep := bytes.Index(window, base64Marker)
		if sep < 0 || !isMediaType(window[:sep]) {
			continue
		}

		payloadStart := mediaStart + sep + len(base64Marker)
		payloadEnd := payloadStart
		for payloadEnd < len(data) && b64.IsAlphabet(data[payloadEnd]) {
			payloadEnd++
		}
		search = payloadEnd
		if payloadEnd == payloadStart {
			continue
		}

		// Everything up to the payload goes out first. The cursor can't reach
		// payloadStart, so the payload is still intact afterward.
		cursor.Copy(h.region.Slice(copied, payloadStart-copied))
		copied = payloadEnd

		payload := h.region.Slice(payloadStart, payloadEnd-payloadStart)
		compacted := h.compactPayload(child, payload.Bytes())
		if compacted != nil {
			_, _ = cursor.Write(compacted)
		} else {
			cursor.Copy(payload)
		}
	}

	cursor.Copy(h.region.Slice(copied, len(data)-copied))
	return cursor.Len()
}

func (h *Handler) compactPayload(child leanify.Context, payload []byte) []byte {
	key := xxh3.Hash(payload)
	cached, ok := h.results[key]
	if ok && bytes.Equal(cached.payload, payload) {
		return cached.compacted
	}

	h.ctx.Logger().Debug("data URI payload", "bytes", len(payload))
	compacted := b64.Compact(child, payload)
	if len(compacted) >= len(payload) {
		compacted = nil
	}
	if !ok {
		// payload aliases the shared buffer, which is about to be overwritten.
		h.results[key] = result{payload: bytes.Clone(payload), compacted: compacted}
	}
	return compacted
}

func isMediaType(value []byte) bool {
	for _, c := range value {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case bytes.IndexByte([]byte("/+-.=;_"), c) >= 0:
		default:
			return false
		}
	}
	return true
}
