package leanify_test

import (
	"testing"

	leanify "github.com/samghub/Leanify"
	"github.com/stretchr/testify/assert"
)

// recordingDispatcher passes every region through and remembers the depth of
// each call.
type recordingDispatcher struct {
	depths []int
}

func (d *recordingDispatcher) Identify(
	ctx leanify.Context, region leanify.Region, filename string,
) leanify.Handler {
	d.depths = append(d.depths, ctx.Depth())
	return leanify.Passthrough(region)
}

func TestContextDescendLeavesParentAlone(t *testing.T) {
	config := leanify.DefaultConfig()
	config.MaxDepth = 2
	parent := leanify.NewContext(&config, &recordingDispatcher{}, nil)

	child := parent.Descend()
	grandchild := child.Descend()

	assert.Equal(t, 0, parent.Depth())
	assert.Equal(t, 1, child.Depth())
	assert.Equal(t, 2, grandchild.Depth())
	assert.True(t, child.CanDescend())
	assert.False(t, grandchild.CanDescend())
	assert.False(t, grandchild.Exceeded())
	assert.True(t, grandchild.Descend().Exceeded())
}

func TestContextLeanifyUsesDispatcher(t *testing.T) {
	config := leanify.DefaultConfig()
	dispatcher := &recordingDispatcher{}
	ctx := leanify.NewContext(&config, dispatcher, nil)

	buf := []byte("..data")
	region := leanify.NewRegion(buf).Slice(2, 4)

	n := ctx.Descend().Leanify(region, 2, "")
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("data"), buf[:4])

	n = ctx.Leanify(leanify.NewRegion(buf[:4]), 0, "")
	assert.Equal(t, 4, n)
	assert.Equal(t, []int{1, 0}, dispatcher.depths)
}

func TestContextNilLogger(t *testing.T) {
	config := leanify.DefaultConfig()
	ctx := leanify.NewContext(&config, &recordingDispatcher{}, nil)
	assert.NotPanics(t, func() { ctx.Logger().Debug("discarded") })
}

func TestFormatString(t *testing.T) {
	assert.Equal(t, "PNG", leanify.FormatPNG.String())
	assert.Equal(t, "passthrough", leanify.FormatPassthrough.String())
	assert.Equal(t, "unknown", leanify.Format(999).String())
}
