package leanify

import (
	"io"
	"log/slog"
)

// Context is threaded through every handler and every re-entry into the
// dispatcher. It is passed by value: Descend returns a new Context one level
// deeper and leaves the receiver untouched, so the caller's depth is restored
// on every return path without any explicit bookkeeping.
type Context struct {
	config     *Config
	dispatcher Dispatcher
	logger     *slog.Logger
	depth      int
}

// NewContext returns a depth-0 context. A nil logger discards all narration.
func NewContext(config *Config, dispatcher Dispatcher, logger *slog.Logger) Context {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return Context{
		config:     config,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (c Context) Config() *Config {
	return c.config
}

func (c Context) Logger() *slog.Logger {
	return c.logger
}

// Depth returns the current nesting level. The file itself is at depth 0.
func (c Context) Depth() int {
	return c.depth
}

// Descend returns the context for payloads nested one level deeper.
func (c Context) Descend() Context {
	c.depth++
	return c
}

// CanDescend reports whether payloads one level deeper are still compacted.
func (c Context) CanDescend() bool {
	return c.depth < c.config.MaxDepth
}

// Exceeded reports whether this level is past the depth limit.
func (c Context) Exceeded() bool {
	return c.depth > c.config.MaxDepth
}

// Leanify identifies region and compacts it at region.Start()-leanified.
func (c Context) Leanify(region Region, leanified int, filename string) int {
	return c.dispatcher.Identify(c, region, filename).Compact(leanified)
}
