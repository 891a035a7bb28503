// Package driver runs the compaction engine over files and directories on
// disk.
//
// A file is read whole into memory, compacted at depth 0, and written back
// only if it got smaller. Failures on one file don't stop the others; they're
// collected and returned together once every path has been visited.
package driver

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	leanify "github.com/samghub/Leanify"
	"github.com/samghub/Leanify/dispatch"
)

// Result describes what happened to one file.
type Result struct {
	Path         string
	Format       leanify.Format
	OriginalSize int
	NewSize      int
}

// Saved returns the number of bytes removed from the file.
func (r Result) Saved() int {
	return r.OriginalSize - r.NewSize
}

// Driver owns the configuration and dispatcher for a run.
type Driver struct {
	config     *leanify.Config
	dispatcher leanify.Dispatcher
	logger     *slog.Logger
	// OnResult, if set, is called after each file is processed.
	OnResult func(Result)
}

// New creates a [Driver] using the built-in formats. A nil logger discards all
// narration.
func New(config *leanify.Config, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Driver{
		config:     config,
		dispatcher: dispatch.New(),
		logger:     logger,
	}
}

// LeanifyBytes compacts buf in place and returns the detected format and the
// new size. The result occupies buf[:n].
func (driver *Driver) LeanifyBytes(buf []byte, filename string) (leanify.Format, int) {
	ctx := leanify.NewContext(driver.config, driver.dispatcher, driver.logger)
	region := leanify.NewRegion(buf)
	handler := driver.dispatcher.Identify(ctx, region, filename)
	return handler.Format(), handler.Compact(0)
}

// LeanifyFile compacts a single regular file.
func (driver *Driver) LeanifyFile(path string) (Result, error) {
	result := Result{Path: path}

	stat, err := os.Stat(path)
	if err != nil {
		return result, leanify.ErrIOFailed.Wrap(err)
	}
	if !stat.Mode().IsRegular() {
		return result, leanify.ErrNotRegularFile.WithMessage(path)
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return result, leanify.ErrIOFailed.Wrap(err)
	}
	result.OriginalSize = len(buf)

	driver.logger.Debug("processing", "path", path, "bytes", len(buf))
	format, size := driver.LeanifyBytes(buf, filepath.Base(path))
	result.Format = format
	result.NewSize = size

	if size >= len(buf) {
		result.NewSize = len(buf)
		return result, nil
	}

	// O_TRUNC on an existing file keeps its permission bits.
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, stat.Mode().Perm())
	if err != nil {
		return result, leanify.ErrIOFailed.Wrap(err)
	}
	if _, err := file.Write(buf[:size]); err != nil {
		file.Close()
		return result, leanify.ErrIOFailed.Wrap(err)
	}
	if err := file.Close(); err != nil {
		return result, leanify.ErrIOFailed.Wrap(err)
	}
	return result, nil
}

// Run compacts every path given, descending into directories. Results are
// returned in the order files were visited, along with every error
// encountered.
func (driver *Driver) Run(paths []string) ([]Result, error) {
	var results []Result
	var allErrors *multierror.Error

	visit := func(path string) {
		result, err := driver.LeanifyFile(path)
		if err != nil {
			allErrors = multierror.Append(allErrors, fmt.Errorf("%s: %w", path, err))
			return
		}
		results = append(results, result)
		if driver.OnResult != nil {
			driver.OnResult(result)
		}
	}

	for _, root := range paths {
		stat, err := os.Stat(root)
		if err != nil {
			allErrors = multierror.Append(allErrors, leanify.ErrIOFailed.Wrap(err))
			continue
		}
		if !stat.IsDir() {
			visit(root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				allErrors = multierror.Append(allErrors, leanify.ErrIOFailed.Wrap(err))
				return nil
			}
			if entry.Type().IsRegular() {
				visit(path)
			}
			return nil
		})
		if err != nil {
			allErrors = multierror.Append(allErrors, leanify.ErrIOFailed.Wrap(err))
		}
	}
	return results, allErrors.ErrorOrNil()
}
