package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	leanify "github.com/samghub/Leanify"
	"github.com/samghub/Leanify/driver"
	"github.com/samghub/Leanify/report"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:      "leanify",
		Usage:     "Losslessly shrink files and the files nested inside them",
		ArgsUsage: "PATH...",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "iteration",
				Aliases: []string{"i"},
				Value:   leanify.DefaultIterations,
				Usage:   "more iterations try more deflate encodings",
			},
			&cli.IntFlag{
				Name:    "max_depth",
				Aliases: []string{"d"},
				Value:   leanify.DefaultMaxDepth,
				Usage:   "maximum nesting depth to follow",
			},
			&cli.BoolFlag{
				Name:    "fast",
				Aliases: []string{"f"},
				Usage:   "don't recompress existing compressed streams",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "print nothing but errors",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "narrate every format detected",
			},
			&cli.BoolFlag{
				Name:  "keep-exif",
				Usage: "keep Exif metadata in JPEG files",
			},
			&cli.PathFlag{
				Name:  "config",
				Usage: "read settings from a YAML file; flags override it",
			},
			&cli.PathFlag{
				Name:  "report",
				Usage: "write per-file sizes to a .csv or .json file",
			},
		},
		Action: run,
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

// loadConfig builds the run configuration from the config file, if any, with
// explicitly set flags taking precedence.
func loadConfig(context *cli.Context) (leanify.Config, error) {
	config := leanify.DefaultConfig()
	if path := context.Path("config"); path != "" {
		var err error
		config, err = leanify.LoadConfig(path)
		if err != nil {
			return config, err
		}
	}

	if context.IsSet("iteration") {
		config.Iterations = context.Int("iteration")
	}
	if context.IsSet("max_depth") {
		config.MaxDepth = context.Int("max_depth")
	}
	if context.IsSet("fast") {
		config.Fast = context.Bool("fast")
	}
	if context.IsSet("verbose") {
		config.Verbose = context.Bool("verbose")
	}
	if context.IsSet("keep-exif") {
		config.KeepExif = context.Bool("keep-exif")
	}
	return config, config.Validate()
}

func run(context *cli.Context) error {
	if context.NArg() == 0 {
		return cli.ShowAppHelp(context)
	}

	config, err := loadConfig(context)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if config.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	quiet := context.Bool("quiet")
	d := driver.New(&config, logger)
	d.OnResult = func(result driver.Result) {
		if quiet {
			return
		}
		fmt.Printf("Processing: %s\n", result.Path)
		fmt.Printf("%s -> %s\tLeanified: %s (%.2f%%)\n",
			formatSize(result.OriginalSize),
			formatSize(result.NewSize),
			formatSize(result.Saved()),
			percent(result.Saved(), result.OriginalSize))
	}

	results, runErr := d.Run(context.Args().Slice())

	if path := context.Path("report"); path != "" {
		if err := report.WriteFile(path, report.FromResults(results)); err != nil {
			return err
		}
	}
	return runErr
}

func formatSize(size int) string {
	units := []string{"B", "KB", "MB", "GB"}
	value := float64(size)
	unit := 0
	for value >= 1024 && unit < len(units)-1 {
		value /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d B", size)
	}
	return fmt.Sprintf("%.2f %s", value, units[unit])
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return 100 * float64(part) / float64(whole)
}
