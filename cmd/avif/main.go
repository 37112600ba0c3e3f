package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/DND-IT/avif-go"
	"github.com/DND-IT/avif-go/av1"
	"github.com/DND-IT/avif-go/pixel"
)

func main() {
	var verbose bool
	var threads uint
	var strict string
	var upsampling string
	var ignoreAlpha bool
	var rawFormat string
	var to string

	configFlags := func() []cli.Flag {
		return []cli.Flag{
			&cli.UintFlag{
				Name:        "threads",
				Aliases:     []string{"t"},
				Usage:       "maximum number of threads used by the AV1 decoder",
				Value:       uint(runtime.NumCPU()),
				DefaultText: "number of CPUs",
				Destination: &threads,
			},
			&cli.StringFlag{
				Name:        "strict",
				Usage:       "comma-separated strict checks: pixi-required, clap-valid, alpha-ispe-required, all or none",
				Value:       avif.DefaultConfig().Strict.String(),
				Destination: &strict,
			},
		}
	}

	cmd := &cli.Command{
		Name:            "avif",
		Usage:           "a tool to decode & inspect AVIF images",
		UsageText:       "avif <dec|probe> <input> [output]",
		Version:         "<version>",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "verbose",
				Usage:       "log decoder activity to stderr",
				Destination: &verbose,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "decode",
				Aliases:   []string{"dec"},
				Usage:     "decode an AVIF image to a different format",
				UsageText: "avif dec <input> <output>\navif dec --to <ext> <input>...",
				Flags: append(configFlags(),
					&cli.StringFlag{
						Name:        "upsampling",
						Usage:       "chroma upsampling: automatic, bilinear or nearest",
						Value:       "automatic",
						Destination: &upsampling,
					},
					&cli.BoolFlag{
						Name:        "ignore-alpha",
						Usage:       "skip the alpha channel; output is opaque",
						Destination: &ignoreAlpha,
					},
					&cli.StringFlag{
						Name:        "format",
						Aliases:     []string{"f"},
						Usage:       "pixel layout of raw .zst output: RGBA8, ABGR8, RGBA16, RGB565 or RGBAF16",
						Value:       pixel.RGBA8.String(),
						Destination: &rawFormat,
					},
					&cli.StringFlag{
						Name:        "to",
						Usage:       "decode every input to a file with this extension next to it",
						Destination: &to,
					},
				),
				Action: func(ctx context.Context, command *cli.Command) error {
					setupLogging(verbose)

					cfg, err := buildConfig(threads, strict)
					if err != nil {
						return err
					}
					if cfg.ChromaUpsampling, err = parseUpsampling(upsampling); err != nil {
						return err
					}
					cfg.IgnoreAlpha = ignoreAlpha

					format, err := pixel.ParseFormat(strings.ToUpper(rawFormat))
					if err != nil {
						return err
					}
					opts := decodeOptions{config: cfg, format: format}

					args := command.Args().Slice()
					if to != "" {
						if len(args) == 0 {
							return fmt.Errorf("missing input file")
						}
						return decodeAll(ctx, args, to, opts)
					}

					if len(args) < 1 {
						return fmt.Errorf("missing input file")
					}
					if len(args) < 2 {
						return fmt.Errorf("missing output file")
					}

					now := time.Now()
					res, err := decodeAvif(args[0], args[1], opts)
					if err == nil {
						printResult(res, time.Since(now))
					}
					return err
				},
			},
			{
				Name:      "probe",
				Usage:     "print the container information of AVIF images",
				UsageText: "avif probe <input>...",
				Flags:     configFlags(),
				Action: func(ctx context.Context, command *cli.Command) error {
					setupLogging(verbose)

					cfg, err := buildConfig(threads, strict)
					if err != nil {
						return err
					}
					if command.NArg() == 0 {
						return fmt.Errorf("missing input file")
					}

					var failed int
					for _, input := range command.Args().Slice() {
						info, err := probeAvif(input, cfg)
						if err != nil {
							failed++
							fmt.Println(red.Render(fmt.Sprintf("🧨 %s: %v", input, err)))
							continue
						}
						printInfo(input, info)
					}
					if failed > 0 {
						return fmt.Errorf("%d of %d files could not be parsed", failed, command.NArg())
					}
					return nil
				},
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return fmt.Errorf("either the command <decode> or <probe> must be used")
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		msg := fmt.Sprintf("🧨 %v", err)
		fmt.Println(red.Render(msg))
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	if verbose {
		avif.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
}

func buildConfig(threads uint, strict string) (avif.Config, error) {
	cfg := avif.DefaultConfig()
	cfg.MaxThreads = int(threads)

	flags, err := avif.ParseStrictFlags(strict)
	if err != nil {
		return cfg, err
	}
	cfg.Strict = flags
	return cfg, cfg.Validate()
}

func parseUpsampling(s string) (avif.ChromaUpsampling, error) {
	switch strings.ToLower(s) {
	case "", "automatic", "auto":
		return avif.ChromaUpsamplingAutomatic, nil
	case "bilinear":
		return avif.ChromaUpsamplingBilinear, nil
	case "nearest":
		return avif.ChromaUpsamplingNearest, nil
	default:
		return 0, fmt.Errorf("%w: unknown chroma upsampling %q", avif.ErrInvalidConfig, s)
	}
}

// decodeAll decodes every input concurrently, one session per file. Each file gets a share of
// the configured decoder threads.
func decodeAll(ctx context.Context, inputs []string, ext string, opts decodeOptions) error {
	workers := min(len(inputs), runtime.NumCPU())
	opts.config.MaxThreads = max(opts.config.MaxThreads/workers, 1)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	for _, input := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			now := time.Now()
			res, err := decodeAvif(input, outputPath(input, ext), opts)
			if err != nil {
				return fmt.Errorf("%s: %w", input, err)
			}

			mu.Lock()
			printResult(res, time.Since(now))
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func printResult(res *result, duration time.Duration) {
	msg := fmt.Sprintf("✅ Successfully decoded image to %s in %s",
		res.output, duration.Truncate(time.Millisecond))
	fmt.Println(green.Render(msg))

	msg = fmt.Sprintf("🖼 Image dimensions: %dx%d; depth: %d; pixels: %s; size: %d bytes",
		res.info.Width, res.info.Height, res.info.Depth, res.format, res.size)
	fmt.Println(yellow.Render(msg))
}

func printInfo(input string, info avif.Info) {
	row := func(k string, v any) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, label.Render(k), fmt.Sprint(v))
	}

	rows := []string{
		green.Render("🖼 " + input),
		row("dimensions", fmt.Sprintf("%dx%d", info.Width, info.Height)),
		row("depth", info.Depth),
		row("subsampling", info.Subsampling),
		row("alpha", info.HasAlpha),
	}
	if info.Color != (av1.ColorInfo{}) {
		rows = append(rows, row("color", fmt.Sprintf("primaries %d, transfer %d, matrix %d, %s range",
			info.Color.Primaries, info.Color.Transfer, info.Color.Matrix, info.Color.Range)))
	} else {
		rows = append(rows, row("color", faint.Render("signalled in the bitstream")))
	}
	if info.CleanAperture != nil {
		c := info.CleanAperture
		rows = append(rows, row("clean aperture", fmt.Sprintf("%dx%d at %d,%d", c.Width, c.Height, c.X, c.Y)))
	}
	if info.Rotation != 0 {
		rows = append(rows, row("rotation", fmt.Sprintf("%d°", info.Rotation*90)))
	}
	if info.Mirror >= 0 {
		rows = append(rows, row("mirror", info.Mirror))
	}
	rows = append(rows, row("metadata", fmt.Sprintf("icc=%t exif=%t xmp=%t", info.HasICC, info.HasExif, info.HasXMP)))

	fmt.Println(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
