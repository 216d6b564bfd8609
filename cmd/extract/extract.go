package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/hako-dl/hako-dl/common"
	"github.com/hako-dl/hako-dl/library"
	"github.com/hako-dl/hako-dl/unpack"
	"github.com/urfave/cli/v3"
)

// volumePrefixPatt matches leading numbering like "1. " or "01 - " in TOC
// volume titles.
var volumePrefixPatt = regexp.MustCompile(`^\d+\s*[.\-:]\s*`)

func Cmd() *cli.Command {
	cmd := &cli.Command{
		Name:      "extract",
		Usage:     "unpack an existing EPUB file into the local data form",
		ArgsUsage: "<file.epub>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output directory for extracted data (default: data)",
			},
			&cli.BoolFlag{
				Name:  "keep-numbering",
				Usage: "keep leading numbers in volume titles taken from the book's TOC",
			},
			&cli.StringFlag{
				Name:  "library",
				Usage: fmt.Sprintf("path of books index file (default: %s)", library.IndexFilename),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			epubPath := cmd.Args().First()
			if epubPath == "" {
				return fmt.Errorf("no EPUB file given")
			}

			opts := unpack.Options{
				OutputDir: common.GetStrOr(cmd.String("output"), "data"),
			}
			if !cmd.Bool("keep-numbering") {
				opts.CleanVolumeName = cleanVolumeName
			}

			return run(epubPath, opts, cmd.String("library"))
		},
	}

	return cmd
}

func cleanVolumeName(name string) string {
	return strings.TrimSpace(volumePrefixPatt.ReplaceAllString(name, ""))
}

func run(epubPath string, opts unpack.Options, libraryPath string) error {
	baseDir, meta, err := unpack.New(epubPath, opts).Unpack()
	if err != nil {
		return err
	}

	common.LogBannerMsg([]string{fmt.Sprintf("Extracted %s", meta.NovelName)}, 4)

	if err = library.NewIndex(libraryPath).Add(common.FormatFilename(meta.NovelName)); err != nil {
		log.Warnf("%s", err)
	}

	log.Infof("data stored in %s (%d volumes)", baseDir, len(meta.Volumes))

	return nil
}
