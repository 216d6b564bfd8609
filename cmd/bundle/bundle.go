package bundle

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/hako-dl/hako-dl/common"
	"github.com/hako-dl/hako-dl/pack"
	"github.com/urfave/cli/v3"
)

func Cmd() *cli.Command {
	cmd := &cli.Command{
		Name:      "bundle",
		Usage:     "package a downloaded novel directory into EPUB files",
		ArgsUsage: "<data-dir>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "merge",
				Aliases: []string{"m"},
				Usage:   "produce one merged book instead of one book per volume",
			},
			&cli.BoolFlag{
				Name:    "compress",
				Aliases: []string{"c"},
				Usage:   "transcode embedded images to JPEG quality 75",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output directory for finished books (default: result)",
			},
			&cli.StringFlag{
				Name:  "volume",
				Usage: "bundle only the volume with this record filename",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			baseDir := cmd.Args().First()
			if baseDir == "" {
				return fmt.Errorf("no data directory given")
			}

			return run(
				baseDir,
				pack.Options{
					CompressImages: cmd.Bool("compress"),
					OutputDir:      common.GetStrOr(cmd.String("output"), "result"),
				},
				cmd.Bool("merge"),
				cmd.String("volume"),
			)
		},
	}

	return cmd
}

func run(baseDir string, opts pack.Options, merge bool, onlyVolume string) error {
	builder, err := pack.NewBuilder(baseDir, opts)
	if err != nil {
		return err
	}

	meta := builder.Metadata()
	common.LogBannerMsg([]string{fmt.Sprintf("Bundling %s", meta.NovelName)}, 4)

	if onlyVolume != "" {
		outPath, err := builder.BuildVolume(onlyVolume)
		if err != nil {
			return err
		}

		log.Infof("finished: %s", outPath)

		return nil
	}

	filenames := []string{}
	for _, desc := range meta.Volumes {
		filenames = append(filenames, desc.Filename)
	}

	if merge {
		outPath, err := builder.BuildMerged(filenames)
		if err != nil {
			return err
		}

		log.Infof("finished: %s", outPath)

		return nil
	}

	for _, filename := range filenames {
		outPath, err := builder.BuildVolume(filename)
		if err != nil {
			log.Errorf("failed to bundle %s: %s", filename, err)
			continue
		}

		log.Infof("finished: %s", outPath)
	}

	return nil
}
