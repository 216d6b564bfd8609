package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/hako-dl/hako-dl/cmd/bundle"
	"github.com/hako-dl/hako-dl/cmd/download"
	"github.com/hako-dl/hako-dl/cmd/extract"
	"github.com/hako-dl/hako-dl/cmd/library"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:    "hako-dl",
		Usage:   "download light novels from docln.net / ln.hako.vn and bundle them as EPUB",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug output",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Bool("verbose") {
				log.SetLevel(log.DebugLevel)
			}

			return nil
		},
		Commands: []*cli.Command{
			download.Cmd(),
			bundle.Cmd(),
			extract.Cmd(),
			library.Cmd(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
