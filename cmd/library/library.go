package library

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/hako-dl/hako-dl/history"
	booklib "github.com/hako-dl/hako-dl/library"
	"github.com/urfave/cli/v3"
)

func Cmd() *cli.Command {
	cmd := &cli.Command{
		Name:    "library",
		Aliases: []string{"ls"},
		Usage:   "list downloaded novels recorded in the books index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "file",
				Usage: fmt.Sprintf("path of books index file (default: %s)", booklib.IndexFilename),
			},
			&cli.StringFlag{
				Name:  "history",
				Usage: "path of chapter history database, shows per novel chapter counts",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(cmd.String("file"), cmd.String("history"))
		},
	}

	return cmd
}

func run(indexPath string, historyPath string) error {
	books := booklib.NewIndex(indexPath).Read()
	if len(books) == 0 {
		log.Info("no books recorded yet")
		return nil
	}

	for i, book := range books {
		fmt.Printf("%3d. %s\n", i+1, book)
	}

	if historyPath == "" {
		return nil
	}

	db, err := history.Open(historyPath)
	if err != nil {
		return err
	}
	defer history.Close(db)

	for _, book := range books {
		entries, err := history.ListByNovel(db, book)
		if err != nil {
			log.Warnf("%s", err)
			continue
		}

		if len(entries) > 0 {
			fmt.Printf("%s: %d chapters on record\n", book, len(entries))
		}
	}

	return nil
}
