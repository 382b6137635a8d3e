package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/refiner/pkg/model"
	"github.com/m-mizutani/refiner/pkg/output"
	"github.com/m-mizutani/refiner/pkg/usecase/history"
	"github.com/urfave/cli/v3"
)

func historyCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "history",
		Usage: "Manage saved refinements",
		Commands: []*cli.Command{
			historyListCommand(&cfg),
			historyShowCommand(&cfg),
			historyDeleteCommand(&cfg),
			historyClearCommand(&cfg),
		},
	}
}

// withStore runs fn with the history store opened from cfg
func withStore(ctx context.Context, cfg *config, fn func(ctx context.Context, store *history.Store) error) error {
	ctx, cleanup, err := cfg.setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	store, closeStore, err := cfg.newStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return fn(ctx, store)
}

// findHistory resolves a 1-based list index or a history ID
func findHistory(store *history.Store, ref string) (*model.HistoryItem, error) {
	items := store.List()
	for _, item := range items {
		if string(item.ID) == ref {
			return item, nil
		}
	}

	n, err := parseIndex([]string{ref}, len(items))
	if err != nil {
		return nil, goerr.Wrap(history.ErrNotFound, "no history matches", goerr.V("ref", ref))
	}
	return items[n-1], nil
}

func historyListCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List saved refinements, newest first",
		Flags: globalFlags(cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			return withStore(ctx, cfg, func(ctx context.Context, store *history.Store) error {
				printHistoryList(c.Root().Writer, store.List())
				return nil
			})
		},
	}
}

func printHistoryList(w io.Writer, items []*model.HistoryItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No history")
		return
	}

	for i, item := range items {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			i+1,
			item.ID,
			item.CreatedAt().Format(historyDateLayout),
			truncate(item.Label(), maxHistoryLabelSize),
		)
	}
}

func historyShowCommand(cfg *config) *cli.Command {
	var raw bool

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "raw",
			Usage:       "Print the refined prompt without rendering",
			Destination: &raw,
		},
	}
	flags = append(flags, globalFlags(cfg)...)

	return &cli.Command{
		Name:      "show",
		Usage:     "Show a saved refinement",
		ArgsUsage: "<index|id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("history index or ID is required")
			}

			return withStore(ctx, cfg, func(ctx context.Context, store *history.Store) error {
				item, err := findHistory(store, c.Args().First())
				if err != nil {
					return err
				}

				w := c.Root().Writer
				if raw {
					fmt.Fprintln(w, item.RefinedPrompt)
					return nil
				}

				fmt.Fprintf(w, "Request: %s\nCreated: %s\n\n", item.Label(), item.CreatedAt().Format(historyDateLayout))
				v := output.Render(item.RefinedPrompt, model.StatusComplete)
				return output.NewPrinter(w, output.WithMarkdown(true)).Print(v)
			})
		},
	}
}

func historyDeleteCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a saved refinement",
		ArgsUsage: "<index|id>",
		Flags:     globalFlags(cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("history index or ID is required")
			}

			return withStore(ctx, cfg, func(ctx context.Context, store *history.Store) error {
				item, err := findHistory(store, c.Args().First())
				if err != nil {
					return err
				}
				if err := store.Delete(ctx, item.ID); err != nil {
					return err
				}
				fmt.Fprintf(c.Root().Writer, "Deleted %s\n", item.ID)
				return nil
			})
		},
	}
}

func historyClearCommand(cfg *config) *cli.Command {
	var yes bool

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "yes",
			Aliases:     []string{"y"},
			Usage:       "Skip confirmation",
			Destination: &yes,
		},
	}
	flags = append(flags, globalFlags(cfg)...)

	return &cli.Command{
		Name:  "clear",
		Usage: "Delete all saved refinements",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			w := c.Root().Writer
			if !yes && !askYesNo(os.Stdin, w, "Clear all history?") {
				fmt.Fprintln(w, "Aborted")
				return nil
			}

			return withStore(ctx, cfg, func(ctx context.Context, store *history.Store) error {
				if err := store.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(w, "History cleared")
				return nil
			})
		},
	}
}

func askYesNo(r io.Reader, w io.Writer, question string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", question)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
