package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/refiner/pkg/adapter"
	"github.com/m-mizutani/refiner/pkg/model"
	"github.com/m-mizutani/refiner/pkg/output"
	"github.com/m-mizutani/refiner/pkg/usecase/ingest"
	"github.com/m-mizutani/refiner/pkg/usecase/refine"
	"github.com/m-mizutani/refiner/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const (
	shellPrompt         = "refine> "
	continuationPrompt  = "...> "
	historyDateLayout   = "Jan 2 15:04"
	maxHistoryLabelSize = 60
)

func shellCommand() *cli.Command {
	var (
		cfg       config
		noHistory bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "no-history",
			Usage:       "Do not save results to history",
			Destination: &noHistory,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:    "shell",
		Aliases: []string{"sh"},
		Usage:   "Interactive refinement session with attachments and history",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, cleanup, err := cfg.setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var sessionOpts []refine.Option
			if noHistory {
				sessionOpts = append(sessionOpts, refine.WithoutArchive())
			}
			session, closeSession, err := cfg.newSession(ctx, sessionOpts...)
			if err != nil {
				return err
			}
			defer closeSession()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          shellPrompt,
				InterruptPrompt: "^C",
				EOFPrompt:       "/exit",
				Stdout:          c.Root().Writer,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			sh := newShell(session, rl, adapter.NewClipboard(), c.Root().Writer)
			return sh.run(ctx)
		},
	}
}

// lineReader is the part of *readline.Instance the shell uses
type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

type shell struct {
	session   *refine.Session
	reader    lineReader
	clipboard adapter.Clipboard
	out       io.Writer
	printer   *output.Printer

	// interrupt derives the context of one generation; Ctrl-C cancels it
	interrupt func(ctx context.Context) (context.Context, context.CancelFunc)
}

func newShell(session *refine.Session, reader lineReader, clip adapter.Clipboard, out io.Writer) *shell {
	return &shell{
		session:   session,
		reader:    reader,
		clipboard: clip,
		out:       out,
		printer:   output.NewPrinter(out, output.WithMarkdown(true)),
		interrupt: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
	}
}

type shellCommandFunc func(ctx context.Context, args []string) error

// errExit ends the loop
var errExit = errors.New("exit")

func (x *shell) commands() map[string]shellCommandFunc {
	return map[string]shellCommandFunc{
		"/attach":        x.attach,
		"/paste":         x.paste,
		"/images":        x.images,
		"/remove":        x.remove,
		"/history":       x.history,
		"/select":        x.selectHistory,
		"/delete":        x.deleteHistory,
		"/clear-history": x.clearHistory,
		"/reset":         x.reset,
		"/retry":         x.retry,
		"/show":          x.show,
		"/copy":          x.copyAll,
		"/copy-code":     x.copyCode,
		"/status":        x.status,
		"/help":          x.help,
		"/exit":          x.exit,
		"/quit":          x.exit,
	}
}

func (x *shell) run(ctx context.Context) error {
	fmt.Fprintln(x.out, "Type a request to refine it. /help lists commands.")
	commands := x.commands()

	for {
		line, err := x.readRequest()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			fields := strings.Fields(line)
			cmd, ok := commands[fields[0]]
			if !ok {
				fmt.Fprintf(x.out, "Unknown command %s, see /help\n", fields[0])
				continue
			}
			if err := cmd(ctx, fields[1:]); err != nil {
				if errors.Is(err, errExit) {
					return nil
				}
				x.report(ctx, err)
			}
			continue
		}

		x.session.SetInput(line)
		x.submit(ctx)
	}
}

// readRequest reads one logical line. A trailing backslash continues the
// request on the next line. Ctrl-C discards what was typed.
func (x *shell) readRequest() (string, error) {
	var lines []string
	defer x.reader.SetPrompt(shellPrompt)

	for {
		line, err := x.reader.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			lines = nil
			x.reader.SetPrompt(shellPrompt)
			continue
		}
		if err != nil {
			return "", err
		}

		if rest, ok := strings.CutSuffix(line, `\`); ok {
			lines = append(lines, rest)
			x.reader.SetPrompt(continuationPrompt)
			continue
		}

		lines = append(lines, line)
		return strings.Join(lines, "\n"), nil
	}
}

func (x *shell) confirm(question string) bool {
	x.reader.SetPrompt(question + " [y/N]: ")
	defer x.reader.SetPrompt(shellPrompt)

	answer, err := x.reader.Readline()
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func (x *shell) report(ctx context.Context, err error) {
	logging.From(ctx).Debug("shell command failed", "error", err)
	fmt.Fprintf(x.out, "Error: %s\n", err.Error())
}

// submit streams the current request to the terminal
func (x *shell) submit(ctx context.Context) {
	genCtx, stop := x.interrupt(ctx)
	defer stop()

	item, err := x.session.Submit(genCtx, &writerSink{w: x.out})
	fmt.Fprintln(x.out)

	switch {
	case errors.Is(err, refine.ErrEmptyRequest):
		fmt.Fprintln(x.out, "Nothing to refine. Type a request or attach an image.")
		return
	case errors.Is(err, refine.ErrBusy):
		fmt.Fprintln(x.out, "A refinement is already running.")
		return
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(x.out, "Cancelled. Attachments are kept, /retry to run again.")
		return
	case err != nil:
		x.report(ctx, err)
		fmt.Fprintln(x.out, "Attachments are kept, /retry to run again.")
		return
	}

	x.listCodeBlocks(x.session.View())
	if item != nil {
		fmt.Fprintf(x.out, "Saved to history (%d items)\n", len(x.session.History()))
	}
}

func (x *shell) listCodeBlocks(v output.View) {
	blocks := v.CodeBlocks()
	if len(blocks) == 0 {
		return
	}

	fmt.Fprintln(x.out, "Code blocks:")
	for i, b := range blocks {
		language := b.Language
		if language == "" {
			language = "markdown"
		}
		fmt.Fprintf(x.out, "  [%d] %s, %d lines\n", i+1, language, strings.Count(strings.TrimRight(b.Body, "\n"), "\n")+1)
	}
	fmt.Fprintln(x.out, "Use /copy-code N to copy one.")
}

func (x *shell) attachCandidates(ctx context.Context, candidates []ingest.Candidate) error {
	images, err := ingest.Decode(ctx, candidates)
	if err != nil {
		return err
	}

	x.session.Attach(images...)
	if skipped := len(candidates) - len(images); skipped > 0 {
		fmt.Fprintf(x.out, "Skipped %d file(s) that are not readable images\n", skipped)
	}
	fmt.Fprintf(x.out, "Attached %d image(s), %d total\n", len(images), len(x.session.Attachments()))
	return nil
}

func (x *shell) attach(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return goerr.New("usage: /attach <image file>...")
	}

	candidates := make([]ingest.Candidate, 0, len(args))
	for _, path := range args {
		candidates = append(candidates, ingest.FromFile(path))
	}
	return x.attachCandidates(ctx, candidates)
}

func (x *shell) paste(ctx context.Context, _ []string) error {
	text, err := x.clipboard.ReadText()
	if err != nil {
		return err
	}

	candidates := ingest.FromClipboard(text)
	if len(candidates) == 0 {
		fmt.Fprintln(x.out, "No image found in clipboard")
		return nil
	}
	return x.attachCandidates(ctx, candidates)
}

func (x *shell) images(_ context.Context, _ []string) error {
	images := x.session.Attachments()
	if len(images) == 0 {
		fmt.Fprintln(x.out, "No attachments")
		return nil
	}

	for i, img := range images {
		fmt.Fprintf(x.out, "  [%d] %s, %d bytes\n", i+1, img.MimeType, img.Size())
	}
	return nil
}

func (x *shell) remove(_ context.Context, args []string) error {
	images := x.session.Attachments()
	n, err := parseIndex(args, len(images))
	if err != nil {
		return err
	}

	x.session.RemoveAttachment(images[n-1].ID)
	fmt.Fprintf(x.out, "Removed attachment %d\n", n)
	return nil
}

func (x *shell) history(_ context.Context, _ []string) error {
	items := x.session.History()
	if len(items) == 0 {
		fmt.Fprintln(x.out, "No history")
		return nil
	}

	for i, item := range items {
		fmt.Fprintf(x.out, "  [%d] %s  %s\n", i+1, item.CreatedAt().Format(historyDateLayout), truncate(item.Label(), maxHistoryLabelSize))
	}
	return nil
}

func (x *shell) historyItem(args []string) (*model.HistoryItem, error) {
	items := x.session.History()
	n, err := parseIndex(args, len(items))
	if err != nil {
		return nil, err
	}
	return items[n-1], nil
}

func (x *shell) selectHistory(_ context.Context, args []string) error {
	item, err := x.historyItem(args)
	if err != nil {
		return err
	}

	if _, err := x.session.SelectHistory(item.ID); err != nil {
		return err
	}

	fmt.Fprintf(x.out, "Request: %s\n", item.Label())
	return x.printer.Print(x.session.View())
}

func (x *shell) deleteHistory(ctx context.Context, args []string) error {
	item, err := x.historyItem(args)
	if err != nil {
		return err
	}

	if err := x.session.DeleteHistory(ctx, item.ID); err != nil {
		return err
	}
	fmt.Fprintln(x.out, "Deleted")
	return nil
}

func (x *shell) clearHistory(ctx context.Context, _ []string) error {
	if len(x.session.History()) == 0 {
		fmt.Fprintln(x.out, "No history")
		return nil
	}
	if !x.confirm("Clear all history?") {
		return nil
	}

	if err := x.session.ClearHistory(ctx); err != nil {
		return err
	}
	fmt.Fprintln(x.out, "History cleared")
	return nil
}

func (x *shell) reset(_ context.Context, _ []string) error {
	if x.session.HasWork() && !x.confirm("Discard request, attachments and output?") {
		return nil
	}

	if err := x.session.Reset(); err != nil {
		return err
	}
	fmt.Fprintln(x.out, "Reset")
	return nil
}

func (x *shell) retry(ctx context.Context, _ []string) error {
	x.submit(ctx)
	return nil
}

func (x *shell) show(_ context.Context, _ []string) error {
	return x.printer.Print(x.session.View())
}

func (x *shell) copyAll(_ context.Context, _ []string) error {
	text := x.session.View().CopyText()
	if text == "" {
		fmt.Fprintln(x.out, "Nothing to copy")
		return nil
	}

	if err := x.clipboard.WriteText(text); err != nil {
		return err
	}
	fmt.Fprintln(x.out, "Copied!")
	return nil
}

func (x *shell) copyCode(_ context.Context, args []string) error {
	v := x.session.View()
	n, err := parseIndex(args, len(v.CodeBlocks()))
	if err != nil {
		return err
	}

	block, _ := v.CodeBlock(n)
	if err := x.clipboard.WriteText(block.CopyText()); err != nil {
		return err
	}
	fmt.Fprintf(x.out, "Copied code block %d\n", n)
	return nil
}

func (x *shell) status(_ context.Context, _ []string) error {
	fmt.Fprintf(x.out, "Status: %s\n", x.session.Status())
	fmt.Fprintf(x.out, "Request: %s\n", truncate(x.session.Input(), maxHistoryLabelSize))
	fmt.Fprintf(x.out, "Attachments: %d\n", len(x.session.Attachments()))
	fmt.Fprintf(x.out, "History: %d\n", len(x.session.History()))
	return nil
}

func (x *shell) help(_ context.Context, _ []string) error {
	fmt.Fprint(x.out, `Commands:
  <text>               refine text with the current attachments (end a line with \ to continue)
  /attach <file>...    attach image files
  /paste               attach an image data URI or image file paths from the clipboard
  /images              list attachments
  /remove <n>          remove attachment n
  /retry               run the current request again
  /show                show the output
  /copy                copy the whole output
  /copy-code <n>       copy code block n
  /history             list history
  /select <n>          restore history item n
  /delete <n>          delete history item n
  /clear-history       delete all history
  /reset               clear request, attachments and output
  /status              show session state
  /exit                quit
Ctrl-C cancels a running refinement.
`)
	return nil
}

func (x *shell) exit(_ context.Context, _ []string) error {
	return errExit
}

// parseIndex reads a 1-based index from args that must be within [1, size]
func parseIndex(args []string, size int) (int, error) {
	if len(args) != 1 {
		return 0, goerr.New("an index is required")
	}

	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, goerr.Wrap(err, "invalid index", goerr.V("index", args[0]))
	}
	if n < 1 || n > size {
		return 0, goerr.New("index out of range", goerr.V("index", n), goerr.V("size", size))
	}
	return n, nil
}

func truncate(s string, size int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= size {
		return s
	}
	return string(r[:size-3]) + "..."
}
