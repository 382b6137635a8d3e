package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/refiner/pkg/adapter"
	"github.com/m-mizutani/refiner/pkg/output"
	"github.com/m-mizutani/refiner/pkg/usecase/ingest"
	"github.com/m-mizutani/refiner/pkg/usecase/refine"
	"github.com/m-mizutani/refiner/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func refineCommand() *cli.Command {
	var (
		cfg       config
		paste     bool
		copyOut   bool
		noHistory bool
		render    bool
	)

	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "image",
			Aliases: []string{"i"},
			Usage:   "Image file to attach (repeatable)",
		},
		&cli.BoolFlag{
			Name:        "paste",
			Usage:       "Attach image data URI or image file paths from the clipboard",
			Destination: &paste,
		},
		&cli.BoolFlag{
			Name:        "copy",
			Aliases:     []string{"c"},
			Usage:       "Copy the refined prompt to the clipboard",
			Destination: &copyOut,
		},
		&cli.BoolFlag{
			Name:        "no-history",
			Usage:       "Do not save the result to history",
			Destination: &noHistory,
		},
		&cli.BoolFlag{
			Name:        "render",
			Aliases:     []string{"r"},
			Usage:       "Print a rendered view after generation instead of streaming raw text",
			Destination: &render,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "refine",
		Usage:     "Refine a request once and print the result",
		ArgsUsage: "[request text]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, cleanup, err := cfg.setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			text := strings.Join(c.Args().Slice(), " ")
			if text == "" && !readline.IsTerminal(int(os.Stdin.Fd())) {
				raw, err := io.ReadAll(os.Stdin)
				if err != nil {
					return goerr.Wrap(err, "failed to read request from stdin")
				}
				text = string(raw)
			}

			var sessionOpts []refine.Option
			if noHistory {
				sessionOpts = append(sessionOpts, refine.WithoutArchive())
			}
			session, closeSession, err := cfg.newSession(ctx, sessionOpts...)
			if err != nil {
				return err
			}
			defer closeSession()

			req := refineRequest{
				Text:    text,
				Images:  c.StringSlice("image"),
				Paste:   paste,
				Copy:    copyOut,
				Render:  render,
				Spinner: readline.IsTerminal(int(os.Stderr.Fd())),
			}
			return runRefine(ctx, session, adapter.NewClipboard(), req, c.Root().Writer, os.Stderr)
		},
	}
}

type refineRequest struct {
	Text    string
	Images  []string
	Paste   bool
	Copy    bool
	Render  bool
	Spinner bool
}

// runRefine performs a single refinement. Raw deltas go to out as they arrive
// unless Render is set; status messages go to errOut.
func runRefine(ctx context.Context, session *refine.Session, clip adapter.Clipboard, req refineRequest, out, errOut io.Writer) error {
	candidates := make([]ingest.Candidate, 0, len(req.Images))
	for _, path := range req.Images {
		candidates = append(candidates, ingest.FromFile(path))
	}

	if req.Paste {
		pasted, err := clip.ReadText()
		if err != nil {
			return err
		}
		found := ingest.FromClipboard(pasted)
		if len(found) == 0 {
			fmt.Fprintln(errOut, "No image found in clipboard")
		}
		candidates = append(candidates, found...)
	}

	images, err := ingest.Decode(ctx, candidates)
	if err != nil {
		return err
	}
	if len(images) < len(candidates) {
		fmt.Fprintf(errOut, "Attached %d of %d images, see log for skipped files\n", len(images), len(candidates))
	}

	session.SetInput(strings.TrimSpace(req.Text))
	session.Attach(images...)

	var sink refine.Sink
	if !req.Render {
		sink = &writerSink{w: out}
	}

	var stop func()
	if req.Spinner {
		sink, stop = withSpinner(sink, errOut)
	}

	item, err := session.Submit(ctx, sink)
	if stop != nil {
		stop()
	}

	if req.Render {
		if perr := output.NewPrinter(out, output.WithMarkdown(true)).Print(session.View()); perr != nil {
			logging.From(ctx).Error("failed to print result", "error", perr)
		}
	} else {
		fmt.Fprintln(out)
	}

	if err != nil {
		return err
	}

	if item != nil {
		logging.From(ctx).Debug("saved to history", "id", item.ID)
	}

	if req.Copy {
		if err := clip.WriteText(session.Output()); err != nil {
			return err
		}
		fmt.Fprintln(errOut, "Copied to clipboard")
	}

	return nil
}

// writerSink relays deltas to an io.Writer
type writerSink struct {
	w io.Writer
}

func (s *writerSink) Write(delta string) {
	_, _ = io.WriteString(s.w, delta)
}

// spinnerSink stops the spinner before the first delta is written
type spinnerSink struct {
	once sync.Once
	stop func()
	next refine.Sink
}

func (s *spinnerSink) Write(delta string) {
	s.once.Do(s.stop)
	if s.next != nil {
		s.next.Write(delta)
	}
}

// withSpinner shows a spinner on w until the first delta arrives or the
// returned stop function is called
func withSpinner(next refine.Sink, w io.Writer) (refine.Sink, func()) {
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	sp.Suffix = " Refining..."
	sp.Start()

	sink := &spinnerSink{stop: sp.Stop, next: next}
	return sink, func() { sink.once.Do(sink.stop) }
}
