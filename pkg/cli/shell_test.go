package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/refiner/pkg/model"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

const refinedWithCode = "## Analysis\nClear goal.\n```markdown\n# Role\nWriter\n```\n"

func runShell(t *testing.T, gemini *mockGemini, clip *mockClipboard, lines ...string) (string, *scriptedReader, *shell) {
	t.Helper()
	session, _ := newTestSession(t, gemini)
	reader := &scriptedReader{lines: lines}

	var out bytes.Buffer
	sh := newShell(session, reader, clip, &out)
	sh.interrupt = func(ctx context.Context) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}

	gt.NoError(t, sh.run(context.Background()))
	return out.String(), reader, sh
}

func TestShellRefineAndCopy(t *testing.T) {
	gemini := &mockGemini{chunks: []string{"## Analysis\nClear goal.\n", "```markdown\n# Role\nWriter\n```\n"}}
	clip := &mockClipboard{}

	out, _, sh := runShell(t, gemini, clip,
		"write a blog post",
		"/copy-code 1",
		"/copy",
	)

	gt.Equal(t, gemini.calls, 1)
	gt.S(t, out).Contains("Clear goal.")
	gt.S(t, out).Contains("[1] markdown, 2 lines")
	gt.S(t, out).Contains("Saved to history (1 items)")
	gt.Equal(t, clip.written, []string{"# Role\nWriter", refinedWithCode})
	gt.Equal(t, sh.session.Status(), model.StatusComplete)
}

func TestShellLineContinuation(t *testing.T) {
	gemini := &mockGemini{chunks: []string{"ok"}}
	_, reader, sh := runShell(t, gemini, &mockClipboard{},
		`first line\`,
		"second line",
	)

	gt.Equal(t, sh.session.Input(), "first line\nsecond line")
	gt.True(t, slices.Contains(reader.prompts, continuationPrompt))
}

func TestShellInterruptDiscardsTypedLine(t *testing.T) {
	gemini := &mockGemini{chunks: []string{"ok"}}
	session, _ := newTestSession(t, gemini)
	reader := &scriptedReader{
		lines: []string{`draft\`, "", "/exit"},
		errs:  map[int]error{1: readline.ErrInterrupt},
	}

	var out bytes.Buffer
	sh := newShell(session, reader, &mockClipboard{}, &out)
	gt.NoError(t, sh.run(context.Background()))

	gt.Equal(t, gemini.calls, 0)
	gt.Equal(t, session.Input(), "")
}

func TestShellAttachAndRemove(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	txt := filepath.Join(dir, "notes.txt")
	gt.NoError(t, os.WriteFile(a, pngBytes, 0o600))
	gt.NoError(t, os.WriteFile(b, pngBytes, 0o600))
	gt.NoError(t, os.WriteFile(txt, []byte("hello"), 0o600))

	out, _, sh := runShell(t, &mockGemini{}, &mockClipboard{},
		"/attach "+a+" "+txt+" "+b,
		"/images",
		"/remove 1",
		"/remove 9",
	)

	gt.S(t, out).Contains("Skipped 1 file(s)")
	gt.S(t, out).Contains("Attached 2 image(s), 2 total")
	gt.S(t, out).Contains("[2] image/png")
	gt.S(t, out).Contains("Removed attachment 1")
	gt.S(t, out).Contains("Error: index out of range")
	gt.A(t, sh.session.Attachments()).Length(1)
}

func TestShellImageOnlyRequest(t *testing.T) {
	uri := model.NewAttachedImage("image/png", pngBytes).Data
	gemini := &mockGemini{chunks: []string{"described"}}

	out, _, sh := runShell(t, gemini, &mockClipboard{text: uri},
		"/paste",
		"/retry",
		"/history",
	)

	gt.Equal(t, gemini.calls, 1)
	gt.Equal(t, gemini.parts, 2)
	gt.S(t, out).Contains("Attached 1 image(s)")
	gt.S(t, out).Contains("Image only request")
	gt.A(t, sh.session.Attachments()).Length(0)
}

func TestShellPasteWithoutImage(t *testing.T) {
	out, _, sh := runShell(t, &mockGemini{}, &mockClipboard{text: "just words"}, "/paste")
	gt.S(t, out).Contains("No image found in clipboard")
	gt.A(t, sh.session.Attachments()).Length(0)
}

func TestShellGenerationFailureKeepsAttachments(t *testing.T) {
	uri := model.NewAttachedImage("image/png", pngBytes).Data
	gemini := &mockGemini{chunks: []string{"partial"}, failErr: errors.New("quota exceeded")}

	out, _, sh := runShell(t, gemini, &mockClipboard{text: uri},
		"/paste",
		"describe this",
	)

	gt.S(t, out).Contains("partial\n\n[Error: Failed to generate response. Please try again.]")
	gt.S(t, out).Contains("/retry to run again")
	gt.Equal(t, sh.session.Status(), model.StatusError)
	gt.A(t, sh.session.Attachments()).Length(1)
	gt.A(t, sh.session.History()).Length(0)
}

func TestShellEmptyRetry(t *testing.T) {
	gemini := &mockGemini{}
	out, _, _ := runShell(t, gemini, &mockClipboard{}, "/retry")
	gt.Equal(t, gemini.calls, 0)
	gt.S(t, out).Contains("Nothing to refine")
}

func TestShellHistorySelectAndDelete(t *testing.T) {
	gemini := &mockGemini{chunks: []string{refinedWithCode}}
	out, _, sh := runShell(t, gemini, &mockClipboard{},
		"first request",
		"second request",
		"/select 2",
		"/delete 1",
		"/history",
	)

	gt.S(t, out).Contains("Request: first request")
	gt.Equal(t, sh.session.Input(), "first request")
	gt.Equal(t, sh.session.Output(), refinedWithCode)

	items := sh.session.History()
	gt.A(t, items).Length(1)
	gt.Equal(t, items[0].OriginalPrompt, "first request")
}

func TestShellClearHistoryConfirmation(t *testing.T) {
	gemini := &mockGemini{chunks: []string{"ok"}}

	t.Run("declined", func(t *testing.T) {
		_, _, sh := runShell(t, gemini, &mockClipboard{}, "request", "/clear-history", "n")
		gt.A(t, sh.session.History()).Length(1)
	})

	t.Run("accepted", func(t *testing.T) {
		out, _, sh := runShell(t, gemini, &mockClipboard{}, "request", "/clear-history", "y")
		gt.A(t, sh.session.History()).Length(0)
		gt.S(t, out).Contains("History cleared")
	})
}

func TestShellReset(t *testing.T) {
	gemini := &mockGemini{chunks: []string{"ok"}}
	_, _, sh := runShell(t, gemini, &mockClipboard{}, "request", "/reset", "yes")

	gt.Equal(t, sh.session.Status(), model.StatusIdle)
	gt.Equal(t, sh.session.Input(), "")
	gt.Equal(t, sh.session.Output(), "")
	gt.A(t, sh.session.History()).Length(1)
}

func TestShellUnknownCommandAndExit(t *testing.T) {
	gemini := &mockGemini{chunks: []string{"ok"}}
	out, _, _ := runShell(t, gemini, &mockClipboard{}, "/nope", "/exit", "never submitted")

	gt.S(t, out).Contains("Unknown command /nope")
	gt.Equal(t, gemini.calls, 0)
}

func TestShellShowPlaceholder(t *testing.T) {
	out, _, _ := runShell(t, &mockGemini{}, &mockClipboard{}, "/show", "/status")
	gt.S(t, out).Contains("Ready to Refine")
	gt.S(t, out).Contains("Status: idle")
}

func TestParseIndex(t *testing.T) {
	n, err := parseIndex([]string{"2"}, 3)
	gt.NoError(t, err)
	gt.Equal(t, n, 2)

	_, err = parseIndex(nil, 3)
	gt.Error(t, err)
	_, err = parseIndex([]string{"x"}, 3)
	gt.Error(t, err)
	_, err = parseIndex([]string{"0"}, 3)
	gt.Error(t, err)
	_, err = parseIndex([]string{"4"}, 3)
	gt.Error(t, err)
}

func TestTruncate(t *testing.T) {
	gt.Equal(t, truncate("short", 10), "short")
	gt.Equal(t, truncate("line one\nline two", 100), "line one line two")
	gt.Equal(t, truncate("abcdefghijkl", 8), "abcde...")
}
