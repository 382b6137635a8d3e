package cli

import (
	"context"
	"io"
	"iter"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/refiner/pkg/repository"
	"github.com/m-mizutani/refiner/pkg/usecase/history"
	"github.com/m-mizutani/refiner/pkg/usecase/refine"
	"google.golang.org/genai"
)

// mockGemini streams a fixed list of chunks, then failErr if it is set
type mockGemini struct {
	chunks  []string
	failErr error
	calls   int
	parts   int
}

func (m *mockGemini) GenerateContentStream(ctx context.Context, contents []*genai.Content, _ *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	m.calls++
	m.parts = 0
	for _, c := range contents {
		m.parts += len(c.Parts)
	}

	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, chunk := range m.chunks {
			resp := &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{
						Role:  string(genai.RoleModel),
						Parts: []*genai.Part{{Text: chunk}},
					},
				}},
			}
			if !yield(resp, nil) {
				return
			}
		}
		if m.failErr != nil {
			yield(nil, m.failErr)
		}
	}
}

// mockClipboard keeps text in memory
type mockClipboard struct {
	text    string
	readErr error
	written []string
}

func (m *mockClipboard) ReadText() (string, error) {
	return m.text, m.readErr
}

func (m *mockClipboard) WriteText(text string) error {
	m.written = append(m.written, text)
	return nil
}

// scriptedReader returns lines in order, then io.EOF
type scriptedReader struct {
	lines   []string
	errs    map[int]error
	prompts []string
	n       int
}

func (r *scriptedReader) Readline() (string, error) {
	i := r.n
	r.n++
	if err, ok := r.errs[i]; ok {
		return "", err
	}
	if i >= len(r.lines) {
		return "", io.EOF
	}
	return r.lines[i], nil
}

func (r *scriptedReader) SetPrompt(prompt string) {
	r.prompts = append(r.prompts, prompt)
}

func newTestSession(t *testing.T, gemini *mockGemini, opts ...refine.Option) (*refine.Session, *history.Store) {
	t.Helper()
	repo, err := repository.NewKV(repository.InMemory)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	store := history.New(context.Background(), repo)
	return refine.NewSession(refine.NewGenerator(gemini), store, opts...), store
}
