package refine_test

import (
	"context"
	"iter"

	"google.golang.org/genai"
)

// mockGemini is a mock implementation of adapter.Gemini for testing
type mockGemini struct {
	streamFunc func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

	calls    int
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (m *mockGemini) GenerateContentStream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	m.calls++
	m.contents = contents
	m.config = config
	return m.streamFunc(ctx, contents, config)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Role:  string(genai.RoleModel),
					Parts: []*genai.Part{{Text: text}},
				},
			},
		},
	}
}

// streamOf yields chunks in order, then failErr if it is not nil
func streamOf(chunks []string, failErr error) func(context.Context, []*genai.Content, *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(ctx context.Context, _ []*genai.Content, _ *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
		return func(yield func(*genai.GenerateContentResponse, error) bool) {
			for _, chunk := range chunks {
				if !yield(textResponse(chunk), nil) {
					return
				}
			}
			if failErr != nil {
				yield(nil, failErr)
			}
		}
	}
}

// recorder is a Sink keeping every delta
type recorder struct {
	deltas []string
}

func (r *recorder) Write(delta string) {
	r.deltas = append(r.deltas, delta)
}
