package adapter

import (
	"context"
	"iter"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// DefaultGenerativeModel is used unless WithGenerativeModel is given
const DefaultGenerativeModel = "gemini-3-flash-preview"

type Gemini interface {
	GenerateContentStream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

type GeminiClient struct {
	client          *genai.Client
	generativeModel string

	apiKey   string
	project  string
	location string
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		if model != "" {
			g.generativeModel = model
		}
	}
}

// WithAPIKey selects the Gemini API backend
func WithAPIKey(apiKey string) GeminiOption {
	return func(g *GeminiClient) {
		g.apiKey = apiKey
	}
}

// WithVertexAI selects the Vertex AI backend. It is used only when no API key
// is set.
func WithVertexAI(projectID, location string) GeminiOption {
	return func(g *GeminiClient) {
		g.project = projectID
		g.location = location
	}
}

func NewGemini(ctx context.Context, opts ...GeminiOption) (*GeminiClient, error) {
	g := &GeminiClient{
		generativeModel: DefaultGenerativeModel,
		location:        "us-central1",
	}

	for _, opt := range opts {
		opt(g)
	}

	cfg := &genai.ClientConfig{}
	switch {
	case g.apiKey != "":
		cfg.APIKey = g.apiKey
		cfg.Backend = genai.BackendGeminiAPI
	case g.project != "":
		cfg.Project = g.project
		cfg.Location = g.location
		cfg.Backend = genai.BackendVertexAI
	default:
		return nil, goerr.New("either Gemini API key or Vertex AI project is required")
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}
	g.client = client

	return g, nil
}

// Model returns the generative model name in use
func (g *GeminiClient) Model() string {
	return g.generativeModel
}

func (g *GeminiClient) GenerateContentStream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.generativeModel, contents, config) {
			if err != nil {
				yield(nil, goerr.Wrap(err, "failed to stream content", goerr.V("model", g.generativeModel)))
				return
			}
			if !yield(resp, nil) {
				return
			}
		}
	}
}
