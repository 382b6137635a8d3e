package refine

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/refiner/pkg/adapter"
	"github.com/m-mizutani/refiner/pkg/model"
	"github.com/m-mizutani/refiner/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/system.md
var systemInstruction string

//go:embed prompt/request.md
var requestPromptRaw string

var requestPromptTmpl = template.Must(template.New("request").Parse(strings.TrimSpace(requestPromptRaw)))

// Temperature is the sampling temperature of every refinement request
const Temperature float32 = 0.7

// Sink receives text deltas in arrival order
type Sink interface {
	Write(delta string)
}

// Generator issues one streaming refinement request per call
type Generator struct {
	gemini adapter.Gemini
}

func NewGenerator(gemini adapter.Gemini) *Generator {
	return &Generator{gemini: gemini}
}

// Refine streams the refinement of input and images into sink. Each non-empty
// fragment is written as soon as it arrives. On failure the error is returned
// and fragments already written stay written. No retry is made.
func (g *Generator) Refine(ctx context.Context, input string, images []*model.AttachedImage, sink Sink) error {
	contents, err := buildContents(input, images)
	if err != nil {
		return err
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, ""),
		Temperature:       genai.Ptr(Temperature),
	}

	logging.From(ctx).Debug("start refinement", "input_length", len(input), "images", len(images))

	chunks := 0
	for resp, err := range g.gemini.GenerateContentStream(ctx, contents, config) {
		if err != nil {
			return goerr.Wrap(err, "refinement stream failed", goerr.V("chunks", chunks))
		}
		if resp == nil {
			continue
		}

		text := resp.Text()
		if text == "" {
			continue
		}
		chunks++
		sink.Write(text)
	}

	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "refinement cancelled", goerr.V("chunks", chunks))
	}

	logging.From(ctx).Debug("refinement completed", "chunks", chunks)
	return nil
}

// buildContents places one part per image, in order, before the text part
func buildContents(input string, images []*model.AttachedImage) ([]*genai.Content, error) {
	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		raw, err := img.Bytes()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to build image part")
		}
		parts = append(parts, genai.NewPartFromBytes(raw, img.MimeType))
	}

	var buf bytes.Buffer
	if err := requestPromptTmpl.Execute(&buf, struct{ Input string }{Input: input}); err != nil {
		return nil, goerr.Wrap(err, "failed to render request prompt")
	}
	parts = append(parts, genai.NewPartFromText(buf.String()))

	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil
}
