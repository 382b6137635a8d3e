package output

import "github.com/m-mizutani/refiner/pkg/model"

// View is the display representation derived from the buffer content
type View struct {
	// Empty means nothing was generated yet and a placeholder is shown
	Empty    bool
	Segments []Segment
	// Cursor is shown after the last segment while generating
	Cursor bool

	content string
}

// Render derives the View of content for the given status
func Render(content string, status model.GenerationStatus) View {
	if content == "" {
		return View{Empty: true}
	}

	return View{
		Segments: Parse(content),
		Cursor:   status == model.StatusGenerating,
		content:  content,
	}
}

// CopyText returns the whole buffer for the copy-all action
func (v View) CopyText() string {
	return v.content
}

// CodeBlocks returns the code segments in display order
func (v View) CodeBlocks() []Segment {
	var blocks []Segment
	for _, s := range v.Segments {
		if s.Kind == SegmentCode {
			blocks = append(blocks, s)
		}
	}
	return blocks
}

// CodeBlock returns the n-th code segment, counting from 1
func (v View) CodeBlock(n int) (Segment, bool) {
	blocks := v.CodeBlocks()
	if n < 1 || n > len(blocks) {
		return Segment{}, false
	}
	return blocks[n-1], true
}
