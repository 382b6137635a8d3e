package output

import (
	"regexp"
	"strings"
)

const fence = "```"

// fencePattern matches a closed fenced region: an opening fence with an optional
// word-character language tag and a newline, a lazily matched body, and a
// closing fence.
var fencePattern = regexp.MustCompile("```(\\w*)\n((?s:.*?))```")

type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentCode
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentText:
		return "text"
	case SegmentCode:
		return "code"
	default:
		return "unknown"
	}
}

// Segment is a piece of the rendered buffer. For code segments Body is the raw
// region without fence markers and Language is the tag after the opening fence.
type Segment struct {
	Kind     SegmentKind
	Language string
	Body     string
}

// CopyText returns what a copy action on the segment places on the clipboard.
// Code bodies are trimmed.
func (s Segment) CopyText() string {
	if s.Kind == SegmentCode {
		return strings.TrimSpace(s.Body)
	}
	return s.Body
}

// hasFencePair reports whether content holds an opening fence followed later by
// another fence marker
func hasFencePair(content string) bool {
	first := strings.Index(content, fence)
	if first < 0 {
		return false
	}
	return strings.Contains(content[first+len(fence):], fence)
}

// Parse splits content into alternating text and code segments. Only closed
// fenced regions become code; while a region is still open (for example in the
// middle of a stream) the whole content stays text.
func Parse(content string) []Segment {
	if content == "" {
		return nil
	}

	if !hasFencePair(content) {
		return []Segment{{Kind: SegmentText, Body: content}}
	}

	var segments []Segment
	last := 0
	for _, m := range fencePattern.FindAllStringSubmatchIndex(content, -1) {
		if m[0] > last {
			segments = append(segments, Segment{Kind: SegmentText, Body: content[last:m[0]]})
		}
		segments = append(segments, Segment{
			Kind:     SegmentCode,
			Language: content[m[2]:m[3]],
			Body:     content[m[4]:m[5]],
		})
		last = m[1]
	}

	if last < len(content) {
		segments = append(segments, Segment{Kind: SegmentText, Body: content[last:]})
	}

	return segments
}

// Source reassembles segments into the text they were parsed from
func Source(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		if s.Kind == SegmentCode {
			b.WriteString(fence)
			b.WriteString(s.Language)
			b.WriteString("\n")
			b.WriteString(s.Body)
			b.WriteString(fence)
			continue
		}
		b.WriteString(s.Body)
	}
	return b.String()
}
