// Package markup converts annotated texts between wire-format annotation
// records and serialized export shapes: a lossless JSON export record and a
// segment-based markup document.
package markup

import (
	"errors"
	"fmt"
	"sort"
)

// Document is the text being exported. Content is immutable for the
// duration of an export; span offsets index into it directly.
type Document struct {
	Title       string
	Content     string
	Language    string
	Source      string
	Translation string
}

// Span is a half-open [Start,End) annotation over Document.Content.
// Spans may overlap or nest; the serializer does not assume disjointness.
type Span struct {
	Start        int
	End          int
	Type         string
	SelectedText string
	Label        string
	Name         string
	Level        string
	Meta         map[string]any
	Confidence   *int
}

// Segment is one run of the markup serialization. Concatenating the Text
// fields of all segments reproduces the document content exactly when the
// input spans are disjoint.
type Segment struct {
	Text      string
	Annotated bool
	Lemma     string
	Pos       string
}

// ErrInvalidSpanRange reports a span whose offsets violate the caller
// contract (negative, start > end, or end past the content length). The
// serializer signals rather than clamps; the upload validator is the layer
// that rejects bad spans before they are stored.
var ErrInvalidSpanRange = errors.New("invalid span range")

// ToMarkupSegments partitions content into an ordered sequence of segments.
// Spans are stable-sorted by start offset, so ties keep their input order.
// The cursor only advances forward: a span that starts before the cursor
// still emits its own [start,end) text, duplicating characters already
// emitted for the previous span. That overlap behavior is inherited from
// the upstream exporter and is preserved here, not corrected.
func ToMarkupSegments(content string, spans []Span) ([]Segment, error) {
	for _, span := range spans {
		if span.Start < 0 || span.Start > span.End || span.End > len(content) {
			return nil, fmt.Errorf("%w: [%d,%d) over %d chars", ErrInvalidSpanRange, span.Start, span.End, len(content))
		}
	}

	ordered := make([]Span, len(spans))
	copy(ordered, spans)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start < ordered[j].Start
	})

	segments := make([]Segment, 0, 2*len(ordered)+1)
	cursor := 0
	for _, span := range ordered {
		if span.Start > cursor {
			segments = append(segments, Segment{Text: content[cursor:span.Start]})
		}
		text := content[span.Start:span.End]
		segments = append(segments, Segment{
			Text:      text,
			Annotated: true,
			Lemma:     lemmaFor(span, text),
			Pos:       span.Label,
		})
		if span.End > cursor {
			cursor = span.End
		}
	}
	if cursor < len(content) {
		segments = append(segments, Segment{Text: content[cursor:]})
	}
	return segments, nil
}

// lemmaFor prefers an explicit lemma from span metadata, falling back to
// the literal annotated text.
func lemmaFor(span Span, text string) string {
	if span.Meta != nil {
		if lemma, ok := span.Meta["lemma"].(string); ok && lemma != "" {
			return lemma
		}
	}
	return text
}
