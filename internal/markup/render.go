package markup

import "strings"

var entityReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// EscapeText escapes the five markup-significant characters. It is applied
// exactly once per text fragment or attribute value at the serialization
// boundary; callers must not pre-escape.
func EscapeText(s string) string {
	return entityReplacer.Replace(s)
}

// RenderDocument serializes a document and its segments as a markup file:
// a header with the title (and language attribute when set), a diplomatic
// section holding the raw escaped content, and an annotated section holding
// each segment as a tagged run. Every run carries a lemma attribute, falling
// back to its literal text, and a pos attribute when the source span had a
// label.
func RenderDocument(doc Document, segments []Segment) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString("<document")
	if doc.Language != "" {
		b.WriteString(` language="` + EscapeText(doc.Language) + `"`)
	}
	b.WriteString(">\n")

	b.WriteString("  <header>\n")
	b.WriteString("    <title>" + EscapeText(doc.Title) + "</title>\n")
	if doc.Source != "" {
		b.WriteString("    <source>" + EscapeText(doc.Source) + "</source>\n")
	}
	b.WriteString("  </header>\n")

	b.WriteString("  <diplomatic>" + EscapeText(doc.Content) + "</diplomatic>\n")

	b.WriteString("  <annotated>")
	for _, segment := range segments {
		lemma := segment.Lemma
		if lemma == "" {
			lemma = segment.Text
		}
		b.WriteString(`<w lemma="` + EscapeText(lemma) + `"`)
		if segment.Pos != "" {
			b.WriteString(` pos="` + EscapeText(segment.Pos) + `"`)
		}
		b.WriteString(">" + EscapeText(segment.Text) + "</w>")
	}
	b.WriteString("</annotated>\n")

	b.WriteString("</document>\n")
	return b.String()
}
