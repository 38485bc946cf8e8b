package markup

import (
	"strings"
	"testing"

	"github.com/antchfx/xmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeText(t *testing.T) {
	assert.Equal(t, "5 &gt; 3 &amp; &quot;ok&quot;", EscapeText(`5 > 3 & "ok"`))
	assert.Equal(t, "&lt;tag attr=&apos;v&apos;&gt;", EscapeText("<tag attr='v'>"))
	assert.Equal(t, "plain", EscapeText("plain"))
}

func TestRenderDocument_Structure(t *testing.T) {
	doc := Document{Title: "Sample & Co", Content: "The cat sat", Language: "en"}
	segments, err := ToMarkupSegments(doc.Content, []Span{
		{Start: 4, End: 7, Type: "pos", Label: "NOUN"},
	})
	require.NoError(t, err)

	rendered := RenderDocument(doc, segments)

	root, err := xmlquery.Parse(strings.NewReader(rendered))
	require.NoError(t, err)

	document := xmlquery.FindOne(root, "/document")
	require.NotNil(t, document)
	assert.Equal(t, "en", document.SelectAttr("language"))

	title := xmlquery.FindOne(root, "/document/header/title")
	require.NotNil(t, title)
	assert.Equal(t, "Sample & Co", title.InnerText())

	diplomatic := xmlquery.FindOne(root, "/document/diplomatic")
	require.NotNil(t, diplomatic)
	assert.Equal(t, "The cat sat", diplomatic.InnerText())

	runs := xmlquery.Find(root, "/document/annotated/w")
	require.Len(t, runs, 3)
	assert.Equal(t, "The ", runs[0].SelectAttr("lemma"))
	assert.Equal(t, "", runs[0].SelectAttr("pos"))
	assert.Equal(t, "cat", runs[1].SelectAttr("lemma"))
	assert.Equal(t, "NOUN", runs[1].SelectAttr("pos"))
	assert.Equal(t, " sat", runs[2].InnerText())
}

func TestRenderDocument_NoLanguageAttributeWhenUnset(t *testing.T) {
	doc := Document{Title: "t", Content: "c"}
	segments, err := ToMarkupSegments(doc.Content, nil)
	require.NoError(t, err)

	rendered := RenderDocument(doc, segments)
	assert.NotContains(t, rendered, "language=")
}

func TestRenderDocument_EscapesContentOnce(t *testing.T) {
	doc := Document{Title: "t", Content: `a < b & c`}
	segments, err := ToMarkupSegments(doc.Content, nil)
	require.NoError(t, err)

	rendered := RenderDocument(doc, segments)
	assert.Contains(t, rendered, "<diplomatic>a &lt; b &amp; c</diplomatic>")
	assert.NotContains(t, rendered, "&amp;lt;")
}
