package export

import (
	"bytes"
	"html/template"
	"strings"
)

var textTemplate = template.Must(template.New("text").Funcs(template.FuncMap{
	"lower": strings.ToLower,
}).Parse(textTemplateHTML))

// TemplateData holds data for text template rendering
type TemplateData struct {
	Title       string
	Language    string
	Source      string
	Status      string
	Segments    []TemplateSegment
	Annotations []TemplateAnnotation
}

// TemplateSegment is one run of the text, highlighted when annotated.
type TemplateSegment struct {
	Text      string
	Annotated bool
}

// TemplateAnnotation is one row of the annotation table.
type TemplateAnnotation struct {
	Label        string
	SelectedText string
	Level        string
	Confidence   int
}

// RenderTextHTML renders the printable view of an annotated text.
func RenderTextHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := textTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const textTemplateHTML = `<!DOCTYPE html>
<html{{if .Language}} lang="{{.Language}}"{{end}}>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.7; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #7a5c2e; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .content { white-space: pre-wrap; }
    mark { background: #fde68a; padding: 0 2px; }
    table { border-collapse: collapse; width: 100%; margin-top: 2rem; }
    th, td { border: 1px solid #ddd; padding: 6px 10px; text-align: left; font-size: 0.9em; }
    th { background: #f5f0e8; }
    .level-critical { color: #b91c1c; font-weight: bold; }
    .level-major { color: #c2700c; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{if .Source}}{{.Source}} | {{end}}{{if .Language}}{{.Language}} | {{end}}{{.Status}}</div>
  <div class="content">{{range .Segments}}{{if .Annotated}}<mark>{{.Text}}</mark>{{else}}{{.Text}}{{end}}{{end}}</div>
  {{if .Annotations}}
  <h2>Annotations</h2>
  <table>
    <tr><th>Label</th><th>Selected text</th><th>Severity</th><th>Confidence</th></tr>
    {{range .Annotations}}
    <tr>
      <td>{{.Label}}</td>
      <td>{{.SelectedText}}</td>
      <td{{if .Level}} class="level-{{lower .Level}}"{{end}}>{{.Level}}</td>
      <td>{{.Confidence}}</td>
    </tr>
    {{end}}
  </table>
  {{end}}
</body>
</html>`
