package render

import (
	"bytes"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
)

var inlineMarkdown = goldmark.New(
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// HasInlineImage reports content that carries image markup and is shown as is.
func HasInlineImage(content string) bool {
	return strings.Contains(content, "<img")
}

// FormatHTML renders message content for HTML consumers: bold, emphasis and
// code spans, newlines as <br>. Content with inline images passes through.
func FormatHTML(content string) string {
	if HasInlineImage(content) {
		return content
	}
	var buf bytes.Buffer
	if err := inlineMarkdown.Convert([]byte(content), &buf); err != nil {
		log.Warn().Err(err).Str("component", "render").Msg("markdown conversion failed")
		return content
	}
	out := strings.TrimSpace(buf.String())
	out = strings.ReplaceAll(out, "<br>\n", "<br>")
	// A single paragraph is unwrapped so short replies stay inline.
	if strings.HasPrefix(out, "<p>") && strings.HasSuffix(out, "</p>") &&
		strings.Count(out, "<p>") == 1 {
		out = strings.TrimSuffix(strings.TrimPrefix(out, "<p>"), "</p>")
	}
	return out
}

// PlainText is what a reader sees once content is formatted: markdown markers
// and raw HTML are dropped, code and link labels are kept.
func PlainText(content string) string {
	if HasInlineImage(content) {
		return content
	}
	src := []byte(content)
	doc := inlineMarkdown.Parser().Parse(text.NewReader(src))
	var b strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.NextSibling() != nil {
				b.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteString("\n")
			}
		case *ast.String:
			b.Write(v.Value)
		case *ast.AutoLink:
			b.Write(v.Label(src))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		log.Warn().Err(err).Str("component", "render").Msg("markdown walk failed")
		return content
	}
	return strings.TrimRight(b.String(), "\n")
}
