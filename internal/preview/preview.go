// ABOUTME: Plain-text previews of markdown answers for thread listings
// ABOUTME: Walks the goldmark AST and keeps only readable text, then truncates by rune

// Package preview turns markdown answers into short plain-text snippets used
// as thread titles and last-message previews.
package preview

import (
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// DefaultLength is the snippet length used when none is configured.
const DefaultLength = 100

const ellipsis = "…"

var parser = goldmark.New().Parser()

// PlainText strips markdown syntax from src and returns its readable text
// with whitespace collapsed to single spaces.
func PlainText(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}

	source := []byte(src)
	doc := parser.Parse(text.NewReader(source))

	var buf strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				buf.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.AutoLink:
			buf.Write(node.Label(source))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(source))
				buf.WriteByte(' ')
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return strings.Join(strings.Fields(buf.String()), " ")
}

// Snippet returns the plain text of src cut to at most max runes, ending in
// an ellipsis when truncated. A max of zero or less disables truncation.
func Snippet(src string, max int) string {
	return Truncate(PlainText(src), max)
}

// Truncate cuts s to at most max runes, ending in an ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max == 1 {
		return ellipsis
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:max-1]), " ") + ellipsis
}
